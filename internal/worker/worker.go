// Package worker provides async snapshot scanning for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Troubleshooter runs the detection pipeline for one merchant.
type Troubleshooter interface {
	Troubleshoot(ctx context.Context, tenantID, merchantID string) (*domain.TroubleshootReport, error)
	AlertThreshold() int
}

// Worker scans merchants asynchronously as snapshots arrive on the bus.
type Worker struct {
	bus    domain.EventBus
	engine Troubleshooter

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string
}

// NewWorker creates a new async scan worker.
func NewWorker(bus domain.EventBus, engine Troubleshooter) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		engine: engine,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing snapshot events for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("scan workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicSnapshotIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global scan worker started")
	return nil
}

// startTenantWorker starts a worker for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicSnapshotIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processSnapshot(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant scan worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicSnapshotIngested,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processSnapshot(ctx, msg.TenantID, msg)
}

// SnapshotMessage is the message payload for snapshot ingestion events.
type SnapshotMessage struct {
	SnapshotID string `json:"snapshot_id"`
	MerchantID string `json:"merchant_id"`
	TenantID   string `json:"tenantId,omitempty"`
}

// processSnapshot troubleshoots the merchant behind an ingested snapshot
// and raises an alert when its risk score crosses the threshold.
func (w *Worker) processSnapshot(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var snapMsg SnapshotMessage
	if err := json.Unmarshal(msg.Payload, &snapMsg); err != nil {
		slog.Error("failed to parse snapshot message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if snapMsg.TenantID != "" {
		tenantID = snapMsg.TenantID
	}

	slog.Debug("scanning merchant",
		"merchant_id", snapMsg.MerchantID,
		"tenant_id", tenantID,
		"snapshot_id", snapMsg.SnapshotID,
	)

	report, err := w.engine.Troubleshoot(ctx, tenantID, snapMsg.MerchantID)
	if err != nil {
		// A merchant can disappear between ingestion and scan; that is
		// not a worker failure.
		if errors.Is(err, domain.ErrMerchantNotFound) {
			slog.Warn("merchant vanished before scan",
				"merchant_id", snapMsg.MerchantID,
				"tenant_id", tenantID,
			)
			return nil
		}
		slog.Error("merchant scan failed",
			"merchant_id", snapMsg.MerchantID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	if report.RiskScore >= w.engine.AlertThreshold() {
		payload, _ := json.Marshal(report)
		if err := w.bus.Publish(ctx, tenantID, domain.TopicMerchantAlert, payload); err != nil {
			slog.Error("failed to publish merchant alert",
				"merchant_id", snapMsg.MerchantID,
				"error", err,
			)
		}
	}

	slog.Info("merchant scanned",
		"merchant_id", snapMsg.MerchantID,
		"tenant_id", tenantID,
		"risk_score", report.RiskScore,
		"issues", len(report.Issues),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("scan workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
