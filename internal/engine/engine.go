// Package engine is the troubleshooting core. It pulls snapshot history
// from the metric store, runs the detectors and watch rules, aggregates
// findings into a report, and drives location resolution and insight
// generation. Store failures are the only terminal errors; AI failures
// are always recovered through fallback paths.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/detect"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/insight"
	"github.com/opensource-finance/kestrel/internal/locate"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/trend"
)

// Service orchestrates the troubleshooting pipeline for one tenant
// request at a time. It is stateless across requests and safe for
// concurrent use.
type Service struct {
	repo       domain.Repository
	detector   *detect.Detector
	aggregator *risk.Aggregator
	watch      *rules.Engine
	resolver   *locate.Resolver
	insights   *insight.Generator
	ai         domain.Completer
	bus        domain.EventBus
	policy     domain.Policy
	demoMode   bool
	logger     *slog.Logger
}

// Options holds the engine's collaborators. Watch and Bus may be nil;
// the corresponding steps are then skipped.
type Options struct {
	Repository domain.Repository
	Watch      *rules.Engine
	AI         domain.Completer
	Cache      domain.Cache
	Bus        domain.EventBus
	Policy     domain.Policy
	InsightTTL time.Duration
	DemoMode   bool
	Logger     *slog.Logger
}

// New creates the troubleshooting engine.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       opts.Repository,
		detector:   detect.New(opts.Policy),
		aggregator: risk.NewAggregator(),
		watch:      opts.Watch,
		resolver:   locate.NewResolver(opts.AI, opts.Policy, logger),
		insights:   insight.NewGenerator(opts.AI, opts.Cache, opts.InsightTTL, logger),
		ai:         opts.AI,
		bus:        opts.Bus,
		policy:     opts.Policy,
		demoMode:   opts.DemoMode,
		logger:     logger,
	}
}

// IngestSnapshot validates and persists a snapshot, then announces it on
// the bus so the scan worker can troubleshoot asynchronously.
func (s *Service) IngestSnapshot(ctx context.Context, tenantID string, req *domain.SnapshotRequest) (*domain.MerchantSnapshot, error) {
	snap := req.ToSnapshot()
	snap.ID = uuid.New().String()
	snap.TenantID = tenantID

	if !snap.Valid() {
		return nil, fmt.Errorf("invalid snapshot for merchant %q: counts must be non-negative and rates within [0,1]", req.MerchantID)
	}

	if err := s.repo.SaveSnapshot(ctx, tenantID, snap); err != nil {
		return nil, fmt.Errorf("%w: save snapshot: %v", domain.ErrStoreUnavailable, err)
	}

	s.publish(ctx, tenantID, domain.TopicSnapshotIngested, map[string]any{
		"snapshot_id": snap.ID,
		"merchant_id": snap.MerchantID,
	})

	return snap, nil
}

// Troubleshoot runs the full detection pipeline for a merchant and
// returns an aggregated report. It fails only when the metric store
// fails or the merchant has no history at all.
func (s *Service) Troubleshoot(ctx context.Context, tenantID, merchantID string) (*domain.TroubleshootReport, error) {
	history, err := s.fetchHistory(ctx, tenantID, merchantID)
	if err != nil {
		return nil, err
	}

	issues := s.detector.DetectAll(history)
	if s.watch != nil {
		issues = append(issues, s.watch.Evaluate(history[len(history)-1])...)
	}

	report := s.aggregator.Aggregate(tenantID, merchantID, issues)

	s.logger.Info("troubleshoot completed",
		"tenant_id", tenantID,
		"merchant_id", merchantID,
		"risk_score", report.RiskScore,
		"issues", len(report.Issues),
	)

	s.publish(ctx, tenantID, domain.TopicReportCreated, map[string]any{
		"report_id":   report.ID,
		"merchant_id": merchantID,
		"risk_score":  report.RiskScore,
	})

	return report, nil
}

// ResolveLocation proposes a location for the merchant's latest
// snapshot. The proposal is returned, not persisted; callers decide
// whether to save it via the repository.
func (s *Service) ResolveLocation(ctx context.Context, tenantID, merchantID string) (*domain.LocationResolution, error) {
	history, err := s.fetchHistory(ctx, tenantID, merchantID)
	if err != nil {
		return nil, err
	}

	res := s.resolver.Resolve(ctx, history[len(history)-1])

	s.publish(ctx, tenantID, domain.TopicLocationResolved, map[string]any{
		"merchant_id": merchantID,
		"country":     res.ProposedCountry,
		"city":        res.ProposedCity,
		"confidence":  res.Confidence,
		"method":      string(res.Method),
	})

	return res, nil
}

// GenerateInsight produces a human-readable summary for the merchant's
// current report. The Source field names the path that actually ran.
func (s *Service) GenerateInsight(ctx context.Context, tenantID, merchantID string) (*domain.Insight, error) {
	history, err := s.fetchHistory(ctx, tenantID, merchantID)
	if err != nil {
		return nil, err
	}

	issues := s.detector.DetectAll(history)
	if s.watch != nil {
		issues = append(issues, s.watch.Evaluate(history[len(history)-1])...)
	}
	report := s.aggregator.Aggregate(tenantID, merchantID, issues)

	return s.insights.Generate(ctx, report, history[len(history)-1]), nil
}

// CompareMonthly returns the merchant's calendar-month trend sequence.
func (s *Service) CompareMonthly(ctx context.Context, tenantID, merchantID string) ([]domain.MonthlyStat, error) {
	history, err := s.fetchHistory(ctx, tenantID, merchantID)
	if err != nil {
		return nil, err
	}
	return trend.Compare(history, s.policy.TrendDeadBand), nil
}

// AIStatus reports the AI backend capability.
func (s *Service) AIStatus() domain.AIStatus {
	status := domain.AIStatus{DemoMode: s.demoMode}
	if s.ai != nil {
		status.Enabled = s.ai.Enabled()
		if status.Enabled {
			status.Provider = s.ai.Provider()
		}
	}
	return status
}

// Policy returns the active detection policy.
func (s *Service) Policy() domain.Policy {
	return s.policy
}

// AlertThreshold returns the risk score at which merchants are alerted.
func (s *Service) AlertThreshold() int {
	return s.policy.AlertRiskScore
}

// fetchHistory loads the merchant's windowed history and drops malformed
// snapshots. A store failure is terminal; malformed snapshots are
// skipped with a warning.
func (s *Service) fetchHistory(ctx context.Context, tenantID, merchantID string) ([]*domain.MerchantSnapshot, error) {
	since := time.Now().UTC().Add(-s.policy.HistoryWindow)
	history, err := s.repo.ListSnapshots(ctx, tenantID, merchantID, since)
	if err != nil {
		return nil, fmt.Errorf("%w: list snapshots for %s: %v", domain.ErrStoreUnavailable, merchantID, err)
	}

	valid := history[:0]
	for _, snap := range history {
		if !snap.Valid() {
			s.logger.Warn("skipping malformed snapshot",
				"tenant_id", tenantID,
				"merchant_id", merchantID,
				"snapshot_id", snap.ID,
			)
			continue
		}
		valid = append(valid, snap)
	}

	if len(valid) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrMerchantNotFound, merchantID)
	}
	return valid, nil
}

// publish sends a bus event, best effort. Event delivery never fails a
// request.
func (s *Service) publish(ctx context.Context, tenantID, topic string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, tenantID, topic, data); err != nil {
		s.logger.Warn("event publish failed", "topic", topic, "error", err)
	}
}
