// Package summary builds tenant-wide dashboard aggregates.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const cacheKey = "dashboard:summary"

// Troubleshooter runs the detection pipeline for one merchant.
type Troubleshooter interface {
	Troubleshoot(ctx context.Context, tenantID, merchantID string) (*domain.TroubleshootReport, error)
}

// Service aggregates per-merchant reports into a tenant dashboard view.
// Summaries are cached briefly; a dashboard refresh should not re-scan
// every merchant on each page load.
type Service struct {
	repo   domain.Repository
	engine Troubleshooter
	cache  domain.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewService creates a new summary service.
func NewService(repo domain.Repository, engine Troubleshooter, cache domain.Cache, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		engine: engine,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

// GetSummary returns the tenant's dashboard summary, cached up to the
// configured TTL.
func (s *Service) GetSummary(ctx context.Context, tenantID string) (*domain.DashboardSummary, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	if cached := s.loadCached(ctx, tenantID); cached != nil {
		return cached, nil
	}

	merchants, err := s.repo.ListMerchantIDs(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: list merchants: %v", domain.ErrStoreUnavailable, err)
	}

	summary := &domain.DashboardSummary{
		TotalMerchants: len(merchants),
		IssuesByKind:   make(map[domain.IssueKind]int),
		RiskLevels:     make(map[domain.Severity]int),
		GeneratedAt:    time.Now().UTC(),
	}

	for _, merchantID := range merchants {
		report, err := s.engine.Troubleshoot(ctx, tenantID, merchantID)
		if err != nil {
			if errors.Is(err, domain.ErrMerchantNotFound) {
				continue
			}
			return nil, err
		}

		summary.TotalIssues += len(report.Issues)
		for _, issue := range report.Issues {
			summary.IssuesByKind[issue.Kind]++
			summary.RiskLevels[issue.Severity]++
			if issue.Severity == domain.SeverityHigh {
				summary.HighSeverityIssues++
			}
		}
	}

	s.storeCached(ctx, tenantID, summary)
	return summary, nil
}

func (s *Service) loadCached(ctx context.Context, tenantID string) *domain.DashboardSummary {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, tenantID, cacheKey)
	if err != nil || data == nil {
		return nil
	}
	var summary domain.DashboardSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		s.logger.Warn("discarding corrupt cached summary", "tenant_id", tenantID, "error", err)
		return nil
	}
	return &summary
}

func (s *Service) storeCached(ctx context.Context, tenantID string, summary *domain.DashboardSummary) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, tenantID, cacheKey, data, s.ttl); err != nil {
		s.logger.Warn("failed to cache summary", "tenant_id", tenantID, "error", err)
	}
}
