package businessflow

import (
	"context"
	"fmt"

	"github.com/coldflowhq/coldflow/app/services"
	"github.com/coldflowhq/coldflow/config"
	"github.com/coldflowhq/coldflow/models"
)

// QualificationMetrics carries the numbers behind a verdict
type QualificationMetrics struct {
	InboxPlacementRate float64                `json:"inbox_placement_rate"`
	TestCount          int                    `json:"test_count"`
	DomainHealth       *services.DomainHealth `json:"domain_health,omitempty"`
}

// QualificationVerdict is the allow/deny decision for one sender identity.
// Reasons accumulate; a denied verdict lists every failed check.
type QualificationVerdict struct {
	Allowed bool                 `json:"allowed"`
	Reasons []string             `json:"reasons"`
	Metrics QualificationMetrics `json:"metrics"`
}

// ReputationReader is the read-only slice of the reputation store the gate
// depends on.
type ReputationReader interface {
	GetRecord(ctx context.Context, identityID string) *models.SenderReputation
}

// QualificationGate decides whether a sender identity may be used for
// outreach right now. Evaluation never mutates reputation state.
type QualificationGate interface {
	Evaluate(ctx context.Context, identityID, domain string) (*QualificationVerdict, error)
}

// QualificationGateImpl implements the qualification gate
type QualificationGateImpl struct {
	reputation   ReputationReader
	domainHealth services.DomainHealthService
	cfg          config.QualificationConfig
}

// NewQualificationGate creates a new qualification gate instance
func NewQualificationGate(reputation ReputationReader, domainHealth services.DomainHealthService, cfg config.QualificationConfig) QualificationGate {
	return &QualificationGateImpl{
		reputation:   reputation,
		domainHealth: domainHealth,
		cfg:          cfg,
	}
}

// Evaluate runs every check and accumulates reasons; it never short-circuits,
// so a denied verdict reports all failing checks at once.
func (g *QualificationGateImpl) Evaluate(ctx context.Context, identityID, domain string) (*QualificationVerdict, error) {
	verdict := &QualificationVerdict{
		Allowed: true,
		Reasons: []string{},
	}

	if domain != "" {
		health, err := g.domainHealth.Check(ctx, domain)
		if err != nil {
			return nil, NewBusinessErrorf("DOMAIN_HEALTH_UNAVAILABLE", "failed to check domain health for %s", err, domain)
		}
		verdict.Metrics.DomainHealth = health
		if !health.SPF.Valid {
			verdict.Allowed = false
			verdict.Reasons = append(verdict.Reasons, fmt.Sprintf("SPF record invalid for %s", domain))
		}
		if !health.DKIM.Valid {
			verdict.Allowed = false
			verdict.Reasons = append(verdict.Reasons, fmt.Sprintf("DKIM record invalid for %s", domain))
		}
		if !health.DMARC.Valid {
			verdict.Allowed = false
			verdict.Reasons = append(verdict.Reasons, fmt.Sprintf("DMARC record invalid for %s", domain))
		}
	}

	record := g.reputation.GetRecord(ctx, identityID)

	testCount := len(record.TestSends)
	verdict.Metrics.TestCount = testCount
	if testCount < g.cfg.MinTestSends {
		verdict.Allowed = false
		verdict.Reasons = append(verdict.Reasons,
			fmt.Sprintf("insufficient test sends: %d of %d required", testCount, g.cfg.MinTestSends))
	}

	placement := record.InboxPlacementRate()
	verdict.Metrics.InboxPlacementRate = placement
	if placement < g.cfg.MinInboxPlacement {
		verdict.Allowed = false
		verdict.Reasons = append(verdict.Reasons,
			fmt.Sprintf("inbox placement %.1f%% below required %.1f%%", placement, g.cfg.MinInboxPlacement))
	}

	bounces, window := record.RecentDeliveryWindow(g.cfg.BounceWindow)
	if bounces > 0 {
		noun := "bounces"
		if bounces == 1 {
			noun = "bounce"
		}
		verdict.Allowed = false
		verdict.Reasons = append(verdict.Reasons,
			fmt.Sprintf("%d %s in last %d", bounces, noun, window))
	}

	return verdict, nil
}
