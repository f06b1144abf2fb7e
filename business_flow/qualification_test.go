package businessflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coldflowhq/coldflow/app/services"
	"github.com/coldflowhq/coldflow/config"
	"github.com/coldflowhq/coldflow/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReputationReader struct {
	records map[string]*models.SenderReputation
}

func (f *fakeReputationReader) GetRecord(ctx context.Context, identityID string) *models.SenderReputation {
	if rec, ok := f.records[identityID]; ok {
		return rec
	}
	return models.NewSenderReputation(identityID)
}

func defaultQualificationConfig() config.QualificationConfig {
	return config.QualificationConfig{
		MinTestSends:      5,
		MinInboxPlacement: 95.0,
		BounceWindow:      100,
	}
}

func buildReputation(identityID string, primary, spam, sent, bounced int) *models.SenderReputation {
	rep := models.NewSenderReputation(identityID)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < primary; i++ {
		rep.ApplyEvent(models.ReputationEventTestSuccess, nil, now)
		now = now.Add(time.Second)
	}
	for i := 0; i < spam; i++ {
		rep.ApplyEvent(models.ReputationEventTestSpam, nil, now)
		now = now.Add(time.Second)
	}
	for i := 0; i < sent; i++ {
		rep.ApplyEvent(models.ReputationEventSent, nil, now)
		now = now.Add(time.Second)
	}
	for i := 0; i < bounced; i++ {
		rep.ApplyEvent(models.ReputationEventBounce, nil, now)
		now = now.Add(time.Second)
	}
	return rep
}

func TestQualificationGateEvaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("AllowedWithHealthyIdentity", func(t *testing.T) {
		reader := &fakeReputationReader{records: map[string]*models.SenderReputation{
			"alpha": buildReputation("alpha", 10, 0, 50, 0),
		}}
		gate := NewQualificationGate(reader, services.NewMockDomainHealthService(), defaultQualificationConfig())

		verdict, err := gate.Evaluate(ctx, "alpha", "example.com")
		require.NoError(t, err)
		assert.True(t, verdict.Allowed)
		assert.Empty(t, verdict.Reasons)
		assert.Equal(t, 10, verdict.Metrics.TestCount)
		assert.InDelta(t, 100.0, verdict.Metrics.InboxPlacementRate, 0.001)
		require.NotNil(t, verdict.Metrics.DomainHealth)
	})

	t.Run("InsufficientTestSends", func(t *testing.T) {
		reader := &fakeReputationReader{records: map[string]*models.SenderReputation{
			"alpha": buildReputation("alpha", 3, 0, 0, 0),
		}}
		gate := NewQualificationGate(reader, services.NewMockDomainHealthService(), defaultQualificationConfig())

		verdict, err := gate.Evaluate(ctx, "alpha", "example.com")
		require.NoError(t, err)
		assert.False(t, verdict.Allowed)
		assert.Contains(t, verdict.Reasons, "insufficient test sends: 3 of 5 required")
	})

	t.Run("PlacementBelowThreshold", func(t *testing.T) {
		// 9 primary + 1 spam = 90%
		reader := &fakeReputationReader{records: map[string]*models.SenderReputation{
			"alpha": buildReputation("alpha", 9, 1, 0, 0),
		}}
		gate := NewQualificationGate(reader, services.NewMockDomainHealthService(), defaultQualificationConfig())

		verdict, err := gate.Evaluate(ctx, "alpha", "example.com")
		require.NoError(t, err)
		assert.False(t, verdict.Allowed)
		assert.Contains(t, verdict.Reasons, "inbox placement 90.0% below required 95.0%")
	})

	t.Run("SingleRecentBounce", func(t *testing.T) {
		reader := &fakeReputationReader{records: map[string]*models.SenderReputation{
			"alpha": buildReputation("alpha", 10, 0, 50, 1),
		}}
		gate := NewQualificationGate(reader, services.NewMockDomainHealthService(), defaultQualificationConfig())

		verdict, err := gate.Evaluate(ctx, "alpha", "example.com")
		require.NoError(t, err)
		assert.False(t, verdict.Allowed)
		assert.Contains(t, verdict.Reasons, "1 bounce in last 51")
	})

	t.Run("MultipleBouncesPlural", func(t *testing.T) {
		reader := &fakeReputationReader{records: map[string]*models.SenderReputation{
			"alpha": buildReputation("alpha", 10, 0, 48, 2),
		}}
		gate := NewQualificationGate(reader, services.NewMockDomainHealthService(), defaultQualificationConfig())

		verdict, err := gate.Evaluate(ctx, "alpha", "example.com")
		require.NoError(t, err)
		assert.False(t, verdict.Allowed)
		assert.Contains(t, verdict.Reasons, "2 bounces in last 50")
	})

	t.Run("ReasonsAccumulateAcrossChecks", func(t *testing.T) {
		domainHealth := services.NewMockDomainHealthService()
		domainHealth.SetResult("weak.example", &services.DomainHealth{
			SPF:   services.RecordStatus{Valid: false},
			DKIM:  services.RecordStatus{Valid: false},
			DMARC: services.RecordStatus{Valid: true},
			MX:    services.RecordStatus{Valid: true},
		})
		reader := &fakeReputationReader{records: map[string]*models.SenderReputation{
			"alpha": buildReputation("alpha", 2, 1, 10, 1),
		}}
		gate := NewQualificationGate(reader, domainHealth, defaultQualificationConfig())

		verdict, err := gate.Evaluate(ctx, "alpha", "weak.example")
		require.NoError(t, err)
		assert.False(t, verdict.Allowed)
		assert.Contains(t, verdict.Reasons, "SPF record invalid for weak.example")
		assert.Contains(t, verdict.Reasons, "DKIM record invalid for weak.example")
		assert.Contains(t, verdict.Reasons, "insufficient test sends: 3 of 5 required")
		assert.Contains(t, verdict.Reasons, "1 bounce in last 11")
		assert.Len(t, verdict.Reasons, 5) // placement reason included too
	})

	t.Run("ZeroTestSendsNoPanic", func(t *testing.T) {
		reader := &fakeReputationReader{records: map[string]*models.SenderReputation{}}
		gate := NewQualificationGate(reader, services.NewMockDomainHealthService(), defaultQualificationConfig())

		verdict, err := gate.Evaluate(ctx, "fresh", "example.com")
		require.NoError(t, err)
		assert.False(t, verdict.Allowed)
		assert.Equal(t, 0, verdict.Metrics.TestCount)
		assert.Equal(t, 0.0, verdict.Metrics.InboxPlacementRate)
		assert.Contains(t, verdict.Reasons, "insufficient test sends: 0 of 5 required")
		assert.Contains(t, verdict.Reasons, "inbox placement 0.0% below required 95.0%")
	})

	t.Run("EmptyDomainSkipsDNSChecks", func(t *testing.T) {
		domainHealth := services.NewMockDomainHealthService()
		domainHealth.SetError(errors.New("resolver down"))
		reader := &fakeReputationReader{records: map[string]*models.SenderReputation{
			"alpha": buildReputation("alpha", 10, 0, 50, 0),
		}}
		gate := NewQualificationGate(reader, domainHealth, defaultQualificationConfig())

		verdict, err := gate.Evaluate(ctx, "alpha", "")
		require.NoError(t, err)
		assert.True(t, verdict.Allowed)
		assert.Nil(t, verdict.Metrics.DomainHealth)
	})

	t.Run("DomainHealthLookupFailure", func(t *testing.T) {
		domainHealth := services.NewMockDomainHealthService()
		domainHealth.SetError(errors.New("resolver down"))
		reader := &fakeReputationReader{records: map[string]*models.SenderReputation{}}
		gate := NewQualificationGate(reader, domainHealth, defaultQualificationConfig())

		verdict, err := gate.Evaluate(ctx, "alpha", "example.com")
		require.Error(t, err)
		assert.Nil(t, verdict)

		var bizErr *BusinessError
		require.ErrorAs(t, err, &bizErr)
		assert.Equal(t, "DOMAIN_HEALTH_UNAVAILABLE", bizErr.Code)
	})
}
