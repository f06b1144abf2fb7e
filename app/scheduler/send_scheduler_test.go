package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coldflowhq/coldflow/app/services"
	"github.com/coldflowhq/coldflow/config"
	"github.com/coldflowhq/coldflow/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobRepo struct {
	mu      sync.Mutex
	due     []*models.SendJob
	all     []*models.SendJob
	sent    []uint
	failed  map[uint]string
	claimed int
}

func newFakeJobRepo(due ...*models.SendJob) *fakeJobRepo {
	all := make([]*models.SendJob, len(due))
	copy(all, due)
	return &fakeJobRepo{due: due, all: all, failed: make(map[uint]string)}
}

func (f *fakeJobRepo) ByID(ctx context.Context, id uint) (*models.SendJob, error) { return nil, nil }
func (f *fakeJobRepo) Save(ctx context.Context, entity *models.SendJob) error     { return nil }
func (f *fakeJobRepo) SaveBatch(ctx context.Context, entities []*models.SendJob) error {
	return nil
}
func (f *fakeJobRepo) ByUUID(ctx context.Context, id uuid.UUID) (*models.SendJob, error) {
	return nil, nil
}

func (f *fakeJobRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.SendJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimed++
	jobs := f.due
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	f.due = f.due[len(jobs):]
	for _, j := range jobs {
		j.Status = models.SendJobStatusProcessing
		j.Attempts++
	}
	return jobs, nil
}

func (f *fakeJobRepo) MarkSent(ctx context.Context, jobID uint, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, jobID)
	f.setStatus(jobID, models.SendJobStatusSent)
	return nil
}

func (f *fakeJobRepo) MarkFailed(ctx context.Context, jobID uint, errDetail string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[jobID] = errDetail
	f.setStatus(jobID, models.SendJobStatusError)
	return nil
}

func (f *fakeJobRepo) setStatus(jobID uint, status models.SendJobStatus) {
	for _, j := range f.all {
		if j.ID == jobID {
			j.Status = status
		}
	}
}

func (f *fakeJobRepo) CountOpenByCampaign(ctx context.Context, campaignID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var open int64
	for _, j := range f.all {
		if j.CampaignID != nil && *j.CampaignID == campaignID && !j.Status.Terminal() {
			open++
		}
	}
	return open, nil
}

func (f *fakeJobRepo) CountByStatus(ctx context.Context) (map[models.SendJobStatus]int64, error) {
	return nil, nil
}

type fakeCampaignOutcomes struct {
	mu        sync.Mutex
	campaigns map[uint]*models.Campaign
	statuses  map[uint][]models.CampaignStatus
}

func newFakeCampaignOutcomes(campaigns ...*models.Campaign) *fakeCampaignOutcomes {
	byID := make(map[uint]*models.Campaign, len(campaigns))
	for _, c := range campaigns {
		byID[c.ID] = c
	}
	return &fakeCampaignOutcomes{campaigns: byID, statuses: make(map[uint][]models.CampaignStatus)}
}

func (f *fakeCampaignOutcomes) ByID(ctx context.Context, id uint) (*models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.campaigns[id], nil
}

func (f *fakeCampaignOutcomes) AppendResults(ctx context.Context, campaignID uint, results []models.SendResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.campaigns[campaignID]; ok {
		c.Results = append(c.Results, results...)
	}
	return nil
}

func (f *fakeCampaignOutcomes) UpdateStatus(ctx context.Context, campaignID uint, status models.CampaignStatus, statusError *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.campaigns[campaignID]; ok {
		c.Status = status
	}
	f.statuses[campaignID] = append(f.statuses[campaignID], status)
	return nil
}

type fakeReputationRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	identityID string
	eventType  models.ReputationEventType
	metadata   map[string]string
}

func (f *fakeReputationRecorder) RecordEvent(ctx context.Context, identityID string, eventType models.ReputationEventType, metadata map[string]string) *models.SenderReputation {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{identityID, eventType, metadata})
	return models.NewSenderReputation(identityID)
}

func (f *fakeReputationRecorder) eventsOfType(t models.ReputationEventType) []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedEvent
	for _, e := range f.events {
		if e.eventType == t {
			out = append(out, e)
		}
	}
	return out
}

func testJob(id uint, identityID, recipient string) *models.SendJob {
	return &models.SendJob{
		ID:          id,
		UUID:        uuid.New(),
		IdentityID:  identityID,
		Recipients:  []string{recipient},
		Subject:     "Quick question",
		Body:        "Hello there",
		ScheduledAt: time.Now().UTC().Add(-time.Minute),
		Status:      models.SendJobStatusPending,
	}
}

func fastThrottle() *Throttle {
	return NewThrottle(config.ThrottleConfig{
		WindowLimit: 1000,
		Window:      time.Minute,
		BaseDelay:   time.Millisecond,
	})
}

func TestSendSchedulerRunOnce(t *testing.T) {
	t.Run("DispatchesClaimedJobsInOrder", func(t *testing.T) {
		repo := newFakeJobRepo(
			testJob(1, "alpha", "first@example.com"),
			testJob(2, "alpha", "second@example.com"),
			testJob(3, "beta", "third@example.com"),
		)
		reputation := &fakeReputationRecorder{}
		emailer := services.NewMockEmailService()

		s := NewSendScheduler(repo, newFakeCampaignOutcomes(), reputation, emailer, fastThrottle(), config.SchedulerConfig{}, config.LoggingConfig{})
		s.runOnce(context.Background())

		messages := emailer.GetSentMessages()
		require.Len(t, messages, 3)
		assert.Equal(t, "first@example.com", messages[0].Recipients[0])
		assert.Equal(t, "second@example.com", messages[1].Recipients[0])
		assert.Equal(t, "third@example.com", messages[2].Recipients[0])

		assert.Equal(t, []uint{1, 2, 3}, repo.sent)
		assert.Empty(t, repo.failed)
		assert.Len(t, reputation.eventsOfType(models.ReputationEventSent), 3)
	})

	t.Run("FailedDeliveryIsTerminal", func(t *testing.T) {
		repo := newFakeJobRepo(testJob(7, "alpha", "dead@example.com"))
		reputation := &fakeReputationRecorder{}
		emailer := services.NewMockEmailService()
		emailer.SetError(errors.New("connection refused"))

		s := NewSendScheduler(repo, newFakeCampaignOutcomes(), reputation, emailer, fastThrottle(), config.SchedulerConfig{}, config.LoggingConfig{})
		s.runOnce(context.Background())

		assert.Empty(t, repo.sent)
		assert.Equal(t, "connection refused", repo.failed[7])

		events := reputation.eventsOfType(models.ReputationEventError)
		require.Len(t, events, 1)
		assert.Equal(t, "alpha", events[0].identityID)
		assert.Equal(t, "connection refused", events[0].metadata["error"])
	})

	t.Run("SentEventCarriesMessageID", func(t *testing.T) {
		repo := newFakeJobRepo(testJob(4, "alpha", "a@example.com"))
		reputation := &fakeReputationRecorder{}
		emailer := services.NewMockEmailService()

		s := NewSendScheduler(repo, newFakeCampaignOutcomes(), reputation, emailer, fastThrottle(), config.SchedulerConfig{}, config.LoggingConfig{})
		s.runOnce(context.Background())

		events := reputation.eventsOfType(models.ReputationEventSent)
		require.Len(t, events, 1)
		assert.NotEmpty(t, events[0].metadata["message_id"])
	})

	t.Run("EmptyClaimIsNoOp", func(t *testing.T) {
		repo := newFakeJobRepo()
		reputation := &fakeReputationRecorder{}
		emailer := services.NewMockEmailService()

		s := NewSendScheduler(repo, newFakeCampaignOutcomes(), reputation, emailer, fastThrottle(), config.SchedulerConfig{}, config.LoggingConfig{})
		s.runOnce(context.Background())

		assert.Empty(t, emailer.GetSentMessages())
		assert.Empty(t, reputation.events)
	})

	t.Run("CancelledContextStopsDispatch", func(t *testing.T) {
		repo := newFakeJobRepo(
			testJob(1, "alpha", "a@example.com"),
			testJob(2, "alpha", "b@example.com"),
		)
		reputation := &fakeReputationRecorder{}
		emailer := services.NewMockEmailService()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		s := NewSendScheduler(repo, newFakeCampaignOutcomes(), reputation, emailer, fastThrottle(), config.SchedulerConfig{}, config.LoggingConfig{})
		s.runOnce(ctx)

		// The claim happened but no job reached the transport.
		assert.Equal(t, 1, repo.claimed)
		assert.Empty(t, emailer.GetSentMessages())
	})
}

func TestSendSchedulerStart(t *testing.T) {
	repo := newFakeJobRepo(testJob(1, "alpha", "a@example.com"))
	reputation := &fakeReputationRecorder{}
	emailer := services.NewMockEmailService()

	s := NewSendScheduler(repo, newFakeCampaignOutcomes(), reputation, emailer, fastThrottle(), config.SchedulerConfig{
		ClaimInterval: time.Hour,
	}, config.LoggingConfig{})

	stop := s.Start(context.Background())
	defer stop()

	// The loop claims once immediately on start.
	require.Eventually(t, func() bool {
		return len(emailer.GetSentMessages()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func campaignJob(id, campaignID uint, identityID, recipient string) *models.SendJob {
	j := testJob(id, identityID, recipient)
	j.CampaignID = &campaignID
	return j
}

func scheduledCampaign(id uint) *models.Campaign {
	return &models.Campaign{
		ID:     id,
		UUID:   uuid.New(),
		Status: models.CampaignStatusScheduled,
	}
}

func TestSendSchedulerCampaignOutcome(t *testing.T) {
	t.Run("CompletedWhenAllJobsSent", func(t *testing.T) {
		repo := newFakeJobRepo(
			campaignJob(1, 42, "alpha", "one@example.com"),
			campaignJob(2, 42, "beta", "two@example.com"),
		)
		campaigns := newFakeCampaignOutcomes(scheduledCampaign(42))
		emailer := services.NewMockEmailService()

		s := NewSendScheduler(repo, campaigns, &fakeReputationRecorder{}, emailer, fastThrottle(), config.SchedulerConfig{}, config.LoggingConfig{})
		s.runOnce(context.Background())

		campaigns.mu.Lock()
		defer campaigns.mu.Unlock()
		campaign := campaigns.campaigns[42]
		assert.Equal(t, models.CampaignStatusCompleted, campaign.Status)
		assert.Equal(t, []models.CampaignStatus{models.CampaignStatusSending, models.CampaignStatusCompleted}, campaigns.statuses[42])

		require.Len(t, campaign.Results, 2)
		for _, r := range campaign.Results {
			assert.True(t, r.Success)
			assert.NotEmpty(t, r.MessageID)
			assert.NotNil(t, r.SentAt)
		}
		// A completed campaign with recorded message ids is threadable for a
		// follow-up.
		assert.NotEmpty(t, campaign.Results.FirstMessageID())
	})

	t.Run("FailedWhenNoRecipientDelivered", func(t *testing.T) {
		repo := newFakeJobRepo(
			campaignJob(1, 7, "alpha", "one@example.com"),
			campaignJob(2, 7, "alpha", "two@example.com"),
		)
		campaigns := newFakeCampaignOutcomes(scheduledCampaign(7))
		emailer := services.NewMockEmailService()
		emailer.SetError(errors.New("550 mailbox unavailable"))

		s := NewSendScheduler(repo, campaigns, &fakeReputationRecorder{}, emailer, fastThrottle(), config.SchedulerConfig{}, config.LoggingConfig{})
		s.runOnce(context.Background())

		campaigns.mu.Lock()
		defer campaigns.mu.Unlock()
		campaign := campaigns.campaigns[7]
		assert.Equal(t, models.CampaignStatusFailed, campaign.Status)
		require.Len(t, campaign.Results, 2)
		for _, r := range campaign.Results {
			assert.False(t, r.Success)
			assert.Equal(t, "550 mailbox unavailable", r.Error)
		}
	})

	t.Run("MixedOutcomesStillComplete", func(t *testing.T) {
		repo := newFakeJobRepo(campaignJob(1, 9, "alpha", "one@example.com"))
		campaigns := newFakeCampaignOutcomes(scheduledCampaign(9))
		emailer := services.NewMockEmailService()

		s := NewSendScheduler(repo, campaigns, &fakeReputationRecorder{}, emailer, fastThrottle(), config.SchedulerConfig{}, config.LoggingConfig{})
		s.runOnce(context.Background())

		// A second job for the same campaign becomes due later and fails.
		repo.mu.Lock()
		second := campaignJob(2, 9, "alpha", "two@example.com")
		repo.due = append(repo.due, second)
		repo.all = append(repo.all, second)
		repo.mu.Unlock()
		emailer.SetError(errors.New("connection reset"))

		s.runOnce(context.Background())

		campaigns.mu.Lock()
		defer campaigns.mu.Unlock()
		campaign := campaigns.campaigns[9]
		assert.Equal(t, models.CampaignStatusCompleted, campaign.Status)
		require.Len(t, campaign.Results, 2)
	})

	t.Run("StaysSendingWhileJobsRemainOpen", func(t *testing.T) {
		repo := newFakeJobRepo(campaignJob(1, 5, "alpha", "one@example.com"))
		// A second pending job exists but is not yet due, so it is never claimed.
		later := campaignJob(2, 5, "alpha", "two@example.com")
		repo.all = append(repo.all, later)
		campaigns := newFakeCampaignOutcomes(scheduledCampaign(5))
		emailer := services.NewMockEmailService()

		s := NewSendScheduler(repo, campaigns, &fakeReputationRecorder{}, emailer, fastThrottle(), config.SchedulerConfig{}, config.LoggingConfig{})
		s.runOnce(context.Background())

		campaigns.mu.Lock()
		defer campaigns.mu.Unlock()
		assert.Equal(t, models.CampaignStatusSending, campaigns.campaigns[5].Status)
		assert.Equal(t, []models.CampaignStatus{models.CampaignStatusSending}, campaigns.statuses[5])
	})
}
