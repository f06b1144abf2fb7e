// Package testing provides test utilities and database setup for testing the outreach core
package testing

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/coldflowhq/coldflow/models"
	"github.com/coldflowhq/coldflow/utils"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestReputation creates a reputation record with the given number of
// successful test sends and delivery events.
func (tf *TestFixtures) CreateTestReputation(identityID string, testSends, sent, bounced int) (*models.SenderReputation, error) {
	rep := models.NewSenderReputation(identityID)
	now := utils.UTCNow()

	for i := 0; i < testSends; i++ {
		rep.ApplyEvent(models.ReputationEventTestSuccess, nil, now.Add(time.Duration(i)*time.Second))
	}
	for i := 0; i < sent; i++ {
		rep.ApplyEvent(models.ReputationEventSent, nil, now.Add(time.Duration(testSends+i)*time.Second))
	}
	for i := 0; i < bounced; i++ {
		rep.ApplyEvent(models.ReputationEventBounce, nil, now.Add(time.Duration(testSends+sent+i)*time.Second))
	}

	if err := tf.DB.DB.Create(rep).Error; err != nil {
		return nil, fmt.Errorf("failed to create test reputation: %w", err)
	}
	return rep, nil
}

// CreatePendingJob creates a pending send job due at the given time.
func (tf *TestFixtures) CreatePendingJob(identityID string, scheduledAt time.Time) (*models.SendJob, error) {
	job := &models.SendJob{
		UUID:        uuid.New(),
		IdentityID:  identityID,
		Recipients:  pq.StringArray{fmt.Sprintf("prospect%d@example.com", rand.Intn(100000))},
		Subject:     "Quick question about your infrastructure",
		Body:        "Hi, I noticed your team is scaling and wanted to reach out.",
		ScheduledAt: scheduledAt,
		Status:      models.SendJobStatusPending,
	}
	if err := tf.DB.DB.Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to create test job: %w", err)
	}
	return job, nil
}

// CreateCompletedCampaign creates a completed campaign with one successful
// result, optionally with a pending follow-up due at followUpAt.
func (tf *TestFixtures) CreateCompletedCampaign(identityID string, followUpAt *time.Time) (*models.Campaign, error) {
	now := utils.UTCNow()
	recipient := fmt.Sprintf("prospect%d@example.com", rand.Intn(100000))

	campaign := &models.Campaign{
		UUID:        uuid.New(),
		Subject:     "Quick question about your infrastructure",
		Content:     "Hi, I noticed your team is scaling and wanted to reach out.",
		Recipients:  pq.StringArray{recipient},
		IdentityIDs: pq.StringArray{identityID},
		Status:      models.CampaignStatusCompleted,
		Results: models.CampaignResults{
			{
				Recipient:  recipient,
				IdentityID: identityID,
				Success:    true,
				MessageID:  fmt.Sprintf("<%s@example.com>", uuid.New().String()),
				SentAt:     &now,
			},
		},
	}

	if followUpAt != nil {
		pending := models.FollowUpStatusPending
		content := "Just following up on my previous note."
		campaign.FollowUpStatus = &pending
		campaign.FollowUpContent = &content
		campaign.FollowUpScheduledAt = followUpAt
	}

	if err := tf.DB.DB.Create(campaign).Error; err != nil {
		return nil, fmt.Errorf("failed to create test campaign: %w", err)
	}
	return campaign, nil
}
