package repository

import (
	"context"
	"testing"
	"time"

	"github.com/coldflowhq/coldflow/models"
	testingutil "github.com/coldflowhq/coldflow/testing"
	"github.com/coldflowhq/coldflow/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCampaignRepository(t *testing.T) {
	testDB := testingutil.SkipIfNoDatabase(t)
	defer testDB.TeardownTestDB()

	repo := NewCampaignRepository(testDB.DB)
	fixtures := testingutil.NewTestFixtures(testDB)
	ctx := context.Background()

	t.Run("ByUUID", func(t *testing.T) {
		require.NoError(t, testDB.ClearAllTables())

		created, err := fixtures.CreateCompletedCampaign("alpha", nil)
		require.NoError(t, err)

		found, err := repo.ByUUID(ctx, created.UUID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, created.ID, found.ID)

		missing, err := repo.ByUUID(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("UpdateStatusValidatesTransition", func(t *testing.T) {
		require.NoError(t, testDB.ClearAllTables())

		campaign := &models.Campaign{
			UUID:        uuid.New(),
			Subject:     "Quick question",
			Content:     "Hello",
			Recipients:  []string{"prospect@example.com"},
			IdentityIDs: []string{"alpha"},
			Status:      models.CampaignStatusSending,
			Results:     models.CampaignResults{},
		}
		require.NoError(t, repo.Save(ctx, campaign))

		require.NoError(t, repo.UpdateStatus(ctx, campaign.ID, models.CampaignStatusCompleted, nil))

		stored, err := repo.ByID(ctx, campaign.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CampaignStatusCompleted, stored.Status)

		// Completed is terminal.
		err = repo.UpdateStatus(ctx, campaign.ID, models.CampaignStatusSending, nil)
		assert.Error(t, err)
	})

	t.Run("ListDueFollowUps", func(t *testing.T) {
		require.NoError(t, testDB.ClearAllTables())

		now := utils.UTCNow()
		past := now.Add(-time.Hour)
		future := now.Add(time.Hour)

		due, err := fixtures.CreateCompletedCampaign("alpha", &past)
		require.NoError(t, err)
		_, err = fixtures.CreateCompletedCampaign("alpha", &future)
		require.NoError(t, err)
		_, err = fixtures.CreateCompletedCampaign("alpha", nil)
		require.NoError(t, err)

		rows, err := repo.ListDueFollowUps(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, due.ID, rows[0].ID)
	})

	t.Run("MarkFollowUpSentClearsError", func(t *testing.T) {
		require.NoError(t, testDB.ClearAllTables())

		now := utils.UTCNow()
		past := now.Add(-time.Hour)
		campaign, err := fixtures.CreateCompletedCampaign("alpha", &past)
		require.NoError(t, err)

		require.NoError(t, repo.MarkFollowUpFailed(ctx, campaign.ID, "first attempt failed"))
		require.NoError(t, repo.MarkFollowUpSent(ctx, campaign.ID, now))

		stored, err := repo.ByID(ctx, campaign.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.FollowUpStatus)
		assert.Equal(t, models.FollowUpStatusSent, *stored.FollowUpStatus)
		assert.Nil(t, stored.FollowUpError)
		require.NotNil(t, stored.FollowUpSentAt)

		// No longer returned by the due scan.
		rows, err := repo.ListDueFollowUps(ctx, utils.UTCNow(), 10)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("AppendResultsMerges", func(t *testing.T) {
		require.NoError(t, testDB.ClearAllTables())

		campaign, err := fixtures.CreateCompletedCampaign("alpha", nil)
		require.NoError(t, err)
		require.Len(t, campaign.Results, 1)

		now := utils.UTCNow()
		err = repo.AppendResults(ctx, campaign.ID, []models.SendResult{
			{Recipient: "second@example.com", IdentityID: "alpha", Success: true, MessageID: "<m2@x>", SentAt: &now},
		})
		require.NoError(t, err)

		stored, err := repo.ByID(ctx, campaign.ID)
		require.NoError(t, err)
		require.Len(t, stored.Results, 2)
		assert.Equal(t, "second@example.com", stored.Results[1].Recipient)
	})
}
