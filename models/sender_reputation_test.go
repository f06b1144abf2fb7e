package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/coldflowhq/coldflow/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSenderReputationApplyEvent(t *testing.T) {
	day1 := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	t.Run("SentIncrementsCounters", func(t *testing.T) {
		rep := NewSenderReputation("alpha")
		rep.ApplyEvent(ReputationEventSent, nil, day1)
		rep.ApplyEvent(ReputationEventSent, nil, day1.Add(time.Hour))

		assert.Equal(t, int64(2), rep.TotalSent)
		assert.Equal(t, 2, rep.DailyCount)
		assert.Len(t, rep.History, 2)
		require.NotNil(t, rep.LastSentDate)
		assert.Equal(t, utils.StartOfDay(day1), *rep.LastSentDate)
	})

	t.Run("DailyCountResetsOnNewUTCDate", func(t *testing.T) {
		rep := NewSenderReputation("alpha")
		rep.ApplyEvent(ReputationEventSent, nil, day1)
		rep.ApplyEvent(ReputationEventSent, nil, day1.Add(2*time.Hour))
		assert.Equal(t, 2, rep.DailyCount)

		// 23:59 UTC then 00:01 UTC next day
		rep.ApplyEvent(ReputationEventSent, nil, time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC))
		assert.Equal(t, 3, rep.DailyCount)

		rep.ApplyEvent(ReputationEventSent, nil, time.Date(2025, 3, 11, 0, 1, 0, 0, time.UTC))
		assert.Equal(t, 1, rep.DailyCount)
		assert.Equal(t, int64(4), rep.TotalSent)
	})

	t.Run("BounceAndErrorCounters", func(t *testing.T) {
		rep := NewSenderReputation("alpha")
		rep.ApplyEvent(ReputationEventBounce, nil, day1)
		rep.ApplyEvent(ReputationEventError, nil, day1)
		rep.ApplyEvent(ReputationEventError, nil, day1)

		assert.Equal(t, int64(1), rep.TotalBounces)
		assert.Equal(t, int64(2), rep.TotalErrors)
		assert.Equal(t, int64(0), rep.TotalSent)
		assert.Equal(t, 0, rep.DailyCount)
	})

	t.Run("HistoryEvictsOldestBeyondCap", func(t *testing.T) {
		rep := NewSenderReputation("alpha")
		for i := 0; i < ReputationHistoryCap+10; i++ {
			rep.ApplyEvent(ReputationEventSent, map[string]string{"seq": fmt.Sprintf("%d", i)}, day1.Add(time.Duration(i)*time.Second))
		}

		assert.Len(t, rep.History, ReputationHistoryCap)
		// Oldest 10 evicted, counters unaffected
		assert.Equal(t, "10", rep.History[0].Metadata["seq"])
		assert.Equal(t, int64(ReputationHistoryCap+10), rep.TotalSent)
	})

	t.Run("TestSendLogEvictsOldestBeyondCap", func(t *testing.T) {
		rep := NewSenderReputation("alpha")
		for i := 0; i < TestSendLogCap+5; i++ {
			rep.ApplyEvent(ReputationEventTestSuccess, map[string]string{"seq": fmt.Sprintf("%d", i)}, day1)
		}

		assert.Len(t, rep.TestSends, TestSendLogCap)
		assert.Equal(t, "5", rep.TestSends[0].Metadata["seq"])
	})

	t.Run("TestEventsDoNotTouchSendCounters", func(t *testing.T) {
		rep := NewSenderReputation("alpha")
		rep.ApplyEvent(ReputationEventTestSuccess, nil, day1)
		rep.ApplyEvent(ReputationEventTestSpam, nil, day1)

		assert.Equal(t, int64(0), rep.TotalSent)
		assert.Equal(t, 0, rep.DailyCount)
		assert.Nil(t, rep.LastSentDate)
		assert.Len(t, rep.TestSends, 2)
		assert.Equal(t, TestSendResultPrimary, rep.TestSends[0].Result)
		assert.Equal(t, TestSendResultSpam, rep.TestSends[1].Result)
	})
}

func TestInboxPlacementRate(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	t.Run("NoTestSendsIsZero", func(t *testing.T) {
		rep := NewSenderReputation("alpha")
		assert.Equal(t, 0.0, rep.InboxPlacementRate())
	})

	t.Run("NineOfTenPrimary", func(t *testing.T) {
		rep := NewSenderReputation("alpha")
		for i := 0; i < 9; i++ {
			rep.ApplyEvent(ReputationEventTestSuccess, nil, now)
		}
		rep.ApplyEvent(ReputationEventTestSpam, nil, now)

		assert.InDelta(t, 90.0, rep.InboxPlacementRate(), 0.001)
	})

	t.Run("AllPrimary", func(t *testing.T) {
		rep := NewSenderReputation("alpha")
		for i := 0; i < 5; i++ {
			rep.ApplyEvent(ReputationEventTestSuccess, nil, now)
		}
		assert.InDelta(t, 100.0, rep.InboxPlacementRate(), 0.001)
	})
}

func TestRecentDeliveryWindow(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	t.Run("CountsOnlySentAndBounce", func(t *testing.T) {
		rep := NewSenderReputation("alpha")
		rep.ApplyEvent(ReputationEventSent, nil, now)
		rep.ApplyEvent(ReputationEventError, nil, now)
		rep.ApplyEvent(ReputationEventTestSuccess, nil, now)
		rep.ApplyEvent(ReputationEventBounce, nil, now)

		bounces, size := rep.RecentDeliveryWindow(100)
		assert.Equal(t, 1, bounces)
		assert.Equal(t, 2, size)
	})

	t.Run("WindowLimitsLookback", func(t *testing.T) {
		rep := NewSenderReputation("alpha")
		// one old bounce followed by 100 clean sends
		rep.ApplyEvent(ReputationEventBounce, nil, now)
		for i := 0; i < 100; i++ {
			rep.ApplyEvent(ReputationEventSent, nil, now.Add(time.Duration(i+1)*time.Second))
		}

		bounces, size := rep.RecentDeliveryWindow(100)
		assert.Equal(t, 0, bounces)
		assert.Equal(t, 100, size)
	})

	t.Run("FiftySentOneBounce", func(t *testing.T) {
		rep := NewSenderReputation("alpha")
		for i := 0; i < 50; i++ {
			rep.ApplyEvent(ReputationEventSent, nil, now.Add(time.Duration(i)*time.Second))
		}
		rep.ApplyEvent(ReputationEventBounce, nil, now.Add(time.Minute))

		bounces, size := rep.RecentDeliveryWindow(100)
		assert.Equal(t, 1, bounces)
		assert.Equal(t, 51, size)
	})

	t.Run("EmptyHistory", func(t *testing.T) {
		rep := NewSenderReputation("alpha")
		bounces, size := rep.RecentDeliveryWindow(100)
		assert.Equal(t, 0, bounces)
		assert.Equal(t, 0, size)
	})
}
