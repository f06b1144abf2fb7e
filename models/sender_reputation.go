package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coldflowhq/coldflow/utils"
)

// Bounded-list capacities for per-sender reputation data
const (
	ReputationHistoryCap = 1000
	TestSendLogCap       = 50
)

// ReputationEventType enumerates the events tracked per sender identity
type ReputationEventType string

const (
	ReputationEventSent        ReputationEventType = "sent"
	ReputationEventBounce      ReputationEventType = "bounce"
	ReputationEventError       ReputationEventType = "error"
	ReputationEventTestSuccess ReputationEventType = "test_success"
	ReputationEventTestSpam    ReputationEventType = "test_spam"
)

// Valid checks if the event type is valid
func (t ReputationEventType) Valid() bool {
	switch t {
	case ReputationEventSent, ReputationEventBounce, ReputationEventError,
		ReputationEventTestSuccess, ReputationEventTestSpam:
		return true
	default:
		return false
	}
}

// ReputationEvent is a single entry in an identity's bounded history
type ReputationEvent struct {
	Timestamp time.Time           `json:"timestamp"`
	Type      ReputationEventType `json:"type"`
	Metadata  map[string]string   `json:"metadata,omitempty"`
}

// ReputationHistory is the bounded event history, stored as jsonb
type ReputationHistory []ReputationEvent

// Value implements the driver.Valuer interface for ReputationHistory
func (h ReputationHistory) Value() (driver.Value, error) {
	if h == nil {
		h = ReputationHistory{}
	}
	return json.Marshal(h)
}

// Scan implements the sql.Scanner interface for ReputationHistory
func (h *ReputationHistory) Scan(value any) error {
	if value == nil {
		*h = ReputationHistory{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into ReputationHistory", value)
	}
	return json.Unmarshal(bytes, h)
}

// TestSendResult classifies where a seed/test send landed
type TestSendResult string

const (
	TestSendResultPrimary TestSendResult = "primary"
	TestSendResultSpam    TestSendResult = "spam"
)

// TestSend is a single entry in an identity's bounded test-send log
type TestSend struct {
	Timestamp time.Time         `json:"timestamp"`
	Result    TestSendResult    `json:"result"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// TestSendLog is the bounded test-send log, stored as jsonb
type TestSendLog []TestSend

// Value implements the driver.Valuer interface for TestSendLog
func (l TestSendLog) Value() (driver.Value, error) {
	if l == nil {
		l = TestSendLog{}
	}
	return json.Marshal(l)
}

// Scan implements the sql.Scanner interface for TestSendLog
func (l *TestSendLog) Scan(value any) error {
	if value == nil {
		*l = TestSendLog{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into TestSendLog", value)
	}
	return json.Unmarshal(bytes, l)
}

// SenderReputation tracks deliverability signals for one sender identity.
// Counters only ever increase; the history and test-send lists are bounded
// with oldest-first eviction.
type SenderReputation struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	IdentityID   string            `gorm:"size:255;not null;uniqueIndex:uk_sender_reputations_identity_id" json:"identity_id"`
	TotalSent    int64             `gorm:"not null;default:0" json:"total_sent"`
	TotalBounces int64             `gorm:"not null;default:0" json:"total_bounces"`
	TotalErrors  int64             `gorm:"not null;default:0" json:"total_errors"`
	WarmupStage  int               `gorm:"not null;default:0" json:"warmup_stage"`
	DailyCount   int               `gorm:"not null;default:0" json:"daily_count"`
	LastSentDate *time.Time        `json:"last_sent_date,omitempty"`
	History      ReputationHistory `gorm:"type:jsonb;not null;default:'[]'" json:"history"`
	TestSends    TestSendLog       `gorm:"type:jsonb;not null;default:'[]'" json:"test_sends"`
	CreatedAt    time.Time         `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null" json:"updated_at"`
}

// TableName returns the table name for the model
func (SenderReputation) TableName() string { return "sender_reputations" }

// NewSenderReputation returns a zero-valued record for an identity that has
// no persisted reputation yet.
func NewSenderReputation(identityID string) *SenderReputation {
	now := utils.UTCNow()
	return &SenderReputation{
		IdentityID: identityID,
		History:    ReputationHistory{},
		TestSends:  TestSendLog{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ApplyEvent mutates the record in place for a single reputation event.
// The daily counter resets to 1 on the first sent event of a new UTC
// calendar date and increments otherwise.
func (r *SenderReputation) ApplyEvent(eventType ReputationEventType, metadata map[string]string, now time.Time) {
	r.History = append(r.History, ReputationEvent{
		Timestamp: now,
		Type:      eventType,
		Metadata:  metadata,
	})
	if excess := len(r.History) - ReputationHistoryCap; excess > 0 {
		r.History = r.History[excess:]
	}

	switch eventType {
	case ReputationEventSent:
		r.TotalSent++
		if r.LastSentDate == nil || !utils.SameCalendarDay(*r.LastSentDate, now) {
			r.DailyCount = 1
		} else {
			r.DailyCount++
		}
		day := utils.StartOfDay(now)
		r.LastSentDate = &day
	case ReputationEventBounce:
		r.TotalBounces++
	case ReputationEventError:
		r.TotalErrors++
	case ReputationEventTestSuccess:
		r.appendTestSend(TestSendResultPrimary, metadata, now)
	case ReputationEventTestSpam:
		r.appendTestSend(TestSendResultSpam, metadata, now)
	}

	r.UpdatedAt = now
}

func (r *SenderReputation) appendTestSend(result TestSendResult, metadata map[string]string, now time.Time) {
	r.TestSends = append(r.TestSends, TestSend{
		Timestamp: now,
		Result:    result,
		Metadata:  metadata,
	})
	if excess := len(r.TestSends) - TestSendLogCap; excess > 0 {
		r.TestSends = r.TestSends[excess:]
	}
}

// InboxPlacementRate returns the percentage of test sends that landed in the
// primary inbox, or 0 when no test sends exist.
func (r *SenderReputation) InboxPlacementRate() float64 {
	if len(r.TestSends) == 0 {
		return 0
	}
	primary := 0
	for _, ts := range r.TestSends {
		if ts.Result == TestSendResultPrimary {
			primary++
		}
	}
	return float64(primary) / float64(len(r.TestSends)) * 100
}

// RecentDeliveryWindow returns the bounce count and window size over the most
// recent `window` history entries of type sent or bounce.
func (r *SenderReputation) RecentDeliveryWindow(window int) (bounces, size int) {
	for i := len(r.History) - 1; i >= 0 && size < window; i-- {
		switch r.History[i].Type {
		case ReputationEventSent, ReputationEventBounce:
			size++
			if r.History[i].Type == ReputationEventBounce {
				bounces++
			}
		}
	}
	return bounces, size
}

// SenderReputationFilter provides filter fields for repository queries
type SenderReputationFilter struct {
	ID         *uint
	IdentityID *string
}
