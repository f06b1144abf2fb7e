package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/coldflowhq/coldflow/utils"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// SendJobStatus represents the lifecycle state of a scheduled send
type SendJobStatus string

const (
	SendJobStatusPending    SendJobStatus = "pending"
	SendJobStatusProcessing SendJobStatus = "processing"
	SendJobStatusSent       SendJobStatus = "sent"
	SendJobStatusError      SendJobStatus = "error"
)

// String returns the string representation of the status
func (s SendJobStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s SendJobStatus) Valid() bool {
	switch s {
	case SendJobStatusPending, SendJobStatusProcessing, SendJobStatusSent, SendJobStatusError:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status is a final state
func (s SendJobStatus) Terminal() bool {
	return s == SendJobStatusSent || s == SendJobStatusError
}

// Scan implements the sql.Scanner interface for SendJobStatus
func (s *SendJobStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = SendJobStatus(v)
	case []byte:
		*s = SendJobStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into SendJobStatus", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for SendJobStatus
func (s SendJobStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid SendJobStatus: %s", s)
	}
	return string(s), nil
}

// SendJob is one durable scheduled send attempt. Jobs are created pending,
// claimed into processing by exactly one worker, and end as sent or error.
// A terminal job is never claimed again.
type SendJob struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	UUID          uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uk_send_jobs_uuid" json:"uuid"`
	CampaignID    *uint          `gorm:"index:idx_send_jobs_campaign_id" json:"campaign_id,omitempty"`
	IdentityID    string         `gorm:"size:255;not null;index:idx_send_jobs_identity_id" json:"identity_id"`
	Recipients    pq.StringArray `gorm:"type:text[];not null" json:"recipients"`
	Subject       string         `gorm:"type:text;not null" json:"subject"`
	Body          string         `gorm:"type:text;not null" json:"body"`
	Attachments   pq.StringArray `gorm:"type:text[]" json:"attachments,omitempty"`
	ScheduledAt   time.Time      `gorm:"not null;index:idx_send_jobs_status_scheduled_at,priority:2" json:"scheduled_at"`
	Status        SendJobStatus  `gorm:"size:20;not null;default:'pending';index:idx_send_jobs_status_scheduled_at,priority:1" json:"status"`
	Attempts      int            `gorm:"not null;default:0" json:"attempts"`
	LastAttemptAt *time.Time     `json:"last_attempt_at,omitempty"`
	LastError     *string        `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt     time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null" json:"updated_at"`
}

// TableName returns the table name for the model
func (SendJob) TableName() string { return "send_jobs" }

// BeforeCreate is called before creating a new record
func (j *SendJob) BeforeCreate(tx *gorm.DB) error {
	if j.UUID == uuid.Nil {
		j.UUID = uuid.New()
	}
	if j.Status == "" {
		j.Status = SendJobStatusPending
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = utils.UTCNow()
	}
	return nil
}

// SendJobFilter provides filter fields for repository queries
type SendJobFilter struct {
	ID         *uint
	UUID       *uuid.UUID
	CampaignID *uint
	IdentityID *string
	Status     *SendJobStatus
	DueBefore  *time.Time
}
