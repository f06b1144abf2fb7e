package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coldflowhq/coldflow/utils"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// CampaignStatus represents the status of an outreach campaign
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusSending   CampaignStatus = "sending"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// String returns the string representation of the status
func (s CampaignStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusSending,
		CampaignStatusCompleted, CampaignStatusFailed, CampaignStatusCancelled:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for CampaignStatus
func (s *CampaignStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = CampaignStatus(v)
	case []byte:
		*s = CampaignStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into CampaignStatus", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for CampaignStatus
func (s CampaignStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid CampaignStatus: %s", s)
	}
	return string(s), nil
}

// FollowUpStatus represents the status of a campaign's follow-up send
type FollowUpStatus string

const (
	FollowUpStatusPending FollowUpStatus = "pending"
	FollowUpStatusSent    FollowUpStatus = "sent"
	FollowUpStatusFailed  FollowUpStatus = "failed"
)

// Valid checks if the status is valid
func (s FollowUpStatus) Valid() bool {
	switch s {
	case FollowUpStatusPending, FollowUpStatusSent, FollowUpStatusFailed:
		return true
	default:
		return false
	}
}

// SendResult records the outcome of one recipient's send under a campaign
type SendResult struct {
	Recipient  string     `json:"recipient"`
	IdentityID string     `json:"identity_id"`
	Success    bool       `json:"success"`
	MessageID  string     `json:"message_id,omitempty"`
	Error      string     `json:"error,omitempty"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
}

// CampaignResults is the per-recipient outcome list, stored as jsonb
type CampaignResults []SendResult

// Value implements the driver.Valuer interface for CampaignResults
func (r CampaignResults) Value() (driver.Value, error) {
	if r == nil {
		r = CampaignResults{}
	}
	return json.Marshal(r)
}

// Scan implements the sql.Scanner interface for CampaignResults
func (r *CampaignResults) Scan(value any) error {
	if value == nil {
		*r = CampaignResults{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into CampaignResults", value)
	}
	return json.Unmarshal(bytes, r)
}

// FirstMessageID returns the message id of the first successful send, used to
// thread follow-ups to the original conversation.
func (r CampaignResults) FirstMessageID() string {
	for _, res := range r {
		if res.Success && res.MessageID != "" {
			return res.MessageID
		}
	}
	return ""
}

// FirstIdentityID returns the identity that produced the first successful
// send, or empty when none succeeded.
func (r CampaignResults) FirstIdentityID() string {
	for _, res := range r {
		if res.Success && res.IdentityID != "" {
			return res.IdentityID
		}
	}
	return ""
}

// Campaign is one logical outreach: subject, content, recipients, the sender
// identities used, per-recipient results, and an optional follow-up.
type Campaign struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	UUID        uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:uk_campaigns_uuid" json:"uuid"`
	Subject     string          `gorm:"type:text;not null" json:"subject"`
	Content     string          `gorm:"type:text;not null" json:"content"`
	Recipients  pq.StringArray  `gorm:"type:text[];not null" json:"recipients"`
	IdentityIDs pq.StringArray  `gorm:"type:text[];not null" json:"identity_ids"`
	Status      CampaignStatus  `gorm:"size:20;not null;default:'draft';index:idx_campaigns_status" json:"status"`
	StatusError *string         `gorm:"type:text" json:"status_error,omitempty"`
	Results     CampaignResults `gorm:"type:jsonb;not null;default:'[]'" json:"results"`

	FollowUpContent     *string         `gorm:"type:text" json:"follow_up_content,omitempty"`
	FollowUpStatus      *FollowUpStatus `gorm:"size:20;index:idx_campaigns_follow_up_due,priority:1" json:"follow_up_status,omitempty"`
	FollowUpScheduledAt *time.Time      `gorm:"index:idx_campaigns_follow_up_due,priority:2" json:"follow_up_scheduled_at,omitempty"`
	FollowUpSentAt      *time.Time      `json:"follow_up_sent_at,omitempty"`
	FollowUpError       *string         `gorm:"type:text" json:"follow_up_error,omitempty"`

	CreatedAt time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null" json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// TableName returns the table name for the model
func (Campaign) TableName() string { return "campaigns" }

// BeforeCreate is called before creating a new record
func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.Status == "" {
		c.Status = CampaignStatusDraft
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (c *Campaign) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	c.UpdatedAt = &now
	return nil
}

// CanTransitionTo checks if the campaign can transition to the given status
func (c *Campaign) CanTransitionTo(newStatus CampaignStatus) bool {
	switch c.Status {
	case CampaignStatusDraft:
		return newStatus == CampaignStatusScheduled || newStatus == CampaignStatusSending ||
			newStatus == CampaignStatusCancelled
	case CampaignStatusScheduled:
		return newStatus == CampaignStatusSending || newStatus == CampaignStatusCancelled
	case CampaignStatusSending:
		return newStatus == CampaignStatusCompleted || newStatus == CampaignStatusFailed
	default:
		return false
	}
}

// HasPendingFollowUp reports whether the campaign has a follow-up waiting to
// be dispatched.
func (c *Campaign) HasPendingFollowUp() bool {
	return c.FollowUpStatus != nil && *c.FollowUpStatus == FollowUpStatusPending
}

// CampaignFilter provides filter fields for repository queries
type CampaignFilter struct {
	ID             *uint
	UUID           *uuid.UUID
	Status         *CampaignStatus
	FollowUpStatus *FollowUpStatus
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
}
