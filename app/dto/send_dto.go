package dto

import "time"

// SendNowRequest asks for an immediate send through one identity
type SendNowRequest struct {
	IdentityID  string   `json:"identity_id" validate:"required"`
	Recipients  []string `json:"recipients" validate:"required,min=1,dive,email"`
	Subject     string   `json:"subject" validate:"required"`
	Body        string   `json:"body" validate:"required"`
	Attachments []string `json:"attachments,omitempty"`
	// Force bypasses the qualification gate; the verdict is still returned.
	Force bool `json:"force"`
}

// SendNowResponse reports the outcome of an immediate send
type SendNowResponse struct {
	CampaignUUID  string               `json:"campaign_uuid"`
	MessageID     string               `json:"message_id,omitempty"`
	SentAt        *time.Time           `json:"sent_at,omitempty"`
	Qualification *QualificationResult `json:"qualification,omitempty"`
}

// ScheduleSendRequest queues a campaign for a future time
type ScheduleSendRequest struct {
	IdentityIDs []string  `json:"identity_ids" validate:"required,min=1"`
	Recipients  []string  `json:"recipients" validate:"required,min=1,dive,email"`
	Subject     string    `json:"subject" validate:"required"`
	Body        string    `json:"body" validate:"required"`
	Attachments []string  `json:"attachments,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
}

// ScheduleSendResponse reports the created campaign and its jobs
type ScheduleSendResponse struct {
	CampaignUUID string    `json:"campaign_uuid"`
	JobUUIDs     []string  `json:"job_uuids"`
	ScheduledAt  time.Time `json:"scheduled_at"`
}

// ScheduleFollowUpRequest attaches a follow-up to a completed campaign
type ScheduleFollowUpRequest struct {
	CampaignUUID string    `json:"campaign_uuid" validate:"required,uuid"`
	Content      string    `json:"content" validate:"required"`
	ScheduledAt  time.Time `json:"scheduled_at" validate:"required"`
}

// ScheduleFollowUpResponse confirms the scheduled follow-up
type ScheduleFollowUpResponse struct {
	CampaignUUID string    `json:"campaign_uuid"`
	ScheduledAt  time.Time `json:"scheduled_at"`
}

// QualificationResult is the gate verdict exposed over the API
type QualificationResult struct {
	Allowed bool     `json:"allowed"`
	Reasons []string `json:"reasons"`
	Metrics any      `json:"metrics"`
}

// ReputationResponse is the per-identity reputation snapshot
type ReputationResponse struct {
	IdentityID         string     `json:"identity_id"`
	TotalSent          int64      `json:"total_sent"`
	TotalBounces       int64      `json:"total_bounces"`
	TotalErrors        int64      `json:"total_errors"`
	WarmupStage        int        `json:"warmup_stage"`
	DailyCount         int        `json:"daily_count"`
	LastSentDate       *time.Time `json:"last_sent_date,omitempty"`
	InboxPlacementRate float64    `json:"inbox_placement_rate"`
	TestSendCount      int        `json:"test_send_count"`
	HistoryLength      int        `json:"history_length"`
}

// RecordReputationEventRequest records an externally observed event
type RecordReputationEventRequest struct {
	IdentityID string            `json:"identity_id" validate:"required"`
	EventType  string            `json:"event_type" validate:"required,oneof=sent bounce error test_success test_spam"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CampaignResponse is a campaign with its per-recipient results
type CampaignResponse struct {
	UUID           string     `json:"uuid"`
	Subject        string     `json:"subject"`
	Status         string     `json:"status"`
	Recipients     []string   `json:"recipients"`
	IdentityIDs    []string   `json:"identity_ids"`
	Results        any        `json:"results"`
	FollowUpStatus *string    `json:"follow_up_status,omitempty"`
	FollowUpAt     *time.Time `json:"follow_up_scheduled_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
