package businessflow

import (
	"context"
	"fmt"
	"log"

	"github.com/coldflowhq/coldflow/app/dto"
	"github.com/coldflowhq/coldflow/app/services"
	"github.com/coldflowhq/coldflow/config"
	"github.com/coldflowhq/coldflow/models"
	"github.com/coldflowhq/coldflow/repository"
	"github.com/coldflowhq/coldflow/utils"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Throttler gates dispatch pacing; implemented by the scheduler throttle
type Throttler interface {
	BeforeSend(ctx context.Context) error
	AfterSend(ctx context.Context) error
}

// SendFlow handles the outreach send business logic
type SendFlow interface {
	SendNow(ctx context.Context, req *dto.SendNowRequest, metadata *ClientMetadata) (*dto.SendNowResponse, error)
	ScheduleSend(ctx context.Context, req *dto.ScheduleSendRequest, metadata *ClientMetadata) (*dto.ScheduleSendResponse, error)
	ScheduleFollowUp(ctx context.Context, req *dto.ScheduleFollowUpRequest, metadata *ClientMetadata) (*dto.ScheduleFollowUpResponse, error)
	GetQualification(ctx context.Context, identityID, domain string) (*dto.QualificationResult, error)
	GetReputation(ctx context.Context, identityID string) (*dto.ReputationResponse, error)
	RecordReputationEvent(ctx context.Context, req *dto.RecordReputationEventRequest) (*dto.ReputationResponse, error)
	GetCampaign(ctx context.Context, campaignUUID string) (*dto.CampaignResponse, error)
}

// SendFlowImpl implements the send business flow
type SendFlowImpl struct {
	campaignRepo repository.CampaignRepository
	jobRepo      repository.SendJobRepository
	gate         QualificationGate
	reputation   ReputationStore
	emailer      services.EmailService
	throttle     Throttler
	identities   []config.SenderIdentity
	db           *gorm.DB
}

// NewSendFlow creates a new send flow instance
func NewSendFlow(
	campaignRepo repository.CampaignRepository,
	jobRepo repository.SendJobRepository,
	gate QualificationGate,
	reputation ReputationStore,
	emailer services.EmailService,
	throttle Throttler,
	identities []config.SenderIdentity,
	db *gorm.DB,
) SendFlow {
	return &SendFlowImpl{
		campaignRepo: campaignRepo,
		jobRepo:      jobRepo,
		gate:         gate,
		reputation:   reputation,
		emailer:      emailer,
		throttle:     throttle,
		identities:   identities,
		db:           db,
	}
}

func (s *SendFlowImpl) identityByID(id string) (config.SenderIdentity, bool) {
	for _, identity := range s.identities {
		if identity.ID == id {
			return identity, true
		}
	}
	return config.SenderIdentity{}, false
}

// SendNow runs the full immediate pipeline: qualification gate, throttle,
// transport, reputation and campaign bookkeeping. A denied verdict is not an
// error; it is returned with reasons, and Force overrides it.
func (s *SendFlowImpl) SendNow(ctx context.Context, req *dto.SendNowRequest, metadata *ClientMetadata) (*dto.SendNowResponse, error) {
	identity, ok := s.identityByID(req.IdentityID)
	if !ok {
		return nil, NewBusinessErrorf("IDENTITY_NOT_FOUND", "sender identity %s is not configured", ErrIdentityNotFound, req.IdentityID)
	}

	verdict, err := s.gate.Evaluate(ctx, identity.ID, identity.Domain)
	if err != nil {
		return nil, NewBusinessError("QUALIFICATION_FAILED", "failed to evaluate sender qualification", err)
	}

	resp := &dto.SendNowResponse{
		Qualification: &dto.QualificationResult{
			Allowed: verdict.Allowed,
			Reasons: verdict.Reasons,
			Metrics: verdict.Metrics,
		},
	}

	if !verdict.Allowed && !req.Force {
		return resp, nil
	}

	campaign := &models.Campaign{
		UUID:        uuid.New(),
		Subject:     req.Subject,
		Content:     req.Body,
		Recipients:  pq.StringArray(req.Recipients),
		IdentityIDs: pq.StringArray{identity.ID},
		Status:      models.CampaignStatusSending,
		Results:     models.CampaignResults{},
	}
	if err := s.campaignRepo.Save(ctx, campaign); err != nil {
		return nil, NewBusinessError("CAMPAIGN_CREATE_FAILED", "failed to create campaign record", err)
	}
	resp.CampaignUUID = campaign.UUID.String()

	if err := s.throttle.BeforeSend(ctx); err != nil {
		// The campaign row already exists; leave it in a terminal state even
		// though the caller's context may be gone.
		detail := "cancelled while waiting for a throttle slot"
		if uErr := s.campaignRepo.UpdateStatus(context.WithoutCancel(ctx), campaign.ID, models.CampaignStatusFailed, &detail); uErr != nil {
			log.Printf("failed to record cancelled campaign %s: %v", campaign.UUID, uErr)
		}
		return nil, NewBusinessError("SEND_CANCELLED", "send cancelled while waiting for a throttle slot", ErrSendCancelled)
	}

	outcome, sendErr := s.emailer.Send(ctx, &services.EmailMessage{
		IdentityID:  identity.ID,
		Recipients:  req.Recipients,
		Subject:     req.Subject,
		Body:        req.Body,
		Attachments: req.Attachments,
	})

	results := make([]models.SendResult, 0, len(req.Recipients))
	if sendErr != nil {
		for _, rcpt := range req.Recipients {
			results = append(results, models.SendResult{
				Recipient:  rcpt,
				IdentityID: identity.ID,
				Success:    false,
				Error:      sendErr.Error(),
			})
		}
	} else {
		for _, rcpt := range req.Recipients {
			results = append(results, models.SendResult{
				Recipient:  rcpt,
				IdentityID: identity.ID,
				Success:    true,
				MessageID:  outcome.MessageID,
				SentAt:     utils.ToPtr(outcome.SentAt),
			})
		}
	}
	if err := s.campaignRepo.AppendResults(ctx, campaign.ID, results); err != nil {
		// Results are best-effort bookkeeping; the send outcome still stands.
		log.Printf("failed to append campaign results: %v", err)
	}

	if sendErr != nil {
		detail := sendErr.Error()
		if err := s.campaignRepo.UpdateStatus(ctx, campaign.ID, models.CampaignStatusFailed, &detail); err != nil {
			return nil, NewBusinessError("CAMPAIGN_STATUS_FAILED", "failed to record campaign failure", err)
		}
		s.reputation.RecordEvent(ctx, identity.ID, models.ReputationEventError, map[string]string{
			"campaign": campaign.UUID.String(),
			"error":    sendErr.Error(),
		})
		return resp, NewBusinessError("SEND_FAILED", "delivery failed", sendErr)
	}

	if err := s.campaignRepo.UpdateStatus(ctx, campaign.ID, models.CampaignStatusCompleted, nil); err != nil {
		return nil, NewBusinessError("CAMPAIGN_STATUS_FAILED", "failed to record campaign completion", err)
	}
	s.reputation.RecordEvent(ctx, identity.ID, models.ReputationEventSent, map[string]string{
		"campaign":   campaign.UUID.String(),
		"message_id": outcome.MessageID,
	})

	resp.MessageID = outcome.MessageID
	resp.SentAt = &outcome.SentAt

	if err := s.throttle.AfterSend(ctx); err != nil {
		// Pacing interruption after a completed send does not fail the call.
		return resp, nil
	}
	return resp, nil
}

// ScheduleSend persists a campaign and its send jobs in one transaction.
// Recipients are partitioned round-robin across the requested identities.
func (s *SendFlowImpl) ScheduleSend(ctx context.Context, req *dto.ScheduleSendRequest, metadata *ClientMetadata) (*dto.ScheduleSendResponse, error) {
	if err := s.validateScheduleSendRequest(req); err != nil {
		return nil, NewBusinessError("SCHEDULE_VALIDATION_FAILED", "schedule validation failed", err)
	}

	campaign := &models.Campaign{
		UUID:        uuid.New(),
		Subject:     req.Subject,
		Content:     req.Body,
		Recipients:  pq.StringArray(req.Recipients),
		IdentityIDs: pq.StringArray(req.IdentityIDs),
		Status:      models.CampaignStatusScheduled,
		Results:     models.CampaignResults{},
	}

	byIdentity := make(map[string][]string, len(req.IdentityIDs))
	for i, rcpt := range req.Recipients {
		id := req.IdentityIDs[i%len(req.IdentityIDs)]
		byIdentity[id] = append(byIdentity[id], rcpt)
	}

	var jobs []*models.SendJob
	err := repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		if err := s.campaignRepo.Save(txCtx, campaign); err != nil {
			return fmt.Errorf("failed to create campaign: %w", err)
		}

		scheduledAt := req.ScheduledAt.UTC()
		for _, identityID := range req.IdentityIDs {
			recipients := byIdentity[identityID]
			if len(recipients) == 0 {
				continue
			}
			jobs = append(jobs, &models.SendJob{
				UUID:        uuid.New(),
				CampaignID:  &campaign.ID,
				IdentityID:  identityID,
				Recipients:  pq.StringArray(recipients),
				Subject:     req.Subject,
				Body:        req.Body,
				Attachments: pq.StringArray(req.Attachments),
				ScheduledAt: scheduledAt,
				Status:      models.SendJobStatusPending,
			})
		}
		if err := s.jobRepo.SaveBatch(txCtx, jobs); err != nil {
			return fmt.Errorf("failed to enqueue send jobs: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, NewBusinessError("SCHEDULE_FAILED", "failed to schedule campaign", err)
	}

	jobUUIDs := make([]string, 0, len(jobs))
	for _, j := range jobs {
		jobUUIDs = append(jobUUIDs, j.UUID.String())
	}

	return &dto.ScheduleSendResponse{
		CampaignUUID: campaign.UUID.String(),
		JobUUIDs:     jobUUIDs,
		ScheduledAt:  req.ScheduledAt.UTC(),
	}, nil
}

func (s *SendFlowImpl) validateScheduleSendRequest(req *dto.ScheduleSendRequest) error {
	if req.Subject == "" {
		return ErrCampaignSubjectRequired
	}
	if req.Body == "" {
		return ErrCampaignContentRequired
	}
	if len(req.Recipients) == 0 {
		return ErrCampaignRecipientsRequired
	}
	if len(req.IdentityIDs) == 0 {
		return ErrIdentityNotProvided
	}
	for _, id := range req.IdentityIDs {
		if _, ok := s.identityByID(id); !ok {
			return fmt.Errorf("%w: %s", ErrIdentityNotFound, id)
		}
	}
	if req.ScheduledAt.IsZero() {
		return ErrScheduleTimeNotPresent
	}
	if utils.IsExpired(req.ScheduledAt) {
		return ErrScheduleTimeInPast
	}
	return nil
}

// ScheduleFollowUp attaches a pending follow-up to an existing campaign. The
// campaign must have at least one successful send to thread against.
func (s *SendFlowImpl) ScheduleFollowUp(ctx context.Context, req *dto.ScheduleFollowUpRequest, metadata *ClientMetadata) (*dto.ScheduleFollowUpResponse, error) {
	campaignUUID, err := uuid.Parse(req.CampaignUUID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_UUID_INVALID", "campaign UUID is invalid", ErrCampaignUUIDRequired)
	}
	if req.Content == "" {
		return nil, NewBusinessError("FOLLOW_UP_CONTENT_REQUIRED", "follow-up content is required", ErrFollowUpContentRequired)
	}
	if req.ScheduledAt.IsZero() {
		return nil, NewBusinessError("SCHEDULE_TIME_REQUIRED", "schedule time is not present", ErrScheduleTimeNotPresent)
	}

	campaign, err := s.campaignRepo.ByUUID(ctx, campaignUUID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "failed to load campaign", err)
	}
	if campaign == nil {
		return nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "campaign not found", ErrCampaignNotFound)
	}
	if campaign.FollowUpStatus != nil && *campaign.FollowUpStatus != models.FollowUpStatusFailed {
		return nil, NewBusinessError("FOLLOW_UP_EXISTS", "campaign already has a follow-up", ErrFollowUpAlreadySet)
	}
	if campaign.Results.FirstMessageID() == "" {
		return nil, NewBusinessError("FOLLOW_UP_NOT_THREADABLE", "campaign has no sent message to follow up", ErrFollowUpNoSentMessage)
	}

	scheduledAt := req.ScheduledAt.UTC()
	campaign.FollowUpContent = &req.Content
	campaign.FollowUpStatus = utils.ToPtr(models.FollowUpStatusPending)
	campaign.FollowUpScheduledAt = &scheduledAt
	campaign.FollowUpSentAt = nil
	campaign.FollowUpError = nil

	if err := s.campaignRepo.Update(ctx, campaign); err != nil {
		return nil, NewBusinessError("FOLLOW_UP_SCHEDULE_FAILED", "failed to schedule follow-up", err)
	}

	return &dto.ScheduleFollowUpResponse{
		CampaignUUID: campaign.UUID.String(),
		ScheduledAt:  scheduledAt,
	}, nil
}

// GetQualification evaluates the gate for a configured identity. An empty
// domain falls back to the identity's configured sending domain.
func (s *SendFlowImpl) GetQualification(ctx context.Context, identityID, domain string) (*dto.QualificationResult, error) {
	identity, ok := s.identityByID(identityID)
	if !ok {
		return nil, NewBusinessErrorf("IDENTITY_NOT_FOUND", "sender identity %s is not configured", ErrIdentityNotFound, identityID)
	}
	if domain == "" {
		domain = identity.Domain
	}
	verdict, err := s.gate.Evaluate(ctx, identity.ID, domain)
	if err != nil {
		return nil, NewBusinessError("QUALIFICATION_FAILED", "failed to evaluate sender qualification", err)
	}
	return &dto.QualificationResult{
		Allowed: verdict.Allowed,
		Reasons: verdict.Reasons,
		Metrics: verdict.Metrics,
	}, nil
}

// GetReputation returns the identity's current reputation snapshot
func (s *SendFlowImpl) GetReputation(ctx context.Context, identityID string) (*dto.ReputationResponse, error) {
	if _, ok := s.identityByID(identityID); !ok {
		return nil, NewBusinessErrorf("IDENTITY_NOT_FOUND", "sender identity %s is not configured", ErrIdentityNotFound, identityID)
	}
	record := s.reputation.GetRecord(ctx, identityID)
	return reputationToDTO(record), nil
}

// RecordReputationEvent records an externally observed event, such as a
// bounce webhook or a seed-test placement result
func (s *SendFlowImpl) RecordReputationEvent(ctx context.Context, req *dto.RecordReputationEventRequest) (*dto.ReputationResponse, error) {
	eventType := models.ReputationEventType(req.EventType)
	if !eventType.Valid() {
		return nil, NewBusinessErrorf("EVENT_TYPE_INVALID", "unknown reputation event type %s", nil, req.EventType)
	}
	record := s.reputation.RecordEvent(ctx, req.IdentityID, eventType, req.Metadata)
	return reputationToDTO(record), nil
}

// GetCampaign returns one campaign with its per-recipient results
func (s *SendFlowImpl) GetCampaign(ctx context.Context, campaignUUID string) (*dto.CampaignResponse, error) {
	id, err := uuid.Parse(campaignUUID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_UUID_INVALID", "campaign UUID is invalid", ErrCampaignUUIDRequired)
	}
	campaign, err := s.campaignRepo.ByUUID(ctx, id)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "failed to load campaign", err)
	}
	if campaign == nil {
		return nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "campaign not found", ErrCampaignNotFound)
	}

	resp := &dto.CampaignResponse{
		UUID:        campaign.UUID.String(),
		Subject:     campaign.Subject,
		Status:      campaign.Status.String(),
		Recipients:  campaign.Recipients,
		IdentityIDs: campaign.IdentityIDs,
		Results:     campaign.Results,
		FollowUpAt:  campaign.FollowUpScheduledAt,
		CreatedAt:   campaign.CreatedAt,
	}
	if campaign.FollowUpStatus != nil {
		status := string(*campaign.FollowUpStatus)
		resp.FollowUpStatus = &status
	}
	return resp, nil
}

func reputationToDTO(record *models.SenderReputation) *dto.ReputationResponse {
	return &dto.ReputationResponse{
		IdentityID:         record.IdentityID,
		TotalSent:          record.TotalSent,
		TotalBounces:       record.TotalBounces,
		TotalErrors:        record.TotalErrors,
		WarmupStage:        record.WarmupStage,
		DailyCount:         record.DailyCount,
		LastSentDate:       record.LastSentDate,
		InboxPlacementRate: record.InboxPlacementRate(),
		TestSendCount:      len(record.TestSends),
		HistoryLength:      len(record.History),
	}
}
