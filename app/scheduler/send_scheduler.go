package scheduler

import (
	"context"
	"io"
	"log"
	"os"
	"time"

	"github.com/coldflowhq/coldflow/app/services"
	"github.com/coldflowhq/coldflow/config"
	"github.com/coldflowhq/coldflow/models"
	"github.com/coldflowhq/coldflow/repository"
	"github.com/coldflowhq/coldflow/utils"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ReputationRecorder is the minimal reputation surface the schedulers need.
// This keeps the scheduler independent and easy to test.
type ReputationRecorder interface {
	RecordEvent(ctx context.Context, identityID string, eventType models.ReputationEventType, metadata map[string]string) *models.SenderReputation
}

// CampaignOutcomeStore is the campaign surface the claim loop writes job
// outcomes back through.
type CampaignOutcomeStore interface {
	ByID(ctx context.Context, id uint) (*models.Campaign, error)
	AppendResults(ctx context.Context, campaignID uint, results []models.SendResult) error
	UpdateStatus(ctx context.Context, campaignID uint, status models.CampaignStatus, statusError *string) error
}

// SendScheduler periodically claims due send jobs and dispatches them through
// the throttle and transport. Multiple processes may run this loop
// concurrently; claim exclusivity is enforced by the job store.
type SendScheduler struct {
	jobRepo    repository.SendJobRepository
	campaigns  CampaignOutcomeStore
	reputation ReputationRecorder
	emailer    services.EmailService
	throttle   *Throttle
	logger     *log.Logger
	cfg        config.SchedulerConfig
}

func NewSendScheduler(
	jobRepo repository.SendJobRepository,
	campaigns CampaignOutcomeStore,
	reputation ReputationRecorder,
	emailer services.EmailService,
	throttle *Throttle,
	cfg config.SchedulerConfig,
	logCfg config.LoggingConfig,
) *SendScheduler {
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = time.Minute
	}
	if cfg.ClaimBatchSize <= 0 {
		cfg.ClaimBatchSize = 100
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 2 * time.Minute
	}

	return &SendScheduler{
		jobRepo:    jobRepo,
		campaigns:  campaigns,
		reputation: reputation,
		emailer:    emailer,
		throttle:   throttle,
		logger:     newSchedulerLogger(logCfg),
		cfg:        cfg,
	}
}

// newSchedulerLogger writes to stdout and a size-rotated persistent file
func newSchedulerLogger(cfg config.LoggingConfig) *log.Logger {
	var w io.Writer = os.Stdout
	if cfg.SchedulerPath != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.SchedulerPath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w = io.MultiWriter(os.Stdout, rotated)
	}
	return log.New(w, "scheduler ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
}

// Start launches the claim loop in a background goroutine and returns a stop function
func (s *SendScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(s.cfg.ClaimInterval)
		defer ticker.Stop()

		s.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	return cancel
}

func (s *SendScheduler) runOnce(ctx context.Context) {
	now := utils.UTCNow()
	jobs, err := s.jobRepo.ClaimDue(ctx, now, s.cfg.ClaimBatchSize)
	if err != nil {
		s.logger.Printf("scheduler: claim due jobs failed: %v", err)
		return
	}
	if len(jobs) == 0 {
		return
	}
	jobsClaimedTotal.Add(float64(len(jobs)))
	s.logger.Printf("scheduler: claimed %d due jobs", len(jobs))

	// Jobs are dispatched serially in scheduled order so the throttle's
	// pacing applies between every pair of sends.
	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		s.processJob(ctx, job)
	}
}

func (s *SendScheduler) processJob(ctx context.Context, job *models.SendJob) {
	if err := s.throttle.BeforeSend(ctx); err != nil {
		s.logger.Printf("scheduler: job %s abandoned before send: %v", job.UUID, err)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	outcome, err := s.emailer.Send(sendCtx, &services.EmailMessage{
		IdentityID:  job.IdentityID,
		Recipients:  job.Recipients,
		Subject:     job.Subject,
		Body:        job.Body,
		Attachments: job.Attachments,
	})
	cancel()

	now := utils.UTCNow()
	messageID := ""
	if err != nil {
		// Terminal: failed jobs are not rescheduled automatically.
		if mErr := s.jobRepo.MarkFailed(ctx, job.ID, err.Error(), now); mErr != nil {
			s.logger.Printf("scheduler: mark job %s failed errored: %v", job.UUID, mErr)
		}
		s.reputation.RecordEvent(ctx, job.IdentityID, models.ReputationEventError, map[string]string{
			"job_uuid": job.UUID.String(),
			"error":    err.Error(),
		})
		jobSendsTotal.WithLabelValues("error").Inc()
		s.logger.Printf("scheduler: job %s delivery failed: %v", job.UUID, err)
	} else {
		messageID = outcome.MessageID
		if mErr := s.jobRepo.MarkSent(ctx, job.ID, now); mErr != nil {
			s.logger.Printf("scheduler: mark job %s sent errored: %v", job.UUID, mErr)
		}
		s.reputation.RecordEvent(ctx, job.IdentityID, models.ReputationEventSent, map[string]string{
			"job_uuid":   job.UUID.String(),
			"message_id": outcome.MessageID,
		})
		jobSendsTotal.WithLabelValues("sent").Inc()
		s.logger.Printf("scheduler: job %s sent, message id %s", job.UUID, outcome.MessageID)
	}

	if job.CampaignID != nil {
		s.recordCampaignOutcome(ctx, job, messageID, err, now)
	}

	if err := s.throttle.AfterSend(ctx); err != nil {
		s.logger.Printf("scheduler: pacing interrupted: %v", err)
	}
}

// recordCampaignOutcome appends the job's per-recipient results to its owning
// campaign and advances the campaign status: scheduled campaigns move to
// sending on the first outcome, and once the last open job is terminal the
// campaign completes, or fails when not a single recipient was delivered.
func (s *SendScheduler) recordCampaignOutcome(ctx context.Context, job *models.SendJob, messageID string, sendErr error, at time.Time) {
	campaignID := *job.CampaignID

	results := make([]models.SendResult, 0, len(job.Recipients))
	for _, rcpt := range job.Recipients {
		result := models.SendResult{
			Recipient:  rcpt,
			IdentityID: job.IdentityID,
		}
		if sendErr != nil {
			result.Error = sendErr.Error()
		} else {
			result.Success = true
			result.MessageID = messageID
			result.SentAt = utils.ToPtr(at)
		}
		results = append(results, result)
	}
	if err := s.campaigns.AppendResults(ctx, campaignID, results); err != nil {
		s.logger.Printf("scheduler: append results for campaign %d failed: %v", campaignID, err)
	}

	campaign, err := s.campaigns.ByID(ctx, campaignID)
	if err != nil || campaign == nil {
		s.logger.Printf("scheduler: load campaign %d failed: %v", campaignID, err)
		return
	}

	if campaign.Status == models.CampaignStatusScheduled {
		if err := s.campaigns.UpdateStatus(ctx, campaignID, models.CampaignStatusSending, nil); err != nil {
			s.logger.Printf("scheduler: mark campaign %d sending failed: %v", campaignID, err)
			return
		}
	}

	open, err := s.jobRepo.CountOpenByCampaign(ctx, campaignID)
	if err != nil {
		s.logger.Printf("scheduler: count open jobs for campaign %d failed: %v", campaignID, err)
		return
	}
	if open > 0 {
		return
	}

	anySent := sendErr == nil
	for _, r := range campaign.Results {
		if r.Success {
			anySent = true
			break
		}
	}
	if anySent {
		if err := s.campaigns.UpdateStatus(ctx, campaignID, models.CampaignStatusCompleted, nil); err != nil {
			s.logger.Printf("scheduler: complete campaign %d failed: %v", campaignID, err)
		}
		return
	}
	detail := "all send jobs failed"
	if err := s.campaigns.UpdateStatus(ctx, campaignID, models.CampaignStatusFailed, &detail); err != nil {
		s.logger.Printf("scheduler: fail campaign %d failed: %v", campaignID, err)
	}
}
