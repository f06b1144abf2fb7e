package scheduler

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/coldflowhq/coldflow/app/services"
	"github.com/coldflowhq/coldflow/config"
	"github.com/coldflowhq/coldflow/models"
	"github.com/coldflowhq/coldflow/utils"
)

// FollowUpCampaignStore is the minimal campaign surface the worker needs
type FollowUpCampaignStore interface {
	ListDueFollowUps(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error)
	ByID(ctx context.Context, id uint) (*models.Campaign, error)
	MarkFollowUpSent(ctx context.Context, campaignID uint, at time.Time) error
	MarkFollowUpFailed(ctx context.Context, campaignID uint, errDetail string) error
}

// FollowUpWorker scans for due campaign follow-ups and dispatches them one at
// a time with wide randomized spacing. The pending queue is in-memory only; a
// restart rebuilds it from persisted campaign state on the first scan.
type FollowUpWorker struct {
	store      FollowUpCampaignStore
	emailer    services.EmailService
	reputation ReputationRecorder
	logger     *log.Logger
	cfg        config.FollowUpConfig

	mu     sync.Mutex
	queued map[uint]bool
	queue  []uint
	wake   chan struct{}
}

func NewFollowUpWorker(
	store FollowUpCampaignStore,
	emailer services.EmailService,
	reputation ReputationRecorder,
	cfg config.FollowUpConfig,
	logger *log.Logger,
) *FollowUpWorker {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = time.Hour
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = 200
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = 5 * time.Minute
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if logger == nil {
		logger = log.Default()
	}

	return &FollowUpWorker{
		store:      store,
		emailer:    emailer,
		reputation: reputation,
		logger:     logger,
		cfg:        cfg,
		queued:     make(map[uint]bool),
		wake:       make(chan struct{}, 1),
	}
}

// Start launches the scan and dispatch loops and returns a stop function
func (w *FollowUpWorker) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(w.cfg.ScanInterval)
		defer ticker.Stop()

		w.scan(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.scan(ctx)
			}
		}
	}()

	go w.dispatchLoop(ctx)

	return cancel
}

// scan appends newly due campaigns to the dispatch queue, skipping any id
// already queued
func (w *FollowUpWorker) scan(ctx context.Context) {
	due, err := w.store.ListDueFollowUps(ctx, utils.UTCNow(), w.cfg.ScanLimit)
	if err != nil {
		w.logger.Printf("followup: due scan failed: %v", err)
		return
	}
	if len(due) == 0 {
		return
	}

	w.mu.Lock()
	added := 0
	for _, c := range due {
		if w.queued[c.ID] {
			continue
		}
		w.queued[c.ID] = true
		w.queue = append(w.queue, c.ID)
		added++
	}
	depth := len(w.queue)
	w.mu.Unlock()

	if added > 0 {
		followUpQueueDepth.Set(float64(depth))
		w.logger.Printf("followup: queued %d due campaigns (%d pending)", added, depth)
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}

// dispatchLoop drains the queue strictly serially, sleeping a uniform random
// duration between consecutive dispatch attempts. The loop is idle whenever
// the queue is empty.
func (w *FollowUpWorker) dispatchLoop(ctx context.Context) {
	for {
		campaignID, ok := w.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-w.wake:
			}
			continue
		}

		attempted := w.dispatch(ctx, campaignID)

		if attempted {
			if err := sleepCtx(ctx, w.interTaskDelay()); err != nil {
				return
			}
		}
	}
}

func (w *FollowUpWorker) pop() (uint, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return 0, false
	}
	id := w.queue[0]
	w.queue = w.queue[1:]
	delete(w.queued, id)
	followUpQueueDepth.Set(float64(len(w.queue)))
	return id, true
}

// interTaskDelay returns a uniform random duration in [MinDelay, MaxDelay]
func (w *FollowUpWorker) interTaskDelay() time.Duration {
	spread := w.cfg.MaxDelay - w.cfg.MinDelay
	if spread <= 0 {
		return w.cfg.MinDelay
	}
	return w.cfg.MinDelay + time.Duration(rand.Int63n(int64(spread)))
}

// dispatch sends one follow-up and reports whether a transport attempt was
// made. Campaigns whose follow-up is no longer pending are dropped without a
// send or a status write.
func (w *FollowUpWorker) dispatch(ctx context.Context, campaignID uint) bool {
	campaign, err := w.store.ByID(ctx, campaignID)
	if err != nil {
		w.logger.Printf("followup: load campaign %d failed: %v", campaignID, err)
		return false
	}
	// Re-check right before sending; external status changes cancel the task.
	if campaign == nil || !campaign.HasPendingFollowUp() {
		followUpsTotal.WithLabelValues("skipped").Inc()
		return false
	}

	if campaign.FollowUpContent == nil || *campaign.FollowUpContent == "" {
		if err := w.store.MarkFollowUpFailed(ctx, campaignID, "follow-up content is empty"); err != nil {
			w.logger.Printf("followup: mark campaign %d failed errored: %v", campaignID, err)
		}
		followUpsTotal.WithLabelValues("failed").Inc()
		return false
	}

	identityID := campaign.Results.FirstIdentityID()
	if identityID == "" && len(campaign.IdentityIDs) > 0 {
		identityID = campaign.IdentityIDs[0]
	}

	outcome, err := w.emailer.Send(ctx, &services.EmailMessage{
		IdentityID:   identityID,
		Recipients:   campaign.Recipients,
		Subject:      "Re: " + campaign.Subject,
		Body:         *campaign.FollowUpContent,
		ThreadingRef: campaign.Results.FirstMessageID(),
	})
	if err != nil {
		if mErr := w.store.MarkFollowUpFailed(ctx, campaignID, err.Error()); mErr != nil {
			w.logger.Printf("followup: mark campaign %d failed errored: %v", campaignID, mErr)
		}
		w.reputation.RecordEvent(ctx, identityID, models.ReputationEventError, map[string]string{
			"campaign": campaign.UUID.String(),
			"error":    err.Error(),
		})
		followUpsTotal.WithLabelValues("failed").Inc()
		w.logger.Printf("followup: campaign %d dispatch failed: %v", campaignID, err)
		return true
	}

	if mErr := w.store.MarkFollowUpSent(ctx, campaignID, outcome.SentAt); mErr != nil {
		w.logger.Printf("followup: mark campaign %d sent errored: %v", campaignID, mErr)
	}
	w.reputation.RecordEvent(ctx, identityID, models.ReputationEventSent, map[string]string{
		"campaign":   campaign.UUID.String(),
		"message_id": outcome.MessageID,
	})
	followUpsTotal.WithLabelValues("sent").Inc()
	w.logger.Printf("followup: campaign %d follow-up sent, message id %s", campaignID, outcome.MessageID)
	return true
}
