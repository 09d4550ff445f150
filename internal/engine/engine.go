// Package engine implements the schedule engine: it turns a campaign
// definition into a time-gated sequence of per-recipient sends, drives them
// through the tenant's session and records every outcome.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sanskari27/whatsapp-api-sub003/internal/models"
	"github.com/sanskari27/whatsapp-api-sub003/internal/repository"
	"github.com/sanskari27/whatsapp-api-sub003/internal/store"
	"github.com/sanskari27/whatsapp-api-sub003/internal/timewindow"
)

// Sender is the slice of the session manager the engine depends on.
type Sender interface {
	Send(ctx context.Context, clientID, recipient string, payload models.SendPayload) error
	ListContacts(ctx context.Context, clientID string, savedOnly bool) ([]models.Contact, error)
	Status(clientID string) models.SessionStatus
}

// Options bound the dispatch and retry behavior.
type Options struct {
	BatchSize   int
	MaxAttempts int
	BackoffBase time.Duration
	MaxInterval time.Duration
	SendTimeout time.Duration
}

// Engine owns campaign progression and send-result creation. It reads
// session state through the Sender accessor and never mutates it.
type Engine struct {
	repo     repository.Repository
	sender   Sender
	sessions store.SessionStore
	logger   *zap.Logger
	opts     Options

	now func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates an engine. now and rng are injectable for tests; pass nil to
// use wall clock and a time-seeded source.
func New(repo repository.Repository, sender Sender, sessions store.SessionStore, opts Options, logger *zap.Logger) *Engine {
	return &Engine{
		repo:     repo,
		sender:   sender,
		sessions: sessions,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithClock overrides the engine's clock and random source. Test hook.
func (e *Engine) WithClock(now func() time.Time, rng *rand.Rand) *Engine {
	e.now = now
	e.rng = rng
	return e
}

// stepKey is the idempotency key for one recipient/step of a campaign.
// Crash-and-resubmit cannot double-send a step because the queue upserts
// on (client_id, key).
func stepKey(campaignID, recipient string, stepIndex int) string {
	return fmt.Sprintf("%s:%s:%d", campaignID, recipient, stepIndex)
}

// Submit validates a campaign and enqueues the first step for every
// recipient. Validation failures leave no side effects.
func (e *Engine) Submit(input models.CampaignInput) (*models.Campaign, error) {
	window, err := e.validate(&input)
	if err != nil {
		return nil, err
	}

	campaign := &models.Campaign{
		ID:       uuid.New().String(),
		ClientID: input.ClientID,
		Name:     input.Name,
		Input:    input,
		Status:   models.CampaignStatusActive,
	}
	if err := e.repo.Campaign().Create(campaign); err != nil {
		return nil, err
	}

	now := e.now()
	for _, recipient := range input.Recipients {
		payload := models.SendPayload{
			CampaignID:   campaign.ID,
			Recipient:    recipient,
			StepIndex:    0,
			Message:      input.Message,
			Attachments:  input.Attachments,
			ContactCards: input.ContactCards,
			Polls:        input.Polls,
		}
		scheduledAt := e.jitteredInstant(window, now, input.MinDelay, input.MaxDelay)
		if err := e.enqueueStep(input.ClientID, payload, scheduledAt); err != nil {
			return nil, err
		}
	}

	e.logger.Info("Campaign submitted",
		zap.String("campaign_id", campaign.ID),
		zap.String("client_id", input.ClientID),
		zap.Int("recipients", len(input.Recipients)),
		zap.Int("steps", input.StepCount()))

	return campaign, nil
}

// Cancel marks every not-yet-dispatched step of the campaign as SKIPPED.
// Already-sent steps are untouched.
func (e *Engine) Cancel(campaignID string) error {
	campaign, err := e.repo.Campaign().GetByID(campaignID)
	if err != nil {
		return err
	}
	if campaign.Status == models.CampaignStatusCancelled {
		return nil
	}

	if err := e.repo.Campaign().UpdateStatus(campaignID, models.CampaignStatusCancelled); err != nil {
		return err
	}

	pending, err := e.repo.PendingRequest().ListPendingByKeyPrefix(campaign.ClientID, campaignID+":")
	if err != nil {
		return err
	}

	for _, req := range pending {
		var payload models.SendPayload
		if err := json.Unmarshal(req.Data, &payload); err != nil {
			e.logger.Warn("Skipping malformed pending payload on cancel",
				zap.String("key", req.Key),
				zap.Error(err))
			continue
		}

		e.recordResult(&models.SendResult{
			ClientID:    campaign.ClientID,
			CampaignID:  campaignID,
			Recipient:   payload.Recipient,
			StepIndex:   payload.StepIndex,
			Status:      models.SendStatusSkipped,
			ErrorReason: nullString(models.ReasonCampaignCancelled),
		})
		e.finalizeFailed(campaign.ClientID, req.Key, "campaign cancelled", models.ReasonCampaignCancelled)
	}

	e.logger.Info("Campaign cancelled",
		zap.String("campaign_id", campaignID),
		zap.Int("skipped", len(pending)))
	return nil
}

// Report aggregates per-recipient, per-step outcomes for the campaign
// owner.
func (e *Engine) Report(campaignID string) (*models.CampaignReport, error) {
	campaign, err := e.repo.Campaign().GetByID(campaignID)
	if err != nil {
		return nil, err
	}

	results, err := e.repo.SendResult().ListByCampaign(campaignID)
	if err != nil {
		return nil, err
	}

	pending, err := e.repo.PendingRequest().ListPendingByKeyPrefix(campaign.ClientID, campaignID+":")
	if err != nil {
		return nil, err
	}

	report := &models.CampaignReport{
		CampaignID: campaignID,
		Status:     campaign.Status,
		Pending:    len(pending),
		Results:    results,
	}
	for _, r := range results {
		switch r.Status {
		case models.SendStatusSent:
			report.Sent++
		case models.SendStatusFailed:
			report.Failed++
		case models.SendStatusSkipped:
			report.Skipped++
		}
	}
	return report, nil
}

// FailPendingForClient finalizes all of a tenant's outstanding work, used
// when the tenant's session is lost so nothing hangs PENDING forever.
func (e *Engine) FailPendingForClient(clientID, reason string) {
	pending, err := e.repo.PendingRequest().ListPending(clientID, nil)
	if err != nil {
		e.logger.Error("Failed to list pending work for lost session",
			zap.String("client_id", clientID),
			zap.Error(err))
		return
	}

	for _, req := range pending {
		if req.Type != models.RequestTypeSendMessage {
			continue
		}
		var payload models.SendPayload
		if err := json.Unmarshal(req.Data, &payload); err != nil {
			continue
		}
		e.recordResult(&models.SendResult{
			ClientID:    clientID,
			CampaignID:  payload.CampaignID,
			Recipient:   payload.Recipient,
			StepIndex:   payload.StepIndex,
			Status:      models.SendStatusFailed,
			ErrorReason: nullString(reason),
		})
	}

	failed, err := e.repo.PendingRequest().FailAllPending(clientID, "session lost", reason)
	if err != nil {
		e.logger.Error("Failed to fail pending work for lost session",
			zap.String("client_id", clientID),
			zap.Error(err))
		return
	}
	if failed > 0 {
		e.logger.Info("Failed pending work for lost session",
			zap.String("client_id", clientID),
			zap.String("reason", reason),
			zap.Int64("count", failed))
	}
}

func (e *Engine) validate(input *models.CampaignInput) (timewindow.Window, error) {
	if input.ClientID == "" {
		return timewindow.Window{}, fmt.Errorf("%w: client_id is required", models.ErrInvalidCampaign)
	}
	if !input.HasContent() {
		return timewindow.Window{}, fmt.Errorf("%w: message, attachments, contact cards or polls required", models.ErrInvalidCampaign)
	}
	if len(input.Recipients) == 0 {
		return timewindow.Window{}, fmt.Errorf("%w: at least one recipient required", models.ErrInvalidCampaign)
	}

	window, err := timewindow.Parse(input.StartFrom, input.EndAt)
	if err != nil {
		return timewindow.Window{}, fmt.Errorf("%w: %v", models.ErrInvalidCampaign, err)
	}

	for i, step := range input.Nurturing {
		if step.After < 0 {
			return timewindow.Window{}, fmt.Errorf("%w: nurturing step %d has negative delay", models.ErrInvalidCampaign, i)
		}
		hasContent := step.Message != "" || len(step.Attachments) > 0 || len(step.ContactCards) > 0 || len(step.Polls) > 0
		if !hasContent {
			return timewindow.Window{}, fmt.Errorf("%w: nurturing step %d is empty", models.ErrInvalidCampaign, i)
		}
		if _, err := timewindow.Parse(step.StartFrom, step.EndAt); err != nil {
			return timewindow.Window{}, fmt.Errorf("%w: nurturing step %d: %v", models.ErrInvalidCampaign, i, err)
		}
	}

	return window, nil
}

// jitteredInstant picks the recipient's send instant: a uniform sample of
// the window keeps the spread approximately even across recipients, plus
// an optional extra delay in [min,max] seconds, re-clamped to the window.
func (e *Engine) jitteredInstant(window timewindow.Window, now time.Time, minDelay, maxDelay int) time.Time {
	e.rngMu.Lock()
	instant := window.NextSendInstant(now, e.rng)
	if maxDelay > minDelay {
		extra := minDelay + e.rng.Intn(maxDelay-minDelay+1)
		instant = instant.Add(time.Duration(extra) * time.Second)
	} else if minDelay > 0 {
		instant = instant.Add(time.Duration(minDelay) * time.Second)
	}
	e.rngMu.Unlock()

	return window.ClampToWindow(instant)
}

func (e *Engine) enqueueStep(clientID string, payload models.SendPayload, scheduledAt time.Time) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode send payload: %w", err)
	}

	key := stepKey(payload.CampaignID, payload.Recipient, payload.StepIndex)
	if _, err := e.repo.PendingRequest().Enqueue(clientID, key, models.RequestTypeSendMessage, data, scheduledAt); err != nil {
		return err
	}
	return nil
}

func (e *Engine) recordResult(result *models.SendResult) {
	if err := e.repo.SendResult().Create(result); err != nil {
		e.logger.Error("Failed to record send result",
			zap.String("campaign_id", result.CampaignID),
			zap.String("recipient", result.Recipient),
			zap.Error(err))
	}
}

func (e *Engine) finalizeFailed(clientID, key, errMsg, reason string) {
	if err := e.repo.PendingRequest().MarkFailed(clientID, key, errMsg, reason); err != nil {
		e.logger.Warn("Failed to finalize pending request",
			zap.String("client_id", clientID),
			zap.String("key", key),
			zap.Error(err))
	}
}
