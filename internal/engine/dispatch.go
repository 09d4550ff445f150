package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sanskari27/whatsapp-api-sub003/internal/models"
	"github.com/sanskari27/whatsapp-api-sub003/internal/timewindow"
)

// Tick claims due work and dispatches it: tenants run concurrently, work
// for one tenant runs serially to preserve per-session message ordering.
// It returns the instant the dispatch loop should wake next.
func (e *Engine) Tick(ctx context.Context) (time.Time, error) {
	now := e.now()

	due, err := e.repo.PendingRequest().ListDue(now, e.opts.BatchSize)
	if err != nil {
		return now.Add(e.opts.MaxInterval), fmt.Errorf("failed to claim due work: %w", err)
	}

	byTenant := make(map[string][]*models.PendingRequest)
	for _, req := range due {
		byTenant[req.ClientID] = append(byTenant[req.ClientID], req)
	}

	var waitingMu sync.Mutex
	waiting := make(map[string]struct{})

	var wg sync.WaitGroup
	for clientID, requests := range byTenant {
		wg.Add(1)
		go func(clientID string, requests []*models.PendingRequest) {
			defer wg.Done()
			defer func() {
				// One tenant's panic never takes the dispatch worker down.
				if r := recover(); r != nil {
					e.logger.Error("Recovered panic in tenant dispatch",
						zap.String("client_id", clientID),
						zap.Any("panic", r))
				}
			}()

			gated := false
			for _, req := range requests {
				select {
				case <-ctx.Done():
					return
				default:
				}
				if e.processRequest(ctx, req) {
					gated = true
				}
			}
			if gated {
				waitingMu.Lock()
				waiting[clientID] = struct{}{}
				waitingMu.Unlock()
			}
		}(clientID, requests)
	}
	wg.Wait()

	// Tenants whose due work is gated on a session that is not ready yet
	// must not pin the deadline at "now"; the ready event kicks the loop
	// for them, so at worst they wait one max interval.
	exclude := make([]string, 0, len(waiting))
	for clientID := range waiting {
		exclude = append(exclude, clientID)
	}

	deadline, ok, err := e.repo.PendingRequest().NextDeadline(e.now(), exclude)
	if err != nil || !ok {
		return e.now().Add(e.opts.MaxInterval), err
	}
	return deadline, nil
}

// processRequest handles one due row. It reports true when the row was
// left queued because the tenant's session is not ready yet.
func (e *Engine) processRequest(ctx context.Context, req *models.PendingRequest) bool {
	switch req.Type {
	case models.RequestTypeSendMessage:
		return e.processSend(ctx, req)
	case models.RequestTypeSavedContacts:
		return e.processContactExport(ctx, req, true)
	case models.RequestTypeNonSavedContacts:
		return e.processContactExport(ctx, req, false)
	default:
		e.logger.Warn("Unknown pending request type",
			zap.String("client_id", req.ClientID),
			zap.String("type", string(req.Type)))
		e.finalizeFailed(req.ClientID, req.Key, "unknown request type", "UNKNOWN_TYPE")
		return false
	}
}

func (e *Engine) processSend(ctx context.Context, req *models.PendingRequest) bool {
	var payload models.SendPayload
	if err := json.Unmarshal(req.Data, &payload); err != nil {
		e.finalizeFailed(req.ClientID, req.Key, "malformed payload: "+err.Error(), "MALFORMED_PAYLOAD")
		return false
	}

	// A recorded outcome for this step means an earlier dispatch got as
	// far as the result write but not the row finalization. The recorded
	// outcome is authoritative; the step is never sent twice.
	recorded, err := e.repo.SendResult().Exists(payload.CampaignID, payload.Recipient, payload.StepIndex)
	if err != nil {
		e.logger.Warn("Failed to check for recorded outcome",
			zap.String("key", req.Key),
			zap.Error(err))
	} else if recorded {
		e.finalizeRecordedStep(req, payload)
		return false
	}

	switch e.sender.Status(req.ClientID) {
	case models.SessionStatusReady:
	case models.SessionStatusClosed:
		e.failStep(req, payload, "session closed", models.ReasonSessionLost)
		return false
	default:
		// Session absent or still authenticating; work stays queued until
		// the session reaches READY.
		return true
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.opts.SendTimeout)
	err = e.sender.Send(sendCtx, req.ClientID, payload.Recipient, payload)
	cancel()

	if err == nil {
		sentAt := e.now()
		e.recordResult(&models.SendResult{
			ClientID:   req.ClientID,
			CampaignID: payload.CampaignID,
			Recipient:  payload.Recipient,
			StepIndex:  payload.StepIndex,
			Status:     models.SendStatusSent,
			SentAt:     sql.NullTime{Time: sentAt, Valid: true},
		})
		if markErr := e.repo.PendingRequest().MarkSuccess(req.ClientID, req.Key); markErr != nil {
			e.logger.Warn("Failed to mark request success",
				zap.String("key", req.Key),
				zap.Error(markErr))
		}
		e.scheduleNextStep(req.ClientID, payload, sentAt)
		return false
	}

	if isPermanentSendError(err) {
		reason := models.ReasonSessionLost
		if errors.Is(err, models.ErrInvalidRecipient) {
			reason = models.ReasonInvalidRecipient
		}
		e.failStep(req, payload, err.Error(), reason)
		return false
	}

	// Transient: back off exponentially until the retry budget runs out.
	attempts := req.Attempts + 1
	if attempts >= e.opts.MaxAttempts {
		e.failStep(req, payload, err.Error(), models.ReasonRetriesExhausted)
		return false
	}

	backoff := e.opts.BackoffBase * time.Duration(1<<uint(req.Attempts))
	nextAttempt := e.now().Add(backoff)
	if err := e.repo.PendingRequest().Reschedule(req.ClientID, req.Key, attempts, nextAttempt); err != nil {
		e.logger.Warn("Failed to reschedule request",
			zap.String("key", req.Key),
			zap.Error(err))
	}
	e.logger.Info("Send failed, retrying",
		zap.String("client_id", req.ClientID),
		zap.String("key", req.Key),
		zap.Int("attempt", attempts),
		zap.Duration("backoff", backoff))
	return false
}

// finalizeRecordedStep reconciles a queue row whose outcome is already
// recorded: the row is finalized to match the result, and the nurturing
// chain resumes when the step was sent.
func (e *Engine) finalizeRecordedStep(req *models.PendingRequest, payload models.SendPayload) {
	results, err := e.repo.SendResult().ListByCampaign(payload.CampaignID)
	if err != nil {
		e.logger.Warn("Failed to load recorded outcome",
			zap.String("campaign_id", payload.CampaignID),
			zap.Error(err))
		return
	}

	for _, r := range results {
		if r.Recipient != payload.Recipient || r.StepIndex != payload.StepIndex {
			continue
		}

		if r.Status == models.SendStatusSent {
			if markErr := e.repo.PendingRequest().MarkSuccess(req.ClientID, req.Key); markErr != nil {
				e.logger.Warn("Failed to mark request success",
					zap.String("key", req.Key),
					zap.Error(markErr))
			}
			sentAt := e.now()
			if r.SentAt.Valid {
				sentAt = r.SentAt.Time
			}
			e.scheduleNextStep(req.ClientID, payload, sentAt)
		} else {
			reason := r.ErrorReason.String
			if reason == "" {
				reason = string(r.Status)
			}
			e.finalizeFailed(req.ClientID, req.Key, "outcome already recorded", reason)
		}

		e.logger.Info("Reconciled step with recorded outcome",
			zap.String("client_id", req.ClientID),
			zap.String("key", req.Key),
			zap.String("status", string(r.Status)))
		return
	}
}

// scheduleNextStep enqueues the recipient's next nurturing step at
// sent_at + after, deferred to the step's own window. The idempotent queue
// key guarantees the step is enqueued exactly once.
func (e *Engine) scheduleNextStep(clientID string, payload models.SendPayload, sentAt time.Time) {
	campaign, err := e.repo.Campaign().GetByID(payload.CampaignID)
	if err != nil {
		e.logger.Warn("Failed to load campaign for nurturing",
			zap.String("campaign_id", payload.CampaignID),
			zap.Error(err))
		return
	}
	if campaign.Status == models.CampaignStatusCancelled {
		return
	}

	nextIndex := payload.StepIndex + 1
	if nextIndex > len(campaign.Input.Nurturing) {
		return
	}
	step := campaign.Input.Nurturing[nextIndex-1]

	window, err := timewindow.Parse(step.StartFrom, step.EndAt)
	if err != nil {
		e.logger.Warn("Nurturing step has invalid window",
			zap.String("campaign_id", payload.CampaignID),
			zap.Int("step", nextIndex),
			zap.Error(err))
		return
	}

	trigger := sentAt.Add(time.Duration(step.After) * time.Second)
	scheduledAt := window.ClampToWindow(trigger)

	next := models.SendPayload{
		CampaignID:   payload.CampaignID,
		Recipient:    payload.Recipient,
		StepIndex:    nextIndex,
		Message:      step.Message,
		Attachments:  step.Attachments,
		ContactCards: step.ContactCards,
		Polls:        step.Polls,
	}
	if err := e.enqueueStep(clientID, next, scheduledAt); err != nil {
		e.logger.Error("Failed to enqueue nurturing step",
			zap.String("campaign_id", payload.CampaignID),
			zap.String("recipient", payload.Recipient),
			zap.Int("step", nextIndex),
			zap.Error(err))
	}
}

// processContactExport fulfils a queued contact export once the session is
// ready, storing the snapshot in the tenant's session store. saved selects
// which half of the partition the export carries.
func (e *Engine) processContactExport(ctx context.Context, req *models.PendingRequest, saved bool) bool {
	switch e.sender.Status(req.ClientID) {
	case models.SessionStatusReady:
	case models.SessionStatusClosed:
		e.finalizeFailed(req.ClientID, req.Key, "session closed", models.ReasonSessionLost)
		return false
	default:
		return true
	}

	exportCtx, cancel := context.WithTimeout(ctx, e.opts.SendTimeout)
	contacts, err := e.sender.ListContacts(exportCtx, req.ClientID, saved)
	cancel()

	if err != nil {
		if errors.Is(err, models.ErrSessionNotReady) {
			return true
		}
		e.finalizeFailed(req.ClientID, req.Key, err.Error(), models.ReasonSessionLost)
		return false
	}

	// savedOnly=false yields the whole contact store; keep the complement
	// so the two export types partition it.
	if !saved {
		nonSaved := contacts[:0]
		for _, c := range contacts {
			if !c.Saved {
				nonSaved = append(nonSaved, c)
			}
		}
		contacts = nonSaved
	}

	if err := e.sessions.SetObject(ctx, req.ClientID, "contacts:"+req.Key, contacts); err != nil {
		// Store hiccup is transient; leave the request queued for the next tick.
		e.logger.Warn("Failed to store contact export",
			zap.String("client_id", req.ClientID),
			zap.Error(err))
		return false
	}

	if err := e.repo.PendingRequest().MarkSuccess(req.ClientID, req.Key); err != nil {
		e.logger.Warn("Failed to mark contact export success",
			zap.String("key", req.Key),
			zap.Error(err))
	}
	e.logger.Info("Contact export fulfilled",
		zap.String("client_id", req.ClientID),
		zap.String("key", req.Key),
		zap.Int("contacts", len(contacts)))
	return false
}

func (e *Engine) failStep(req *models.PendingRequest, payload models.SendPayload, errMsg, reason string) {
	e.recordResult(&models.SendResult{
		ClientID:    req.ClientID,
		CampaignID:  payload.CampaignID,
		Recipient:   payload.Recipient,
		StepIndex:   payload.StepIndex,
		Status:      models.SendStatusFailed,
		ErrorReason: nullString(reason),
	})
	e.finalizeFailed(req.ClientID, req.Key, errMsg, reason)
	e.logger.Warn("Step failed",
		zap.String("client_id", req.ClientID),
		zap.String("campaign_id", payload.CampaignID),
		zap.String("recipient", payload.Recipient),
		zap.Int("step", payload.StepIndex),
		zap.String("reason", reason))
}

func isPermanentSendError(err error) bool {
	return errors.Is(err, models.ErrSessionLost) || errors.Is(err, models.ErrInvalidRecipient)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
