package repository

import (
	"encoding/json"
	"time"

	"github.com/sanskari27/whatsapp-api-sub003/internal/models"
)

// Repository interface defines all repository operations.
type Repository interface {
	// Ping checks database connectivity
	Ping() error

	// PendingRequest returns the durable work-queue repository
	PendingRequest() PendingRequestRepository

	// SendResult returns the per-step outcome repository
	SendResult() SendResultRepository

	// Campaign returns the campaign repository
	Campaign() CampaignRepository
}

// PendingRequestRepository is the durable, at-most-once work queue keyed by
// (client_id, key). Enqueue is an idempotent upsert; finalized rows are
// immutable.
type PendingRequestRepository interface {
	Enqueue(clientID, key string, typ models.PendingRequestType, data json.RawMessage, scheduledAt time.Time) (*models.PendingRequest, error)
	MarkSuccess(clientID, key string) error
	MarkFailed(clientID, key, errMsg, reason string) error
	Reschedule(clientID, key string, attempts int, nextAttemptAt time.Time) error
	ListPending(clientID string, typ *models.PendingRequestType) ([]*models.PendingRequest, error)
	ListPendingByKeyPrefix(clientID, keyPrefix string) ([]*models.PendingRequest, error)
	ListDue(now time.Time, limit int) ([]*models.PendingRequest, error)
	NextDeadline(now time.Time, excludeClients []string) (time.Time, bool, error)
	FailAllPending(clientID, errMsg, reason string) (int64, error)
}

// SendResultRepository records immutable per-recipient, per-step outcomes.
type SendResultRepository interface {
	Create(result *models.SendResult) error
	Exists(campaignID, recipient string, stepIndex int) (bool, error)
	ListByCampaign(campaignID string) ([]models.SendResult, error)
}

// CampaignRepository persists submitted campaign definitions.
type CampaignRepository interface {
	Create(campaign *models.Campaign) error
	GetByID(id string) (*models.Campaign, error)
	UpdateStatus(id string, status models.CampaignStatus) error
}
