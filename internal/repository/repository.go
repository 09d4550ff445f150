// Package repository provides Postgres-backed persistence for campaigns,
// the pending-request work queue and per-step send results.
package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// repositoryImpl is the concrete implementation of Repository interface.
type repositoryImpl struct {
	db             *sqlx.DB
	pendingRequest PendingRequestRepository
	sendResult     SendResultRepository
	campaign       CampaignRepository
}

// NewRepository creates a new repository instance.
func NewRepository(db *sqlx.DB) Repository {
	return &repositoryImpl{
		db:             db,
		pendingRequest: NewPendingRequestRepository(db),
		sendResult:     NewSendResultRepository(db),
		campaign:       NewCampaignRepository(db),
	}
}

// PendingRequest returns the work-queue repository.
func (r *repositoryImpl) PendingRequest() PendingRequestRepository {
	return r.pendingRequest
}

// SendResult returns the send-result repository.
func (r *repositoryImpl) SendResult() SendResultRepository {
	return r.sendResult
}

// Campaign returns the campaign repository.
func (r *repositoryImpl) Campaign() CampaignRepository {
	return r.campaign
}

// Ping checks if the database connection is healthy.
func (r *repositoryImpl) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return r.db.PingContext(ctx)
}
