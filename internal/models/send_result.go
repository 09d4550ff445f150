package models

import (
	"database/sql"
	"time"
)

// SendResultStatus is the terminal outcome of one per-recipient, per-step
// send attempt.
type SendResultStatus string

const (
	SendStatusSent    SendResultStatus = "SENT"
	SendStatusFailed  SendResultStatus = "FAILED"
	SendStatusSkipped SendResultStatus = "SKIPPED"
)

// SendResult records one recipient/step outcome. Immutable once written;
// aggregated to report campaign completion.
type SendResult struct {
	ID          int64            `db:"id" json:"id"`
	ClientID    string           `db:"client_id" json:"client_id"`
	CampaignID  string           `db:"campaign_id" json:"campaign_id"`
	Recipient   string           `db:"recipient" json:"recipient"`
	StepIndex   int              `db:"step_index" json:"step_index"`
	Status      SendResultStatus `db:"status" json:"status"`
	ErrorReason sql.NullString   `db:"error_reason" json:"error_reason,omitempty"`
	SentAt      sql.NullTime     `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}

// CampaignReport aggregates per-recipient outcomes for the campaign owner.
type CampaignReport struct {
	CampaignID string         `json:"campaign_id"`
	Status     CampaignStatus `json:"status"`
	Sent       int            `json:"sent"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	Pending    int            `json:"pending"`
	Results    []SendResult   `json:"results"`
}
