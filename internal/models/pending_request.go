package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// PendingRequestType classifies the unit of asynchronous work.
type PendingRequestType string

const (
	RequestTypeSendMessage      PendingRequestType = "SEND_MESSAGE"
	RequestTypeSavedContacts    PendingRequestType = "SAVED_CONTACTS"
	RequestTypeNonSavedContacts PendingRequestType = "NON_SAVED_CONTACTS"
)

// PendingRequestStatus moves PENDING -> {SUCCESS, FAILED}, never backward.
type PendingRequestStatus string

const (
	RequestStatusPending PendingRequestStatus = "PENDING"
	RequestStatusSuccess PendingRequestStatus = "SUCCESS"
	RequestStatusFailed  PendingRequestStatus = "FAILED"
)

// Failure reasons recorded on finalized requests.
const (
	ReasonSessionLost       = "SESSION_LOST"
	ReasonCampaignCancelled = "CAMPAIGN_CANCELLED"
	ReasonRetriesExhausted  = "RETRIES_EXHAUSTED"
	ReasonInvalidRecipient  = "INVALID_RECIPIENT"
)

// PendingRequest is a durable record of one unit of asynchronous work keyed
// uniquely by (client_id, key). Re-submission with the same key is an
// idempotent no-op. Finalized requests are retained for audit and replay.
type PendingRequest struct {
	ID            int64                `db:"id" json:"id"`
	ClientID      string               `db:"client_id" json:"client_id"`
	Key           string               `db:"key" json:"key"`
	Type          PendingRequestType   `db:"type" json:"type"`
	Data          json.RawMessage      `db:"data" json:"data"`
	Status        PendingRequestStatus `db:"status" json:"status"`
	Error         sql.NullString       `db:"error" json:"error,omitempty"`
	Reason        sql.NullString       `db:"reason" json:"reason,omitempty"`
	ScheduledAt   time.Time            `db:"scheduled_at" json:"scheduled_at"`
	Attempts      int                  `db:"attempts" json:"attempts"`
	NextAttemptAt sql.NullTime         `db:"next_attempt_at" json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time            `db:"updated_at" json:"updated_at"`
}

// SendPayload is the data blob carried by a SEND_MESSAGE pending request.
// It is self-contained so a dispatch tick never has to re-read the campaign
// definition to perform the send.
type SendPayload struct {
	CampaignID   string        `json:"campaign_id"`
	Recipient    string        `json:"recipient"`
	StepIndex    int           `json:"step_index"`
	Message      string        `json:"message,omitempty"`
	Attachments  []string      `json:"attachments,omitempty"`
	ContactCards []ContactCard `json:"shared_contact_cards,omitempty"`
	Polls        []Poll        `json:"polls,omitempty"`
}
