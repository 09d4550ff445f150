// Package models defines data structures used throughout the application.
package models

import "time"

// SessionStatus is the lifecycle state of a tenant's messaging session.
type SessionStatus string

const (
	SessionStatusUninitialized SessionStatus = "UNINITIALIZED"
	SessionStatusAwaitingAuth  SessionStatus = "AWAITING_AUTH"
	SessionStatusReady         SessionStatus = "READY"
	SessionStatusClosed        SessionStatus = "CLOSED"
)

// Session represents one tenant's messaging identity. At most one active
// session exists per client id; CLOSED is terminal for the object, but a
// fresh session may be created for the same tenant afterward.
type Session struct {
	ClientID    string        `json:"client_id"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	CloseReason string        `json:"close_reason,omitempty"`
}

// Session lifecycle event names surfaced to collaborators (UI sockets poll
// these through the event bus).
const (
	EventInitialize    = "initialize"
	EventInitialized   = "initialized"
	EventQRGenerated   = "qr-generated"
	EventAuthenticated = "whatsapp-authenticated"
	EventReady         = "whatsapp-ready"
	EventClosed        = "whatsapp-closed"
)

// SessionEvent is one lifecycle transition of a tenant's session.
type SessionEvent struct {
	ClientID string    `json:"client_id"`
	Name     string    `json:"name"`
	Data     string    `json:"data,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}
