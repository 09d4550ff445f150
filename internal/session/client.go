// Package session owns the lifecycle of one messaging session per tenant:
// creation, the QR/auth handshake, ready/closed transitions and teardown,
// multiplexing many tenants inside one process.
package session

import (
	"context"

	"github.com/sanskari27/whatsapp-api-sub003/internal/models"
)

// Client is the underlying messaging connection for a single tenant. The
// production implementation wraps whatsmeow; tests inject fakes.
type Client interface {
	// Connect starts the connection and, for unauthenticated devices, the
	// QR handshake. Lifecycle progress is reported through the Handler the
	// client was constructed with.
	Connect(ctx context.Context) error

	// Send delivers one message bundle to a recipient. Only valid while the
	// session is ready.
	Send(ctx context.Context, recipient string, payload models.SendPayload) error

	// ListContacts exports the session's contacts. savedOnly restricts the
	// export to address-book entries.
	ListContacts(ctx context.Context, savedOnly bool) ([]models.Contact, error)

	// Logout unlinks the device and discards persisted auth material.
	Logout(ctx context.Context) error

	// Close releases the connection without unlinking the device.
	Close() error
}

// Handler receives lifecycle callbacks from a Client. Callbacks may fire
// from the client's own goroutines; implementations must not block.
type Handler interface {
	QRGenerated(code string)
	Authenticated()
	Ready()
	Closed(reason string)
}

// ClientFactory allocates a Client bound to a tenant. Creation fails when
// the underlying resource pool cannot host another client.
type ClientFactory interface {
	NewClient(clientID string, handler Handler) (Client, error)
}

// ExistingSessionLister is optionally implemented by factories that can
// enumerate tenants with persisted auth material, enabling restart replay.
type ExistingSessionLister interface {
	ListExisting() ([]string, error)
}
