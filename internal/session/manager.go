package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sanskari27/whatsapp-api-sub003/internal/models"
)

const eventBufferSize = 64

// Manager multiplexes per-tenant messaging sessions. It is the only writer
// of session status; everything else observes through read accessors and
// the event bus.
type Manager struct {
	factory     ClientFactory
	logger      *zap.Logger
	maxSessions int

	mu       sync.RWMutex // guards the registry map
	sessions map[string]*session

	subsMu sync.RWMutex
	subs   []chan models.SessionEvent
}

// session is one tenant's live state. Its mutex guards all fields and
// serializes sends and teardown for the tenant while other tenants proceed
// in parallel. Lock order is always registry before session.
type session struct {
	mu          sync.Mutex
	clientID    string
	status      models.SessionStatus
	createdAt   time.Time
	closeReason string
	lastQR      string
	client      Client
}

// NewManager creates a session manager with a global cap on concurrently
// active sessions.
func NewManager(factory ClientFactory, maxSessions int, logger *zap.Logger) *Manager {
	return &Manager{
		factory:     factory,
		logger:      logger,
		maxSessions: maxSessions,
		sessions:    make(map[string]*session),
	}
}

// Create allocates a session for the tenant and starts its auth handshake.
// Idempotent for tenants that already hold a live session: the existing
// snapshot is returned. Returns models.ErrResourceExhausted when the global
// cap is reached; callers queue work and retry with backoff.
func (m *Manager) Create(ctx context.Context, clientID string) (*models.Session, error) {
	m.mu.Lock()

	if s, ok := m.sessions[clientID]; ok {
		if snap := s.snapshot(); snap.Status != models.SessionStatusClosed {
			m.mu.Unlock()
			return snap, nil
		}
	}

	if m.activeCountLocked() >= m.maxSessions {
		m.mu.Unlock()
		m.logger.Warn("Session pool cap reached",
			zap.String("client_id", clientID),
			zap.Int("max_sessions", m.maxSessions))
		return nil, models.ErrResourceExhausted
	}

	s := &session{
		clientID:  clientID,
		status:    models.SessionStatusUninitialized,
		createdAt: time.Now(),
	}
	m.sessions[clientID] = s
	m.mu.Unlock()

	m.emit(models.SessionEvent{ClientID: clientID, Name: models.EventInitialize, At: time.Now()})

	client, err := m.factory.NewClient(clientID, &handler{manager: m, clientID: clientID})
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, clientID)
		m.mu.Unlock()
		m.logger.Error("Failed to allocate messaging client",
			zap.String("client_id", clientID),
			zap.Error(err))
		return nil, err
	}

	s.mu.Lock()
	s.client = client
	s.status = models.SessionStatusAwaitingAuth
	s.mu.Unlock()

	m.emit(models.SessionEvent{ClientID: clientID, Name: models.EventInitialized, At: time.Now()})

	// The handshake runs on its own context: the QR channel must outlive
	// the Create caller, whose request-scoped ctx is cancelled as soon as
	// the response is written.
	connectCtx := context.Background()
	go func() {
		if err := client.Connect(connectCtx); err != nil {
			m.logger.Error("Messaging client connect failed",
				zap.String("client_id", clientID),
				zap.Error(err))
			m.transitionClosed(clientID, "CONNECT_FAILED")
		}
	}()

	return s.snapshot(), nil
}

// Logout unlinks the tenant's device and closes the session. Idempotent:
// logging out an absent or closed session is a no-op.
func (m *Manager) Logout(ctx context.Context, clientID string) error {
	s := m.lookup(clientID)
	if s == nil {
		return nil
	}

	s.mu.Lock()
	client := s.client
	closed := s.status == models.SessionStatusClosed
	s.mu.Unlock()

	if closed {
		return nil
	}

	if client != nil {
		if err := client.Logout(ctx); err != nil {
			m.logger.Warn("Logout returned error, closing anyway",
				zap.String("client_id", clientID),
				zap.Error(err))
		}
	}

	m.transitionClosed(clientID, "LOGOUT")
	return nil
}

// ForceClose tears a session down without unlinking the device. Used by
// external triggers such as subscription expiry. Idempotent.
func (m *Manager) ForceClose(clientID, reason string) {
	m.transitionClosed(clientID, reason)
}

// ForceReclaim closes every session and frees all pool slots, returning the
// number of sessions closed.
func (m *Manager) ForceReclaim() int {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id, s := range m.sessions {
		if s.snapshot().Status != models.SessionStatusClosed {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.transitionClosed(id, "RECLAIMED")
	}

	m.logger.Info("Reclaimed sessions", zap.Int("count", len(ids)))
	return len(ids)
}

// Get returns a read-only snapshot of the tenant's session.
func (m *Manager) Get(clientID string) (*models.Session, error) {
	s := m.lookup(clientID)
	if s == nil {
		return nil, models.ErrNotFound
	}
	return s.snapshot(), nil
}

// Status returns the tenant's session status; absent tenants report
// UNINITIALIZED since a session may still be created for them.
func (m *Manager) Status(clientID string) models.SessionStatus {
	s := m.lookup(clientID)
	if s == nil {
		return models.SessionStatusUninitialized
	}
	return s.snapshot().Status
}

// LastQR returns the most recent QR code for a tenant still awaiting auth.
func (m *Manager) LastQR(clientID string) (string, error) {
	s := m.lookup(clientID)
	if s == nil {
		return "", models.ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastQR == "" {
		return "", models.ErrNotFound
	}
	return s.lastQR, nil
}

// Send routes one message bundle through the tenant's session. Sends for
// the same tenant are serialized to preserve per-session ordering; sends
// for different tenants proceed in parallel.
func (m *Manager) Send(ctx context.Context, clientID, recipient string, payload models.SendPayload) error {
	s := m.lookup(clientID)
	if s == nil {
		return models.ErrSessionLost
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case models.SessionStatusReady:
	case models.SessionStatusClosed:
		return models.ErrSessionLost
	default:
		return models.ErrSessionNotReady
	}
	if s.client == nil {
		return models.ErrSessionLost
	}

	return s.client.Send(ctx, recipient, payload)
}

// ListContacts exports contacts through the tenant's session, serialized
// with sends like any other session operation.
func (m *Manager) ListContacts(ctx context.Context, clientID string, savedOnly bool) ([]models.Contact, error) {
	s := m.lookup(clientID)
	if s == nil {
		return nil, models.ErrSessionLost
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case models.SessionStatusReady:
	case models.SessionStatusClosed:
		return nil, models.ErrSessionLost
	default:
		return nil, models.ErrSessionNotReady
	}
	if s.client == nil {
		return nil, models.ErrSessionLost
	}

	return s.client.ListContacts(ctx, savedOnly)
}

// Counts returns (active, ready) session counts for health reporting.
func (m *Manager) Counts() (active, ready int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sessions {
		switch s.snapshot().Status {
		case models.SessionStatusReady:
			ready++
			active++
		case models.SessionStatusClosed:
		default:
			active++
		}
	}
	return active, ready
}

// RestoreSessions re-creates sessions for tenants with persisted auth
// material so queued work resumes after a process restart.
func (m *Manager) RestoreSessions(ctx context.Context) int {
	lister, ok := m.factory.(ExistingSessionLister)
	if !ok {
		return 0
	}

	ids, err := lister.ListExisting()
	if err != nil {
		m.logger.Warn("Failed to list persisted sessions", zap.Error(err))
		return 0
	}

	restored := 0
	for _, id := range ids {
		if _, err := m.Create(ctx, id); err != nil {
			m.logger.Warn("Failed to restore session",
				zap.String("client_id", id),
				zap.Error(err))
			continue
		}
		restored++
	}

	if restored > 0 {
		m.logger.Info("Restored persisted sessions", zap.Int("count", restored))
	}
	return restored
}

// Subscribe registers an event channel. The returned function unsubscribes
// and closes the channel. Slow subscribers drop events rather than blocking
// session transitions.
func (m *Manager) Subscribe() (<-chan models.SessionEvent, func()) {
	ch := make(chan models.SessionEvent, eventBufferSize)

	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()

	cancel := func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		for i, sub := range m.subs {
			if sub == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

func (m *Manager) emit(event models.SessionEvent) {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()

	for _, ch := range m.subs {
		select {
		case ch <- event:
		default:
			m.logger.Warn("Dropping session event for slow subscriber",
				zap.String("client_id", event.ClientID),
				zap.String("event", event.Name))
		}
	}
}

func (m *Manager) lookup(clientID string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[clientID]
}

func (m *Manager) activeCountLocked() int {
	n := 0
	for _, s := range m.sessions {
		if s.snapshot().Status != models.SessionStatusClosed {
			n++
		}
	}
	return n
}

// transitionClosed moves a session to CLOSED exactly once, releasing the
// underlying client and emitting the closed event.
func (m *Manager) transitionClosed(clientID, reason string) {
	s := m.lookup(clientID)
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.status == models.SessionStatusClosed {
		s.mu.Unlock()
		return
	}
	s.status = models.SessionStatusClosed
	s.closeReason = reason
	s.lastQR = ""
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client != nil {
		if err := client.Close(); err != nil {
			m.logger.Warn("Error closing messaging client",
				zap.String("client_id", clientID),
				zap.Error(err))
		}
	}

	m.logger.Info("Session closed",
		zap.String("client_id", clientID),
		zap.String("reason", reason))
	m.emit(models.SessionEvent{ClientID: clientID, Name: models.EventClosed, Reason: reason, At: time.Now()})
}

func (s *session) snapshot() *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &models.Session{
		ClientID:    s.clientID,
		Status:      s.status,
		CreatedAt:   s.createdAt,
		CloseReason: s.closeReason,
	}
}

// handler adapts client callbacks into manager transitions.
type handler struct {
	manager  *Manager
	clientID string
}

func (h *handler) QRGenerated(code string) {
	m := h.manager

	if s := m.lookup(h.clientID); s != nil {
		s.mu.Lock()
		if s.status == models.SessionStatusAwaitingAuth {
			s.lastQR = code
		}
		s.mu.Unlock()
	}

	m.emit(models.SessionEvent{ClientID: h.clientID, Name: models.EventQRGenerated, Data: code, At: time.Now()})
}

func (h *handler) Authenticated() {
	h.manager.emit(models.SessionEvent{ClientID: h.clientID, Name: models.EventAuthenticated, At: time.Now()})
}

func (h *handler) Ready() {
	m := h.manager

	s := m.lookup(h.clientID)
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.status == models.SessionStatusClosed {
		s.mu.Unlock()
		return
	}
	s.status = models.SessionStatusReady
	s.lastQR = ""
	s.mu.Unlock()

	m.logger.Info("Session ready", zap.String("client_id", h.clientID))
	m.emit(models.SessionEvent{ClientID: h.clientID, Name: models.EventReady, At: time.Now()})
}

func (h *handler) Closed(reason string) {
	h.manager.transitionClosed(h.clientID, reason)
}
