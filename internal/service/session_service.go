package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sanskari27/whatsapp-api-sub003/internal/engine"
	"github.com/sanskari27/whatsapp-api-sub003/internal/models"
	"github.com/sanskari27/whatsapp-api-sub003/internal/repository"
	"github.com/sanskari27/whatsapp-api-sub003/internal/session"
	"github.com/sanskari27/whatsapp-api-sub003/internal/store"
)

const qrStoreKey = "qr"

type sessionService struct {
	manager *session.Manager
	store   store.SessionStore
	engine  *engine.Engine
	repo    repository.Repository
	kicker  Kicker
	logger  *zap.Logger

	unsubscribe func()
	watchDone   chan struct{}
}

// NewSessionService wires session lifecycle operations and starts the event
// watcher that reacts to lifecycle transitions: QR codes are cached in the
// per-tenant store and a closed session finalizes the tenant's queued work.
func NewSessionService(
	manager *session.Manager,
	sessionStore store.SessionStore,
	eng *engine.Engine,
	repo repository.Repository,
	kicker Kicker,
	logger *zap.Logger,
) SessionService {
	svc := &sessionService{
		manager:   manager,
		store:     sessionStore,
		engine:    eng,
		repo:      repo,
		kicker:    kicker,
		logger:    logger,
		watchDone: make(chan struct{}),
	}

	events, cancel := manager.Subscribe()
	svc.unsubscribe = cancel
	go svc.watch(events)

	return svc
}

func (s *sessionService) Create(ctx context.Context, clientID string) (*models.Session, error) {
	return s.manager.Create(ctx, clientID)
}

func (s *sessionService) Get(clientID string) (*models.Session, error) {
	return s.manager.Get(clientID)
}

func (s *sessionService) Logout(ctx context.Context, clientID string) error {
	return s.manager.Logout(ctx, clientID)
}

// QR prefers the in-memory code and falls back to the store, which survives
// handler restarts and serves replicas that do not own the session.
func (s *sessionService) QR(ctx context.Context, clientID string) (string, error) {
	if code, err := s.manager.LastQR(clientID); err == nil {
		return code, nil
	}
	return s.store.GetString(ctx, clientID, qrStoreKey)
}

func (s *sessionService) ForceReclaim() int {
	return s.manager.ForceReclaim()
}

// RequestContacts queues a contact export for the tenant and returns the
// key the caller polls the snapshot under. The export runs through the same
// durable queue as sends, so it survives restarts and waits for READY.
func (s *sessionService) RequestContacts(clientID string, savedOnly bool) (string, error) {
	typ := models.RequestTypeNonSavedContacts
	if savedOnly {
		typ = models.RequestTypeSavedContacts
	}

	key := "export:" + uuid.New().String()
	data, err := json.Marshal(map[string]string{"requested_by": clientID})
	if err != nil {
		return "", err
	}

	if _, err := s.repo.PendingRequest().Enqueue(clientID, key, typ, data, time.Now()); err != nil {
		return "", err
	}

	s.kicker.Kick()
	return key, nil
}

func (s *sessionService) GetContacts(ctx context.Context, clientID, key string) ([]models.Contact, error) {
	var contacts []models.Contact
	if err := s.store.GetObject(ctx, clientID, "contacts:"+key, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

// Close stops the event watcher.
func (s *sessionService) Close() {
	s.unsubscribe()
	<-s.watchDone
}

func (s *sessionService) watch(events <-chan models.SessionEvent) {
	defer close(s.watchDone)

	for event := range events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		switch event.Name {
		case models.EventQRGenerated:
			if err := s.store.SetString(ctx, event.ClientID, qrStoreKey, event.Data); err != nil {
				s.logger.Warn("Failed to cache QR code",
					zap.String("client_id", event.ClientID),
					zap.Error(err))
			}
		case models.EventReady:
			if err := s.store.Delete(ctx, event.ClientID, qrStoreKey); err != nil {
				s.logger.Warn("Failed to clear cached QR code",
					zap.String("client_id", event.ClientID),
					zap.Error(err))
			}
			// Work queued while the session authenticated is now sendable.
			s.kicker.Kick()
		case models.EventClosed:
			if err := s.store.Delete(ctx, event.ClientID, qrStoreKey); err != nil {
				s.logger.Warn("Failed to clear cached QR code",
					zap.String("client_id", event.ClientID),
					zap.Error(err))
			}
			s.engine.FailPendingForClient(event.ClientID, models.ReasonSessionLost)
		}

		cancel()
	}
}
