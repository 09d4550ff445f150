package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/sanskari27/whatsapp-api-sub003/internal/config"
	"github.com/sanskari27/whatsapp-api-sub003/internal/engine"
	"github.com/sanskari27/whatsapp-api-sub003/internal/repository"
	"github.com/sanskari27/whatsapp-api-sub003/internal/session"
	"github.com/sanskari27/whatsapp-api-sub003/internal/store"
)

type Service struct {
	Campaign   CampaignService
	Session    SessionService
	Dispatcher DispatcherService
	Health     HealthService
}

// NewService wires the service layer. The engine sends through the circuit
// breaker; everything else talks to the manager directly.
func NewService(
	cfg *config.Config,
	repo repository.Repository,
	sessionStore store.SessionStore,
	manager *session.Manager,
	logger *zap.Logger,
) *Service {
	breaker := NewCircuitBreaker(&cfg.WhatsApp.CircuitBreaker, logger)
	sender := NewBreakerSender(manager, breaker)

	eng := engine.New(repo, sender, sessionStore, engine.Options{
		BatchSize:   cfg.Dispatcher.BatchSize,
		MaxAttempts: cfg.Dispatcher.MaxAttempts,
		BackoffBase: secondsToDuration(cfg.Dispatcher.BackoffBaseSeconds),
		MaxInterval: secondsToDuration(cfg.Dispatcher.MaxIntervalSeconds),
		SendTimeout: secondsToDuration(cfg.Dispatcher.SendTimeoutSeconds),
	}, logger)

	dispatcher := NewDispatcherService(cfg, eng, logger)
	kicker := dispatcher.(*dispatcherService)

	campaignService := NewCampaignService(eng, kicker, logger)
	sessionService := NewSessionService(manager, sessionStore, eng, repo, kicker, logger)
	healthService := NewHealthService(repo, sessionStore, dispatcher, manager, breaker)

	return &Service{
		Campaign:   campaignService,
		Session:    sessionService,
		Dispatcher: dispatcher,
		Health:     healthService,
	}
}

// Close stops background watchers. The dispatcher is stopped separately via
// Dispatcher.Stop.
func (s *Service) Close() {
	s.Session.Close()
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
