package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sanskari27/whatsapp-api-sub003/internal/repository"
	"github.com/sanskari27/whatsapp-api-sub003/internal/session"
	"github.com/sanskari27/whatsapp-api-sub003/internal/store"
)

type healthService struct {
	repo         repository.Repository
	sessionStore store.SessionStore
	dispatcher   DispatcherService
	manager      *session.Manager
	breaker      *CircuitBreaker
}

func NewHealthService(
	repo repository.Repository,
	sessionStore store.SessionStore,
	dispatcher DispatcherService,
	manager *session.Manager,
	breaker *CircuitBreaker,
) HealthService {
	return &healthService{
		repo:         repo,
		sessionStore: sessionStore,
		dispatcher:   dispatcher,
		manager:      manager,
		breaker:      breaker,
	}
}

func (s *healthService) GetHealth() *HealthStatus {
	status := &HealthStatus{
		Status: Healthy,
	}

	if s.dispatcher.IsRunning() {
		status.DispatcherStatus = DispatcherRunning
	} else {
		status.DispatcherStatus = DispatcherStopped
	}

	status.DatabaseStatus = s.checkDatabaseHealth()
	status.StoreStatus = s.checkStoreHealth()
	status.ActiveSessions, status.ReadySessions = s.manager.Counts()

	state := s.breaker.GetState()
	requests, failures := s.breaker.GetCounts()
	status.CircuitBreakerState = state
	if requests > 0 {
		failureRate := float64(failures) / float64(requests) * 100
		status.CircuitBreakerStatus = fmt.Sprintf("Requests: %d, Failures: %d (%.1f%%)", requests, failures, failureRate)
	} else {
		status.CircuitBreakerStatus = "No requests yet"
	}

	// Determine overall health
	if status.DatabaseStatus != ComponentConnected || status.StoreStatus != ComponentConnected {
		status.Status = Unhealthy
	}

	// An open breaker means sends are being shed but the service is up.
	if status.Status == Healthy && state == BreakerOpen {
		status.Status = Degraded
	}

	return status
}

func (s *healthService) checkDatabaseHealth() ComponentStatus {
	if err := s.repo.Ping(); err != nil {
		return ComponentDisconnected
	}
	return ComponentConnected
}

func (s *healthService) checkStoreHealth() ComponentStatus {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.sessionStore.Ping(ctx); err != nil {
		return ComponentDisconnected
	}
	return ComponentConnected
}
