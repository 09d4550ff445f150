package service

import (
	"context"

	"github.com/sanskari27/whatsapp-api-sub003/internal/models"
	"github.com/sanskari27/whatsapp-api-sub003/internal/session"
)

// BreakerSender routes outbound sends through the circuit breaker so a
// flapping upstream connection sheds load instead of burning every
// request's retry budget.
type BreakerSender struct {
	manager *session.Manager
	breaker *CircuitBreaker
}

func NewBreakerSender(manager *session.Manager, breaker *CircuitBreaker) *BreakerSender {
	return &BreakerSender{
		manager: manager,
		breaker: breaker,
	}
}

func (s *BreakerSender) Send(ctx context.Context, clientID, recipient string, payload models.SendPayload) error {
	var sendErr error
	err := s.breaker.Execute(ctx, func() error {
		sendErr = s.manager.Send(ctx, clientID, recipient, payload)
		return sendErr
	})
	// Preserve the underlying sentinel so callers can tell permanent
	// failures from breaker rejections.
	if sendErr != nil {
		return sendErr
	}
	return err
}

func (s *BreakerSender) ListContacts(ctx context.Context, clientID string, savedOnly bool) ([]models.Contact, error) {
	return s.manager.ListContacts(ctx, clientID, savedOnly)
}

func (s *BreakerSender) Status(clientID string) models.SessionStatus {
	return s.manager.Status(clientID)
}
