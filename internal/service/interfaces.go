package service

import (
	"context"

	"github.com/sanskari27/whatsapp-api-sub003/internal/models"
)

type CampaignService interface {
	Submit(input models.CampaignInput) (*models.Campaign, error)
	Cancel(campaignID string) error
	Report(campaignID string) (*models.CampaignReport, error)
}

type SessionService interface {
	Create(ctx context.Context, clientID string) (*models.Session, error)
	Get(clientID string) (*models.Session, error)
	Logout(ctx context.Context, clientID string) error
	QR(ctx context.Context, clientID string) (string, error)
	ForceReclaim() int
	RequestContacts(clientID string, savedOnly bool) (string, error)
	GetContacts(ctx context.Context, clientID, key string) ([]models.Contact, error)
	Close()
}

type DispatcherService interface {
	Start() error
	Stop() error
	IsRunning() bool
}

type HealthService interface {
	GetHealth() *HealthStatus
}
