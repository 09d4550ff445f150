package handler

import (
	"time"

	"github.com/sanskari27/whatsapp-api-sub003/internal/models"
	"github.com/sanskari27/whatsapp-api-sub003/internal/service"
)

type CampaignResponse struct {
	CampaignID string `json:"campaign_id"`
	Status     string `json:"status"`
}

type SessionResponse struct {
	ClientID    string    `json:"client_id"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	CloseReason string    `json:"close_reason,omitempty"`
}

type QRResponse struct {
	ClientID string `json:"client_id"`
	Code     string `json:"code"`
}

type ContactExportResponse struct {
	ClientID string `json:"client_id"`
	Key      string `json:"key"`
}

type ContactListResponse struct {
	ClientID string           `json:"client_id"`
	Contacts []models.Contact `json:"contacts"`
}

type ReclaimResponse struct {
	Closed int `json:"closed"`
}

type DispatcherResponse struct {
	Status string `json:"status"`
}

type HealthResponse struct {
	service.HealthStatus
	Timestamp time.Time `json:"timestamp"`
}

type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func newSessionResponse(s *models.Session) SessionResponse {
	return SessionResponse{
		ClientID:    s.ClientID,
		Status:      string(s.Status),
		CreatedAt:   s.CreatedAt,
		CloseReason: s.CloseReason,
	}
}
