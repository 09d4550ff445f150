// Package handler provides HTTP request handlers for the application.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/sanskari27/whatsapp-api-sub003/internal/middleware"
	"github.com/sanskari27/whatsapp-api-sub003/internal/models"
	"github.com/sanskari27/whatsapp-api-sub003/internal/scheduler"
	"github.com/sanskari27/whatsapp-api-sub003/internal/service"
)

const (
	errorCodeInvalidCampaign      = "INVALID_CAMPAIGN"
	errorCodeNotFound             = "NOT_FOUND"
	errorCodePoolExhausted        = "SESSION_POOL_EXHAUSTED"
	errorCodeDispatcherRunning    = "DISPATCHER_ALREADY_RUNNING"
	errorCodeDispatcherNotRunning = "DISPATCHER_NOT_RUNNING"
	errorCodeInvalidRequest       = "INVALID_REQUEST"
)

const (
	errorMessagePoolExhausted           = "Session pool is full, retry later"
	errorMessageDispatcherRunning       = "Dispatcher is already running"
	errorMessageDispatcherNotRunning    = "Dispatcher is not running"
	errorMessageFailedToStartDispatcher = "Failed to start dispatcher"
	errorMessageFailedToStopDispatcher  = "Failed to stop dispatcher"
)

type Handler struct {
	service *service.Service
	logger  *zap.Logger
}

func NewHandler(service *service.Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Routes mounts every API route on a fresh router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Post("/campaigns", h.SubmitCampaign)
		r.Delete("/campaigns/{campaignID}", h.CancelCampaign)
		r.Get("/campaigns/{campaignID}/report", h.CampaignReport)

		r.Route("/sessions/{clientID}", func(r chi.Router) {
			r.Post("/", h.CreateSession)
			r.Get("/", h.GetSession)
			r.Delete("/", h.LogoutSession)
			r.Get("/qr", h.SessionQR)
			r.Post("/contacts", h.RequestContacts)
			r.Get("/contacts/{key}", h.GetContacts)
		})

		r.Post("/admin/sessions/reclaim", h.ReclaimSessions)
		r.Post("/scheduler/start", h.StartDispatcher)
		r.Post("/scheduler/stop", h.StopDispatcher)
		r.Get("/health", h.HealthCheck)
	})

	return r
}

// SubmitCampaign validates and enqueues a campaign for dispatch.
func (h *Handler) SubmitCampaign(w http.ResponseWriter, r *http.Request) {
	var input models.CampaignInput
	if err := render.DecodeJSON(r.Body, &input); err != nil {
		h.sendError(w, r, http.StatusBadRequest, errorCodeInvalidRequest, "Malformed request body")
		return
	}

	campaign, err := h.service.Campaign.Submit(input)
	if err != nil {
		if errors.Is(err, models.ErrInvalidCampaign) {
			h.sendError(w, r, http.StatusBadRequest, errorCodeInvalidCampaign, err.Error())
			return
		}
		h.logInternalError(r, "Failed to submit campaign", err)
		h.sendError(w, r, http.StatusInternalServerError, middleware.ErrorCodeInternal, middleware.ErrorMessageInternal)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, CampaignResponse{
		CampaignID: campaign.ID,
		Status:     string(campaign.Status),
	})
}

// CancelCampaign skips all not-yet-dispatched steps of a campaign.
func (h *Handler) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	if err := h.service.Campaign.Cancel(campaignID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			h.sendError(w, r, http.StatusNotFound, errorCodeNotFound, "Campaign not found")
			return
		}
		h.logInternalError(r, "Failed to cancel campaign", err)
		h.sendError(w, r, http.StatusInternalServerError, middleware.ErrorCodeInternal, middleware.ErrorMessageInternal)
		return
	}

	render.JSON(w, r, CampaignResponse{
		CampaignID: campaignID,
		Status:     string(models.CampaignStatusCancelled),
	})
}

// CampaignReport returns per-recipient, per-step outcomes.
func (h *Handler) CampaignReport(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	report, err := h.service.Campaign.Report(campaignID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			h.sendError(w, r, http.StatusNotFound, errorCodeNotFound, "Campaign not found")
			return
		}
		h.logInternalError(r, "Failed to build campaign report", err)
		h.sendError(w, r, http.StatusInternalServerError, middleware.ErrorCodeInternal, middleware.ErrorMessageInternal)
		return
	}

	render.JSON(w, r, report)
}

// CreateSession allocates a session and starts its auth handshake. The QR
// code is delivered asynchronously via the qr endpoint.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	session, err := h.service.Session.Create(r.Context(), clientID)
	if err != nil {
		if errors.Is(err, models.ErrResourceExhausted) {
			h.sendError(w, r, http.StatusServiceUnavailable, errorCodePoolExhausted, errorMessagePoolExhausted)
			return
		}
		h.logInternalError(r, "Failed to create session", err)
		h.sendError(w, r, http.StatusInternalServerError, middleware.ErrorCodeInternal, middleware.ErrorMessageInternal)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, newSessionResponse(session))
}

// GetSession reports a session's current status.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	session, err := h.service.Session.Get(clientID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			h.sendError(w, r, http.StatusNotFound, errorCodeNotFound, "Session not found")
			return
		}
		h.logInternalError(r, "Failed to get session", err)
		h.sendError(w, r, http.StatusInternalServerError, middleware.ErrorCodeInternal, middleware.ErrorMessageInternal)
		return
	}

	render.JSON(w, r, newSessionResponse(session))
}

// LogoutSession unlinks the device and closes the session. Idempotent.
func (h *Handler) LogoutSession(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	if err := h.service.Session.Logout(r.Context(), clientID); err != nil {
		h.logInternalError(r, "Failed to logout session", err)
		h.sendError(w, r, http.StatusInternalServerError, middleware.ErrorCodeInternal, middleware.ErrorMessageInternal)
		return
	}

	render.JSON(w, r, SessionResponse{
		ClientID: clientID,
		Status:   string(models.SessionStatusClosed),
	})
}

// SessionQR returns the most recent QR code for a session awaiting auth.
func (h *Handler) SessionQR(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	code, err := h.service.Session.QR(r.Context(), clientID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			h.sendError(w, r, http.StatusNotFound, errorCodeNotFound, "No QR code available")
			return
		}
		h.logInternalError(r, "Failed to get QR code", err)
		h.sendError(w, r, http.StatusInternalServerError, middleware.ErrorCodeInternal, middleware.ErrorMessageInternal)
		return
	}

	render.JSON(w, r, QRResponse{ClientID: clientID, Code: code})
}

// RequestContacts queues a contact export; the snapshot is polled by key.
func (h *Handler) RequestContacts(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	savedOnly := r.URL.Query().Get("saved") != "false"

	key, err := h.service.Session.RequestContacts(clientID, savedOnly)
	if err != nil {
		h.logInternalError(r, "Failed to request contact export", err)
		h.sendError(w, r, http.StatusInternalServerError, middleware.ErrorCodeInternal, middleware.ErrorMessageInternal)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, ContactExportResponse{ClientID: clientID, Key: key})
}

// GetContacts returns a fulfilled contact export.
func (h *Handler) GetContacts(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	key := chi.URLParam(r, "key")

	contacts, err := h.service.Session.GetContacts(r.Context(), clientID, key)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			h.sendError(w, r, http.StatusNotFound, errorCodeNotFound, "Export not ready")
			return
		}
		h.logInternalError(r, "Failed to read contact export", err)
		h.sendError(w, r, http.StatusInternalServerError, middleware.ErrorCodeInternal, middleware.ErrorMessageInternal)
		return
	}

	render.JSON(w, r, ContactListResponse{ClientID: clientID, Contacts: contacts})
}

// ReclaimSessions closes every session and frees all pool slots.
func (h *Handler) ReclaimSessions(w http.ResponseWriter, r *http.Request) {
	closed := h.service.Session.ForceReclaim()
	render.JSON(w, r, ReclaimResponse{Closed: closed})
}

// StartDispatcher starts the dispatch loop.
func (h *Handler) StartDispatcher(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Dispatcher.Start(); err != nil {
		if errors.Is(err, scheduler.ErrSchedulerAlreadyRunning) {
			h.sendError(w, r, http.StatusConflict, errorCodeDispatcherRunning, errorMessageDispatcherRunning)
			return
		}
		h.logInternalError(r, "Failed to start dispatcher", err)
		h.sendError(w, r, http.StatusInternalServerError, middleware.ErrorCodeInternal, errorMessageFailedToStartDispatcher)
		return
	}

	render.JSON(w, r, DispatcherResponse{Status: "started"})
}

// StopDispatcher stops the dispatch loop.
func (h *Handler) StopDispatcher(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Dispatcher.Stop(); err != nil {
		if errors.Is(err, scheduler.ErrSchedulerNotRunning) {
			h.sendError(w, r, http.StatusConflict, errorCodeDispatcherNotRunning, errorMessageDispatcherNotRunning)
			return
		}
		h.logInternalError(r, "Failed to stop dispatcher", err)
		h.sendError(w, r, http.StatusInternalServerError, middleware.ErrorCodeInternal, errorMessageFailedToStopDispatcher)
		return
	}

	render.JSON(w, r, DispatcherResponse{Status: "stopped"})
}

// HealthCheck reports component health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := h.service.Health.GetHealth()

	response := HealthResponse{
		HealthStatus: *health,
		Timestamp:    time.Now(),
	}

	if health.Status == service.Unhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	render.JSON(w, r, response)
}

func (h *Handler) logInternalError(r *http.Request, msg string, err error) {
	h.logger.Error(msg,
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.Error(err))
}

func (h *Handler) sendError(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	render.Status(r, statusCode)
	render.JSON(w, r, ErrorResponse{
		Error:     errorCode,
		Message:   message,
		Timestamp: time.Now(),
	})
}
