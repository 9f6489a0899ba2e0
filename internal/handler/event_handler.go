package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"eventgate/internal/model"
	"eventgate/internal/service"
	"eventgate/internal/util"
)

// EventHandler handles the PIN-gated event endpoints.
type EventHandler struct {
	pinService *service.PINSessionService
	logger     *zap.Logger
}

func NewEventHandler(pinService *service.PINSessionService, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		pinService: pinService,
		logger:     logger,
	}
}

// RegisterRoutes registers the event routes. Reads inside an event require
// a valid PIN session.
func (h *EventHandler) RegisterRoutes(router chi.Router) {
	router.Route("/events/{eventID}", func(r chi.Router) {
		r.Post("/pin/verify", h.VerifyPIN)

		r.Group(func(r chi.Router) {
			r.Use(RequirePINSession(h.pinService))
			r.Get("/", h.GetEvent)
			r.Delete("/session", h.EndSession)
		})
	})
}

// RegisterAdminRoutes registers the operator surface for events.
func (h *EventHandler) RegisterAdminRoutes(router chi.Router) {
	router.Post("/events", h.CreateEvent)
	router.Put("/events/{eventID}/pin", h.RotatePIN)
	router.Delete("/events/{eventID}", h.DeleteEvent)
}

type verifyPINRequest struct {
	PIN string `json:"pin"`
}

type sessionResponse struct {
	SessionID string    `json:"session_id"`
	EventID   string    `json:"event_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// VerifyPIN handles POST /events/{eventID}/pin/verify. A correct PIN opens a
// session returned both in the body and as a cookie.
func (h *EventHandler) VerifyPIN(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	eventID := chi.URLParam(r, "eventID")

	var req verifyPINRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}

	session, err := h.pinService.VerifyPIN(ctx, eventID, req.PIN, clientOrigin(r), r.UserAgent())
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     pinSessionCookie,
		Value:    session.SessionID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	respondWithJSON(w, http.StatusOK, successResponse(sessionResponse{
		SessionID: session.SessionID,
		EventID:   session.EventID,
		ExpiresAt: session.ExpiresAt,
	}, "session opened"))

	h.logger.Info("Event PIN verified via HTTP",
		util.String("event_id", eventID),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "VerifyPIN"),
	)
}

type eventResponse struct {
	EventID   string    `json:"event_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func toEventResponse(event *model.Event) eventResponse {
	return eventResponse{
		EventID:   event.EventID,
		Name:      event.Name,
		CreatedAt: event.CreatedAt,
	}
}

// GetEvent handles GET /events/{eventID}. The session middleware has already
// validated access.
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	eventID := chi.URLParam(r, "eventID")
	event, err := h.pinService.GetEvent(ctx, eventID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(toEventResponse(event), ""))
}

// EndSession handles DELETE /events/{eventID}/session. The middleware has
// already validated the presented session.
func (h *EventHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, ok := SessionFromContext(ctx)
	if !ok {
		respondWithJSON(w, http.StatusUnauthorized, errorResponse("invalid session"))
		return
	}

	if err := h.pinService.EndSession(ctx, session.SessionID); err != nil {
		respondWithServiceError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     pinSessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	respondWithJSON(w, http.StatusOK, successResponse(nil, "session ended"))
}

type createEventRequest struct {
	Name string `json:"name"`
	PIN  string `json:"pin"`
}

// CreateEvent handles POST /admin/events.
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}
	if req.Name == "" {
		respondWithJSON(w, http.StatusBadRequest, errorResponse("event name required"))
		return
	}

	event, err := h.pinService.CreateEvent(ctx, req.Name, req.PIN)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(toEventResponse(event), "event created"))
}

type rotatePINRequest struct {
	PIN string `json:"pin"`
}

// RotatePIN handles PUT /admin/events/{eventID}/pin.
func (h *EventHandler) RotatePIN(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	eventID := chi.URLParam(r, "eventID")

	var req rotatePINRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}

	if err := h.pinService.RotateEventPIN(ctx, eventID, req.PIN); err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "PIN rotated"))
}

// DeleteEvent handles DELETE /admin/events/{eventID}.
func (h *EventHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	eventID := chi.URLParam(r, "eventID")
	if err := h.pinService.DeleteEvent(ctx, eventID); err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "event deleted"))
}
