package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"eventgate/internal/repository/scylla"
	"eventgate/internal/service"
	"eventgate/internal/util"
)

// AuthHandler handles the passwordless sign-in endpoints.
type AuthHandler struct {
	otpService *service.OTPService
	logger     *zap.Logger
}

func NewAuthHandler(otpService *service.OTPService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		otpService: otpService,
		logger:     logger,
	}
}

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(message string) Response {
	return Response{
		Success: false,
		Error:   message,
	}
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondWithServiceError maps service errors onto HTTP statuses. A wrong
// code and an expired code deliberately produce the same response.
func respondWithServiceError(w http.ResponseWriter, err error) {
	var rateErr *service.RateLimitedError
	if errors.As(err, &rateErr) {
		retryAfter := int(rateErr.RetryAfter.Round(time.Second).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		respondWithJSON(w, http.StatusTooManyRequests, errorResponse("too many attempts, try again later"))
		return
	}

	switch {
	case errors.Is(err, service.ErrInvalidIdentity):
		respondWithJSON(w, http.StatusBadRequest, errorResponse("invalid email"))
	case errors.Is(err, service.ErrPINFormat):
		respondWithJSON(w, http.StatusBadRequest, errorResponse("malformed PIN"))
	case errors.Is(err, service.ErrInvalidCode), errors.Is(err, service.ErrCodeExpired):
		respondWithJSON(w, http.StatusBadRequest, errorResponse("invalid or expired code"))
	case errors.Is(err, service.ErrInvalidPIN):
		respondWithJSON(w, http.StatusUnauthorized, errorResponse("invalid PIN"))
	case errors.Is(err, service.ErrSessionInvalid):
		respondWithJSON(w, http.StatusUnauthorized, errorResponse("invalid session"))
	case errors.Is(err, service.ErrSuspended):
		respondWithJSON(w, http.StatusForbidden, errorResponse("identity suspended"))
	case errors.Is(err, scylla.ErrEventNotFound):
		respondWithJSON(w, http.StatusNotFound, errorResponse("event not found"))
	case errors.Is(err, service.ErrDeliveryFailed):
		respondWithJSON(w, http.StatusInternalServerError, errorResponse("code delivery failed"))
	default:
		respondWithJSON(w, http.StatusInternalServerError, errorResponse("internal error"))
	}
}

// clientOrigin returns the caller's address without the ephemeral port.
// RealIP middleware has already resolved forwarding headers upstream.
func clientOrigin(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RegisterRoutes registers the sign-in routes.
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/otp/request", h.RequestCode)
		r.Post("/otp/verify", h.VerifyCode)
	})
}

// RegisterAdminRoutes registers the operator surface for suspensions.
func (h *AuthHandler) RegisterAdminRoutes(router chi.Router) {
	router.Delete("/suspensions/{identity}", h.LiftSuspension)
}

type requestCodeRequest struct {
	Email string `json:"email"`
}

// RequestCode handles POST /auth/otp/request.
func (h *AuthHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req requestCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}

	if err := h.otpService.RequestCode(ctx, req.Email, clientOrigin(r)); err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "code sent"))
	h.logger.Info("Code requested via HTTP",
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "RequestCode"),
	)
}

type verifyCodeRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// VerifyCode handles POST /auth/otp/verify.
func (h *AuthHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req verifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}

	credential, err := h.otpService.VerifyCode(ctx, req.Email, clientOrigin(r), req.OTP)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(credential, "verified"))
	h.logger.Info("Code verified via HTTP",
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "VerifyCode"),
	)
}

// LiftSuspension handles DELETE /admin/suspensions/{identity}.
func (h *AuthHandler) LiftSuspension(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity := chi.URLParam(r, "identity")
	if err := h.otpService.LiftSuspension(ctx, identity); err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "suspension lifted"))
}
