// Package http exposes the license operations over a chi-routed HTTP API,
// the surface the desktop frontend calls.
package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apperrors "salepoint/internal/errors"
	"salepoint/internal/license"
	"salepoint/internal/services"
)

var validate = validator.New()

// LicenseHandler handles license-related HTTP requests.
type LicenseHandler struct {
	service services.LicenseService
	logger  *slog.Logger
}

// NewLicenseHandler creates a license handler.
func NewLicenseHandler(service services.LicenseService, logger *slog.Logger) *LicenseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// ActivationRequest is the activation payload.
type ActivationRequest struct {
	LicenseKey   string `json:"license_key" validate:"required,min=20"`
	CustomerName string `json:"customer_name,omitempty" validate:"omitempty,max=200"`
}

// Bind implements render.Binder.
func (a *ActivationRequest) Bind(r *http.Request) error {
	return validate.Struct(a)
}

// DeactivationRequest is the deactivation payload. An empty fingerprint
// releases every device for the license.
type DeactivationRequest struct {
	LicenseID         string `json:"license_id" validate:"required"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
}

// Bind implements render.Binder.
func (d *DeactivationRequest) Bind(r *http.Request) error {
	return validate.Struct(d)
}

// ActivationResponse wraps the ledger result for the wire.
type ActivationResponse struct {
	Activated bool                   `json:"activated"`
	Code      license.ResultCode     `json:"code"`
	Message   string                 `json:"message"`
	Record    *license.LicenseRecord `json:"record,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// DeactivationResponse reports how many devices were released.
type DeactivationResponse struct {
	Released  int64     `json:"released"`
	Timestamp time.Time `json:"timestamp"`
}

// Routes returns the chi router for license endpoints.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/status", h.Status)
	r.Post("/activate", h.Activate)
	r.Post("/deactivate", h.Deactivate)
	return r
}

// Status handles GET /status.
func (h *LicenseHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Status(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, status)
}

// Activate handles POST /activate.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	req := &ActivationRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apperrors.InvalidRequestWithError(err))
		return
	}

	result, err := h.service.Activate(r.Context(), services.ActivateRequest{
		LicenseKey:   req.LicenseKey,
		CustomerName: req.CustomerName,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	if !result.Activated {
		render.Render(w, r, activationFailureResponse(result))
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, ActivationResponse{
		Activated: true,
		Code:      result.Code,
		Message:   result.Message,
		Record:    result.Record,
		Timestamp: time.Now(),
	})
}

// Deactivate handles POST /deactivate.
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	req := &DeactivationRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apperrors.InvalidRequestWithError(err))
		return
	}

	released, err := h.service.Deactivate(r.Context(), req.LicenseID, req.DeviceFingerprint)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, DeactivationResponse{Released: released, Timestamp: time.Now()})
}

// activationFailureResponse maps ledger rejection codes to HTTP errors.
func activationFailureResponse(result *license.ActivationResult) *apperrors.APIError {
	switch result.Code {
	case license.CodeInvalidKey:
		return apperrors.ErrInvalidLicenseKeyResponse
	case license.CodeExpired:
		return apperrors.ErrLicenseExpiredResponse
	case license.CodeAlreadyActivated:
		return apperrors.ErrAlreadyActivatedResponse
	case license.CodeDeviceLimit:
		return apperrors.NewWithDetails(http.StatusConflict, string(license.CodeDeviceLimit),
			result.Message, result.Record)
	default:
		return apperrors.New(http.StatusUnprocessableEntity, string(result.Code), result.Message)
	}
}

func (h *LicenseHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apperrors.ErrActivationBlocked):
		render.Render(w, r, apperrors.ErrRateLimited)
	case errors.Is(err, apperrors.ErrFingerprintUnavailable):
		render.Render(w, r, apperrors.ErrFingerprintResponse)
	default:
		h.logger.ErrorContext(r.Context(), "license operation failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		render.Render(w, r, apperrors.InternalWithError(err))
	}
}
