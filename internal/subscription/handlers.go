package subscription

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-mealkit/internal/common"
	"github.com/noah-isme/backend-mealkit/internal/quote"
)

// Handler exposes the admin subscription endpoint.
type Handler struct {
	Svc    *Service
	Logger zerolog.Logger
}

// Create handles POST /api/v1/admin/subscriptions.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "subscription service not configured", nil)
		return
	}
	var in Input
	if err := common.DecodeJSON(r, &in); err != nil {
		common.WriteAppError(w, err)
		return
	}
	out, err := h.Svc.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, out)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if common.IsAppError(err) {
		common.WriteAppError(w, err)
		return
	}
	if status, code, ok := quote.ErrorStatus(err); ok {
		common.JSONError(w, status, code, err.Error(), nil)
		return
	}
	switch {
	case errors.Is(err, ErrVariantNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "plan variant not found", nil)
	case errors.Is(err, ErrBusy):
		common.JSONError(w, http.StatusConflict, "BUSY", "another subscription for this customer is being created", nil)
	case errors.Is(err, ErrConflict):
		common.JSONError(w, http.StatusConflict, "CONFLICT", "subscription already exists", nil)
	default:
		h.Logger.Error().Err(err).Msg("create subscription failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to create subscription", nil)
	}
}
