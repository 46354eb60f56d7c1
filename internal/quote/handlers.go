package quote

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-mealkit/internal/common"
	"github.com/noah-isme/backend-mealkit/internal/pricing"
)

// Handler exposes the quote endpoints.
type Handler struct {
	service  *Service
	currency string
	logger   zerolog.Logger
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service  *Service
	Currency string
	Logger   zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	currency := cfg.Currency
	if currency == "" {
		currency = "MAD"
	}
	return &Handler{service: cfg.Service, currency: currency, logger: cfg.Logger}
}

type quoteRequest struct {
	Plan     string   `json:"plan" validate:"required"`
	Meals    []string `json:"meals" validate:"required,min=1,dive,required"`
	Days     int      `json:"days" validate:"min=1,max=7"`
	Duration int      `json:"duration" validate:"min=1"`
}

type previewRequest struct {
	quoteRequest
	AdminDiscountPercentage *decimal.Decimal `json:"admin_discount_percentage"`
}

func (q quoteRequest) input() Input {
	return Input{
		Plan:          q.Plan,
		MealTypes:     q.Meals,
		DaysPerWeek:   q.Days,
		DurationWeeks: q.Duration,
	}
}

// Quote handles POST /api/v1/pricing/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "quote service not configured", nil)
		return
	}
	var req quoteRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteAppError(w, err)
		return
	}
	if err := common.Validate(req); err != nil {
		common.WriteAppError(w, err)
		return
	}
	h.respond(w, r, req.input())
}

// AdminPreview handles POST /api/v1/admin/pricing/preview, which also accepts an admin discount percentage.
func (h *Handler) AdminPreview(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "quote service not configured", nil)
		return
	}
	var req previewRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteAppError(w, err)
		return
	}
	if err := common.Validate(req.quoteRequest); err != nil {
		common.WriteAppError(w, err)
		return
	}
	in := req.input()
	in.AdminDiscountPercentage = req.AdminDiscountPercentage
	h.respond(w, r, in)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, in Input) {
	result, err := h.service.Quote(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, NewResponse(result, h.currency))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if status, code, ok := ErrorStatus(err); ok {
		common.JSONError(w, status, code, err.Error(), nil)
		return
	}
	if common.IsAppError(err) {
		common.WriteAppError(w, err)
		return
	}
	h.logger.Error().Err(err).Msg("quote failed")
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to calculate price", nil)
}

// ErrorStatus maps pricing errors to an HTTP status and error code.
func ErrorStatus(err error) (int, string, bool) {
	switch {
	case errors.Is(err, pricing.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT", true
	case errors.Is(err, pricing.ErrUnknownPlan):
		return http.StatusBadRequest, "UNKNOWN_PLAN", true
	case errors.Is(err, pricing.ErrMissingPriceData):
		return http.StatusBadRequest, "MISSING_PRICE_DATA", true
	default:
		return 0, "", false
	}
}
