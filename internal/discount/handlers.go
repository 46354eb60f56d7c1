package discount

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-mealkit/internal/common"
	"github.com/noah-isme/backend-mealkit/internal/obs"
	"github.com/noah-isme/backend-mealkit/internal/pricing"
	"github.com/noah-isme/backend-mealkit/internal/repo"
)

// Store is the discount rule persistence used by the admin endpoints.
type Store interface {
	ListDiscountRules(ctx context.Context) ([]repo.DiscountRuleRecord, error)
	CreateDiscountRule(ctx context.Context, params repo.DiscountRuleParams) (repo.DiscountRuleRecord, error)
	UpdateDiscountRule(ctx context.Context, id uuid.UUID, params repo.DiscountRuleParams) (repo.DiscountRuleRecord, error)
	DeactivateDiscountRule(ctx context.Context, id uuid.UUID) error
}

// Invalidator drops cached rules after a write.
type Invalidator interface {
	InvalidateRules(ctx context.Context) error
}

// Handler exposes administrative discount rule endpoints.
type Handler struct {
	Store  Store
	Cache  Invalidator
	Logger zerolog.Logger
}

type rulePayload struct {
	Type           string          `json:"type" validate:"required,oneof=day_count duration"`
	ConditionValue int             `json:"condition_value" validate:"min=1"`
	Percentage     decimal.Decimal `json:"percentage"`
	Stackable      *bool           `json:"stackable"`
	IsActive       *bool           `json:"is_active"`
	ValidFrom      *time.Time      `json:"valid_from"`
	ValidTo        *time.Time      `json:"valid_to"`
}

// List handles GET /api/v1/admin/discount-rules.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "discount store not configured", nil)
		return
	}
	rules, err := h.Store.ListDiscountRules(r.Context())
	if err != nil {
		h.Logger.Error().Err(err).Msg("list discount rules failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list discount rules", nil)
		return
	}
	common.Data(w, http.StatusOK, rules)
}

// Create handles POST /api/v1/admin/discount-rules.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "discount store not configured", nil)
		return
	}
	params, ok := h.decode(w, r)
	if !ok {
		return
	}
	rule, err := h.Store.CreateDiscountRule(r.Context(), params)
	if err != nil {
		h.writeStoreError(w, err, "create")
		return
	}
	h.afterWrite(r.Context(), "create")
	common.Data(w, http.StatusCreated, rule)
}

// Update handles PUT /api/v1/admin/discount-rules/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "discount store not configured", nil)
		return
	}
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	params, ok := h.decode(w, r)
	if !ok {
		return
	}
	rule, err := h.Store.UpdateDiscountRule(r.Context(), id, params)
	if err != nil {
		h.writeStoreError(w, err, "update")
		return
	}
	h.afterWrite(r.Context(), "update")
	common.Data(w, http.StatusOK, rule)
}

// Deactivate handles DELETE /api/v1/admin/discount-rules/{id}. Rules are deactivated, never removed.
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "discount store not configured", nil)
		return
	}
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	if err := h.Store.DeactivateDiscountRule(r.Context(), id); err != nil {
		h.writeStoreError(w, err, "deactivate")
		return
	}
	h.afterWrite(r.Context(), "deactivate")
	common.NoContent(w)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (repo.DiscountRuleParams, bool) {
	var payload rulePayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteAppError(w, err)
		return repo.DiscountRuleParams{}, false
	}
	if err := common.Validate(payload); err != nil {
		common.WriteAppError(w, err)
		return repo.DiscountRuleParams{}, false
	}
	params, err := buildParams(payload)
	if err != nil {
		common.WriteAppError(w, common.InvalidInput(err.Error(), nil))
		return repo.DiscountRuleParams{}, false
	}
	return params, true
}

func (h *Handler) afterWrite(ctx context.Context, action string) {
	if obs.DiscountRuleWritesTotal != nil {
		obs.DiscountRuleWritesTotal.WithLabelValues(action).Inc()
	}
	if h.Cache == nil {
		return
	}
	if err := h.Cache.InvalidateRules(ctx); err != nil {
		h.Logger.Warn().Err(err).Str("action", action).Msg("discount rule cache invalidation failed")
	}
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "discount rule not found", nil)
	case errors.Is(err, repo.ErrConflict):
		common.JSONError(w, http.StatusConflict, "CONFLICT", "an active rule already exists for this tier", nil)
	default:
		h.Logger.Error().Err(err).Str("action", action).Msg("discount rule write failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to "+action+" discount rule", nil)
	}
}

func ruleID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	id, err := uuid.Parse(raw)
	if err != nil {
		common.WriteAppError(w, common.InvalidInput("id must be a UUID", nil))
		return uuid.Nil, false
	}
	return id, true
}

func buildParams(payload rulePayload) (repo.DiscountRuleParams, error) {
	kind, err := pricing.ParseDiscountType(payload.Type)
	if err != nil {
		return repo.DiscountRuleParams{}, err
	}
	if kind == pricing.DiscountDayCount && payload.ConditionValue > pricing.MaxDaysPerWeek {
		return repo.DiscountRuleParams{}, fmt.Errorf("day_count condition must be between 1 and %d", pricing.MaxDaysPerWeek)
	}
	if payload.Percentage.IsNegative() || payload.Percentage.GreaterThan(decimal.NewFromInt(100)) {
		return repo.DiscountRuleParams{}, errors.New("percentage must be between 0 and 100")
	}
	if payload.ValidFrom != nil && payload.ValidTo != nil && !payload.ValidTo.After(*payload.ValidFrom) {
		return repo.DiscountRuleParams{}, errors.New("valid_to must be after valid_from")
	}
	stackable := true
	if payload.Stackable != nil {
		stackable = *payload.Stackable
	}
	active := true
	if payload.IsActive != nil {
		active = *payload.IsActive
	}
	return repo.DiscountRuleParams{
		Type:           string(kind),
		ConditionValue: payload.ConditionValue,
		Percentage:     payload.Percentage.Round(2),
		Stackable:      stackable,
		IsActive:       active,
		ValidFrom:      payload.ValidFrom,
		ValidTo:        payload.ValidTo,
	}, nil
}
