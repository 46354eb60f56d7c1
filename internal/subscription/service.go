package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-mealkit/internal/common"
	"github.com/noah-isme/backend-mealkit/internal/lock"
	"github.com/noah-isme/backend-mealkit/internal/obs"
	"github.com/noah-isme/backend-mealkit/internal/pricing"
	"github.com/noah-isme/backend-mealkit/internal/quote"
	"github.com/noah-isme/backend-mealkit/internal/repo"
)

var (
	// ErrVariantNotFound is returned when the plan variant does not exist or is inactive.
	ErrVariantNotFound = errors.New("subscription: plan variant not found")
	// ErrBusy is returned when another subscription for the same customer is being created.
	ErrBusy = errors.New("subscription: customer is busy")
	// ErrConflict is returned when persistence rejects a duplicate.
	ErrConflict = errors.New("subscription: conflict")
)

const dateLayout = "2006-01-02"

// Store is the persistence needed to create subscriptions.
type Store interface {
	GetPlanVariant(ctx context.Context, id uuid.UUID) (repo.PlanVariant, error)
	CreateSubscription(ctx context.Context, params repo.CreateSubscriptionParams) (repo.SubscriptionRecord, error)
}

// Quoter prices a subscription for a resolved plan.
type Quoter interface {
	QuotePlan(ctx context.Context, plan repo.Plan, in quote.Input) (quote.Result, error)
}

// Locker serialises work on a key.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Input is the admin subscription payload.
type Input struct {
	UserID                  uuid.UUID        `json:"user_id" validate:"required"`
	PlanVariantID           uuid.UUID        `json:"plan_variant_id" validate:"required"`
	MealTypes               []string         `json:"meal_types" validate:"required,min=1,dive,required"`
	DaysPerWeek             int              `json:"days_per_week" validate:"min=1,max=7"`
	DurationWeeks           int              `json:"duration_weeks" validate:"min=1,max=104"`
	AdminDiscountPercentage *decimal.Decimal `json:"admin_discount_percentage,omitempty"`
	AdminOverridePrice      *decimal.Decimal `json:"admin_override_price,omitempty"`
	StartDate               string           `json:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Notes                   string           `json:"notes,omitempty" validate:"max=1000"`
}

// Output describes a created subscription.
type Output struct {
	SubscriptionID uuid.UUID      `json:"subscriptionId"`
	OrderID        uuid.UUID      `json:"orderId"`
	DeliveryIDs    []uuid.UUID    `json:"deliveryIds"`
	Deliveries     int            `json:"deliveries"`
	Status         string         `json:"status"`
	StartDate      string         `json:"startDate"`
	EndDate        string         `json:"endDate"`
	TotalMinor     int64          `json:"totalMinor"`
	Currency       string         `json:"currency"`
	Pricing        quote.Response `json:"pricing"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// Service creates priced subscriptions.
type Service struct {
	Store    Store
	Quotes   Quoter
	Locker   Locker
	LockTTL  time.Duration
	Currency string
	Now      func() time.Time
	Logger   zerolog.Logger
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) currency() string {
	if s.Currency == "" {
		return "MAD"
	}
	return s.Currency
}

// Create validates, prices and persists a subscription. Missing meal prices fall back to the
// variant's flat weekly price and the result is tagged with the source that produced it.
func (s *Service) Create(ctx context.Context, in Input) (Output, error) {
	if s == nil || s.Store == nil || s.Quotes == nil {
		return Output{}, errors.New("subscription service not configured")
	}
	if err := common.Validate(in); err != nil {
		return Output{}, err
	}
	variant, err := s.Store.GetPlanVariant(ctx, in.PlanVariantID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Output{}, fmt.Errorf("%w: %s", ErrVariantNotFound, in.PlanVariantID)
		}
		return Output{}, fmt.Errorf("load plan variant: %w", err)
	}
	if variant.DaysPerWeek != in.DaysPerWeek {
		return Output{}, fmt.Errorf("%w: plan variant delivers %d days per week, got %d", pricing.ErrInvalidInput, variant.DaysPerWeek, in.DaysPerWeek)
	}

	result, err := s.price(ctx, variant, in)
	if err != nil {
		return Output{}, err
	}
	b := result.Breakdown
	currency := s.currency()
	priced := quote.NewResponse(result, currency)
	breakdown, err := json.Marshal(priced)
	if err != nil {
		return Output{}, fmt.Errorf("encode breakdown: %w", err)
	}

	start := s.now()
	if in.StartDate != "" {
		if start, err = time.Parse(dateLayout, in.StartDate); err != nil {
			return Output{}, fmt.Errorf("%w: start_date must be YYYY-MM-DD", pricing.ErrInvalidInput)
		}
	}
	params := repo.CreateSubscriptionParams{
		UserID:            in.UserID,
		PlanVariantID:     variant.ID,
		MealTypes:         b.MealTypes,
		DaysPerWeek:       b.DaysPerWeek,
		DurationWeeks:     b.DurationWeeks,
		StartDate:         start,
		TotalMinor:        pricing.ToMinorUnits(b.TotalRounded),
		PricePerWeekMinor: pricing.ToMinorUnits(b.PricePerWeek),
		Currency:          currency,
		PricingSource:     string(result.Source),
		Breakdown:         breakdown,
		Notes:             strings.TrimSpace(in.Notes),
	}

	var record repo.SubscriptionRecord
	persist := func(ctx context.Context) error {
		var err error
		record, err = s.Store.CreateSubscription(ctx, params)
		return err
	}
	if s.Locker != nil {
		err = s.Locker.WithLock(ctx, lock.Key("subscription", in.UserID.String()), s.LockTTL, persist)
	} else {
		err = persist(ctx)
	}
	if err != nil {
		switch {
		case errors.Is(err, lock.ErrNotAcquired):
			return Output{}, fmt.Errorf("%w: %s", ErrBusy, in.UserID)
		case errors.Is(err, repo.ErrConflict):
			return Output{}, fmt.Errorf("%w: %v", ErrConflict, err)
		default:
			return Output{}, fmt.Errorf("persist subscription: %w", err)
		}
	}

	if obs.SubscriptionsCreatedTotal != nil {
		obs.SubscriptionsCreatedTotal.WithLabelValues(string(result.Source)).Inc()
	}
	s.Logger.Info().
		Str("subscription_id", record.ID.String()).
		Str("user_id", in.UserID.String()).
		Str("source", string(result.Source)).
		Int64("total_minor", params.TotalMinor).
		Msg("subscription created")

	return Output{
		SubscriptionID: record.ID,
		OrderID:        record.OrderID,
		DeliveryIDs:    record.DeliveryIDs,
		Deliveries:     len(record.DeliveryIDs),
		Status:         record.Status,
		StartDate:      record.StartDate.Format(dateLayout),
		EndDate:        record.EndDate.Format(dateLayout),
		TotalMinor:     params.TotalMinor,
		Currency:       currency,
		Pricing:        priced,
		CreatedAt:      record.CreatedAt,
	}, nil
}

func (s *Service) price(ctx context.Context, variant repo.PlanVariant, in Input) (quote.Result, error) {
	plan := repo.Plan{ID: variant.PlanID, Name: variant.PlanName}
	qin := quote.Input{
		Plan:                    variant.PlanName,
		MealTypes:               in.MealTypes,
		DaysPerWeek:             in.DaysPerWeek,
		DurationWeeks:           in.DurationWeeks,
		AdminDiscountPercentage: in.AdminDiscountPercentage,
	}
	result, err := s.Quotes.QuotePlan(ctx, plan, qin)
	if errors.Is(err, pricing.ErrMissingPriceData) {
		s.Logger.Warn().Err(err).
			Str("plan_variant_id", variant.ID.String()).
			Msg("meal prices missing, using plan variant price")
		meals, mealErr := normalizedMeals(in.MealTypes)
		if mealErr != nil {
			return quote.Result{}, mealErr
		}
		qin.MealTypes = meals
		result, err = quote.FlatFallback(variant, qin)
	}
	if err != nil {
		return quote.Result{}, err
	}
	if in.AdminOverridePrice != nil {
		return quote.ApplyOverridePrice(result, *in.AdminOverridePrice)
	}
	return result, nil
}

func normalizedMeals(values []string) ([]string, error) {
	req, err := pricing.Validate(pricing.Request{MealTypes: values, DaysPerWeek: pricing.MinDaysPerWeek, DurationWeeks: pricing.MinDurationWeeks})
	if err != nil {
		return nil, err
	}
	return req.MealTypes, nil
}
