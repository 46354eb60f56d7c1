package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/backend-mealkit/internal/obs"
	"github.com/noah-isme/backend-mealkit/internal/pricing"
	"github.com/noah-isme/backend-mealkit/internal/repo"
	"github.com/noah-isme/backend-mealkit/internal/resilience"
)

// Source tags how a price was produced.
type Source string

const (
	// SourceEngine marks a price computed from meal prices and discount tiers.
	SourceEngine Source = "engine"
	// SourcePlanVariantFallback marks the flat weekly variant price used when meal prices are missing.
	SourcePlanVariantFallback Source = "plan_variant_fallback"
	// SourceAdminOverridePrice marks a total replaced by an administrator.
	SourceAdminOverridePrice Source = "admin_override_price"
)

// Store is the subset of the repository used to price subscriptions.
type Store interface {
	GetPlanByName(ctx context.Context, name string) (repo.Plan, error)
	ListMealPrices(ctx context.Context, planID uuid.UUID, mealTypes []string) ([]pricing.MealPrice, error)
	ListActiveDiscountRules(ctx context.Context, at time.Time) ([]pricing.DiscountRule, error)
}

// Input is a quote request.
type Input struct {
	Plan                    string
	MealTypes               []string
	DaysPerWeek             int
	DurationWeeks           int
	AdminDiscountPercentage *decimal.Decimal
}

func (in Input) request(planName string) pricing.Request {
	return pricing.Request{
		PlanName:                planName,
		MealTypes:               in.MealTypes,
		DaysPerWeek:             in.DaysPerWeek,
		DurationWeeks:           in.DurationWeeks,
		AdminDiscountPercentage: in.AdminDiscountPercentage,
	}
}

// Result is a priced breakdown together with how it was obtained.
type Result struct {
	Breakdown            pricing.Breakdown `json:"breakdown"`
	Source               Source            `json:"source"`
	DiscountsUnavailable bool              `json:"discountsUnavailable"`
	Warnings             []string          `json:"warnings,omitempty"`
}

// Service resolves reference data and runs the pricing engine.
type Service struct {
	store   Store
	cache   *Cache
	breaker *resilience.Breaker
	now     func() time.Time
	logger  zerolog.Logger
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store Store
	Cache *Cache
	// RulesBreaker guards discount rule loads. While open, quotes skip the store and price without discounts.
	RulesBreaker *resilience.Breaker
	Now          func() time.Time
	Logger       zerolog.Logger
}

// NewService constructs a quote Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("quote: store is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:   cfg.Store,
		cache:   cfg.Cache,
		breaker: cfg.RulesBreaker,
		now:     now,
		logger:  obs.Component(cfg.Logger, "quote"),
	}, nil
}

// Quote prices a subscription for the named plan. An unknown plan fails before any price lookup.
func (s *Service) Quote(ctx context.Context, in Input) (result Result, err error) {
	start := time.Now()
	ctx, span := obs.StartSpan(ctx, "pricing.quote",
		attribute.String("pricing.plan", in.Plan),
		attribute.Int("pricing.days_per_week", in.DaysPerWeek),
		attribute.Int("pricing.duration_weeks", in.DurationWeeks),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, resultLabel(err))
		} else {
			span.SetAttributes(attribute.String("pricing.total", result.Breakdown.TotalRounded.String()))
		}
		span.End()
		observeQuote(result.Source, err, time.Since(start))
	}()

	if _, err := pricing.Validate(in.request(in.Plan)); err != nil {
		return Result{}, err
	}
	plan, err := s.plan(ctx, in.Plan)
	if err != nil {
		return Result{}, err
	}
	return s.quotePlan(ctx, plan, in)
}

// QuotePlan prices a subscription for an already resolved plan.
func (s *Service) QuotePlan(ctx context.Context, plan repo.Plan, in Input) (Result, error) {
	ctx, span := obs.StartSpan(ctx, "pricing.quote_plan", attribute.String("pricing.plan_id", plan.ID.String()))
	defer span.End()
	return s.quotePlan(ctx, plan, in)
}

func (s *Service) quotePlan(ctx context.Context, plan repo.Plan, in Input) (Result, error) {
	req, err := pricing.Validate(in.request(plan.Name))
	if err != nil {
		return Result{}, err
	}
	prices, err := s.mealPrices(ctx, plan.ID, req.MealTypes)
	if err != nil {
		return Result{}, fmt.Errorf("load meal prices: %w", err)
	}

	result := Result{Source: SourceEngine}
	rules, err := s.activeRules(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %v", pricing.ErrMissingDiscountData, err)
		s.logger.Warn().Err(err).Str("plan", plan.Name).Msg("pricing without discounts")
		if obs.PricingFallbackTotal != nil {
			obs.PricingFallbackTotal.WithLabelValues("discounts_unavailable").Inc()
		}
		rules = nil
		result.DiscountsUnavailable = true
		result.Warnings = append(result.Warnings, "discount rules unavailable; no discounts applied")
	}

	breakdown, err := pricing.Calculate(prices, rules, req)
	if err != nil {
		return Result{}, err
	}
	result.Breakdown = breakdown
	return result, nil
}

func (s *Service) plan(ctx context.Context, name string) (repo.Plan, error) {
	var plan repo.Plan
	key := planKey(name)
	if hit, err := s.cache.GetJSON(ctx, key, &plan); err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("plan cache read failed")
	} else {
		recordCache("plan", hit)
		if hit {
			return plan, nil
		}
	}
	plan, err := s.store.GetPlanByName(ctx, name)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return repo.Plan{}, fmt.Errorf("%w: %q", pricing.ErrUnknownPlan, name)
		}
		return repo.Plan{}, fmt.Errorf("load plan: %w", err)
	}
	if err := s.cache.SetJSON(ctx, key, plan); err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("plan cache write failed")
	}
	return plan, nil
}

func (s *Service) mealPrices(ctx context.Context, planID uuid.UUID, mealTypes []string) ([]pricing.MealPrice, error) {
	var prices []pricing.MealPrice
	key := pricesKey(planID, mealTypes)
	if hit, err := s.cache.GetJSON(ctx, key, &prices); err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("price cache read failed")
	} else {
		recordCache("prices", hit)
		if hit {
			return prices, nil
		}
	}
	prices, err := s.store.ListMealPrices(ctx, planID, mealTypes)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetJSON(ctx, key, prices); err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("price cache write failed")
	}
	return prices, nil
}

func (s *Service) activeRules(ctx context.Context) ([]pricing.DiscountRule, error) {
	var rules []pricing.DiscountRule
	if hit, err := s.cache.GetJSON(ctx, rulesCacheKey, &rules); err != nil {
		s.logger.Debug().Err(err).Msg("rule cache read failed")
	} else {
		recordCache("rules", hit)
		if hit {
			return pricing.ActiveRules(rules, s.now()), nil
		}
	}
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var loadErr error
		rules, loadErr = s.store.ListActiveDiscountRules(ctx, s.now())
		return loadErr
	})
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetJSON(ctx, rulesCacheKey, rules); err != nil {
		s.logger.Debug().Err(err).Msg("rule cache write failed")
	}
	return pricing.ActiveRules(rules, s.now()), nil
}

// FlatFallback prices a subscription from the variant's flat weekly price.
// It is used only when the caller chooses to degrade after ErrMissingPriceData.
func FlatFallback(variant repo.PlanVariant, in Input) (Result, error) {
	if in.DurationWeeks < pricing.MinDurationWeeks {
		return Result{}, fmt.Errorf("%w: duration must be at least %d week", pricing.ErrInvalidInput, pricing.MinDurationWeeks)
	}
	if !variant.PriceWeekly.IsPositive() {
		return Result{}, fmt.Errorf("%w: plan variant %s has no weekly price", pricing.ErrMissingPriceData, variant.ID)
	}
	days := variant.DaysPerWeek
	if days < pricing.MinDaysPerWeek || days > pricing.MaxDaysPerWeek {
		return Result{}, fmt.Errorf("%w: plan variant %s has %d days per week", pricing.ErrInvalidInput, variant.ID, days)
	}
	weekly := variant.PriceWeekly
	applied := []pricing.AppliedDiscount{}
	if p := in.AdminDiscountPercentage; p != nil {
		if p.IsNegative() || p.GreaterThan(decimal.NewFromInt(100)) {
			return Result{}, fmt.Errorf("%w: admin discount percentage must be between 0 and 100, got %s", pricing.ErrInvalidInput, p.String())
		}
	}
	if p := in.AdminDiscountPercentage; p != nil && p.IsPositive() {
		amount := weekly.Mul(*p).Div(decimal.NewFromInt(100))
		weekly = weekly.Sub(amount)
		applied = append(applied, pricing.AppliedDiscount{Type: pricing.DiscountAdminOverride, Percentage: *p, Amount: amount})
	}
	b := pricing.Breakdown{
		PlanName:      variant.PlanName,
		MealTypes:     in.MealTypes,
		DaysPerWeek:   days,
		DurationWeeks: in.DurationWeeks,
		Lines:         []pricing.Line{},
		BaseWeekly:    variant.PriceWeekly,
		FinalWeekly:   weekly,
		Discounts:     applied,
	}
	setTotals(&b, pricing.Round(weekly.Mul(decimal.NewFromInt(int64(in.DurationWeeks)))))
	if obs.PricingFallbackTotal != nil {
		obs.PricingFallbackTotal.WithLabelValues("plan_variant_price").Inc()
	}
	return Result{
		Breakdown: b,
		Source:    SourcePlanVariantFallback,
		Warnings:  []string{"meal prices unavailable; flat plan variant price used"},
	}, nil
}

// ApplyOverridePrice replaces the subscription total with an administrator supplied amount.
// The override may not exceed the undiscounted base over the whole duration, so the final
// weekly price never rises above the base weekly price.
// The computed discounts stay in the breakdown for reference.
func ApplyOverridePrice(result Result, total decimal.Decimal) (Result, error) {
	if !total.IsPositive() {
		return Result{}, fmt.Errorf("%w: override price must be positive", pricing.ErrInvalidInput)
	}
	weeks := result.Breakdown.DurationWeeks
	if weeks < pricing.MinDurationWeeks {
		return Result{}, fmt.Errorf("%w: duration must be at least %d week", pricing.ErrInvalidInput, pricing.MinDurationWeeks)
	}
	ceiling := result.Breakdown.BaseWeekly.Mul(decimal.NewFromInt(int64(weeks)))
	if total.GreaterThan(ceiling) {
		return Result{}, fmt.Errorf("%w: override price %s exceeds base price %s", pricing.ErrInvalidInput, total.StringFixed(2), ceiling.StringFixed(2))
	}
	computed := result.Breakdown.TotalRounded
	out := result
	out.Breakdown.FinalWeekly = total.Div(decimal.NewFromInt(int64(weeks)))
	setTotals(&out.Breakdown, pricing.Round(total))
	out.Source = SourceAdminOverridePrice
	out.Warnings = append(append([]string(nil), result.Warnings...),
		fmt.Sprintf("admin override price replaces computed total %s", computed.StringFixed(2)))
	return out, nil
}

func setTotals(b *pricing.Breakdown, total decimal.Decimal) {
	b.TotalRounded = total
	b.PricePerWeek = pricing.Round(total.Div(decimal.NewFromInt(int64(b.DurationWeeks))))
	b.PricePerDay = pricing.Round(b.PricePerWeek.Div(decimal.NewFromInt(int64(b.DaysPerWeek))))
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, pricing.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, pricing.ErrUnknownPlan):
		return "unknown_plan"
	case errors.Is(err, pricing.ErrMissingPriceData):
		return "missing_price_data"
	default:
		return "error"
	}
}

func observeQuote(source Source, err error, elapsed time.Duration) {
	result := resultLabel(err)
	if source == "" {
		source = SourceEngine
	}
	if obs.PricingQuotesTotal != nil {
		obs.PricingQuotesTotal.WithLabelValues(string(source), result).Inc()
	}
	if obs.PricingQuoteLatency != nil {
		obs.PricingQuoteLatency.WithLabelValues(result).Observe(obs.DurationMillis(elapsed))
	}
}
