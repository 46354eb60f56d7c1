package pricing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidInput is returned when days per week, duration, meal types or the admin percentage are out of range.
	ErrInvalidInput = errors.New("invalid pricing input")
	// ErrMissingPriceData indicates a requested meal type has no usable price row.
	ErrMissingPriceData = errors.New("missing price data")
	// ErrMissingDiscountData wraps failures loading discount rules. Callers treat it as "no discount available".
	ErrMissingDiscountData = errors.New("missing discount data")
	// ErrUnknownPlan is returned before any price lookup when the plan name does not resolve.
	ErrUnknownPlan = errors.New("unknown meal plan")
)

const (
	// MinDaysPerWeek is the lowest accepted delivery days per week.
	MinDaysPerWeek = 1
	// MaxDaysPerWeek is the highest accepted delivery days per week.
	MaxDaysPerWeek = 7
	// MinDurationWeeks is the shortest accepted subscription.
	MinDurationWeeks = 1
)

var (
	hundred = decimal.NewFromInt(100)
)

// DiscountType identifies the quantity a discount tier is measured against.
type DiscountType string

const (
	// DiscountDayCount tiers on days per week.
	DiscountDayCount DiscountType = "day_count"
	// DiscountDuration tiers on subscription length in weeks.
	DiscountDuration DiscountType = "duration"
	// DiscountAdminOverride tags the optional admin percentage. It never comes from a stored rule.
	DiscountAdminOverride DiscountType = "admin_override"
)

// ParseDiscountType converts a stored rule type into a DiscountType.
func ParseDiscountType(value string) (DiscountType, error) {
	switch DiscountType(strings.ToLower(strings.TrimSpace(value))) {
	case DiscountDayCount:
		return DiscountDayCount, nil
	case DiscountDuration:
		return DiscountDuration, nil
	default:
		return "", fmt.Errorf("%w: unsupported discount type %q", ErrInvalidInput, value)
	}
}

// MealPrice is the per-meal base price of a plan in MAD.
type MealPrice struct {
	MealType  string          `json:"mealType"`
	BasePrice decimal.Decimal `json:"basePrice"`
}

// DiscountRule is a single tier of a layered discount.
type DiscountRule struct {
	ID             string          `json:"id,omitempty"`
	Type           DiscountType    `json:"type"`
	ConditionValue int             `json:"conditionValue"`
	Percentage     decimal.Decimal `json:"percentage"`
	Stackable      bool            `json:"stackable"`
	ValidFrom      *time.Time      `json:"validFrom,omitempty"`
	ValidTo        *time.Time      `json:"validTo,omitempty"`
}

// ActiveAt reports whether t falls inside the rule's validity window.
// The window is closed at ValidFrom and open at ValidTo; nil bounds are unbounded.
func (r DiscountRule) ActiveAt(t time.Time) bool {
	if r.ValidFrom != nil && t.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidTo != nil && !t.Before(*r.ValidTo) {
		return false
	}
	return true
}

// ActiveRules returns the rules whose window contains t.
func ActiveRules(rules []DiscountRule, t time.Time) []DiscountRule {
	out := make([]DiscountRule, 0, len(rules))
	for _, r := range rules {
		if r.ActiveAt(t) {
			out = append(out, r)
		}
	}
	return out
}

// Request describes one subscription to price.
type Request struct {
	PlanName                string
	MealTypes               []string
	DaysPerWeek             int
	DurationWeeks           int
	AdminDiscountPercentage *decimal.Decimal
}

// AppliedDiscount records one step of the discount chain.
type AppliedDiscount struct {
	Type       DiscountType    `json:"type"`
	RuleID     string          `json:"ruleId,omitempty"`
	Condition  int             `json:"condition"`
	Percentage decimal.Decimal `json:"percentage"`
	Amount     decimal.Decimal `json:"amount"`
}

// Line is the weekly contribution of a single meal type.
type Line struct {
	MealType  string          `json:"mealType"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Weekly    decimal.Decimal `json:"weekly"`
}

// Breakdown is the immutable result of a price calculation.
type Breakdown struct {
	PlanName      string            `json:"planName"`
	MealTypes     []string          `json:"mealTypes"`
	DaysPerWeek   int               `json:"daysPerWeek"`
	DurationWeeks int               `json:"durationWeeks"`
	Lines         []Line            `json:"lines"`
	BaseWeekly    decimal.Decimal   `json:"baseWeekly"`
	FinalWeekly   decimal.Decimal   `json:"finalWeekly"`
	Discounts     []AppliedDiscount `json:"discountsApplied"`
	TotalRounded  decimal.Decimal   `json:"totalRoundedMAD"`
	PricePerWeek  decimal.Decimal   `json:"pricePerWeek"`
	PricePerDay   decimal.Decimal   `json:"pricePerDay"`
}

// Validate normalises the request and enforces the accepted ranges.
// Meal types are trimmed and de-duplicated case-insensitively, keeping the first spelling.
func Validate(req Request) (Request, error) {
	if req.DaysPerWeek < MinDaysPerWeek || req.DaysPerWeek > MaxDaysPerWeek {
		return Request{}, fmt.Errorf("%w: days per week must be between %d and %d, got %d", ErrInvalidInput, MinDaysPerWeek, MaxDaysPerWeek, req.DaysPerWeek)
	}
	if req.DurationWeeks < MinDurationWeeks {
		return Request{}, fmt.Errorf("%w: duration must be at least %d week, got %d", ErrInvalidInput, MinDurationWeeks, req.DurationWeeks)
	}
	if p := req.AdminDiscountPercentage; p != nil && !validPercentage(*p) {
		return Request{}, fmt.Errorf("%w: admin discount percentage must be between 0 and 100, got %s", ErrInvalidInput, p.String())
	}
	meals := dedupeMealTypes(req.MealTypes)
	if len(meals) == 0 {
		return Request{}, fmt.Errorf("%w: at least one meal type is required", ErrInvalidInput)
	}
	out := req
	out.PlanName = strings.TrimSpace(req.PlanName)
	out.MealTypes = meals
	return out, nil
}

// Calculate prices a subscription. Discounts compound in a fixed order: the best day_count
// tier, then the best duration tier, then the optional admin percentage, each taken from the
// already-discounted weekly amount.
func Calculate(prices []MealPrice, rules []DiscountRule, req Request) (Breakdown, error) {
	req, err := Validate(req)
	if err != nil {
		return Breakdown{}, err
	}
	index, err := indexPrices(prices)
	if err != nil {
		return Breakdown{}, err
	}

	days := decimal.NewFromInt(int64(req.DaysPerWeek))
	weeks := decimal.NewFromInt(int64(req.DurationWeeks))

	lines := make([]Line, 0, len(req.MealTypes))
	daily := decimal.Zero
	for _, mealType := range req.MealTypes {
		price, ok := index[mealKey(mealType)]
		if !ok {
			return Breakdown{}, fmt.Errorf("%w: no price for meal type %q in plan %q", ErrMissingPriceData, mealType, req.PlanName)
		}
		lines = append(lines, Line{MealType: mealType, UnitPrice: price, Weekly: price.Mul(days)})
		daily = daily.Add(price)
	}
	base := daily.Mul(days)

	running := base
	applied := []AppliedDiscount{}
	tiers := []struct {
		kind     DiscountType
		quantity int
	}{
		{DiscountDayCount, req.DaysPerWeek},
		{DiscountDuration, req.DurationWeeks},
	}
	for _, tier := range tiers {
		rule, ok := SelectTier(rules, tier.kind, tier.quantity)
		if !ok || !rule.Percentage.IsPositive() {
			continue
		}
		amount := percentOf(running, rule.Percentage)
		running = running.Sub(amount)
		applied = append(applied, AppliedDiscount{
			Type:       tier.kind,
			RuleID:     rule.ID,
			Condition:  rule.ConditionValue,
			Percentage: rule.Percentage,
			Amount:     amount,
		})
	}
	if p := req.AdminDiscountPercentage; p != nil && p.IsPositive() {
		amount := percentOf(running, *p)
		running = running.Sub(amount)
		applied = append(applied, AppliedDiscount{
			Type:       DiscountAdminOverride,
			Percentage: *p,
			Amount:     amount,
		})
	}
	if running.IsNegative() {
		running = decimal.Zero
	}

	total := Round(running.Mul(weeks))
	perWeek := Round(total.Div(weeks))
	perDay := Round(perWeek.Div(days))

	return Breakdown{
		PlanName:      req.PlanName,
		MealTypes:     req.MealTypes,
		DaysPerWeek:   req.DaysPerWeek,
		DurationWeeks: req.DurationWeeks,
		Lines:         lines,
		BaseWeekly:    base,
		FinalWeekly:   running,
		Discounts:     applied,
		TotalRounded:  total,
		PricePerWeek:  perWeek,
		PricePerDay:   perDay,
	}, nil
}

// SelectTier returns the rule of the given type with the highest condition value not exceeding
// quantity. Ties on condition value go to the higher percentage. Only one rule per type ever
// applies, whatever its stackable flag says. Rules with a percentage outside [0,100] never qualify.
func SelectTier(rules []DiscountRule, kind DiscountType, quantity int) (DiscountRule, bool) {
	var (
		best  DiscountRule
		found bool
	)
	for _, rule := range rules {
		if rule.Type != kind || rule.ConditionValue > quantity || !validPercentage(rule.Percentage) {
			continue
		}
		if !found ||
			rule.ConditionValue > best.ConditionValue ||
			(rule.ConditionValue == best.ConditionValue && rule.Percentage.GreaterThan(best.Percentage)) {
			best = rule
			found = true
		}
	}
	return best, found
}

// Round rounds a MAD amount to 2 decimal places, half away from zero.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

func percentOf(amount, percentage decimal.Decimal) decimal.Decimal {
	return amount.Mul(percentage).Div(hundred)
}

func validPercentage(p decimal.Decimal) bool {
	return !p.IsNegative() && p.LessThanOrEqual(hundred)
}

func indexPrices(prices []MealPrice) (map[string]decimal.Decimal, error) {
	index := make(map[string]decimal.Decimal, len(prices))
	for _, p := range prices {
		key := mealKey(p.MealType)
		if key == "" {
			continue
		}
		if p.BasePrice.IsNegative() {
			return nil, fmt.Errorf("%w: negative price %s for meal type %q", ErrMissingPriceData, p.BasePrice.String(), p.MealType)
		}
		if _, seen := index[key]; seen {
			continue
		}
		index[key] = p.BasePrice
	}
	return index, nil
}

func dedupeMealTypes(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		key := mealKey(trimmed)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func mealKey(mealType string) string {
	return strings.ToLower(strings.TrimSpace(mealType))
}
