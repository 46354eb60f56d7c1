package quote

import (
	"github.com/noah-isme/backend-mealkit/internal/pricing"
)

// LineResponse is the JSON shape of a per-meal line.
type LineResponse struct {
	MealType  string  `json:"mealType"`
	UnitPrice float64 `json:"unitPrice"`
	Weekly    float64 `json:"weekly"`
}

// DiscountResponse is the JSON shape of an applied discount.
type DiscountResponse struct {
	Type       string  `json:"type"`
	RuleID     string  `json:"ruleId,omitempty"`
	Condition  int     `json:"condition,omitempty"`
	Percentage float64 `json:"percentage"`
	Amount     float64 `json:"amount"`
}

// Response is the JSON shape returned by the quote endpoints.
type Response struct {
	Plan                 string             `json:"plan"`
	MealTypes            []string           `json:"mealTypes"`
	DaysPerWeek          int                `json:"daysPerWeek"`
	DurationWeeks        int                `json:"durationWeeks"`
	Currency             string             `json:"currency"`
	Lines                []LineResponse     `json:"lines"`
	BaseWeekly           float64            `json:"baseWeekly"`
	FinalWeekly          float64            `json:"finalWeekly"`
	DiscountsApplied     []DiscountResponse `json:"discountsApplied"`
	TotalRoundedMAD      float64            `json:"totalRoundedMAD"`
	PricePerWeek         float64            `json:"pricePerWeek"`
	PricePerDay          float64            `json:"pricePerDay"`
	Source               Source             `json:"source"`
	DiscountsUnavailable bool               `json:"discountsUnavailable,omitempty"`
	Warnings             []string           `json:"warnings,omitempty"`
}

// NewResponse converts a Result into its JSON representation.
// Intermediate amounts are rounded to 2 places for display only.
func NewResponse(result Result, currency string) Response {
	b := result.Breakdown
	lines := make([]LineResponse, 0, len(b.Lines))
	for _, l := range b.Lines {
		lines = append(lines, LineResponse{
			MealType:  l.MealType,
			UnitPrice: pricing.Round(l.UnitPrice).InexactFloat64(),
			Weekly:    pricing.Round(l.Weekly).InexactFloat64(),
		})
	}
	discounts := make([]DiscountResponse, 0, len(b.Discounts))
	for _, d := range b.Discounts {
		discounts = append(discounts, DiscountResponse{
			Type:       string(d.Type),
			RuleID:     d.RuleID,
			Condition:  d.Condition,
			Percentage: d.Percentage.InexactFloat64(),
			Amount:     pricing.Round(d.Amount).InexactFloat64(),
		})
	}
	mealTypes := b.MealTypes
	if mealTypes == nil {
		mealTypes = []string{}
	}
	source := result.Source
	if source == "" {
		source = SourceEngine
	}
	return Response{
		Plan:                 b.PlanName,
		MealTypes:            mealTypes,
		DaysPerWeek:          b.DaysPerWeek,
		DurationWeeks:        b.DurationWeeks,
		Currency:             currency,
		Lines:                lines,
		BaseWeekly:           pricing.Round(b.BaseWeekly).InexactFloat64(),
		FinalWeekly:          pricing.Round(b.FinalWeekly).InexactFloat64(),
		DiscountsApplied:     discounts,
		TotalRoundedMAD:      b.TotalRounded.InexactFloat64(),
		PricePerWeek:         b.PricePerWeek.InexactFloat64(),
		PricePerDay:          b.PricePerDay.InexactFloat64(),
		Source:               source,
		DiscountsUnavailable: result.DiscountsUnavailable,
		Warnings:             result.Warnings,
	}
}
