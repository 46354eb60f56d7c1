// Package harness runs pricing scenarios described in YAML through the pricing
// engine and reports where the computed totals disagree with the expected ones.
package harness

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/backend-mealkit/internal/pricing"
)

// Suite is one scenario file: reference prices, discount tiers and the cases to check.
type Suite struct {
	Prices    map[string]decimal.Decimal `yaml:"prices"`
	Rules     []Rule                     `yaml:"rules"`
	Scenarios []Scenario                 `yaml:"scenarios"`
}

// Rule is a discount tier as written in a scenario file.
type Rule struct {
	ID         string          `yaml:"id"`
	Type       string          `yaml:"type"`
	Condition  int             `yaml:"condition"`
	Percentage decimal.Decimal `yaml:"percentage"`
	Stackable  *bool           `yaml:"stackable"`
}

// Scenario is a single pricing case.
type Scenario struct {
	Name          string           `yaml:"name"`
	Plan          string           `yaml:"plan"`
	Meals         []string         `yaml:"meals"`
	Days          int              `yaml:"days"`
	Duration      int              `yaml:"duration"`
	AdminDiscount *decimal.Decimal `yaml:"admin_discount"`
	Expect        Expectation      `yaml:"expect"`
}

// Expectation lists the values a scenario must produce. Empty fields are not checked.
type Expectation struct {
	Total   *decimal.Decimal `yaml:"total"`
	PerWeek *decimal.Decimal `yaml:"per_week"`
	PerDay  *decimal.Decimal `yaml:"per_day"`
	// Error is one of invalid_input or missing_price_data.
	Error string `yaml:"error"`
}

// Outcome is the result of running one scenario.
type Outcome struct {
	Name      string
	Passed    bool
	Breakdown pricing.Breakdown
	Err       error
	Problems  []string
}

// Parse decodes a scenario file.
func Parse(data []byte) (Suite, error) {
	var suite Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return Suite{}, fmt.Errorf("parse scenarios: %w", err)
	}
	if len(suite.Scenarios) == 0 {
		return Suite{}, errors.New("parse scenarios: no scenarios defined")
	}
	for i, sc := range suite.Scenarios {
		if strings.TrimSpace(sc.Name) == "" {
			return Suite{}, fmt.Errorf("parse scenarios: scenario %d has no name", i+1)
		}
	}
	return suite, nil
}

// Load reads and parses a scenario file from disk.
func Load(path string) (Suite, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Suite{}, fmt.Errorf("read scenarios: %w", err)
	}
	return Parse(data)
}

// MealPrices converts the suite's price table for the engine.
func (s Suite) MealPrices() []pricing.MealPrice {
	out := make([]pricing.MealPrice, 0, len(s.Prices))
	for meal, price := range s.Prices {
		out = append(out, pricing.MealPrice{MealType: meal, BasePrice: price})
	}
	return out
}

// DiscountRules converts the suite's tiers for the engine.
func (s Suite) DiscountRules() ([]pricing.DiscountRule, error) {
	out := make([]pricing.DiscountRule, 0, len(s.Rules))
	for i, r := range s.Rules {
		kind, err := pricing.ParseDiscountType(r.Type)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		stackable := true
		if r.Stackable != nil {
			stackable = *r.Stackable
		}
		out = append(out, pricing.DiscountRule{
			ID:             r.ID,
			Type:           kind,
			ConditionValue: r.Condition,
			Percentage:     r.Percentage,
			Stackable:      stackable,
		})
	}
	return out, nil
}

// Request builds the engine request for a scenario.
func (sc Scenario) Request() pricing.Request {
	return pricing.Request{
		PlanName:                sc.Plan,
		MealTypes:               sc.Meals,
		DaysPerWeek:             sc.Days,
		DurationWeeks:           sc.Duration,
		AdminDiscountPercentage: sc.AdminDiscount,
	}
}

// Run prices every scenario in the suite with the local engine.
func Run(suite Suite) ([]Outcome, error) {
	rules, err := suite.DiscountRules()
	if err != nil {
		return nil, err
	}
	prices := suite.MealPrices()
	outcomes := make([]Outcome, 0, len(suite.Scenarios))
	for _, sc := range suite.Scenarios {
		breakdown, calcErr := pricing.Calculate(prices, rules, sc.Request())
		outcomes = append(outcomes, Check(sc, breakdown, calcErr))
	}
	return outcomes, nil
}

// Check compares a computed breakdown, or the error that replaced it, with the scenario's expectation.
func Check(sc Scenario, breakdown pricing.Breakdown, err error) Outcome {
	out := Outcome{Name: sc.Name, Breakdown: breakdown, Err: err}
	want := sc.Expect
	if want.Error != "" {
		if got := ErrorCode(err); got != want.Error {
			out.Problems = append(out.Problems, fmt.Sprintf("error: want %s, got %s", want.Error, valueOrNone(got)))
		}
		out.Passed = len(out.Problems) == 0
		return out
	}
	if err != nil {
		out.Problems = append(out.Problems, "unexpected error: "+err.Error())
		return out
	}
	compare := func(field string, want *decimal.Decimal, got decimal.Decimal) {
		if want != nil && !want.Equal(got) {
			out.Problems = append(out.Problems, fmt.Sprintf("%s: want %s, got %s", field, want.StringFixed(2), got.StringFixed(2)))
		}
	}
	compare("total", want.Total, breakdown.TotalRounded)
	compare("per_week", want.PerWeek, breakdown.PricePerWeek)
	compare("per_day", want.PerDay, breakdown.PricePerDay)
	out.Passed = len(out.Problems) == 0
	return out
}

// ErrorCode maps engine errors to the codes used in scenario files.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, pricing.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, pricing.ErrMissingPriceData):
		return "missing_price_data"
	case errors.Is(err, pricing.ErrUnknownPlan):
		return "unknown_plan"
	default:
		return "error"
	}
}

// Failed counts outcomes that did not pass.
func Failed(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if !o.Passed {
			n++
		}
	}
	return n
}

func valueOrNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
