package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-mealkit/internal/pricing"
	"github.com/noah-isme/backend-mealkit/internal/resilience"
)

// Remote prices scenarios against a running API instead of the local engine.
// Scenarios with an admin discount go to the admin preview endpoint and need AdminToken.
type Remote struct {
	BaseURL    string
	AdminToken string
	Client     *http.Client
	// Attempts bounds retries of transport errors and 5xx responses per scenario.
	Attempts int
}

type remoteRequest struct {
	Plan                    string           `json:"plan"`
	Meals                   []string         `json:"meals"`
	Days                    int              `json:"days"`
	Duration                int              `json:"duration"`
	AdminDiscountPercentage *decimal.Decimal `json:"admin_discount_percentage,omitempty"`
}

type remoteEnvelope struct {
	Data struct {
		TotalRoundedMAD decimal.Decimal `json:"totalRoundedMAD"`
		PricePerWeek    decimal.Decimal `json:"pricePerWeek"`
		PricePerDay     decimal.Decimal `json:"pricePerDay"`
		BaseWeekly      decimal.Decimal `json:"baseWeekly"`
		FinalWeekly     decimal.Decimal `json:"finalWeekly"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Run prices every scenario through the remote API.
func (r Remote) Run(ctx context.Context, suite Suite) []Outcome {
	outcomes := make([]Outcome, 0, len(suite.Scenarios))
	for _, sc := range suite.Scenarios {
		breakdown, err := r.Quote(ctx, sc)
		outcomes = append(outcomes, Check(sc, breakdown, err))
	}
	return outcomes
}

// Quote sends one scenario to the API. API error codes are mapped back onto the engine's errors.
func (r Remote) Quote(ctx context.Context, sc Scenario) (pricing.Breakdown, error) {
	path := "/api/v1/pricing/quote"
	if sc.AdminDiscount != nil {
		path = "/api/v1/admin/pricing/preview"
	}
	body, err := json.Marshal(remoteRequest{
		Plan:                    sc.Plan,
		Meals:                   sc.Meals,
		Days:                    sc.Days,
		Duration:                sc.Duration,
		AdminDiscountPercentage: sc.AdminDiscount,
	})
	if err != nil {
		return pricing.Breakdown{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(r.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return pricing.Breakdown{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if sc.AdminDiscount != nil && r.AdminToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.AdminToken)
	}

	client := r.Client
	if client == nil {
		client = &http.Client{}
	}
	resp, err := resilience.HTTPClient{
		Client:      client,
		MaxAttempts: r.Attempts,
		BaseBackoff: 200 * time.Millisecond,
		Jitter:      0.2,
		Timeout:     10 * time.Second,
	}.Do(ctx, req)
	if err != nil {
		return pricing.Breakdown{}, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	var env remoteEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return pricing.Breakdown{}, fmt.Errorf("decode %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return pricing.Breakdown{}, remoteError(resp.StatusCode, env.Error.Code, env.Error.Message)
	}
	return pricing.Breakdown{
		PlanName:      sc.Plan,
		MealTypes:     sc.Meals,
		DaysPerWeek:   sc.Days,
		DurationWeeks: sc.Duration,
		BaseWeekly:    env.Data.BaseWeekly,
		FinalWeekly:   env.Data.FinalWeekly,
		TotalRounded:  env.Data.TotalRoundedMAD,
		PricePerWeek:  env.Data.PricePerWeek,
		PricePerDay:   env.Data.PricePerDay,
	}, nil
}

func remoteError(status int, code, message string) error {
	switch code {
	case "INVALID_INPUT", "INVALID_JSON":
		return fmt.Errorf("%w: %s", pricing.ErrInvalidInput, message)
	case "MISSING_PRICE_DATA":
		return fmt.Errorf("%w: %s", pricing.ErrMissingPriceData, message)
	case "UNKNOWN_PLAN":
		return fmt.Errorf("%w: %s", pricing.ErrUnknownPlan, message)
	default:
		return fmt.Errorf("api returned %d %s: %s", status, code, message)
	}
}
