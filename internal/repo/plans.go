package repo

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-mealkit/internal/pricing"
)

// Plan is an active meal plan.
type Plan struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Slug string    `json:"slug"`
}

// PlanVariant is a days-per-week and meals-per-day combination offered under a plan.
type PlanVariant struct {
	ID          uuid.UUID       `json:"id"`
	PlanID      uuid.UUID       `json:"planId"`
	PlanName    string          `json:"planName"`
	DaysPerWeek int             `json:"daysPerWeek"`
	MealsPerDay int             `json:"mealsPerDay"`
	PriceWeekly decimal.Decimal `json:"priceWeekly"`
}

// GetPlanByName resolves an active plan by its name or slug, ignoring case.
func (s *Store) GetPlanByName(ctx context.Context, name string) (Plan, error) {
	if err := s.ready(); err != nil {
		return Plan{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Plan{}, ErrNotFound
	}
	var plan Plan
	err := s.pool.QueryRow(ctx, `SELECT id, name, slug FROM meal_plans
WHERE is_active AND (lower(name) = lower($1) OR lower(slug) = lower($1))
ORDER BY created_at
LIMIT 1`, name).Scan(&plan.ID, &plan.Name, &plan.Slug)
	if err != nil {
		return Plan{}, mapError(err)
	}
	return plan, nil
}

// GetPlanVariant fetches a plan variant together with its plan name.
func (s *Store) GetPlanVariant(ctx context.Context, id uuid.UUID) (PlanVariant, error) {
	if err := s.ready(); err != nil {
		return PlanVariant{}, err
	}
	var v PlanVariant
	err := s.pool.QueryRow(ctx, `SELECT v.id, v.plan_id, p.name, v.days_per_week, v.meals_per_day, v.price_weekly
FROM plan_variants v
JOIN meal_plans p ON p.id = v.plan_id
WHERE v.id = $1 AND v.is_active AND p.is_active`, id).Scan(&v.ID, &v.PlanID, &v.PlanName, &v.DaysPerWeek, &v.MealsPerDay, &v.PriceWeekly)
	if err != nil {
		return PlanVariant{}, mapError(err)
	}
	return v, nil
}

// ListMealPrices returns base prices of the requested meal types for a plan.
// Missing meal types are simply absent from the result.
func (s *Store) ListMealPrices(ctx context.Context, planID uuid.UUID, mealTypes []string) ([]pricing.MealPrice, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	keys := normalizeMealTypes(mealTypes)
	if len(keys) == 0 {
		return []pricing.MealPrice{}, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT meal_type, base_price FROM meal_type_prices
WHERE plan_id = $1 AND lower(meal_type) = ANY($2)
ORDER BY created_at`, planID, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prices := make([]pricing.MealPrice, 0, len(keys))
	for rows.Next() {
		var p pricing.MealPrice
		if err := rows.Scan(&p.MealType, &p.BasePrice); err != nil {
			return nil, err
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}
