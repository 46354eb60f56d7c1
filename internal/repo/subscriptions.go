package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	// SubscriptionStatusActive is the status given to newly created subscriptions.
	SubscriptionStatusActive = "active"
	// OrderStatusConfirmed is the status of the order row created with a subscription.
	OrderStatusConfirmed = "confirmed"
	// DeliveryStatusScheduled is the initial status of each weekly delivery.
	DeliveryStatusScheduled = "scheduled"
)

// CreateSubscriptionParams describes a priced subscription ready to persist.
// Amounts are integer minor units.
type CreateSubscriptionParams struct {
	UserID            uuid.UUID
	PlanVariantID     uuid.UUID
	MealTypes         []string
	DaysPerWeek       int
	DurationWeeks     int
	StartDate         time.Time
	TotalMinor        int64
	PricePerWeekMinor int64
	Currency          string
	PricingSource     string
	Breakdown         []byte
	Notes             string
}

// SubscriptionRecord is the outcome of a persisted subscription.
type SubscriptionRecord struct {
	ID          uuid.UUID   `json:"id"`
	OrderID     uuid.UUID   `json:"orderId"`
	DeliveryIDs []uuid.UUID `json:"deliveryIds"`
	Status      string      `json:"status"`
	StartDate   time.Time   `json:"startDate"`
	EndDate     time.Time   `json:"endDate"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// DeliveryDates returns one delivery date per week starting at start.
func DeliveryDates(start time.Time, weeks int) []time.Time {
	if weeks <= 0 {
		return nil
	}
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	dates := make([]time.Time, weeks)
	for i := range dates {
		dates[i] = day.AddDate(0, 0, 7*i)
	}
	return dates
}

// EndDate is the last day covered by a subscription of the given length.
func EndDate(start time.Time, weeks int) time.Time {
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, 7*weeks-1)
}

// CreateSubscription inserts the subscription, its order and one delivery per week in a single transaction.
func (s *Store) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (SubscriptionRecord, error) {
	if err := s.ready(); err != nil {
		return SubscriptionRecord{}, err
	}
	if params.DurationWeeks <= 0 {
		return SubscriptionRecord{}, errors.New("repo: duration weeks must be positive")
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return SubscriptionRecord{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	start := DeliveryDates(params.StartDate, 1)[0]
	record := SubscriptionRecord{
		Status:    SubscriptionStatusActive,
		StartDate: start,
		EndDate:   EndDate(start, params.DurationWeeks),
	}
	breakdown := params.Breakdown
	if len(breakdown) == 0 {
		breakdown = []byte("{}")
	}

	err = tx.QueryRow(ctx, `INSERT INTO subscriptions
(user_id, plan_variant_id, meal_types, days_per_week, duration_weeks, start_date, end_date, status,
 total_price_minor, price_per_week_minor, currency, pricing_source, pricing_breakdown, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''))
RETURNING id, created_at`,
		params.UserID, params.PlanVariantID, params.MealTypes, params.DaysPerWeek, params.DurationWeeks,
		record.StartDate, record.EndDate, record.Status,
		params.TotalMinor, params.PricePerWeekMinor, params.Currency, params.PricingSource, breakdown, params.Notes,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return SubscriptionRecord{}, fmt.Errorf("insert subscription: %w", mapError(err))
	}

	err = tx.QueryRow(ctx, `INSERT INTO orders (subscription_id, user_id, status, total_minor, currency)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`, record.ID, params.UserID, OrderStatusConfirmed, params.TotalMinor, params.Currency).Scan(&record.OrderID)
	if err != nil {
		return SubscriptionRecord{}, fmt.Errorf("insert order: %w", mapError(err))
	}

	dates := DeliveryDates(start, params.DurationWeeks)
	record.DeliveryIDs = make([]uuid.UUID, 0, len(dates))
	for i, date := range dates {
		var id uuid.UUID
		err := tx.QueryRow(ctx, `INSERT INTO deliveries (subscription_id, order_id, week_number, scheduled_date, status)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`, record.ID, record.OrderID, i+1, date, DeliveryStatusScheduled).Scan(&id)
		if err != nil {
			return SubscriptionRecord{}, fmt.Errorf("insert delivery %d: %w", i+1, mapError(err))
		}
		record.DeliveryIDs = append(record.DeliveryIDs, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return SubscriptionRecord{}, err
	}
	return record, nil
}
