package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-mealkit/internal/pricing"
)

// DiscountRuleRecord is a stored discount tier.
type DiscountRuleRecord struct {
	ID             uuid.UUID       `json:"id"`
	Type           string          `json:"type"`
	ConditionValue int             `json:"conditionValue"`
	Percentage     decimal.Decimal `json:"percentage"`
	Stackable      bool            `json:"stackable"`
	IsActive       bool            `json:"isActive"`
	ValidFrom      *time.Time      `json:"validFrom,omitempty"`
	ValidTo        *time.Time      `json:"validTo,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// DiscountRuleParams carries the writable columns of a discount rule.
type DiscountRuleParams struct {
	Type           string
	ConditionValue int
	Percentage     decimal.Decimal
	Stackable      bool
	IsActive       bool
	ValidFrom      *time.Time
	ValidTo        *time.Time
}

const discountColumns = `id, type, condition_value, percentage, stackable, is_active, valid_from, valid_to, created_at, updated_at`

// ListActiveDiscountRules returns the active rules whose window has not closed at the given time,
// including rules that only start later. Each rule carries its window; callers filter with
// pricing.DiscountRule.ActiveAt so a cached set stays correct as windows open and close.
// Rows whose type is not a tiered discount type are skipped.
func (s *Store) ListActiveDiscountRules(ctx context.Context, at time.Time) ([]pricing.DiscountRule, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT id, type, condition_value, percentage, stackable, valid_from, valid_to FROM discount_rules
WHERE is_active
  AND (valid_to IS NULL OR valid_to > $1)
ORDER BY type, condition_value`, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]pricing.DiscountRule, 0, 8)
	for rows.Next() {
		var (
			id   uuid.UUID
			kind string
			rule pricing.DiscountRule
		)
		if err := rows.Scan(&id, &kind, &rule.ConditionValue, &rule.Percentage, &rule.Stackable, &rule.ValidFrom, &rule.ValidTo); err != nil {
			return nil, err
		}
		parsed, err := pricing.ParseDiscountType(kind)
		if err != nil {
			continue
		}
		rule.ID = id.String()
		rule.Type = parsed
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// ListDiscountRules returns every stored rule, newest first.
func (s *Store) ListDiscountRules(ctx context.Context) ([]DiscountRuleRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+discountColumns+` FROM discount_rules ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]DiscountRuleRecord, 0, 16)
	for rows.Next() {
		record, err := scanDiscountRule(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// CreateDiscountRule inserts a rule and returns the stored row.
func (s *Store) CreateDiscountRule(ctx context.Context, params DiscountRuleParams) (DiscountRuleRecord, error) {
	if err := s.ready(); err != nil {
		return DiscountRuleRecord{}, err
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO discount_rules (type, condition_value, percentage, stackable, is_active, valid_from, valid_to)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+discountColumns,
		params.Type, params.ConditionValue, params.Percentage, params.Stackable, params.IsActive, params.ValidFrom, params.ValidTo)
	record, err := scanDiscountRule(row)
	if err != nil {
		return DiscountRuleRecord{}, mapError(err)
	}
	return record, nil
}

// UpdateDiscountRule replaces the writable columns of a rule.
func (s *Store) UpdateDiscountRule(ctx context.Context, id uuid.UUID, params DiscountRuleParams) (DiscountRuleRecord, error) {
	if err := s.ready(); err != nil {
		return DiscountRuleRecord{}, err
	}
	row := s.pool.QueryRow(ctx, `UPDATE discount_rules
SET type = $2, condition_value = $3, percentage = $4, stackable = $5, is_active = $6, valid_from = $7, valid_to = $8, updated_at = now()
WHERE id = $1
RETURNING `+discountColumns,
		id, params.Type, params.ConditionValue, params.Percentage, params.Stackable, params.IsActive, params.ValidFrom, params.ValidTo)
	record, err := scanDiscountRule(row)
	if err != nil {
		return DiscountRuleRecord{}, mapError(err)
	}
	return record, nil
}

// DeactivateDiscountRule marks a rule inactive. Rules are never hard-deleted.
func (s *Store) DeactivateDiscountRule(ctx context.Context, id uuid.UUID) error {
	if err := s.ready(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE discount_rules SET is_active = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanDiscountRule(row pgx.Row) (DiscountRuleRecord, error) {
	var r DiscountRuleRecord
	err := row.Scan(&r.ID, &r.Type, &r.ConditionValue, &r.Percentage, &r.Stackable, &r.IsActive, &r.ValidFrom, &r.ValidTo, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}
