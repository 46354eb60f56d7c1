package pricing

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func weightLossPrices() []MealPrice {
	return []MealPrice{
		{MealType: "Breakfast", BasePrice: d("45")},
		{MealType: "Lunch", BasePrice: d("55")},
		{MealType: "Dinner", BasePrice: d("60")},
	}
}

func TestCalculateSingleMealNoDiscounts(t *testing.T) {
	out, err := Calculate(weightLossPrices(), nil, Request{
		PlanName:      "Weight Loss",
		MealTypes:     []string{"Breakfast"},
		DaysPerWeek:   3,
		DurationWeeks: 1,
	})
	require.NoError(t, err)
	require.True(t, out.BaseWeekly.Equal(d("135")))
	require.True(t, out.FinalWeekly.Equal(out.BaseWeekly))
	require.True(t, out.TotalRounded.Equal(d("135")))
	require.True(t, out.PricePerWeek.Equal(d("135")))
	require.True(t, out.PricePerDay.Equal(d("45")))
	require.NotNil(t, out.Discounts)
	require.Empty(t, out.Discounts)
}

func TestCalculateCompoundsDayCountThenDuration(t *testing.T) {
	rules := []DiscountRule{
		{ID: "dc5", Type: DiscountDayCount, ConditionValue: 5, Percentage: d("3")},
		{ID: "dur4", Type: DiscountDuration, ConditionValue: 4, Percentage: d("10")},
	}
	out, err := Calculate(weightLossPrices(), rules, Request{
		PlanName:      "Weight Loss",
		MealTypes:     []string{"Breakfast", "Lunch"},
		DaysPerWeek:   5,
		DurationWeeks: 4,
	})
	require.NoError(t, err)
	require.True(t, out.BaseWeekly.Equal(d("500")))
	require.Len(t, out.Discounts, 2)
	require.Equal(t, DiscountDayCount, out.Discounts[0].Type)
	require.Equal(t, "dc5", out.Discounts[0].RuleID)
	require.True(t, out.Discounts[0].Amount.Equal(d("15")))
	require.Equal(t, DiscountDuration, out.Discounts[1].Type)
	require.True(t, out.Discounts[1].Amount.Equal(d("48.5")))
	require.True(t, out.FinalWeekly.Equal(d("436.5")))
	require.True(t, out.TotalRounded.Equal(d("1746")))
	require.True(t, out.PricePerWeek.Equal(d("436.5")))
	require.True(t, out.PricePerDay.Equal(d("87.3")))
}

func TestCalculateCompoundsRatherThanSums(t *testing.T) {
	prices := []MealPrice{{MealType: "Lunch", BasePrice: d("20")}}
	rules := []DiscountRule{
		{Type: DiscountDayCount, ConditionValue: 5, Percentage: d("10")},
		{Type: DiscountDuration, ConditionValue: 1, Percentage: d("5")},
	}
	out, err := Calculate(prices, rules, Request{MealTypes: []string{"Lunch"}, DaysPerWeek: 5, DurationWeeks: 1})
	require.NoError(t, err)
	require.True(t, out.BaseWeekly.Equal(d("100")))
	require.True(t, out.FinalWeekly.Equal(d("85.5")), out.FinalWeekly.String())
}

func TestCalculateAdminOverrideAppliesLast(t *testing.T) {
	admin := d("20")
	rules := []DiscountRule{{Type: DiscountDayCount, ConditionValue: 5, Percentage: d("10")}}
	out, err := Calculate([]MealPrice{{MealType: "Lunch", BasePrice: d("20")}}, rules, Request{
		MealTypes:               []string{"lunch"},
		DaysPerWeek:             5,
		DurationWeeks:           2,
		AdminDiscountPercentage: &admin,
	})
	require.NoError(t, err)
	require.Len(t, out.Discounts, 2)
	require.Equal(t, DiscountAdminOverride, out.Discounts[1].Type)
	require.True(t, out.Discounts[1].Amount.Equal(d("18")))
	require.True(t, out.FinalWeekly.Equal(d("72")))
	require.True(t, out.TotalRounded.Equal(d("144")))
}

func TestCalculateFullAdminDiscountReachesZero(t *testing.T) {
	admin := d("100")
	out, err := Calculate(weightLossPrices(), nil, Request{
		MealTypes:               []string{"Dinner"},
		DaysPerWeek:             7,
		DurationWeeks:           1,
		AdminDiscountPercentage: &admin,
	})
	require.NoError(t, err)
	require.True(t, out.FinalWeekly.IsZero())
	require.True(t, out.TotalRounded.IsZero())
	require.True(t, out.PricePerDay.IsZero())
}

func TestCalculateRoundsHalfAwayFromZero(t *testing.T) {
	prices := []MealPrice{{MealType: "Snack", BasePrice: d("10.005")}}
	out, err := Calculate(prices, nil, Request{MealTypes: []string{"Snack"}, DaysPerWeek: 1, DurationWeeks: 1})
	require.NoError(t, err)
	require.True(t, out.TotalRounded.Equal(d("10.01")), out.TotalRounded.String())
}

func TestCalculateUnknownMealType(t *testing.T) {
	_, err := Calculate(weightLossPrices(), nil, Request{MealTypes: []string{"Brunch"}, DaysPerWeek: 3, DurationWeeks: 1})
	require.ErrorIs(t, err, ErrMissingPriceData)
}

func TestCalculateNegativePriceIsMalformed(t *testing.T) {
	prices := []MealPrice{{MealType: "Lunch", BasePrice: d("-1")}}
	_, err := Calculate(prices, nil, Request{MealTypes: []string{"Lunch"}, DaysPerWeek: 3, DurationWeeks: 1})
	require.ErrorIs(t, err, ErrMissingPriceData)
}

func TestCalculateDuplicatePriceFirstWins(t *testing.T) {
	prices := []MealPrice{
		{MealType: "Lunch", BasePrice: d("50")},
		{MealType: "LUNCH", BasePrice: d("99")},
	}
	out, err := Calculate(prices, nil, Request{MealTypes: []string{"Lunch"}, DaysPerWeek: 2, DurationWeeks: 1})
	require.NoError(t, err)
	require.True(t, out.BaseWeekly.Equal(d("100")))
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	tooMuch := d("100.5")
	negative := d("-1")
	cases := map[string]Request{
		"zero days":       {MealTypes: []string{"Lunch"}, DaysPerWeek: 0, DurationWeeks: 1},
		"eight days":      {MealTypes: []string{"Lunch"}, DaysPerWeek: 8, DurationWeeks: 1},
		"zero weeks":      {MealTypes: []string{"Lunch"}, DaysPerWeek: 3, DurationWeeks: 0},
		"no meals":        {MealTypes: []string{" ", ""}, DaysPerWeek: 3, DurationWeeks: 1},
		"admin above 100": {MealTypes: []string{"Lunch"}, DaysPerWeek: 3, DurationWeeks: 1, AdminDiscountPercentage: &tooMuch},
		"admin negative":  {MealTypes: []string{"Lunch"}, DaysPerWeek: 3, DurationWeeks: 1, AdminDiscountPercentage: &negative},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Validate(req)
			require.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)
		})
	}
}

func TestValidateDedupesMealTypes(t *testing.T) {
	req, err := Validate(Request{MealTypes: []string{" Lunch", "lunch", "Dinner", ""}, DaysPerWeek: 1, DurationWeeks: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"Lunch", "Dinner"}, req.MealTypes)
}

func TestSelectTierPicksHighestQualifying(t *testing.T) {
	rules := []DiscountRule{
		{ID: "a", Type: DiscountDuration, ConditionValue: 2, Percentage: d("5")},
		{ID: "b", Type: DiscountDuration, ConditionValue: 4, Percentage: d("10")},
		{ID: "c", Type: DiscountDuration, ConditionValue: 8, Percentage: d("15")},
		{ID: "d", Type: DiscountDayCount, ConditionValue: 1, Percentage: d("50")},
	}
	rule, ok := SelectTier(rules, DiscountDuration, 6)
	require.True(t, ok)
	require.Equal(t, "b", rule.ID)

	_, ok = SelectTier(rules, DiscountDuration, 1)
	require.False(t, ok)
}

func TestSelectTierTieGoesToHigherPercentage(t *testing.T) {
	rules := []DiscountRule{
		{ID: "low", Type: DiscountDayCount, ConditionValue: 5, Percentage: d("3"), Stackable: true},
		{ID: "high", Type: DiscountDayCount, ConditionValue: 5, Percentage: d("4"), Stackable: true},
		{ID: "bad", Type: DiscountDayCount, ConditionValue: 5, Percentage: d("140")},
	}
	rule, ok := SelectTier(rules, DiscountDayCount, 7)
	require.True(t, ok)
	require.Equal(t, "high", rule.ID)
}

func TestCalculateZeroPercentRuleNotRecorded(t *testing.T) {
	rules := []DiscountRule{{Type: DiscountDuration, ConditionValue: 1, Percentage: decimal.Zero}}
	out, err := Calculate(weightLossPrices(), rules, Request{MealTypes: []string{"Lunch"}, DaysPerWeek: 1, DurationWeeks: 1})
	require.NoError(t, err)
	require.Empty(t, out.Discounts)
}

func TestCalculateIsDeterministic(t *testing.T) {
	rules := []DiscountRule{
		{Type: DiscountDayCount, ConditionValue: 3, Percentage: d("2.5")},
		{Type: DiscountDuration, ConditionValue: 2, Percentage: d("7.25")},
	}
	req := Request{MealTypes: []string{"Breakfast", "Dinner"}, DaysPerWeek: 6, DurationWeeks: 3}
	first, err := Calculate(weightLossPrices(), rules, req)
	require.NoError(t, err)
	second, err := Calculate(weightLossPrices(), rules, req)
	require.NoError(t, err)
	require.True(t, first.TotalRounded.Equal(second.TotalRounded))
	require.True(t, first.FinalWeekly.LessThanOrEqual(first.BaseWeekly))
	require.True(t, first.TotalRounded.Equal(Round(first.FinalWeekly.Mul(decimal.NewFromInt(3)))))
}

func TestParseDiscountType(t *testing.T) {
	kind, err := ParseDiscountType(" Duration ")
	require.NoError(t, err)
	require.Equal(t, DiscountDuration, kind)

	_, err = ParseDiscountType("admin_override")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestMinorUnits(t *testing.T) {
	require.Equal(t, int64(174600), ToMinorUnits(d("1746")))
	require.Equal(t, int64(8731), ToMinorUnits(d("87.305")))
	require.True(t, FromMinorUnits(174650).Equal(d("1746.5")))
}

func TestCalculateStacksTypesWhenRulesAreNotStackable(t *testing.T) {
	rules := []DiscountRule{
		{ID: "dc5", Type: DiscountDayCount, ConditionValue: 5, Percentage: d("3"), Stackable: false},
		{ID: "dur4", Type: DiscountDuration, ConditionValue: 4, Percentage: d("10"), Stackable: false},
	}
	out, err := Calculate(weightLossPrices(), rules, Request{MealTypes: []string{"Breakfast", "Lunch"}, DaysPerWeek: 5, DurationWeeks: 4})
	require.NoError(t, err)
	require.Len(t, out.Discounts, 2)
	require.Equal(t, "dc5", out.Discounts[0].RuleID)
	require.Equal(t, "dur4", out.Discounts[1].RuleID)
	require.True(t, out.TotalRounded.Equal(d("1746")))
}

func TestCalculateAppliesOneTierPerTypeEvenWhenStackable(t *testing.T) {
	rules := []DiscountRule{
		{ID: "dur4", Type: DiscountDuration, ConditionValue: 4, Percentage: d("10"), Stackable: true},
		{ID: "dur8", Type: DiscountDuration, ConditionValue: 8, Percentage: d("12"), Stackable: true},
	}
	out, err := Calculate(weightLossPrices(), rules, Request{MealTypes: []string{"Breakfast", "Lunch"}, DaysPerWeek: 5, DurationWeeks: 8})
	require.NoError(t, err)
	require.Len(t, out.Discounts, 1)
	require.Equal(t, "dur8", out.Discounts[0].RuleID)
	require.True(t, out.FinalWeekly.Equal(d("440")))
	require.True(t, out.TotalRounded.Equal(d("3520")))
}

func TestActiveRulesHonoursValidityWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	rules := []DiscountRule{
		{ID: "open", Type: DiscountDuration, ConditionValue: 4, Percentage: d("10")},
		{ID: "expired", Type: DiscountDuration, ConditionValue: 4, Percentage: d("20"), ValidTo: &past},
		{ID: "ends-now", Type: DiscountDuration, ConditionValue: 4, Percentage: d("20"), ValidTo: &now},
		{ID: "upcoming", Type: DiscountDayCount, ConditionValue: 5, Percentage: d("3"), ValidFrom: &future},
		{ID: "started", Type: DiscountDayCount, ConditionValue: 5, Percentage: d("4"), ValidFrom: &now, ValidTo: &future},
	}
	active := ActiveRules(rules, now)
	ids := make([]string, 0, len(active))
	for _, r := range active {
		ids = append(ids, r.ID)
	}
	require.Equal(t, []string{"open", "started"}, ids)
	require.True(t, rules[3].ActiveAt(future))
}
