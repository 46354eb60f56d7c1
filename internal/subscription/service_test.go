package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-mealkit/internal/common"
	"github.com/noah-isme/backend-mealkit/internal/lock"
	"github.com/noah-isme/backend-mealkit/internal/pricing"
	"github.com/noah-isme/backend-mealkit/internal/quote"
	"github.com/noah-isme/backend-mealkit/internal/repo"
)

var (
	testUser    = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	testVariant = uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
	testPlan    = uuid.MustParse("cccccccc-cccc-cccc-cccc-cccccccccccc")
)

type stubStore struct {
	variants map[uuid.UUID]repo.PlanVariant
	created  []repo.CreateSubscriptionParams
	err      error
}

func newStubStore() *stubStore {
	return &stubStore{variants: map[uuid.UUID]repo.PlanVariant{
		testVariant: {
			ID:          testVariant,
			PlanID:      testPlan,
			PlanName:    "Weight Loss",
			DaysPerWeek: 5,
			MealsPerDay: 2,
			PriceWeekly: decimal.NewFromInt(480),
		},
	}}
}

func (s *stubStore) GetPlanVariant(_ context.Context, id uuid.UUID) (repo.PlanVariant, error) {
	v, ok := s.variants[id]
	if !ok {
		return repo.PlanVariant{}, repo.ErrNotFound
	}
	return v, nil
}

func (s *stubStore) CreateSubscription(_ context.Context, params repo.CreateSubscriptionParams) (repo.SubscriptionRecord, error) {
	if s.err != nil {
		return repo.SubscriptionRecord{}, s.err
	}
	s.created = append(s.created, params)
	ids := make([]uuid.UUID, params.DurationWeeks)
	for i := range ids {
		ids[i] = uuid.New()
	}
	return repo.SubscriptionRecord{
		ID:          uuid.New(),
		OrderID:     uuid.New(),
		DeliveryIDs: ids,
		Status:      repo.SubscriptionStatusActive,
		StartDate:   params.StartDate,
		EndDate:     repo.EndDate(params.StartDate, params.DurationWeeks),
		CreatedAt:   params.StartDate,
	}, nil
}

type stubQuoter struct {
	prices []pricing.MealPrice
	rules  []pricing.DiscountRule
	plan   repo.Plan
}

func (q *stubQuoter) QuotePlan(_ context.Context, plan repo.Plan, in quote.Input) (quote.Result, error) {
	q.plan = plan
	b, err := pricing.Calculate(q.prices, q.rules, pricing.Request{
		PlanName:                plan.Name,
		MealTypes:               in.MealTypes,
		DaysPerWeek:             in.DaysPerWeek,
		DurationWeeks:           in.DurationWeeks,
		AdminDiscountPercentage: in.AdminDiscountPercentage,
	})
	if err != nil {
		return quote.Result{}, err
	}
	return quote.Result{Breakdown: b, Source: quote.SourceEngine}, nil
}

func newQuoter() *stubQuoter {
	return &stubQuoter{
		prices: []pricing.MealPrice{
			{MealType: "Breakfast", BasePrice: decimal.NewFromInt(45)},
			{MealType: "Lunch", BasePrice: decimal.NewFromInt(55)},
		},
		rules: []pricing.DiscountRule{
			{Type: pricing.DiscountDayCount, ConditionValue: 5, Percentage: decimal.NewFromInt(3)},
			{Type: pricing.DiscountDuration, ConditionValue: 4, Percentage: decimal.NewFromInt(10)},
		},
	}
}

func newService(store Store, quoter Quoter) *Service {
	return &Service{
		Store:  store,
		Quotes: quoter,
		Now:    func() time.Time { return time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC) },
		Logger: zerolog.Nop(),
	}
}

func validInput() Input {
	return Input{
		UserID:        testUser,
		PlanVariantID: testVariant,
		MealTypes:     []string{"Breakfast", "Lunch"},
		DaysPerWeek:   5,
		DurationWeeks: 4,
	}
}

func TestCreateStoresMinorUnits(t *testing.T) {
	store := newStubStore()
	quoter := newQuoter()
	svc := newService(store, quoter)

	out, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	require.Len(t, store.created, 1)
	params := store.created[0]
	require.Equal(t, int64(174600), params.TotalMinor)
	require.Equal(t, int64(43650), params.PricePerWeekMinor)
	require.Equal(t, "engine", params.PricingSource)
	require.Equal(t, "MAD", params.Currency)
	require.Equal(t, testPlan, quoter.plan.ID)

	var stored quote.Response
	require.NoError(t, json.Unmarshal(params.Breakdown, &stored))
	require.Equal(t, 1746.0, stored.TotalRoundedMAD)

	require.Equal(t, int64(174600), out.TotalMinor)
	require.Equal(t, 4, out.Deliveries)
	require.Equal(t, "2025-03-03", out.StartDate)
	require.Equal(t, "2025-03-30", out.EndDate)
	require.Equal(t, quote.SourceEngine, out.Pricing.Source)
}

func TestCreateFallsBackToVariantPrice(t *testing.T) {
	store := newStubStore()
	svc := newService(store, newQuoter())
	in := validInput()
	in.MealTypes = []string{"Dinner"}

	out, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, quote.SourcePlanVariantFallback, out.Pricing.Source)
	require.Equal(t, int64(192000), store.created[0].TotalMinor)
	require.Equal(t, "plan_variant_fallback", store.created[0].PricingSource)
}

func TestCreateAdminOverridePrice(t *testing.T) {
	store := newStubStore()
	svc := newService(store, newQuoter())
	in := validInput()
	override := decimal.RequireFromString("1500.50")
	in.AdminOverridePrice = &override
	in.StartDate = "2025-04-07"

	out, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, quote.SourceAdminOverridePrice, out.Pricing.Source)
	require.Equal(t, int64(150050), store.created[0].TotalMinor)
	require.Equal(t, "2025-04-07", out.StartDate)
}

func TestCreateRejectsOverrideAboveBase(t *testing.T) {
	store := newStubStore()
	svc := newService(store, newQuoter())
	in := validInput()
	override := decimal.NewFromInt(2500)
	in.AdminOverridePrice = &override

	_, err := svc.Create(context.Background(), in)
	require.ErrorIs(t, err, pricing.ErrInvalidInput)
	require.Empty(t, store.created)
}

type missingPricesQuoter struct{}

func (missingPricesQuoter) QuotePlan(context.Context, repo.Plan, quote.Input) (quote.Result, error) {
	return quote.Result{}, pricing.ErrMissingPriceData
}

func TestPriceFallbackPropagatesMealTypeError(t *testing.T) {
	store := newStubStore()
	svc := newService(store, missingPricesQuoter{})
	in := validInput()
	in.MealTypes = []string{"  "}

	_, err := svc.price(context.Background(), store.variants[testVariant], in)
	require.ErrorIs(t, err, pricing.ErrInvalidInput)
}

func TestCreateRejections(t *testing.T) {
	svc := newService(newStubStore(), newQuoter())

	unknown := validInput()
	unknown.PlanVariantID = uuid.New()
	_, err := svc.Create(context.Background(), unknown)
	require.ErrorIs(t, err, ErrVariantNotFound)

	mismatch := validInput()
	mismatch.DaysPerWeek = 3
	_, err = svc.Create(context.Background(), mismatch)
	require.ErrorIs(t, err, pricing.ErrInvalidInput)

	missing := validInput()
	missing.MealTypes = nil
	_, err = svc.Create(context.Background(), missing)
	require.True(t, common.IsAppError(err))

	tooMuch := decimal.NewFromInt(150)
	admin := validInput()
	admin.AdminDiscountPercentage = &tooMuch
	_, err = svc.Create(context.Background(), admin)
	require.ErrorIs(t, err, pricing.ErrInvalidInput)
}

func TestCreateMapsConflict(t *testing.T) {
	store := newStubStore()
	store.err = errors.Join(repo.ErrConflict, errors.New("duplicate key"))
	svc := newService(store, newQuoter())

	_, err := svc.Create(context.Background(), validInput())
	require.ErrorIs(t, err, ErrConflict)
}

func TestCreateBusyWhileLocked(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, mr.Set(lock.Key("subscription", testUser.String()), "held"))

	store := newStubStore()
	svc := newService(store, newQuoter())
	svc.Locker = lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond, Wait: 20 * time.Millisecond}
	svc.LockTTL = time.Second

	_, err := svc.Create(context.Background(), validInput())
	require.ErrorIs(t, err, ErrBusy)
	require.Empty(t, store.created)

	mr.Del(lock.Key("subscription", testUser.String()))
	_, err = svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	require.Len(t, store.created, 1)
}

func TestCreateHandler(t *testing.T) {
	h := &Handler{Svc: newService(newStubStore(), newQuoter()), Logger: zerolog.Nop()}

	body := `{"user_id":"` + testUser.String() + `","plan_variant_id":"` + testVariant.String() + `","meal_types":["Breakfast","Lunch"],"days_per_week":5,"duration_weeks":4}`
	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/subscriptions", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Data Output `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, int64(174600), created.Data.TotalMinor)

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"invalid payload", `{"user_id":"` + testUser.String() + `","meal_types":[]}`, http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown variant", `{"user_id":"` + testUser.String() + `","plan_variant_id":"` + uuid.NewString() + `","meal_types":["Lunch"],"days_per_week":5,"duration_weeks":1}`, http.StatusNotFound, "NOT_FOUND"},
		{"bad start date", `{"user_id":"` + testUser.String() + `","plan_variant_id":"` + testVariant.String() + `","meal_types":["Lunch"],"days_per_week":5,"duration_weeks":1,"start_date":"03/03/2025"}`, http.StatusBadRequest, "INVALID_INPUT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/subscriptions", strings.NewReader(tc.body)))
			require.Equal(t, tc.status, rec.Code)
			var env struct {
				Error common.ErrorBody `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			require.Equal(t, tc.code, env.Error.Code)
		})
	}
}
