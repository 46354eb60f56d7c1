package quote

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type quoteEnvelope struct {
	Data  Response `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func doQuote(t *testing.T, handler http.HandlerFunc, body string) (*httptest.ResponseRecorder, quoteEnvelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pricing/quote", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	var env quoteEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestQuoteHandler(t *testing.T) {
	svc := newTestService(t, newFakeStore(), nil)
	handler := NewHandler(HandlerConfig{Service: svc, Logger: zerolog.Nop()})

	t.Run("single meal", func(t *testing.T) {
		rec, env := doQuote(t, handler.Quote, `{"plan":"Weight Loss","meals":["Breakfast"],"days":3,"duration":1}`)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, 135.0, env.Data.TotalRoundedMAD)
		require.Equal(t, 135.0, env.Data.BaseWeekly)
		require.Equal(t, "MAD", env.Data.Currency)
		require.NotNil(t, env.Data.DiscountsApplied)
		require.Empty(t, env.Data.DiscountsApplied)
	})

	t.Run("layered discounts", func(t *testing.T) {
		rec, env := doQuote(t, handler.Quote, `{"plan":"Weight Loss","meals":["Breakfast","Lunch"],"days":5,"duration":4}`)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, 1746.0, env.Data.TotalRoundedMAD)
		require.Equal(t, 436.5, env.Data.FinalWeekly)
		require.Len(t, env.Data.DiscountsApplied, 2)
		require.Equal(t, "day_count", env.Data.DiscountsApplied[0].Type)
		require.Equal(t, 15.0, env.Data.DiscountsApplied[0].Amount)
		require.Equal(t, SourceEngine, env.Data.Source)
	})

	t.Run("unknown meal", func(t *testing.T) {
		rec, env := doQuote(t, handler.Quote, `{"plan":"Weight Loss","meals":["Brunch"],"days":3,"duration":1}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "MISSING_PRICE_DATA", env.Error.Code)
		require.Contains(t, env.Error.Message, "Brunch")
	})

	t.Run("unknown plan", func(t *testing.T) {
		rec, env := doQuote(t, handler.Quote, `{"plan":"Paleo","meals":["Lunch"],"days":3,"duration":1}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "UNKNOWN_PLAN", env.Error.Code)
	})

	t.Run("out of range days", func(t *testing.T) {
		rec, env := doQuote(t, handler.Quote, `{"plan":"Weight Loss","meals":["Lunch"],"days":8,"duration":1}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "INVALID_INPUT", env.Error.Code)
		require.Contains(t, env.Error.Message, "days")
	})

	t.Run("malformed body", func(t *testing.T) {
		rec, env := doQuote(t, handler.Quote, `{"plan":`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "INVALID_JSON", env.Error.Code)
	})
}

func TestAdminPreviewHandler(t *testing.T) {
	svc := newTestService(t, newFakeStore(), nil)
	handler := NewHandler(HandlerConfig{Service: svc, Currency: "MAD", Logger: zerolog.Nop()})

	rec, env := doQuote(t, handler.AdminPreview, `{"plan":"Weight Loss","meals":["Breakfast","Lunch"],"days":5,"duration":4,"admin_discount_percentage":10}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.Data.DiscountsApplied, 3)
	require.Equal(t, "admin_override", env.Data.DiscountsApplied[2].Type)
	require.Equal(t, 1571.4, env.Data.TotalRoundedMAD)

	rec, env = doQuote(t, handler.AdminPreview, `{"plan":"Weight Loss","meals":["Lunch"],"days":5,"duration":4,"admin_discount_percentage":120}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_INPUT", env.Error.Code)
}
