package common

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pricing/quote", nil)
	req.RemoteAddr = "10.0.0.9:5123"
	require.Equal(t, "10.0.0.9", ClientIP(req))

	req.Header.Set("X-Real-IP", "196.200.1.4")
	require.Equal(t, "196.200.1.4", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "garbage, 41.248.10.2, 10.0.0.1")
	require.Equal(t, "41.248.10.2", ClientIP(req))

	require.Equal(t, "", ClientIP(nil))
}

func TestErrorCodeAndInvalidInput(t *testing.T) {
	err := InvalidInput("days must be between 1 and 7", map[string]int{"days": 9})
	require.Equal(t, http.StatusBadRequest, err.HTTPStatus)
	require.Equal(t, "INVALID_INPUT", ErrorCode(err))
	require.Equal(t, "", ErrorCode(errors.New("plain")))
	require.True(t, IsAppError(err))

	rr := httptest.NewRecorder()
	NoContent(rr)
	require.Equal(t, http.StatusNoContent, rr.Code)
}
