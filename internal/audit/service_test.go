package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-mealkit/internal/obs"
	"github.com/noah-isme/backend-mealkit/internal/repo"
)

type stubStore struct {
	inserted []repo.AuditEntry
	limit    int
	offset   int
}

func (s *stubStore) InsertAuditLog(_ context.Context, entry repo.AuditEntry) error {
	s.inserted = append(s.inserted, entry)
	return nil
}

func (s *stubStore) ListAuditLogs(_ context.Context, limit, offset int) ([]repo.AuditEntry, error) {
	s.limit = limit
	s.offset = offset
	return []repo.AuditEntry{{Action: "PUT /api/v1/admin/discount-rules/{id}", Method: http.MethodPut, Status: 200}}, nil
}

func TestServiceRecord(t *testing.T) {
	store := &stubStore{}
	svc := Service{Store: store, Enabled: true}

	req := httptest.NewRequest(http.MethodPost, "https://api.test/api/v1/admin/discount-rules?dry=1", nil)
	req.Header.Set("User-Agent", "tester")
	req.Header.Set("X-Request-ID", "req-123")
	req.RemoteAddr = "10.0.0.2:54321"
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/api/v1/admin/discount-rules"))

	err := svc.Record(req.Context(), req, Event{Actor: ActorKindAdmin, Status: http.StatusCreated, Metadata: map[string]any{"type": "duration"}})
	require.NoError(t, err)
	require.Len(t, store.inserted, 1)

	got := store.inserted[0]
	require.Equal(t, "admin", got.ActorKind)
	require.Equal(t, "POST /api/v1/admin/discount-rules", got.Action)
	require.Equal(t, "admin.discount-rules", got.ResourceType)
	require.Equal(t, http.StatusCreated, got.Status)
	require.NotNil(t, got.IP)
	require.Equal(t, "10.0.0.2", *got.IP)
	require.NotNil(t, got.RequestID)
	require.Equal(t, "req-123", *got.RequestID)
	require.Nil(t, got.ResourceID)

	var meta map[string]string
	require.NoError(t, json.Unmarshal(got.Metadata, &meta))
	require.Equal(t, "dry=1", meta["query"])
	require.Equal(t, "duration", meta["type"])
}

func TestServiceRecordDisabled(t *testing.T) {
	store := &stubStore{}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	require.NoError(t, Service{Store: store}.Record(req.Context(), req, Event{}))
	require.Empty(t, store.inserted)
}

func TestServiceRecordUnknownActorIsAnonymous(t *testing.T) {
	store := &stubStore{}
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/admin/discount-rules/abc", nil)
	require.NoError(t, Service{Store: store, Enabled: true}.Record(req.Context(), req, Event{Actor: "robot"}))
	require.Equal(t, "anonymous", store.inserted[0].ActorKind)
	require.Equal(t, http.StatusOK, store.inserted[0].Status)
	require.Nil(t, store.inserted[0].Metadata)
}

func TestBuildResourceSkipsParams(t *testing.T) {
	require.Equal(t, "admin.discount-rules", buildResource("", "/api/v1/admin/discount-rules/{id}"))
	require.Equal(t, "subscription", buildResource(" subscription ", "/x"))
	require.Equal(t, "unknown", buildResource("", ""))
}

func TestMiddlewareRecordsAdminWrites(t *testing.T) {
	store := &stubStore{}
	recorder := HTTPRecorder{Service: &Service{Store: store, Enabled: true}}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(obs.WithAdmin(req.Context())))
		})
	})
	r.With(recorder.Middleware(HTTPConfig{
		ResourceType:    "discount_rule",
		ResourceIDParam: "id",
		MetadataFunc: func(_ *http.Request, status int) map[string]any {
			return map[string]any{"ok": status < 400}
		},
	})).Delete("/api/v1/admin/discount-rules/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/admin/discount-rules/rule-7", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Len(t, store.inserted, 1)

	got := store.inserted[0]
	require.Equal(t, "admin", got.ActorKind)
	require.Equal(t, "discount_rule", got.ResourceType)
	require.Equal(t, "DELETE /api/v1/admin/discount-rules/{id}", got.Action)
	require.NotNil(t, got.ResourceID)
	require.Equal(t, "rule-7", *got.ResourceID)
	require.Equal(t, http.StatusNoContent, got.Status)
	require.JSONEq(t, `{"ok":true}`, string(got.Metadata))
}
