package audit

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-mealkit/internal/obs"
)

// HTTPRecorder records HTTP requests after they have been handled.
type HTTPRecorder struct {
	Service *Service
	OnError func(error)
}

// HTTPConfig customises how the audit entry is produced for a route.
type HTTPConfig struct {
	Action          string
	ResourceType    string
	ResourceIDParam string
	MetadataFunc    func(*http.Request, int) map[string]any
}

// Middleware returns a chi-compatible middleware that records audit entries.
func (r HTTPRecorder) Middleware(cfg HTTPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if r.Service == nil || !r.Service.Enabled {
				next.ServeHTTP(w, req)
				return
			}

			recorder := obs.NewStatusRecorder(w)
			next.ServeHTTP(recorder, req)

			ev := Event{
				Actor:        actorFor(req),
				Action:       cfg.Action,
				ResourceType: cfg.ResourceType,
				Status:       recorder.Status(),
			}
			if cfg.ResourceIDParam != "" {
				ev.ResourceID = chi.URLParam(req, cfg.ResourceIDParam)
			}
			if cfg.MetadataFunc != nil {
				ev.Metadata = cfg.MetadataFunc(req, recorder.Status())
			}

			if err := r.Service.Record(req.Context(), req, ev); err != nil && r.OnError != nil {
				r.OnError(err)
			}
		})
	}
}

func actorFor(req *http.Request) ActorKind {
	if admin, ok := obs.AdminFromContext(req.Context()); ok && admin {
		return ActorKindAdmin
	}
	return ActorKindAnonymous
}
