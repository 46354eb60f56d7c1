package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/noah-isme/backend-mealkit/internal/common"
	"github.com/noah-isme/backend-mealkit/internal/obs"
	"github.com/noah-isme/backend-mealkit/internal/repo"
)

// ActorKind represents the source of an audited action.
type ActorKind string

const (
	// ActorKindAdmin is a caller that passed the admin token guard.
	ActorKindAdmin ActorKind = "admin"
	// ActorKindSystem represents internal automated actions.
	ActorKindSystem ActorKind = "system"
	// ActorKindAnonymous represents unauthenticated actors.
	ActorKindAnonymous ActorKind = "anonymous"
)

// Store defines the database operations required for auditing.
type Store interface {
	InsertAuditLog(ctx context.Context, entry repo.AuditEntry) error
	ListAuditLogs(ctx context.Context, limit, offset int) ([]repo.AuditEntry, error)
}

// Service persists audit entries for admin pricing writes.
type Service struct {
	Store   Store
	Enabled bool
}

// Event describes one audited request.
type Event struct {
	Actor        ActorKind
	Action       string
	ResourceType string
	ResourceID   string
	Status       int
	Metadata     map[string]any
}

// Record persists an audit entry when auditing is enabled.
func (s Service) Record(ctx context.Context, req *http.Request, ev Event) error {
	if !s.Enabled {
		return nil
	}
	if req == nil {
		return errors.New("audit: request is required")
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}

	route := routeOf(req)
	status := ev.Status
	if status == 0 {
		status = http.StatusOK
	}
	metadata, err := buildMetadata(ev.Metadata, req.URL.RawQuery)
	if err != nil {
		return err
	}

	return s.Store.InsertAuditLog(ctx, repo.AuditEntry{
		ActorKind:    string(normalizeActorKind(ev.Actor)),
		Action:       buildAction(ev.Action, req.Method, route),
		ResourceType: buildResource(ev.ResourceType, route),
		ResourceID:   pointerOf(ev.ResourceID),
		Method:       req.Method,
		Path:         req.URL.Path,
		Route:        pointerOf(route),
		Status:       status,
		IP:           pointerOf(common.ClientIP(req)),
		UserAgent:    pointerOf(req.Header.Get("User-Agent")),
		RequestID:    pointerOf(requestID(req)),
		Metadata:     metadata,
	})
}

func routeOf(req *http.Request) string {
	if route := obs.RoutePatternFromContext(req.Context()); route != "" {
		return route
	}
	if rc := chi.RouteContext(req.Context()); rc != nil {
		if route := rc.RoutePattern(); route != "" {
			return route
		}
	}
	return strings.TrimSpace(req.URL.Path)
}

func requestID(req *http.Request) string {
	if id := req.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return middleware.GetReqID(req.Context())
}

func buildAction(action, method, route string) string {
	trimmed := strings.TrimSpace(action)
	if trimmed != "" {
		return trimmed
	}
	target := route
	if target == "" {
		target = "/"
	}
	return strings.ToUpper(strings.TrimSpace(method)) + " " + target
}

// buildResource derives "admin.discount-rules" style names from /api/v1 routes.
func buildResource(resourceType, route string) string {
	trimmed := strings.TrimSpace(resourceType)
	if trimmed != "" {
		return trimmed
	}
	route = strings.Trim(strings.TrimSpace(route), "/")
	if route == "" {
		return "unknown"
	}
	segments := strings.Split(route, "/")
	if len(segments) >= 3 && segments[0] == "api" && segments[1] == "v1" {
		segments = segments[2:]
	}
	kept := segments[:0]
	for _, seg := range segments {
		if strings.HasPrefix(seg, "{") {
			continue
		}
		kept = append(kept, seg)
	}
	return strings.Join(kept, ".")
}

func normalizeActorKind(kind ActorKind) ActorKind {
	switch kind {
	case ActorKindAdmin, ActorKindSystem:
		return kind
	default:
		return ActorKindAnonymous
	}
}

func pointerOf(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func buildMetadata(meta map[string]any, query string) (json.RawMessage, error) {
	if len(meta) == 0 && strings.TrimSpace(query) == "" {
		return nil, nil
	}
	payload := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		payload[k] = v
	}
	if q := strings.TrimSpace(query); q != "" {
		payload["query"] = q
	}
	return json.Marshal(payload)
}
