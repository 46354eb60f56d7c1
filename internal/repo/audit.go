package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditEntry is one recorded admin action.
type AuditEntry struct {
	ID           uuid.UUID       `json:"id"`
	ActorKind    string          `json:"actorKind"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resourceType"`
	ResourceID   *string         `json:"resourceId,omitempty"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	Route        *string         `json:"route,omitempty"`
	Status       int             `json:"status"`
	IP           *string         `json:"ip,omitempty"`
	UserAgent    *string         `json:"userAgent,omitempty"`
	RequestID    *string         `json:"requestId,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

const auditColumns = `id, actor_kind, action, resource_type, resource_id, method, path, route, status, ip, user_agent, request_id, metadata, created_at`

// InsertAuditLog stores an audit entry. ID and CreatedAt are assigned by the database.
func (s *Store) InsertAuditLog(ctx context.Context, entry AuditEntry) error {
	if err := s.ready(); err != nil {
		return err
	}
	var metadata []byte
	if len(entry.Metadata) > 0 {
		metadata = entry.Metadata
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO audit_logs (actor_kind, action, resource_type, resource_id, method, path, route, status, ip, user_agent, request_id, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ActorKind, entry.Action, entry.ResourceType, entry.ResourceID, entry.Method, entry.Path,
		entry.Route, entry.Status, entry.IP, entry.UserAgent, entry.RequestID, metadata)
	return err
}

// ListAuditLogs returns audit entries newest first.
func (s *Store) ListAuditLogs(ctx context.Context, limit, offset int) ([]AuditEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+auditColumns+` FROM audit_logs ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]AuditEntry, 0, limit)
	for rows.Next() {
		var (
			e        AuditEntry
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorKind, &e.Action, &e.ResourceType, &e.ResourceID, &e.Method, &e.Path,
			&e.Route, &e.Status, &e.IP, &e.UserAgent, &e.RequestID, &metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			e.Metadata = metadata
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
