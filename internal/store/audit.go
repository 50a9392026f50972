package store

import (
	"context"

	"github.com/noah-isme/kopi-pos/internal/audit"
)

// InsertAuditLog appends one staff action.
func (q *Queries) InsertAuditLog(ctx context.Context, e audit.Entry) error {
	var metadata []byte
	if len(e.Metadata) > 0 {
		metadata = e.Metadata
	}
	_, err := q.db.Exec(ctx, `INSERT INTO audit_logs
  (actor_id, actor_role, branch_id, action, resource_type, resource_id, method, path, status, ip, request_id, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ActorID, e.ActorRole, e.BranchID, e.Action, e.ResourceType, e.ResourceID,
		e.Method, e.Path, e.Status, e.IP, e.RequestID, metadata)
	return err
}

// ListAuditLogs pages through audit entries, newest first. An empty branch
// lists every outlet.
func (q *Queries) ListAuditLogs(ctx context.Context, branchID string, limit, offset int) ([]audit.Entry, error) {
	rows, err := q.db.Query(ctx, `SELECT id, actor_id, actor_role, branch_id, action, resource_type, resource_id,
  method, path, status, ip, request_id, metadata, created_at
FROM audit_logs
WHERE ($1 = '' OR branch_id = $1)
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`, branchID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e        audit.Entry
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorRole, &e.BranchID, &e.Action, &e.ResourceType, &e.ResourceID,
			&e.Method, &e.Path, &e.Status, &e.IP, &e.RequestID, &metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Metadata = metadata
		out = append(out, e)
	}
	return out, rows.Err()
}
