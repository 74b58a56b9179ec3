package repo

import (
	"context"
	"database/sql"

	"cleansweep/internal/domain"
)

func collectEvents(rows *sql.Rows) ([]domain.Event, error) {
	var res []domain.Event
	for rows.Next() {
		var (
			evt              domain.Event
			hostID, entityID sql.NullString
		)
		if err := rows.Scan(&evt.ID, &evt.TS, &evt.Type, &hostID, &evt.EntityKind, &entityID, &evt.ActorID, &evt.Payload); err != nil {
			return nil, err
		}
		if hostID.Valid {
			evt.HostID = hostID.String
		}
		if entityID.Valid {
			evt.EntityID = entityID.String
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}

// ListEvents returns the newest events first, optionally filtered by entity.
func (r Repo) ListEvents(ctx context.Context, hostID, entityKind, entityID string, limit int) ([]domain.Event, error) {
	query := `SELECT id,ts,type,host_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE 1=1`
	var args []any
	if hostID != "" {
		query += ` AND host_id=?`
		args = append(args, hostID)
	}
	if entityKind != "" {
		query += ` AND entity_kind=?`
		args = append(args, entityKind)
	}
	if entityID != "" {
		query += ` AND entity_id=?`
		args = append(args, entityID)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// EventsAfter returns up to limit events with id greater than cursor, oldest
// first. Used by the webhook dispatcher.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, hostID string) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,host_id,entity_kind,entity_id,actor_id,payload_json FROM events
WHERE id > ? AND (host_id=? OR host_id IS NULL) ORDER BY id LIMIT ?`, cursor, hostID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// LatestEventID returns the highest event id for the host, or 0 when empty.
func (r Repo) LatestEventID(ctx context.Context, hostID string) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events WHERE host_id=? OR host_id IS NULL`, hostID).Scan(&id)
	if err != nil {
		return 0, err
	}
	if !id.Valid {
		return 0, nil
	}
	return id.Int64, nil
}
