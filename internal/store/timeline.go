package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

func (s *PostgresStore) InsertTimelineEntry(ctx context.Context, entry TimelineEntry) (TimelineEntry, error) {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return TimelineEntry{}, fmt.Errorf("marshal timeline metadata: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO timeline_entries (collaboration_key, action_type, description, remark, action, actor_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		RETURNING id, occurred_at
	`, entry.CollaborationKey, entry.ActionType, entry.Description, nullString(entry.Remark), nullString(entry.Action), entry.ActorID, string(encoded)).
		Scan(&entry.ID, &entry.OccurredAt)
	if err != nil {
		return TimelineEntry{}, fmt.Errorf("insert timeline entry: %w", err)
	}
	entry.Metadata = metadata
	return entry, nil
}

// ListTimeline returns entries newest first.
func (s *PostgresStore) ListTimeline(ctx context.Context, collaborationKey string, limit int) ([]TimelineEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collaboration_key, action_type, description, remark, action, occurred_at, actor_id, metadata
		FROM timeline_entries
		WHERE collaboration_key=$1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2
	`, collaborationKey, limit)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	defer rows.Close()
	return scanTimeline(rows)
}

func scanTimeline(rows *sql.Rows) ([]TimelineEntry, error) {
	items := make([]TimelineEntry, 0)
	for rows.Next() {
		var item TimelineEntry
		var remark, action sql.NullString
		var metadataRaw []byte
		if err := rows.Scan(
			&item.ID,
			&item.CollaborationKey,
			&item.ActionType,
			&item.Description,
			&remark,
			&action,
			&item.OccurredAt,
			&item.ActorID,
			&metadataRaw,
		); err != nil {
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		if remark.Valid {
			item.Remark = &remark.String
		}
		if action.Valid {
			item.Action = &action.String
		}
		if err := json.Unmarshal(metadataRaw, &item.Metadata); err != nil || item.Metadata == nil {
			item.Metadata = map[string]any{}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline: %w", err)
	}
	return items, nil
}

// ClearTimeline is the only way entries leave the log.
func (s *PostgresStore) ClearTimeline(ctx context.Context, collaborationKey string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM timeline_entries WHERE collaboration_key=$1`, collaborationKey)
	if err != nil {
		return 0, fmt.Errorf("clear timeline: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear timeline rows affected: %w", err)
	}
	return n, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
