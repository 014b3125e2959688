package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher over timeline_entries with PostgreSQL full-text search.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const timelineDocument = `to_tsvector('simple', description || ' ' || COALESCE(remark, ''))`

func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	where := timelineDocument + " @@ " + tsQuery
	if q.CollaborationKey != "" {
		args = append(args, q.CollaborationKey)
		where += fmt.Sprintf(" AND collaboration_key = $%d", len(args))
	}
	if q.ActionType != "" {
		args = append(args, q.ActionType)
		where += fmt.Sprintf(" AND action_type = $%d", len(args))
	}

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM timeline_entries WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT id::text, collaboration_key, action_type, description,
			ts_headline('simple', description || ' ' || COALESCE(remark, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			EXTRACT(EPOCH FROM occurred_at)::bigint
		FROM timeline_entries
		WHERE %s
		ORDER BY ts_rank(%s, %s) DESC, occurred_at DESC
		LIMIT %d OFFSET %d`, tsQuery, where, timelineDocument, tsQuery, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.CollaborationKey, &r.ActionType, &r.Title, &r.Snippet, &r.OccurredAt); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every timeline entry for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]TimelineRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id::text, collaboration_key, action_type, description, COALESCE(remark, ''), COALESCE(action, ''), actor_id,
			EXTRACT(EPOCH FROM occurred_at)::bigint
		FROM timeline_entries
	`)
	if err != nil {
		return nil, fmt.Errorf("load timeline: %w", err)
	}
	defer rows.Close()

	records := make([]TimelineRecord, 0)
	for rows.Next() {
		var r TimelineRecord
		if err := rows.Scan(&r.ID, &r.CollaborationKey, &r.ActionType, &r.Description, &r.Remark, &r.Action, &r.ActorID, &r.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan timeline record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline records: %w", err)
	}
	return records, nil
}
