package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"contractflow/api/internal/resolve"
)

// Rows are exposed to descriptors as their columns merged with the free-form
// attributes column, attributes winning on conflict.
const recordProjection = `(to_jsonb(t) - 'attributes') || COALESCE(t.attributes, '{}'::jsonb)`

var recordQueries = map[resolve.Collection]string{
	resolve.Campaigns: `SELECT ` + recordProjection + ` FROM campaigns t WHERE t.id = $1`,
	resolve.Contracts: `SELECT ` + recordProjection + ` FROM contracts t WHERE t.id = $1`,
	resolve.Companies: `SELECT ` + recordProjection + ` FROM companies t WHERE t.id = $1`,
	resolve.Influencers: `SELECT ` + recordProjection + ` FROM influencers t
		WHERE t.id = $1 OR t.public_id = $1
		ORDER BY (t.id = $1) DESC
		LIMIT 1`,
	resolve.Profiles: `SELECT ` + recordProjection + ` FROM profiles t
		WHERE t.user_id = $1 OR t.id = $1
		ORDER BY (t.user_id = $1) DESC
		LIMIT 1`,
}

// FetchRecord implements resolve.RecordSource. Influencers fall back to their
// public id, profiles are found by user id first and then by their own id.
func (s *PostgresStore) FetchRecord(ctx context.Context, collection resolve.Collection, key string) (resolve.Record, error) {
	query, ok := recordQueries[collection]
	if !ok {
		return nil, fmt.Errorf("fetch %s: unsupported collection", collection)
	}

	var raw []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %q: %w", collection, key, resolve.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", collection, err)
	}

	var record resolve.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", collection, err)
	}
	return record, nil
}
