package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// SaveOverride writes variables and rendered HTML for a collaboration in one
// statement. An existing share token is never replaced; the returned record
// carries the token actually stored.
func (s *PostgresStore) SaveOverride(ctx context.Context, rec OverrideRecord) (OverrideRecord, error) {
	vars := rec.Variables
	if vars == nil {
		vars = map[string]*string{}
	}
	encoded, err := json.Marshal(vars)
	if err != nil {
		return OverrideRecord{}, fmt.Errorf("marshal override variables: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO contract_overrides (collaboration_key, campaign_key, influencer_key, contract_key, variables, rendered_html, share_token)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
		ON CONFLICT (collaboration_key) DO UPDATE SET
			campaign_key=EXCLUDED.campaign_key,
			influencer_key=EXCLUDED.influencer_key,
			contract_key=EXCLUDED.contract_key,
			variables=EXCLUDED.variables,
			rendered_html=EXCLUDED.rendered_html,
			updated_at=NOW()
		RETURNING share_token, created_at, updated_at
	`, rec.CollaborationKey, rec.CampaignKey, rec.InfluencerKey, rec.ContractKey, string(encoded), rec.RenderedHTML, rec.ShareToken).
		Scan(&rec.ShareToken, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return OverrideRecord{}, fmt.Errorf("save override: %w", err)
	}
	rec.Variables = vars
	return rec, nil
}

// GetOverride loads the record for a collaboration key. Stored variables that
// fail to decode yield ErrMalformed.
func (s *PostgresStore) GetOverride(ctx context.Context, collaborationKey string) (OverrideRecord, error) {
	return s.getOverride(ctx, `collaboration_key=$1`, collaborationKey)
}

func (s *PostgresStore) GetOverrideByShareToken(ctx context.Context, shareToken string) (OverrideRecord, error) {
	return s.getOverride(ctx, `share_token=$1`, shareToken)
}

func (s *PostgresStore) getOverride(ctx context.Context, where, arg string) (OverrideRecord, error) {
	var rec OverrideRecord
	var varsRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT collaboration_key, campaign_key, influencer_key, contract_key, variables, rendered_html, share_token, created_at, updated_at
		FROM contract_overrides
		WHERE `+where, arg).Scan(
		&rec.CollaborationKey,
		&rec.CampaignKey,
		&rec.InfluencerKey,
		&rec.ContractKey,
		&varsRaw,
		&rec.RenderedHTML,
		&rec.ShareToken,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return OverrideRecord{}, ErrNotFound
	}
	if err != nil {
		return OverrideRecord{}, fmt.Errorf("get override: %w", err)
	}
	if err := json.Unmarshal(varsRaw, &rec.Variables); err != nil {
		return rec, fmt.Errorf("%w: override variables: %v", ErrMalformed, err)
	}
	return rec, nil
}
