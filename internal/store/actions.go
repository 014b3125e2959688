package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *PostgresStore) GetAction(ctx context.Context, collaborationKey string) (ActionRecord, error) {
	var rec ActionRecord
	var callbackAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT collaboration_key, action, remark, callback_at, occurred_at, is_contract_sent, is_signed, updated_by
		FROM collaboration_actions
		WHERE collaboration_key=$1
	`, collaborationKey).Scan(
		&rec.CollaborationKey,
		&rec.Action,
		&rec.Remark,
		&callbackAt,
		&rec.OccurredAt,
		&rec.IsContractSent,
		&rec.IsSigned,
		&rec.UpdatedBy,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ActionRecord{}, ErrNotFound
	}
	if err != nil {
		return ActionRecord{}, fmt.Errorf("get action: %w", err)
	}
	if callbackAt.Valid {
		t := callbackAt.Time
		rec.CallbackAt = &t
	}
	return rec, nil
}

// UpsertAction replaces the disposition fields of the single action row and
// leaves the sent and signed flags alone.
func (s *PostgresStore) UpsertAction(ctx context.Context, rec ActionRecord) (ActionRecord, error) {
	var callbackAt sql.NullTime
	if rec.CallbackAt != nil {
		callbackAt = sql.NullTime{Time: *rec.CallbackAt, Valid: true}
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO collaboration_actions (collaboration_key, action, remark, callback_at, occurred_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (collaboration_key) DO UPDATE SET
			action=EXCLUDED.action,
			remark=EXCLUDED.remark,
			callback_at=EXCLUDED.callback_at,
			occurred_at=EXCLUDED.occurred_at,
			updated_by=EXCLUDED.updated_by
		RETURNING is_contract_sent, is_signed
	`, rec.CollaborationKey, rec.Action, rec.Remark, callbackAt, rec.OccurredAt, rec.UpdatedBy).Scan(&rec.IsContractSent, &rec.IsSigned)
	if err != nil {
		return ActionRecord{}, fmt.Errorf("upsert action: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) MarkContractSent(ctx context.Context, collaborationKey, actorID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collaboration_actions (collaboration_key, is_contract_sent, updated_by)
		VALUES ($1, TRUE, $2)
		ON CONFLICT (collaboration_key) DO UPDATE SET is_contract_sent=TRUE, updated_by=EXCLUDED.updated_by
	`, collaborationKey, actorID)
	if err != nil {
		return fmt.Errorf("mark contract sent: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetSigned(ctx context.Context, collaborationKey string, signed bool, actorID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collaboration_actions (collaboration_key, is_signed, updated_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (collaboration_key) DO UPDATE SET is_signed=EXCLUDED.is_signed, updated_by=EXCLUDED.updated_by
	`, collaborationKey, signed, actorID)
	if err != nil {
		return fmt.Errorf("set signed: %w", err)
	}
	return nil
}
