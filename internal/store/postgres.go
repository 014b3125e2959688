package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrMalformed = errors.New("malformed stored value")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetContract(ctx context.Context, contractID string) (Contract, error) {
	var item Contract
	var declaredRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, template_html, declared_variables, updated_at
		FROM contracts
		WHERE id=$1
	`, contractID).Scan(&item.ID, &item.Name, &item.TemplateHTML, &declaredRaw, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Contract{}, fmt.Errorf("contract %s: %w", contractID, ErrNotFound)
	}
	if err != nil {
		return Contract{}, fmt.Errorf("get contract: %w", err)
	}
	declared, err := decodeDeclared(declaredRaw)
	if err != nil {
		return Contract{}, fmt.Errorf("decode declared variables for contract %s: %w", contractID, err)
	}
	item.DeclaredVariables = declared
	return item, nil
}

// decodeDeclared accepts both {"name": "descriptor"} and
// {"name": ["descriptor", ...]} shapes.
func decodeDeclared(raw []byte) (map[string][]string, error) {
	out := map[string][]string{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return out, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for key, value := range fields {
		var one string
		if err := json.Unmarshal(value, &one); err == nil {
			out[key] = []string{one}
			continue
		}
		var many []string
		if err := json.Unmarshal(value, &many); err != nil {
			return nil, fmt.Errorf("%w: variable %s: %v", ErrMalformed, key, err)
		}
		out[key] = many
	}
	return out, nil
}

// CampaignParties returns the company and owning user of a campaign.
func (s *PostgresStore) CampaignParties(ctx context.Context, campaignID string) (companyID, userID string, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(company_id, ''), COALESCE(owner_user_id, '')
		FROM campaigns
		WHERE id=$1
	`, campaignID).Scan(&companyID, &userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("campaign %s: %w", campaignID, ErrNotFound)
	}
	if err != nil {
		return "", "", fmt.Errorf("read campaign parties: %w", err)
	}
	return companyID, userID, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
