package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailsync/internal/model"
)

const identityByAddressQuery = `
	SELECT i.id, i.name, a.address AS email, i.created_at
	FROM identity_addresses a
	JOIN identities i ON i.id = a.identity_id
	WHERE a.address = ?`

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func getIdentityByAddress(
	ctx context.Context,
	q sqlx.QueryerContext,
	address string,
) (*model.Identity, error) {
	var ident model.Identity
	err := sqlx.GetContext(ctx, q, &ident, identityByAddressQuery, normalizeAddress(address))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting identity for %s: %w", address, err)
	}
	return &ident, nil
}

func resolveOrCreateIdentity(
	ctx context.Context,
	q sqlx.ExtContext,
	name, address string,
) (*model.Identity, error) {
	address = normalizeAddress(address)
	if address == "" {
		return nil, fmt.Errorf("resolving identity: empty address")
	}

	ident, err := getIdentityByAddress(ctx, q, address)
	if err != nil {
		return nil, err
	}
	if ident != nil {
		if ident.Name == "" && name != "" {
			if _, err := q.ExecContext(ctx,
				"UPDATE identities SET name = ? WHERE id = ?", name, ident.ID,
			); err != nil {
				return nil, fmt.Errorf("naming identity %s: %w", ident.ID, err)
			}
			ident.Name = name
		}
		return ident, nil
	}

	now := time.Now().UTC()
	ident = &model.Identity{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     address,
		CreatedAt: now,
	}
	if _, err := q.ExecContext(ctx,
		"INSERT INTO identities (id, name, created_at) VALUES (?, ?, ?)",
		ident.ID, ident.Name, now,
	); err != nil {
		return nil, fmt.Errorf("creating identity for %s: %w", address, err)
	}
	if _, err := q.ExecContext(ctx,
		"INSERT INTO identity_addresses (address, identity_id, created_at) VALUES (?, ?, ?)",
		address, ident.ID, now,
	); err != nil {
		return nil, fmt.Errorf("recording address %s: %w", address, err)
	}
	return ident, nil
}

// GetIdentityByAddress returns the identity owning address, or nil.
func (s *SQLiteStore) GetIdentityByAddress(
	ctx context.Context,
	address string,
) (*model.Identity, error) {
	return getIdentityByAddress(ctx, s.db, address)
}

// AttachIdentity points address at an existing identity, moving it from
// any identity it previously belonged to.
func (s *SQLiteStore) AttachIdentity(ctx context.Context, identityID, address string) error {
	address = normalizeAddress(address)
	if address == "" {
		return fmt.Errorf("attaching identity %s: empty address", identityID)
	}

	var exists int
	if err := s.db.GetContext(ctx, &exists,
		"SELECT COUNT(*) FROM identities WHERE id = ?", identityID,
	); err != nil {
		return fmt.Errorf("checking identity %s: %w", identityID, err)
	}
	if exists == 0 {
		return fmt.Errorf("attaching %s to identity %s: %w", address, identityID, sql.ErrNoRows)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identity_addresses (address, identity_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET identity_id = excluded.identity_id`,
		address, identityID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("attaching %s to identity %s: %w", address, identityID, err)
	}
	return nil
}
