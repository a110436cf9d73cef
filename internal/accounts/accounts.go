// Package accounts is the account directory: profile lookups and the
// tier flag that drives archival and restore decisions.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// Account tiers. Free accounts have a bounded hot-access window after
// which results migrate to cold storage.
const (
	TierFree    = "free_user"
	TierPremium = "premium_user"
)

// ErrAccountNotFound is returned when a user id has no profile.
var ErrAccountNotFound = errors.New("account not found")

// Profile is the directory entry for one account.
type Profile struct {
	UserID string `db:"user_id"`
	Name   string `db:"name"`
	Email  string `db:"email"`
	Tier   string `db:"tier"`
}

// Premium reports whether the account is on the premium tier.
func (p *Profile) Premium() bool {
	return p.Tier == TierPremium
}

// Directory resolves account profiles from the accounts table.
type Directory struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewDirectory creates an account directory on the given database.
func NewDirectory(db *sqlx.DB, logger *slog.Logger) *Directory {
	return &Directory{db: db, logger: logger}
}

// GetProfile returns the profile for the given user id.
func (d *Directory) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	query := `SELECT user_id, name, email, tier FROM accounts WHERE user_id = $1`

	var p Profile
	if err := d.db.GetContext(ctx, &p, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

// Upgrade moves the account to the premium tier.
func (d *Directory) Upgrade(ctx context.Context, userID string) error {
	query := `UPDATE accounts SET tier = $1 WHERE user_id = $2`

	result, err := d.db.ExecContext(ctx, query, TierPremium, userID)
	if err != nil {
		return fmt.Errorf("failed to upgrade account: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}

	d.logger.Info("Account upgraded to premium", slog.String("user_id", userID))
	return nil
}
