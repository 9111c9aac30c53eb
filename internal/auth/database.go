package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"netspace-tracker/internal/core"
)

// Common errors
var (
	ErrRecordNotFound = errors.New("record not found")
)

const tokenTimeLayout = "2006-01-02 15:04:05.000000000"

// Migration100CreateAdminTokens creates the admin token table
var Migration100CreateAdminTokens = core.Migration{
	Version:     100,
	Name:        "create_admin_tokens",
	Description: "Create table for admin bearer tokens",
	UpSQL: `
		CREATE TABLE IF NOT EXISTS admin_tokens (
			hash BLOB PRIMARY KEY,
			expiry TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_admin_tokens_expiry ON admin_tokens(expiry);
	`,
	DownSQL: `
		DROP INDEX IF EXISTS idx_admin_tokens_expiry;
		DROP TABLE IF EXISTS admin_tokens;
	`,
}

// Migrate applies the auth schema
func Migrate(ctx context.Context, db *core.Database, logger *core.Logger) error {
	return core.NewMigrationService(db, logger).ApplyAll(ctx, []core.Migration{Migration100CreateAdminTokens})
}

// TokenModel handles database operations for tokens
type TokenModel struct {
	db     *core.Database
	logger *core.Logger
}

// NewTokenModel creates a new token model
func NewTokenModel(db *core.Database, logger *core.Logger) *TokenModel {
	return &TokenModel{
		db:     db,
		logger: logger,
	}
}

// New creates and stores a token
func (m *TokenModel) New(ctx context.Context, ttl time.Duration) (*Token, error) {
	token, err := generateToken(ttl)
	if err != nil {
		return nil, err
	}

	err = m.Insert(ctx, token)
	return token, err
}

// Insert stores a token hash
func (m *TokenModel) Insert(ctx context.Context, token *Token) error {
	query := `
		INSERT INTO admin_tokens (hash, expiry)
		VALUES (?, ?)
	`

	_, err := m.db.ExecWithTimeout(ctx, query, token.Hash, token.Expiry.UTC().Format(tokenTimeLayout))
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// Valid reports whether plaintext matches an unexpired token
func (m *TokenModel) Valid(ctx context.Context, plaintext string) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM admin_tokens
		WHERE hash = ? AND expiry > ?
	`

	var n int
	err := m.db.QueryRowWithTimeout(ctx, query, hashToken(plaintext), time.Now().UTC().Format(tokenTimeLayout)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup token: %w", err)
	}
	return n > 0, nil
}

// Delete removes the token for plaintext
func (m *TokenModel) Delete(ctx context.Context, plaintext string) error {
	result, err := m.db.ExecWithTimeout(ctx, `DELETE FROM admin_tokens WHERE hash = ?`, hashToken(plaintext))
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// DeleteExpired removes expired tokens and returns how many were removed
func (m *TokenModel) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := m.db.ExecWithTimeout(ctx,
		`DELETE FROM admin_tokens WHERE expiry <= ?`, time.Now().UTC().Format(tokenTimeLayout))
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return result.RowsAffected()
}
