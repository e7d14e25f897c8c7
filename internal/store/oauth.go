// ABOUTME: OAuth authorization code and access token store methods
// ABOUTME: Codes are single-use via an atomic conditional update; tokens are hash-keyed

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateAuthCode persists a new authorization code record.
func (s *SQLiteStore) CreateAuthCode(ctx context.Context, code *AuthCode) error {
	query := `
		INSERT INTO oauth_codes (code_hash, user_id, client_id, redirect_uri, code_challenge, challenge_method, scope, resource, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		code.CodeHash,
		code.UserID,
		code.ClientID,
		code.RedirectURI,
		code.CodeChallenge,
		code.ChallengeMethod,
		code.Scope,
		nullString(code.Resource),
		code.CreatedAt.UTC().Format(time.RFC3339),
		code.ExpiresAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting auth code: %w", err)
	}

	s.logger.Debug("created auth code", "client_id", code.ClientID, "user_id", code.UserID)
	return nil
}

// GetAuthCode retrieves an authorization code by its hash.
// Returns ErrNotFound if no such code exists. Expiry and used-at checks
// are the caller's responsibility; redemption itself goes through
// RedeemAuthCode.
func (s *SQLiteStore) GetAuthCode(ctx context.Context, codeHash string) (*AuthCode, error) {
	query := `
		SELECT code_hash, user_id, client_id, redirect_uri, code_challenge, challenge_method, scope, resource, created_at, expires_at, used_at
		FROM oauth_codes
		WHERE code_hash = ?
	`

	var code AuthCode
	var resource, usedAtStr sql.NullString
	var createdAtStr, expiresAtStr string

	err := s.db.QueryRowContext(ctx, query, codeHash).Scan(
		&code.CodeHash,
		&code.UserID,
		&code.ClientID,
		&code.RedirectURI,
		&code.CodeChallenge,
		&code.ChallengeMethod,
		&code.Scope,
		&resource,
		&createdAtStr,
		&expiresAtStr,
		&usedAtStr,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying auth code: %w", err)
	}

	code.Resource = resource.String

	code.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	code.ExpiresAt, err = time.Parse(time.RFC3339, expiresAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}

	if usedAtStr.Valid {
		usedAt, err := time.Parse(time.RFC3339, usedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing used_at: %w", err)
		}
		code.UsedAt = &usedAt
	}

	return &code, nil
}

// RedeemAuthCode atomically marks a code as used. The conditional update
// only succeeds while used_at is still NULL, so of two concurrent
// exchange attempts exactly one wins; the loser observes zero affected
// rows and gets ErrCodeUsed.
func (s *SQLiteStore) RedeemAuthCode(ctx context.Context, codeHash string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		UPDATE oauth_codes
		SET used_at = ?
		WHERE code_hash = ?
		  AND used_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query, now, codeHash)
	if err != nil {
		return fmt.Errorf("marking auth code used: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected > 0 {
		s.logger.Debug("redeemed auth code")
		return nil
	}

	// rowsAffected == 0 - determine why
	var exists int
	err = s.db.QueryRowContext(ctx, "SELECT 1 FROM oauth_codes WHERE code_hash = ?", codeHash).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking auth code: %w", err)
	}

	s.logger.Warn("auth code replay attempt detected")
	return ErrCodeUsed
}

// CreateAccessToken persists a new access token record.
func (s *SQLiteStore) CreateAccessToken(ctx context.Context, token *AccessToken) error {
	query := `
		INSERT INTO oauth_tokens (token_hash, user_id, client_id, scope, resource, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		token.TokenHash,
		token.UserID,
		token.ClientID,
		token.Scope,
		nullString(token.Resource),
		token.CreatedAt.UTC().Format(time.RFC3339),
		token.ExpiresAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting access token: %w", err)
	}

	s.logger.Debug("created access token", "client_id", token.ClientID, "user_id", token.UserID)
	return nil
}

// GetAccessToken retrieves an unexpired access token by its hash.
// Returns ErrNotFound for unknown or expired tokens; the two cases are
// indistinguishable to callers by design.
func (s *SQLiteStore) GetAccessToken(ctx context.Context, tokenHash string) (*AccessToken, error) {
	query := `
		SELECT token_hash, user_id, client_id, scope, resource, created_at, expires_at, last_used_at
		FROM oauth_tokens
		WHERE token_hash = ? AND expires_at > ?
	`

	var token AccessToken
	var resource, lastUsedStr sql.NullString
	var createdAtStr, expiresAtStr string
	now := time.Now().UTC().Format(time.RFC3339)

	err := s.db.QueryRowContext(ctx, query, tokenHash, now).Scan(
		&token.TokenHash,
		&token.UserID,
		&token.ClientID,
		&token.Scope,
		&resource,
		&createdAtStr,
		&expiresAtStr,
		&lastUsedStr,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying access token: %w", err)
	}

	token.Resource = resource.String

	token.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	token.ExpiresAt, err = time.Parse(time.RFC3339, expiresAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}

	if lastUsedStr.Valid {
		lastUsed, err := time.Parse(time.RFC3339, lastUsedStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_used_at: %w", err)
		}
		token.LastUsedAt = &lastUsed
	}

	return &token, nil
}

// TouchAccessToken stamps last_used_at on a token. Best-effort bookkeeping;
// callers must not fail their request if this errors.
func (s *SQLiteStore) TouchAccessToken(ctx context.Context, tokenHash string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, "UPDATE oauth_tokens SET last_used_at = ? WHERE token_hash = ?", now, tokenHash)
	if err != nil {
		return fmt.Errorf("stamping token last_used_at: %w", err)
	}
	return nil
}

// DeleteExpiredAuthCodes removes expired authorization codes.
func (s *SQLiteStore) DeleteExpiredAuthCodes(ctx context.Context) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, "DELETE FROM oauth_codes WHERE expires_at <= ?", now)
	if err != nil {
		return fmt.Errorf("deleting expired auth codes: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		s.logger.Debug("deleted expired auth codes", "count", rowsAffected)
	}
	return nil
}

// DeleteExpiredAccessTokens removes expired access tokens.
func (s *SQLiteStore) DeleteExpiredAccessTokens(ctx context.Context) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, "DELETE FROM oauth_tokens WHERE expires_at <= ?", now)
	if err != nil {
		return fmt.Errorf("deleting expired access tokens: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		s.logger.Debug("deleted expired access tokens", "count", rowsAffected)
	}
	return nil
}
