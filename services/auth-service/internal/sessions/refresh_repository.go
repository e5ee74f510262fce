package sessions

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptdesk/libs/db"
)

var (
	ErrNotFound = errors.New("refresh token not found")
	// ErrInactive covers revoked and expired tokens.
	ErrInactive = errors.New("refresh token inactive")
)

type RefreshToken struct {
	ID        string
	UserID    string
	Hash      string
	ExpiresAt time.Time
	RevokedAt *time.Time
}

func (t RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// RefreshRepository stores sha256 hashes of opaque refresh tokens.
type RefreshRepository struct {
	db  db.DBTX
	ttl time.Duration
	now func() time.Time
}

func NewRefreshRepository(conn db.DBTX, ttl time.Duration) *RefreshRepository {
	return &RefreshRepository{db: conn, ttl: ttl, now: time.Now}
}

// Issue creates a new token for userID and returns the raw value.
func (r *RefreshRepository) Issue(ctx context.Context, tx db.DBTX, userID string) (string, error) {
	raw, err := newRawToken()
	if err != nil {
		return "", err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), userID, HashToken(raw), r.now().Add(r.ttl))
	if err != nil {
		return "", fmt.Errorf("insert refresh token: %w", err)
	}
	return raw, nil
}

// Rotate revokes raw and returns the token record it belonged to. The row is
// locked so a token can be exchanged at most once.
func (r *RefreshRepository) Rotate(ctx context.Context, tx db.DBTX, raw string) (RefreshToken, error) {
	var token RefreshToken
	err := tx.QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, revoked_at
		FROM refresh_tokens
		WHERE token_hash = $1
		FOR UPDATE
	`, HashToken(raw)).Scan(&token.ID, &token.UserID, &token.Hash, &token.ExpiresAt, &token.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return RefreshToken{}, ErrNotFound
	}
	if err != nil {
		return RefreshToken{}, err
	}
	if !token.Active(r.now()) {
		return RefreshToken{}, ErrInactive
	}
	if err := r.revoke(ctx, tx, token.ID); err != nil {
		return RefreshToken{}, err
	}
	return token, nil
}

// Revoke marks raw as revoked. Unknown or already revoked tokens are a no-op.
func (r *RefreshRepository) Revoke(ctx context.Context, raw string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = now()
		WHERE token_hash = $1 AND revoked_at IS NULL
	`, HashToken(raw))
	return err
}

func (r *RefreshRepository) revoke(ctx context.Context, tx db.DBTX, id string) error {
	_, err := tx.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = now()
		WHERE id = $1
	`, id)
	return err
}

func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func newRawToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
