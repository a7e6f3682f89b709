// Package db persists the bot's OAuth credentials. The chat listener reads
// the Twitch token from here when TWITCH_OAUTH_TOKEN is not set, and the
// refresher writes renewed tokens back.
//
// DB_DSN selects the backend: a postgres:// URL uses pgx, anything else is
// treated as a SQLite file path.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
	_ "github.com/mattn/go-sqlite3"    // sqlite driver registered as 'sqlite3'

	"github.com/globalworming/low-tech-ai-pocs/crypto"
)

// Dialect is the database/sql driver name in use.
type Dialect string

const (
	DialectPostgres Dialect = "pgx"
	DialectSQLite   Dialect = "sqlite3"
)

// ErrNoToken is returned by Get when no row exists for the provider.
var ErrNoToken = errors.New("no stored token")

// DialectFor picks the driver for a DSN.
func DialectFor(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// Open opens dsn with the matching driver.
func Open(dsn string) (*sql.DB, Dialect, error) {
	d := DialectFor(dsn)
	conn := dsn
	if d == DialectSQLite {
		conn = dsn + "?_busy_timeout=5000"
		if strings.Contains(dsn, "?") {
			conn = dsn + "&_busy_timeout=5000"
		}
	}
	sqlDB, err := sql.Open(string(d), conn)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", d, err)
	}
	return sqlDB, d, nil
}

// Token is one stored credential row.
type Token struct {
	Provider     string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time // zero when unknown
	Scope        string
}

// TokenStore reads and writes the oauth_tokens table. When a sealer is set,
// access and refresh tokens are encrypted at rest (encryption_version=1).
type TokenStore struct {
	db      *sql.DB
	dialect Dialect
	sealer  *crypto.Sealer
}

// NewTokenStore wraps an open database. sealer may be nil.
func NewTokenStore(sqlDB *sql.DB, dialect Dialect, sealer *crypto.Sealer) *TokenStore {
	if sealer == nil {
		slog.Warn("ENCRYPTION_KEY not set, tokens will be stored in plaintext", slog.String("component", "db"))
	}
	return &TokenStore{db: sqlDB, dialect: dialect, sealer: sealer}
}

// Ping checks connectivity.
func (s *TokenStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate creates the oauth_tokens table if missing.
func (s *TokenStore) Migrate(ctx context.Context) error {
	ts := "TIMESTAMPTZ"
	if s.dialect == DialectSQLite {
		ts = "TIMESTAMP"
	}
	stmt := `CREATE TABLE IF NOT EXISTS oauth_tokens (
		provider TEXT PRIMARY KEY,
		access_token TEXT NOT NULL,
		refresh_token TEXT NOT NULL DEFAULT '',
		expires_at ` + ts + `,
		scope TEXT NOT NULL DEFAULT '',
		encryption_version INTEGER NOT NULL DEFAULT 0,
		updated_at ` + ts + ` DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("migrate oauth_tokens: %w", err)
	}
	return nil
}

// Upsert stores tok, replacing any row for the same provider.
func (s *TokenStore) Upsert(ctx context.Context, tok Token) error {
	if tok.Provider == "" {
		return errors.New("token provider is empty")
	}
	access, refresh, version := tok.AccessToken, tok.RefreshToken, 0
	if s.sealer != nil {
		var err error
		if access, err = s.sealer.Seal(tok.AccessToken); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, err = s.sealer.Seal(tok.RefreshToken); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		version = 1
	}
	var expiry sql.NullTime
	if !tok.Expiry.IsZero() {
		expiry = sql.NullTime{Time: tok.Expiry.UTC(), Valid: true}
	}
	q := `INSERT INTO oauth_tokens (provider, access_token, refresh_token, expires_at, scope, encryption_version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP)
		ON CONFLICT (provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			scope = excluded.scope,
			encryption_version = excluded.encryption_version,
			updated_at = CURRENT_TIMESTAMP`
	_, err := s.db.ExecContext(ctx, s.rebind(q), tok.Provider, access, refresh, expiry, tok.Scope, version)
	if err != nil {
		return fmt.Errorf("upsert token %s: %w", tok.Provider, err)
	}
	return nil
}

// Get loads the token for provider, decrypting when needed.
func (s *TokenStore) Get(ctx context.Context, provider string) (Token, error) {
	tok := Token{Provider: provider}
	var expiry sql.NullTime
	var version int
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT access_token, refresh_token, expires_at, scope, encryption_version FROM oauth_tokens WHERE provider = $1`), provider)
	err := row.Scan(&tok.AccessToken, &tok.RefreshToken, &expiry, &tok.Scope, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, ErrNoToken
	}
	if err != nil {
		return Token{}, fmt.Errorf("get token %s: %w", provider, err)
	}
	if expiry.Valid {
		tok.Expiry = expiry.Time
	}
	if version == 1 {
		if s.sealer == nil {
			return Token{}, errors.New("token is encrypted but ENCRYPTION_KEY not configured")
		}
		if tok.AccessToken, err = s.sealer.Open(tok.AccessToken); err != nil {
			return Token{}, fmt.Errorf("decrypt access token: %w", err)
		}
		if tok.RefreshToken, err = s.sealer.Open(tok.RefreshToken); err != nil {
			return Token{}, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return tok, nil
}

// Count returns the number of stored tokens.
func (s *TokenStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM oauth_tokens`).Scan(&n)
	return n, err
}

var placeholder = regexp.MustCompile(`\$\d+`)

// rebind rewrites $N placeholders to ? for SQLite. Queries must use each
// placeholder once, in order.
func (s *TokenStore) rebind(q string) string {
	if s.dialect != DialectSQLite {
		return q
	}
	return placeholder.ReplaceAllString(q, "?")
}

// PlaintextProviders lists providers whose row is stored unencrypted.
func (s *TokenStore) PlaintextProviders(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provider FROM oauth_tokens WHERE encryption_version = 0 ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("query plaintext tokens: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// EncryptionStatus returns the number of rows per encryption_version.
func (s *TokenStore) EncryptionStatus(ctx context.Context) (map[int]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT encryption_version, COUNT(*) FROM oauth_tokens GROUP BY encryption_version`)
	if err != nil {
		return nil, fmt.Errorf("query encryption status: %w", err)
	}
	defer rows.Close()
	out := make(map[int]int)
	for rows.Next() {
		var version, n int
		if err := rows.Scan(&version, &n); err != nil {
			return nil, fmt.Errorf("scan encryption status: %w", err)
		}
		out[version] = n
	}
	return out, rows.Err()
}
