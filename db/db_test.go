package db_test

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/globalworming/low-tech-ai-pocs/crypto"
	"github.com/globalworming/low-tech-ai-pocs/db"
	"github.com/globalworming/low-tech-ai-pocs/testutil"
)

func newStore(t *testing.T, sealer *crypto.Sealer) (*db.TokenStore, func(q string) string) {
	t.Helper()
	sqlDB, driver := testutil.OpenTestDB(t)
	s := db.NewTokenStore(sqlDB, db.Dialect(driver), sealer)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	raw := func(q string) string {
		var v string
		if err := sqlDB.QueryRow(q).Scan(&v); err != nil {
			t.Fatalf("raw query %q: %v", q, err)
		}
		return v
	}
	return s, raw
}

func TestDialectFor(t *testing.T) {
	tests := map[string]db.Dialect{
		"postgres://u:p@localhost/db":   db.DialectPostgres,
		"postgresql://u:p@localhost/db": db.DialectPostgres,
		"tokens.db":                     db.DialectSQLite,
		"/var/lib/relay/tokens.db":      db.DialectSQLite,
	}
	for dsn, want := range tests {
		if got := db.DialectFor(dsn); got != want {
			t.Errorf("DialectFor(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestTokenStoreRoundTrip(t *testing.T) {
	s, _ := newStore(t, nil)
	ctx := context.Background()

	if _, err := s.Get(ctx, "twitch"); !errors.Is(err, db.ErrNoToken) {
		t.Fatalf("Get on empty store err = %v, want ErrNoToken", err)
	}

	exp := time.Date(2026, 10, 17, 13, 0, 0, 0, time.UTC)
	in := db.Token{Provider: "twitch", AccessToken: "acc", RefreshToken: "ref", Expiry: exp, Scope: "chat:read"}
	if err := s.Upsert(ctx, in); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := s.Get(ctx, "twitch")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AccessToken != "acc" || got.RefreshToken != "ref" || got.Scope != "chat:read" || !got.Expiry.Equal(exp) {
		t.Errorf("Get = %+v", got)
	}

	in.AccessToken = "acc2"
	in.Expiry = time.Time{}
	if err := s.Upsert(ctx, in); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	got, _ = s.Get(ctx, "twitch")
	if got.AccessToken != "acc2" || !got.Expiry.IsZero() {
		t.Errorf("after update Get = %+v", got)
	}
	if n, err := s.Count(ctx); err != nil || n != 1 {
		t.Errorf("Count = %d, %v; want 1", n, err)
	}
}

func TestTokenStoreEncrypted(t *testing.T) {
	sealer, err := crypto.NewSealer(base64.StdEncoding.EncodeToString([]byte(strings.Repeat("x", 32))))
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	s, raw := newStore(t, sealer)
	ctx := context.Background()

	if err := s.Upsert(ctx, db.Token{Provider: "twitch", AccessToken: "plain-access", RefreshToken: "plain-refresh"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if stored := raw(`SELECT access_token FROM oauth_tokens WHERE provider = 'twitch'`); strings.Contains(stored, "plain-access") {
		t.Errorf("access token stored in plaintext: %q", stored)
	}
	got, err := s.Get(ctx, "twitch")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AccessToken != "plain-access" || got.RefreshToken != "plain-refresh" {
		t.Errorf("decrypted = %+v", got)
	}
}

func TestTokenStoreEncryptedWithoutKey(t *testing.T) {
	sealer, _ := crypto.NewSealer(base64.StdEncoding.EncodeToString([]byte(strings.Repeat("y", 32))))
	sqlDB, driver := testutil.OpenTestDB(t)
	ctx := context.Background()

	writer := db.NewTokenStore(sqlDB, db.Dialect(driver), sealer)
	if err := writer.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := writer.Upsert(ctx, db.Token{Provider: "twitch", AccessToken: "a"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	reader := db.NewTokenStore(sqlDB, db.Dialect(driver), nil)
	if _, err := reader.Get(ctx, "twitch"); err == nil {
		t.Error("expected error reading encrypted token without a key")
	}
}

func TestUpsertRequiresProvider(t *testing.T) {
	s, _ := newStore(t, nil)
	if err := s.Upsert(context.Background(), db.Token{AccessToken: "x"}); err == nil {
		t.Error("expected error for empty provider")
	}
}

func TestPlaintextProvidersAndStatus(t *testing.T) {
	s, _ := newStore(t, nil)
	ctx := context.Background()
	for _, p := range []string{"twitch", "backup"} {
		if err := s.Upsert(ctx, db.Token{Provider: p, AccessToken: "acc-" + p}); err != nil {
			t.Fatalf("Upsert %s: %v", p, err)
		}
	}
	got, err := s.PlaintextProviders(ctx)
	if err != nil {
		t.Fatalf("PlaintextProviders: %v", err)
	}
	if strings.Join(got, ",") != "backup,twitch" {
		t.Fatalf("PlaintextProviders = %v, want [backup twitch]", got)
	}
	status, err := s.EncryptionStatus(ctx)
	if err != nil {
		t.Fatalf("EncryptionStatus: %v", err)
	}
	if status[0] != 2 || status[1] != 0 {
		t.Fatalf("EncryptionStatus = %v, want 2 plaintext rows", status)
	}
}
