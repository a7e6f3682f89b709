// Package main provides a CLI tool to encrypt plaintext OAuth tokens already
// sitting in the token store.
//
// Rows with encryption_version=0 are read back and re-written through a
// sealing store, which stores them as version 1 (AES-256-GCM).
//
// Usage:
//
//	migrate-tokens [--dry-run] [--provider PROVIDER]
//
// Environment Variables:
//
//	DB_DSN: Postgres URL or SQLite file path (default: tokens.db)
//	ENCRYPTION_KEY: Base64-encoded 32-byte encryption key (required)
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/globalworming/low-tech-ai-pocs/crypto"
	"github.com/globalworming/low-tech-ai-pocs/db"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	provider := flag.String("provider", "", "Migrate the token for one provider only (default: all)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = "tokens.db"
	}
	encryptionKey := os.Getenv("ENCRYPTION_KEY")
	if encryptionKey == "" {
		slog.Error("ENCRYPTION_KEY environment variable is required for migration")
		os.Exit(1)
	}
	sealer, err := crypto.NewSealer(encryptionKey)
	if err != nil {
		slog.Error("failed to initialize sealer", slog.Any("error", err))
		os.Exit(1)
	}

	database, dialect, err := db.Open(dsn)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer database.Close()

	ctx := context.Background()
	plain := db.NewTokenStore(database, dialect, nil)
	sealed := db.NewTokenStore(database, dialect, sealer)
	if err := migrateTokens(ctx, plain, sealed, *dryRun, *provider); err != nil {
		slog.Error("migration failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := reportStatus(ctx, plain); err != nil {
		slog.Warn("status report failed", slog.Any("error", err))
	}
	slog.Info("migration completed successfully")
}

// migrateTokens reads plaintext rows through plain and rewrites them through
// sealed.
func migrateTokens(ctx context.Context, plain, sealed *db.TokenStore, dryRun bool, providerFilter string) error {
	providers, err := plain.PlaintextProviders(ctx)
	if err != nil {
		return err
	}
	if providerFilter != "" {
		filtered := providers[:0]
		for _, p := range providers {
			if p == providerFilter {
				filtered = append(filtered, p)
			}
		}
		providers = filtered
	}
	if len(providers) == 0 {
		slog.Info("no plaintext tokens found to migrate")
		return nil
	}
	slog.Info("found plaintext tokens to migrate", slog.Int("count", len(providers)), slog.Bool("dry_run", dryRun))

	migrated, errorCount := 0, 0
	for i, p := range providers {
		logger := slog.With(slog.String("provider", p), slog.Int("index", i+1), slog.Int("total", len(providers)))
		if dryRun {
			logger.Info("would migrate token (dry-run)")
			migrated++
			continue
		}
		tok, err := plain.Get(ctx, p)
		if err == nil {
			err = sealed.Upsert(ctx, tok)
		}
		if err != nil {
			logger.Error("failed to migrate token", slog.Any("error", err))
			errorCount++
			continue
		}
		logger.Info("migrated token successfully")
		migrated++
	}

	slog.Info("migration summary",
		slog.Int("total", len(providers)),
		slog.Int("migrated", migrated),
		slog.Int("errors", errorCount),
		slog.Bool("dry_run", dryRun))
	if errorCount > 0 {
		return fmt.Errorf("migration completed with %d errors", errorCount)
	}
	return nil
}

func reportStatus(ctx context.Context, store *db.TokenStore) error {
	status, err := store.EncryptionStatus(ctx)
	if err != nil {
		return err
	}
	for version, count := range status {
		desc := fmt.Sprintf("unknown version %d", version)
		switch version {
		case 0:
			desc = "plaintext"
		case 1:
			desc = "encrypted (AES-256-GCM)"
		}
		slog.Info("token encryption status", slog.Int("encryption_version", version), slog.String("description", desc), slog.Int("count", count))
	}
	return nil
}
