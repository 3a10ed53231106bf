// cmd/migrate applies the *.sql files in the migrations directory against
// the ledgerd database. It reads the same configuration as ledgerd, so
// database.url (or the DATABASE_URL env var) points both tools at the same
// instance.
//
// Each file runs inside one transaction together with its bookkeeping row in
// schema_migrations, so a failed migration leaves no trace and can simply be
// rerun.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("migrate exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration (shared with ledgerd) ──────────────────────────────────
	viper.SetConfigName("ledgerd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("database.url", "")
	viper.SetDefault("database.migrations_dir", "migrations")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	dbURL := viper.GetString("database.url")
	if dbURL == "" {
		return errors.New("database.url is not set")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres")

	if _, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    bigint PRIMARY KEY,
			applied_at timestamptz NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	migrations, err := collectMigrations(viper.GetString("database.migrations_dir"))
	if err != nil {
		return err
	}

	applied := 0
	for _, m := range migrations {
		done, err := apply(ctx, db, m)
		if err != nil {
			return fmt.Errorf("apply %s: %w", m.name, err)
		}
		if !done {
			logger.Info("already applied", zap.String("migration", m.name))
			continue
		}
		logger.Info("applied", zap.String("migration", m.name))
		applied++
	}

	if applied == 0 {
		logger.Info("nothing to migrate, already up to date")
	} else {
		logger.Info("migrations complete", zap.Int("applied", applied))
	}
	return nil
}

// migration is one versioned SQL file.
type migration struct {
	version int64
	name    string
	path    string
}

// collectMigrations lists the *.sql files in dir ordered by their numeric
// version prefix.
func collectMigrations(dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		ver, err := versionFromName(e.Name())
		if err != nil {
			return nil, fmt.Errorf("parse version from %s: %w", e.Name(), err)
		}
		out = append(out, migration{
			version: ver,
			name:    e.Name(),
			path:    filepath.Join(dir, e.Name()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// versionFromName extracts the leading integer from a migration filename,
// e.g. "001_blocks.up.sql" yields 1.
func versionFromName(filename string) (int64, error) {
	prefix, _, ok := strings.Cut(filename, "_")
	if !ok {
		return 0, errors.New("expected <version>_<name>.sql")
	}
	return strconv.ParseInt(prefix, 10, 64)
}

// apply runs one migration inside a transaction. It returns false when the
// version was already recorded.
func apply(ctx context.Context, db *pgxpool.Pool, m migration) (bool, error) {
	sql, err := os.ReadFile(m.path)
	if err != nil {
		return false, err
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`,
		m.version,
	).Scan(&exists); err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	if _, err := tx.Exec(ctx, string(sql)); err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (version) VALUES ($1)`, m.version,
	); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}
