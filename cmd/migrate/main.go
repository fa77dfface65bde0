// Command migrate applies the embedded schema migrations to the application
// database. The server runs them on startup too; this exists for operators
// who migrate ahead of a deploy or inspect schema state from a shell.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/db"
)

func main() {
	var (
		dbURL  = flag.String("db", "", "database URL (defaults to DATABASE_URL)")
		status = flag.Bool("status", false, "show applied and pending migrations without applying")
		list   = flag.Bool("list", false, "list the embedded migrations and exit")
	)
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	migrations, err := db.GetMigrations()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load embedded migrations")
	}

	if *list {
		for _, m := range migrations {
			fmt.Printf("%3d  %s\n", m.Version, m.Name)
		}
		return
	}

	url := *dbURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		logger.Fatal().Msg("no database URL: pass -db or set DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg := db.DefaultConfig(url)
	cfg.MaxConns = 2
	cfg.MinConns = 1

	database, err := db.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	if *status {
		printStatus(ctx, database, migrations, logger)
		return
	}

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}

	version, err := database.CurrentVersion(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("migrations applied but version check failed")
	}
	logger.Info().Int("version", version).Msg("schema up to date")
}

// printStatus reports the applied schema version and names any embedded
// migrations that have not been applied yet.
func printStatus(ctx context.Context, database *db.DB, migrations []db.Migration, logger zerolog.Logger) {
	version, err := database.CurrentVersion(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read schema version")
	}

	fmt.Printf("schema version: %d\n", version)

	pending := 0
	for _, m := range migrations {
		if m.Version > version {
			fmt.Printf("pending: %3d  %s\n", m.Version, m.Name)
			pending++
		}
	}
	if pending == 0 {
		fmt.Println("no pending migrations")
	}
}
