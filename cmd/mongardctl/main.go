// Package main is the entrypoint for the Mongard operations CLI.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mongardhq/mongard/internal/auth"
	"github.com/mongardhq/mongard/internal/db"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mongardctl",
		Short: "Mongard server operations",
		Long: `mongardctl performs one-off operational tasks against a Mongard
deployment: key generation, manual user verification and log pruning.

Database commands read the connection string from --db or DATABASE_URL.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newGenkeyCmd(),
		newVerifyUserCmd(),
		newPruneLogsCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mongardctl %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newGenkeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "genkey",
		Short: "Generate key material for MASTER_KEY",
		Long: `Generate 32 bytes of random key material, hex encoded.

The output is suitable for MASTER_KEY and for SESSION_COOKIE_SECRET.
Losing the master key makes every stored credential unrecoverable, so
store it somewhere durable before first use.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			fmt.Println(hex.EncodeToString(key))
			return nil
		},
	}
}

func newVerifyUserCmd() *cobra.Command {
	var dbURL string
	var email string

	cmd := &cobra.Command{
		Use:   "verify-user",
		Short: "Mark a user's email address as verified",
		Long: `Mark a user's email address as verified.

Deployments without an outbound mail channel can use this instead of the
emailed verification link.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerifyUser(dbURL, email)
		},
	}

	cmd.Flags().StringVar(&dbURL, "db", "", "Database URL (or set DATABASE_URL)")
	cmd.Flags().StringVar(&email, "email", "", "Email address of the user (required)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func runVerifyUser(dbURL, email string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := openDatabase(ctx, dbURL)
	if err != nil {
		return err
	}
	defer database.Close()

	user, err := database.GetUserByEmail(ctx, auth.NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}
	if user.EmailVerified {
		fmt.Printf("%s is already verified\n", user.Email)
		return nil
	}

	if err := database.MarkUserEmailVerified(ctx, user.ID); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	fmt.Printf("%s verified\n", user.Email)
	return nil
}

func newPruneLogsCmd() *cobra.Command {
	var dbURL string
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune-logs",
		Short: "Hard-delete soft-deleted backup logs",
		Long: `Hard-delete backup logs that retention already marked deleted.

The running server sweeps these daily; this command exists for manual
cleanup and for deployments that keep the server stopped between runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPruneLogs(dbURL, olderThan)
		},
	}

	cmd.Flags().StringVar(&dbURL, "db", "", "Database URL (or set DATABASE_URL)")
	cmd.Flags().DurationVar(&olderThan, "older-than", 2160*time.Hour, "Only delete logs marked deleted longer ago than this")

	return cmd
}

func runPruneLogs(dbURL string, olderThan time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	database, err := openDatabase(ctx, dbURL)
	if err != nil {
		return err
	}
	defer database.Close()

	deleted, err := database.HardDeleteBackupLogs(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return fmt.Errorf("prune logs: %w", err)
	}
	fmt.Printf("Deleted %d backup log rows\n", deleted)
	return nil
}

func openDatabase(ctx context.Context, dbURL string) (*db.DB, error) {
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, fmt.Errorf("database URL required: use --db or set DATABASE_URL")
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(zerolog.WarnLevel).
		With().
		Timestamp().
		Logger()

	cfg := db.DefaultConfig(dbURL)
	cfg.MaxConns = 5
	cfg.MinConns = 1

	database, err := db.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return database, nil
}
