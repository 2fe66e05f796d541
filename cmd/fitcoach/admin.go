package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/Apsistec/fitos-app-sub001/internal/adapter/postgres"
	"github.com/Apsistec/fitos-app-sub001/internal/config"
	"github.com/Apsistec/fitos-app-sub001/internal/domain/approval"
	"github.com/Apsistec/fitos-app-sub001/internal/middleware"
	"github.com/Apsistec/fitos-app-sub001/internal/service"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runAdminMigrate(args[1:])
	case "sweep":
		return runAdminSweep(args[1:])
	case "list-pending":
		return runAdminListPending(args[1:])
	case "issue-token":
		return runAdminIssueToken(args[1:])
	case "hash-key":
		return runAdminHashKey(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: fitcoach admin <command> [options]

Commands:
  migrate        Apply, roll back or show Postgres migrations
  sweep          Resolve every overdue approval request once
  list-pending   List a trainer's approval requests
  issue-token    Sign an API token for a trainer, service or admin
  hash-key       Print the bcrypt hash of an MCP API key
  help           Show this help message

Examples:
  fitcoach admin migrate up
  fitcoach admin migrate down --steps 1
  fitcoach admin sweep
  fitcoach admin list-pending --trainer trainer-42 --status expired
  fitcoach admin issue-token --subject trainer-42 --role trainer
  fitcoach admin hash-key
`)
}

// loadLedger builds an ApprovalService over the configured store without
// queue, cache or notifications.
func loadLedger(ctx context.Context) (*service.ApprovalService, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(ctx, cfg, false)
	if err != nil {
		return nil, nil, err
	}
	table, err := approval.LoadPolicyFile(cfg.Approval.PolicyFile)
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("approval policy: %w", err)
	}
	ledger := service.NewApprovalService(store, approval.NewPolicy(table, cfg.Coach.ConfidenceThreshold), cfg.Approval.ReviewWindow)
	return ledger, func() { _ = store.Close() }, nil
}

func runAdminMigrate(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: fitcoach admin migrate up|down|version")
	}
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "migrations to roll back (down only)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Store.Driver != "postgres" {
		return fmt.Errorf("migrations apply to the postgres store only (store.driver=%s)", cfg.Store.Driver)
	}

	ctx := context.Background()
	switch args[0] {
	case "up":
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return err
		}
	case "down":
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *steps); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown migrate action: %s", args[0])
	}

	v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Schema version: %d\n", v)
	return nil
}

func runAdminSweep(args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	workers := fs.Int("workers", 4, "concurrent transitions")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	ledger, cleanup, err := loadLedger(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	sweeper := service.NewSweeperService(ledger, time.Minute, *workers)
	affected, err := sweeper.Sweep(ctx, time.Now())
	for _, id := range affected {
		fmt.Println(id)
	}
	fmt.Fprintf(os.Stderr, "Resolved %d overdue request(s)\n", len(affected))
	return err
}

func runAdminListPending(args []string) error {
	fs := flag.NewFlagSet("list-pending", flag.ContinueOnError)
	trainer := fs.String("trainer", "", "trainer id (required)")
	status := fs.String("status", "", "pending (default), approved, rejected or expired")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *trainer == "" {
		return errors.New("--trainer is required")
	}

	ctx := context.Background()
	ledger, cleanup, err := loadLedger(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	reqs, err := ledger.ListPending(ctx, *trainer, approval.Status(*status))
	if err != nil {
		return fmt.Errorf("list approvals: %w", err)
	}
	if len(reqs) == 0 {
		fmt.Println("No approval requests found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tUSER\tACTION\tSEVERITY\tSTATUS\tCREATED\tEXPIRES")
	for i := range reqs {
		r := &reqs[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.UserID, r.ActionType, r.Severity, r.Status,
			r.CreatedAt.Format(time.RFC3339), r.ExpiresAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runAdminIssueToken(args []string) error {
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	subject := fs.String("subject", "", "trainer id or service name (required)")
	role := fs.String("role", string(middleware.RoleTrainer), "trainer, service or admin")
	ttl := fs.Duration("ttl", 0, "token lifetime (default auth.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("--subject is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret, err = promptSecret("JWT secret: ")
		if err != nil {
			return fmt.Errorf("read secret: %w", err)
		}
	}
	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = cfg.Auth.TokenTTL
	}

	tok, err := middleware.IssueToken([]byte(secret), cfg.Auth.Issuer, *subject, middleware.Role(*role), lifetime, time.Now())
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Println(tok)
	return nil
}

func runAdminHashKey(args []string) error {
	fs := flag.NewFlagSet("hash-key", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	key, err := promptSecret("API key: ")
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	confirm, err := promptSecret("Confirm API key: ")
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	if key != confirm {
		return errors.New("keys do not match")
	}
	if len(key) < 16 {
		return errors.New("API key must be at least 16 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}
	fmt.Println(string(hash))
	return nil
}

// promptSecret reads a secret from the terminal without echoing.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)                         // newline after secret input
	if err != nil {
		return "", err
	}
	return string(b), nil
}
