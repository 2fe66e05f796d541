package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Apsistec/fitos-app-sub001/internal/adapter/postgres"
	"github.com/Apsistec/fitos-app-sub001/internal/adapter/sqlite"
	"github.com/Apsistec/fitos-app-sub001/internal/config"
	"github.com/Apsistec/fitos-app-sub001/internal/port/database"
	"github.com/Apsistec/fitos-app-sub001/internal/port/notifier"
)

// openStore connects the configured ledger backend. Postgres migrations run
// only when migrate is set; the admin commands manage them explicitly.
func openStore(ctx context.Context, cfg *config.Config, migrate bool) (database.ApprovalStore, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		slog.Info("sqlite ledger opened", "path", cfg.Store.SQLitePath)
		return sqlite.NewStore(db), nil
	default:
		if migrate {
			if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
				return nil, fmt.Errorf("migrations: %w", err)
			}
			slog.Info("migrations applied")
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		slog.Info("postgres connected")
		return postgres.NewStore(pool), nil
	}
}

// buildNotifiers instantiates every sink with settings through the notifier
// registry. A sink that fails to build is logged and skipped.
func buildNotifiers(cfg config.Notify) []notifier.Notifier {
	configs := map[string]map[string]string{}
	if cfg.SlackWebhookURL != "" {
		configs["slack"] = map[string]string{"webhook_url": cfg.SlackWebhookURL}
	}
	if cfg.DiscordWebhookURL != "" {
		configs["discord"] = map[string]string{"webhook_url": cfg.DiscordWebhookURL}
	}
	if cfg.SMTPHost != "" {
		configs["email"] = map[string]string{
			"host":     cfg.SMTPHost,
			"port":     cfg.SMTPPort,
			"username": cfg.SMTPUsername,
			"password": cfg.SMTPPassword,
			"from":     cfg.EmailFrom,
			"domain":   cfg.EmailDomain,
		}
	}

	var out []notifier.Notifier
	for _, name := range notifier.Available() {
		c, ok := configs[name]
		if !ok {
			continue
		}
		n, err := notifier.New(name, c)
		if err != nil {
			slog.Warn("notifier disabled", "notifier", name, "error", err)
			continue
		}
		out = append(out, n)
	}
	return out
}
