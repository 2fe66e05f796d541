// Command fitcoach serves the coaching router and the trainer approval ledger.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	cfhttp "github.com/Apsistec/fitos-app-sub001/internal/adapter/http"
	"github.com/Apsistec/fitos-app-sub001/internal/adapter/litellm"
	cfmcp "github.com/Apsistec/fitos-app-sub001/internal/adapter/mcp"
	cfnats "github.com/Apsistec/fitos-app-sub001/internal/adapter/nats"
	"github.com/Apsistec/fitos-app-sub001/internal/adapter/natskv"
	cfotel "github.com/Apsistec/fitos-app-sub001/internal/adapter/otel"
	"github.com/Apsistec/fitos-app-sub001/internal/adapter/redislock"
	"github.com/Apsistec/fitos-app-sub001/internal/adapter/ristretto"
	"github.com/Apsistec/fitos-app-sub001/internal/adapter/tiered"
	"github.com/Apsistec/fitos-app-sub001/internal/adapter/ws"
	"github.com/Apsistec/fitos-app-sub001/internal/config"
	"github.com/Apsistec/fitos-app-sub001/internal/domain/approval"
	"github.com/Apsistec/fitos-app-sub001/internal/logger"
	"github.com/Apsistec/fitos-app-sub001/internal/middleware"
	"github.com/Apsistec/fitos-app-sub001/internal/port/cache"
	"github.com/Apsistec/fitos-app-sub001/internal/port/messagequeue"
	"github.com/Apsistec/fitos-app-sub001/internal/port/notifier"
	"github.com/Apsistec/fitos-app-sub001/internal/resilience"
	"github.com/Apsistec/fitos-app-sub001/internal/secrets"
	"github.com/Apsistec/fitos-app-sub001/internal/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var err error
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		err = runAdmin(os.Args[2:])
	} else {
		err = run()
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"version", version,
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"log_level", cfg.Logging.Level,
		"auth", cfg.Auth.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	shutdownOTEL, err := cfotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		slog.Warn("metrics unavailable", "error", err)
	}

	// Credentials reload from the config sources on SIGHUP.
	vault, err := secrets.NewVault(secrets.ConfigLoader(config.Load))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	vault.ReloadOnSignal(ctx, syscall.SIGHUP)

	// --- Infrastructure ---

	store, err := openStore(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()
	var sharedCache cache.Cache = l1

	var queue *cfnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = cfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := queue.Drain(); err != nil {
				slog.Warn("nats drain failed", "error", err)
			}
		}()

		kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			return fmt.Errorf("nats kv: %w", err)
		}
		sharedCache = tiered.New(l1, natskv.New(kv), cfg.Cache.StatsTTL)
		slog.Info("nats connected", "cache_bucket", cfg.Cache.L2Bucket)
	}

	// --- Ledger ---

	table, err := approval.LoadPolicyFile(cfg.Approval.PolicyFile)
	if err != nil {
		return fmt.Errorf("approval policy: %w", err)
	}
	policy := approval.NewPolicy(table, cfg.Coach.ConfidenceThreshold)

	ledger := service.NewApprovalService(store, policy, cfg.Approval.ReviewWindow)
	ledger.SetStatsCache(sharedCache, cfg.Cache.StatsTTL)
	ledger.SetMetrics(metrics)

	hub := ws.NewHub()
	defer hub.Close()

	notifiers := buildNotifiers(cfg.Notify)
	if queue != nil {
		ledger.SetQueue(queue)
		// Every instance relays ledger events to its own dashboards.
		cancelRelay, err := queue.Subscribe(ctx, messagequeue.SubjectApprovalAll, hub.Relay)
		if err != nil {
			return fmt.Errorf("approval relay: %w", err)
		}
		defer cancelRelay()
	} else {
		notifiers = append(notifiers, hub)
	}
	notify := service.NewNotificationService(notifiers, cfg.Approval.NotifyEvents)
	defer notify.Wait()
	ledger.SetNotifications(notify)
	slog.Info("notifications configured", "sinks", notify.NotifierCount(), "available", notifier.Available())

	// --- Coaching ---

	llmClient := litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey, cfg.LiteLLM.Timeout)
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout).
		CountIf(litellm.CountsAsFailure).
		OnStateChange(func(from, to resilience.State) {
			slog.Warn("litellm circuit breaker", "from", from.String(), "to", to.String())
		})
	llmClient.SetBreaker(breaker)
	llmClient.SetKeySource(vault.Getter(secrets.KeyLiteLLMMasterKey))
	gen := litellm.NewGenerator(llmClient, cfg.LiteLLM.Model, cfg.LiteLLM.Temperature, cfg.LiteLLM.MaxTokens)

	specialists := service.NewSpecialistService(gen, resilience.NewPool(cfg.Coach.MaxConcurrentGenerations), cfg.Coach.HistoryTurns)
	specialists.SetMetrics(metrics)
	coach := service.NewCoachService(specialists, ledger, cfg.Coach.ConfidenceThreshold)
	coach.SetMetrics(metrics)

	sweeper := service.NewSweeperService(ledger, cfg.Approval.SweepInterval, cfg.Approval.SweepWorkers)
	sweeper.SetMetrics(metrics)
	if cfg.Redis.URL != "" {
		lease, err := redislock.NewFromURL(ctx, cfg.Redis.URL, cfg.Redis.LeaseKey, cfg.Redis.LeaseTTL)
		if err != nil {
			return fmt.Errorf("redis lease: %w", err)
		}
		defer func() { _ = lease.Close() }()
		sweeper.SetLease(lease)
	}

	// --- HTTP ---

	handlers := &cfhttp.Handlers{
		Coach:     coach,
		Approvals: ledger,
		Sweeper:   sweeper,
		LiveFeed:  hub.HandleWS,
		Health:    store,
		Version:   version,
		Now:       time.Now,
	}

	opts := cfhttp.RouteOptions{
		Idempotency:    sharedCache,
		IdempotencyTTL: 24 * time.Hour,
	}
	if cfg.Server.MessageRPS > 0 {
		limiter := middleware.NewRateLimiter(cfg.Server.MessageRPS, cfg.Server.MessageBurst)
		stopCleanup := limiter.StartCleanup(time.Minute, 10*time.Minute)
		defer stopCleanup()
		opts.MessageLimiter = limiter
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(cfhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	// Generation can take the full LiteLLM timeout; leave room for the ledger.
	r.Use(chimw.Timeout(cfg.LiteLLM.Timeout + 15*time.Second))
	jwtSecret := vault.Getter(secrets.KeyJWTSecret)
	r.Use(middleware.AuthWithSecret(cfg.Auth, func() []byte { return []byte(jwtSecret()) }))
	cfhttp.MountRoutes(r, handlers, opts)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.LiteLLM.Timeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if cfg.MCP.Enabled {
		mcpSrv := cfmcp.NewServer(cfmcp.ServerConfig{
			Addr:       cfg.MCP.Addr,
			Name:       "fitcoach",
			Version:    version,
			APIKeyHash: cfg.MCP.APIKeyHash,
		}, cfmcp.ServerDeps{Approvals: ledger, Policy: policy})
		if err := mcpSrv.Start(); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mcpSrv.Stop(sctx)
		}()
	}

	// --- Run ---

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}
