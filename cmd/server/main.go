package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"portalsync/internal/app/server/api"
	"portalsync/internal/app/server/config"
	"portalsync/internal/domain/access"
	"portalsync/internal/domain/audit"
	"portalsync/internal/domain/authority"
	"portalsync/internal/domain/lockout"
	"portalsync/internal/domain/relay"
	"portalsync/internal/domain/sync"
	"portalsync/internal/infrastructure/migration"
	"portalsync/internal/infrastructure/redisclient"
	"portalsync/internal/infrastructure/storage/memory"
	"portalsync/internal/infrastructure/storage/postgres"
	"portalsync/internal/utils/logger"

	"golang.org/x/exp/slog"
)

func main() {
	cfg := config.MustLoad()
	log := logger.New(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", logger.Err(err))
		os.Exit(1)
	}
}

// repositories are the storage-backed ports of the domain services.
type repositories struct {
	records     sync.RecordRepository
	batches     sync.IdempotencyRepository
	submissions relay.Repository
	audit       audit.Repository
	pinger      interface{ Ping(context.Context) error }
	close       func()
}

func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (*repositories, error) {
	switch cfg.DB.Driver {
	case config.StorageMemory:
		log.Warn("using in-memory storage; data is lost on restart")
		return &repositories{
			records:     memory.NewRecordRepository(),
			batches:     memory.NewBatchRepository(),
			submissions: memory.NewSubmissionRepository(),
			audit:       memory.NewAuditRepository(),
			close:       func() {},
		}, nil
	case config.StoragePostgres:
		if err := migration.NewMigration(cfg, nil).Up(); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		st, err := postgres.New(ctx, cfg.DB.DatabaseURI)
		if err != nil {
			return nil, err
		}
		pool := st.Pool()
		return &repositories{
			records:     postgres.NewRecordRepository(pool, log),
			batches:     postgres.NewBatchRepository(pool, log),
			submissions: postgres.NewSubmissionRepository(pool, log),
			audit:       postgres.NewAuditRepository(pool),
			pinger:      st,
			close:       func() { _ = st.Close() },
		}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.DB.Driver)
}

func lockoutStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (lockout.Store, func(), error) {
	if cfg.Redis.URL == "" {
		return lockout.NewMemoryStore(), func() {}, nil
	}
	client, err := redisclient.New(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, nil, err
	}
	log.Info("lockout counters stored in redis")
	return lockout.NewRedisStore(client), func() { _ = client.Close() }, nil
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	repos, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer repos.close()

	store, closeStore, err := lockoutStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	policies := lockout.DefaultPolicies().
		With(lockout.TypeAPI, cfg.Lockout.APIMaxAttempts, cfg.Lockout.APIBlockDuration).
		With(lockout.TypeMemberVerification, cfg.Lockout.VerifyMaxAttempts, 0)
	guard := lockout.NewGuard(store, policies, log)
	go guard.RunSweeper(ctx, cfg.Lockout.SweepInterval)

	policy := authority.DefaultPolicy()
	if cfg.Sync.AuthorityPolicyFile != "" {
		if policy, err = authority.LoadPolicy(cfg.Sync.AuthorityPolicyFile); err != nil {
			return err
		}
	}
	mode, err := sync.ParseCascadeMode(cfg.Sync.Cascade)
	if err != nil {
		return err
	}
	codec, err := sync.NewCodec()
	if err != nil {
		return err
	}

	syncService := sync.NewService(
		codec,
		sync.NewApplier(repos.records, authority.NewResolver(policy), log),
		sync.NewDeltaEngine(repos.records, log).WithSettleLag(cfg.Sync.SettleLag),
		sync.NewCascadePolicy(mode, repos.records, log),
		repos.batches,
		log,
	).WithClaimLease(cfg.Sync.ClaimLease)

	webhook := relay.NewWebhookClient(relay.WebhookOptions{
		URL:        cfg.Relay.WebhookURL,
		APIKey:     cfg.Relay.WebhookAPIKey,
		Timeout:    cfg.Relay.Timeout,
		MaxRetries: cfg.Relay.MaxRetries,
		BaseDelay:  cfg.Relay.BaseDelay,
		MaxDelay:   cfg.Relay.MaxDelay,
	}, log)
	if cfg.Relay.WebhookURL == "" {
		log.Warn("WEBHOOK_URL is not set; submissions will be stored but not relayed")
	}
	relayService := relay.NewService(repos.submissions, repos.records, webhook, guard, log).
		WithStaleAfter(cfg.Relay.StaleAfter)

	auditor := audit.Multi{audit.NewSlogSink(log), audit.NewStoreSink(repos.audit)}
	gate := access.NewGate(access.NewKeySet(cfg.Sync.APIKeys), auditor, log)

	deps := api.Deps{
		Sync:         syncService,
		Relay:        relayService,
		Gate:         gate,
		Limiter:      guard,
		StorageName:  cfg.DB.Driver,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}
	if repos.pinger != nil {
		deps.Pinger = repos.pinger
	}

	srv := &http.Server{
		Addr:    cfg.Server.RunAddress,
		Handler: api.New(deps, log),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", slog.String("address", cfg.Server.RunAddress), slog.String("storage", cfg.DB.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
