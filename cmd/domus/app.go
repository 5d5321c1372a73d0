package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/domus/internal/assistant"
	"github.com/gosuda/domus/internal/audit"
	"github.com/gosuda/domus/internal/authz"
	"github.com/gosuda/domus/internal/command"
	"github.com/gosuda/domus/internal/config"
	"github.com/gosuda/domus/internal/domain"
	"github.com/gosuda/domus/internal/metrics"
	"github.com/gosuda/domus/internal/secrets"
	natsstore "github.com/gosuda/domus/internal/store/nats"
	"github.com/gosuda/domus/internal/store/postgres"
	redisstore "github.com/gosuda/domus/internal/store/redis"
	"github.com/gosuda/domus/internal/telemetry"
	"github.com/gosuda/domus/internal/tenancy"
)

// app holds the process-wide collaborators shared by every subcommand.
type app struct {
	cfg       *config.Config
	store     *postgres.Store
	redis     *goredis.Client
	queue     *redisstore.Queue
	pubsub    *redisstore.PubSub
	nats      *natsstore.Publisher
	metrics   *metrics.Metrics
	audit     *audit.Logger
	guard     *authz.Guard
	resolver  *tenancy.Resolver
	policy    *command.Policy
	notifiers []command.StatusNotifier
	tracing   telemetry.Shutdown
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" || cfg.Format == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}

// openStore loads configuration and connects to Postgres. The vault is
// attached when an encryption key is configured.
func openStore(ctx context.Context) (*config.Config, *postgres.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	setupLogging(cfg.Log)

	if cfg.Database.MaxConns > math.MaxInt32 {
		return nil, nil, fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
	}

	vault, err := openVault(cfg)
	if err != nil {
		return nil, nil, err
	}

	store, err := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns), vault) //nolint:gosec // bounds checked above
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

// openVault returns nil when no encryption key is configured.
func openVault(cfg *config.Config) (*secrets.Vault, error) {
	if cfg.EncryptionKey == "" {
		return nil, nil //nolint:nilnil // no key means no sealing
	}
	vault, err := secrets.NewVaultFromBase64(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	return vault, nil
}

// newApp connects every backing service and wires the shared components.
// The caller must call close.
func newApp(ctx context.Context) (*app, error) {
	cfg, store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, store: store}

	if cfg.Tracing.Endpoint != "" {
		a.tracing, err = telemetry.Init(ctx, "domus", version, cfg.Tracing.SampleRatio)
		if err != nil {
			log.Warn().Err(err).Msg("tracing disabled")
		}
	}

	if err := store.Migrate(ctx); err != nil {
		a.close()
		return nil, err
	}

	a.redis, err = redisstore.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		a.close()
		return nil, err
	}
	a.queue = redisstore.NewQueue(a.redis)
	a.pubsub = redisstore.NewPubSub(a.redis)
	a.notifiers = append(a.notifiers, a.pubsub)

	if cfg.NATS.URL != "" {
		a.nats, err = natsstore.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			a.close()
			return nil, err
		}
		a.notifiers = append(a.notifiers, a.nats)
	}

	a.policy = command.DefaultPolicy()
	if cfg.PolicyFile != "" {
		a.policy, err = command.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	a.metrics = metrics.New(prometheus.DefaultRegisterer)
	var auditOpts []audit.Option
	vault, err := openVault(cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	if vault != nil {
		auditOpts = append(auditOpts, audit.WithSealer(vault))
	}
	a.audit = audit.NewLogger(store.SecurityEvents(), a.metrics, auditOpts...)

	registry := authz.NewRegistry()
	registry.Register(authz.ResourceHouse, authz.HouseAccessor(store.Houses()))
	registry.Register(authz.ResourceCommand, authz.CommandAccessor(store.Commands()))
	a.guard = authz.NewGuard(registry, a.audit, a.metrics)

	a.resolver = tenancy.NewResolver(cfg.JWT.Secret, store.Tenants(), store.Users(),
		tenancy.WithRoleGrants(authz.RoleGrants),
		tenancy.WithTenantCache(redisstore.NewCache[domain.Tenant](a.redis, "tenant:"), cfg.TenantCacheTTL),
	)

	return a, nil
}

func (a *app) close() {
	if a.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.tracing(ctx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown")
		}
		cancel()
	}
	if a.nats != nil {
		a.nats.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("redis close")
		}
	}
	a.store.Close()
}

// capabilities selects the model gateway client, or the local rule-based
// analyzer when no gateway is configured.
func (a *app) capabilities() command.Capabilities {
	if a.cfg.AI.URL == "" {
		log.Warn().Msg("DOMUS_AI_URL is not set; using rule-based analyzer without transcription or speech")
		return command.Capabilities{Analyzer: assistant.Rules{}}
	}
	client := assistant.NewHTTPClient(a.cfg.AI.URL, a.cfg.AI.APIKey, a.cfg.AI.Timeout)
	return command.Capabilities{Transcriber: client, Analyzer: client, Synthesizer: client}
}

func (a *app) worker() *command.Worker {
	return command.NewWorker(command.WorkerConfig{
		Name:           a.cfg.Worker.Name,
		Concurrency:    a.cfg.Worker.Concurrency,
		MaxAttempts:    a.cfg.Worker.MaxAttempts,
		AttemptTimeout: a.cfg.Worker.AttemptTimeout,
		InitialBackoff: a.cfg.Worker.InitialBackoff,
		MaxBackoff:     a.cfg.Worker.MaxBackoff,
	}, a.queue, a.store.Commands(), a.capabilities(), command.NewDenyList(a.policy.DenyList), a.audit, a.metrics, a.notifiers...)
}

func (a *app) sweeper() *command.Sweeper {
	return command.NewSweeper(command.SweeperConfig{
		Interval:          a.cfg.Sweeper.Interval,
		RequeueAfter:      a.cfg.Sweeper.RequeueAfter,
		ProcessingTimeout: a.cfg.Sweeper.ProcessingTimeout,
	}, a.store.Commands(), a.queue, a.audit, a.metrics, a.notifiers...)
}
