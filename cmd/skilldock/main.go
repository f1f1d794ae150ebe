package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/skilldock/skilldock/internal/analyzer"
	"github.com/skilldock/skilldock/internal/api"
	"github.com/skilldock/skilldock/internal/archive"
	"github.com/skilldock/skilldock/internal/audit"
	"github.com/skilldock/skilldock/internal/config"
	"github.com/skilldock/skilldock/internal/deploy"
	"github.com/skilldock/skilldock/internal/importer"
	"github.com/skilldock/skilldock/internal/netpolicy"
	"github.com/skilldock/skilldock/internal/queue"
	"github.com/skilldock/skilldock/internal/review"
	"github.com/skilldock/skilldock/internal/store"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting SkillDock...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/skilldock.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger = newLogger(cfg.Server.LogLevel)
	defer logger.Sync()
	logger.Info("Config loaded", zap.String("path", cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.Database.Postgres.DSN, logger)
	if err != nil {
		logger.Fatal("PostgreSQL unavailable", zap.Error(err))
	}
	defer st.Close()
	if err := st.Migrate(context.Background(), "migrations"); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	// Policy cache: Redis when configured, in-process otherwise.
	var policyCache netpolicy.Cache
	if cfg.Database.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Database.Redis.Addr,
			Password: cfg.Database.Redis.Password,
		})
		policyCache = netpolicy.NewRedisCache(client)
		logger.Info("Policy cache on Redis", zap.String("addr", cfg.Database.Redis.Addr))
	} else {
		policyCache = netpolicy.NewMemoryCache()
		logger.Info("Policy cache in memory")
	}

	// Job queue: NATS JetStream when configured, in-process otherwise.
	var (
		q     queue.Queue
		memQ  *queue.MemoryQueue
		natsQ *queue.NatsQueue
	)
	if cfg.NATS.URL != "" {
		natsQ, err = queue.NewNatsQueue(cfg.NATS.URL, logger)
		if err != nil {
			logger.Fatal("NATS unavailable", zap.String("url", cfg.NATS.URL), zap.Error(err))
		}
		q = natsQ
		logger.Info("Job queue on NATS", zap.String("url", cfg.NATS.URL))
	} else {
		memQ = queue.NewMemoryQueue(logger)
		q = memQ
		logger.Info("Job queue in memory")
	}
	defer q.Close()

	an := analyzer.New(time.Duration(cfg.Analyzer.DryRunTimeoutSeconds)*time.Second, logger)
	validator := archive.NewValidator(an, logger)
	pkgStorage := archive.NewStorage(cfg.Storage.Root, logger)
	imp := importer.New(logger)

	alerter := audit.NewAlerter(q, st, logger)
	policies := netpolicy.NewAggregator(st, st, policyCache, alerter,
		time.Duration(cfg.Policy.CacheTTLSeconds)*time.Second, logger)

	orchestrator := deploy.NewOrchestrator(st, st, st, q, pkgStorage, policies,
		cfg.Storage.WorkspaceRoot, logger)
	reviews := review.NewCoordinator(q, st, logger)

	if cfg.Alerts.SlackWebhookURL != "" {
		audit.NewSlackNotifier(cfg.Alerts.SlackWebhookURL, logger).Register(q)
		logger.Info("Slack alert notifier registered")
	} else {
		q.Handle(audit.AlertQueue, audit.JobEvaluateEvent, dropJob(logger, "alert"))
	}

	if memQ != nil {
		// The reviewer runs out of process and picks review jobs off
		// NATS. Without NATS there is nothing to consume them, so park
		// submissions and rely on a human flipping the skill status.
		memQ.Handle(review.QueueName, review.JobReview, dropJob(logger, "review"))
		go drainLoop(ctx, memQ, logger)
	}

	if err := q.Start(ctx); err != nil {
		logger.Fatal("failed to start job workers", zap.Error(err))
	}

	auditLog := audit.NewLogger(st, logger)
	handler := api.NewHandler(validator, an, pkgStorage, imp, orchestrator,
		policies, reviews, st, auditLog, logger)

	addr := cfg.ListenAddr()
	if err := handler.Serve(ctx, addr); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("Shutting down SkillDock...")
}

// drainLoop periodically runs pending in-memory jobs. Only used when no
// NATS server is configured.
func drainLoop(ctx context.Context, q *queue.MemoryQueue, logger *zap.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.Drain(ctx); err != nil {
				logger.Warn("job drain failed", zap.Error(err))
			}
		}
	}
}

func dropJob(logger *zap.Logger, kind string) queue.Handler {
	return func(_ context.Context, job *queue.Job) error {
		logger.Warn("no consumer configured, dropping job",
			zap.String("kind", kind),
			zap.String("job", job.Name),
			zap.String("job_id", job.ID))
		return nil
	}
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zcfg.Build()
	if err != nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}
