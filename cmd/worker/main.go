// Package main - точка входа для фонового воркера лидерборда StudyTime Hub.
//
// Воркер отвечает за периодические задачи:
// - Симуляция присутствия синтетических пользователей (online/offline)
// - Начисление учебного времени и пересчёт недельных агрегатов
// - Еженедельный сброс счётчиков с архивацией топ-3
// - Напоминания о начале учебных сессий через Telegram
// - Ночная рассылка PDF-отчётов из очереди
//
// Вся работа выражается как разреженные дельты поверх общего дерева состояния,
// которое мобильное приложение читает напрямую.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/studytime-hub/leaderboard-worker/config"
	"github.com/studytime-hub/leaderboard-worker/internal/infrastructure/redis"
	"github.com/studytime-hub/leaderboard-worker/internal/infrastructure/scheduler"
	"github.com/studytime-hub/leaderboard-worker/internal/infrastructure/scheduler/jobs"
	"github.com/studytime-hub/leaderboard-worker/internal/infrastructure/telegram"
	"github.com/studytime-hub/leaderboard-worker/internal/notify"
	"github.com/studytime-hub/leaderboard-worker/internal/simulation"
	"github.com/studytime-hub/leaderboard-worker/internal/store"
	"github.com/studytime-hub/leaderboard-worker/internal/store/postgres"
	"github.com/studytime-hub/leaderboard-worker/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	// .env нужен только для локальной разработки; в проде переменные приходят
	// из окружения деплоя.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting StudyTime leaderboard worker",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"debug", cfg.App.Debug,
		"store_backend", cfg.Store.Backend,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДКЛЮЧЕНИЕ К ХРАНИЛИЩУ ДЕРЕВА СОСТОЯНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	treeStore, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ИНИЦИАЛИЗАЦИЯ REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	var cycleLock jobs.CycleLock
	var top3Cache simulation.Top3Cache

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		redisCache, err := redis.NewCache(redisCfg)
		if err != nil {
			log.Warn("failed to connect to Redis, lock and cache disabled", "error", err)
		} else {
			defer redisCache.Close()
			cycleLock = redis.NewInvocationLock(redisCache, cfg.Scheduler.LockTTL, log)
			top3Cache = redis.NewTop3Cache(redisCache)
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. СБОРКА КОНВЕЙЕРОВ
	// ─────────────────────────────────────────────────────────────────────────
	rng := newRand(cfg.Simulation.Seed)

	leaderboardPipeline := simulation.NewUpdatePipeline(simulation.PipelineOptions{
		Store:           treeStore,
		Rand:            rng,
		Top3Cache:       top3Cache,
		Logger:          log,
		DisablePresence: !cfg.Features.IsEnabled(config.FeaturePresenceSimulation),
		DisableAccrual:  !cfg.Features.IsEnabled(config.FeatureAccrual),
		DisableReset:    !cfg.Features.IsEnabled(config.FeatureWeeklyReset),
	})

	var notifyPipeline jobs.Runner
	if cfg.Features.NotificationsEnabled() {
		telegramCfg := telegram.DefaultClientConfig(cfg.Telegram.Token)
		telegramCfg.BaseURL = cfg.Telegram.BaseURL
		telegramCfg.Timeout = cfg.Telegram.RequestTimeout
		telegramCfg.RetryAttempts = cfg.Telegram.MaxRetries
		telegramCfg.RetryDelay = cfg.Telegram.RetryBaseDelay
		telegramCfg.Logger = log

		notifyPipeline = notify.NewPipeline(notify.PipelineOptions{
			Store:            treeStore,
			Messenger:        telegram.NewMessenger(telegramCfg),
			Logger:           log,
			DisableReminders: !cfg.Features.IsEnabled(config.FeatureSessionReminders),
			DisableReports:   !cfg.Features.IsEnabled(config.FeatureReportDrain),
		})
	} else {
		log.Info("notification features disabled")
	}

	job := jobs.NewScheduledTasksJob(
		leaderboardPipeline,
		notifyPipeline,
		cycleLock,
		log,
		jobs.ScheduledTasksConfig{Timeout: cfg.Scheduler.JobTimeout},
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. РАЗОВЫЙ ЗАПУСК (SCHEDULER_ENABLED=false)
	// ─────────────────────────────────────────────────────────────────────────
	if !cfg.Scheduler.Enabled {
		log.Info("scheduler disabled, running a single cycle")
		return job.Run(ctx)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ЗАПУСК ПЛАНИРОВЩИКА
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:   log,
		Timezone: timeutil.IST,
	})

	schedule, err := buildSchedule(cfg)
	if err != nil {
		return fmt.Errorf("failed to build schedule: %w", err)
	}

	if err := sched.Register(job, schedule); err != nil {
		return fmt.Errorf("failed to register job: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	log.Info("StudyTime leaderboard worker is running",
		"schedule", schedule.String(),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	done := make(chan struct{})
	go func() {
		_ = sched.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(cfg.App.ShutdownTimeout):
		log.Warn("shutdown timeout exceeded, exiting anyway")
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// openStore выбирает и открывает хранилище по конфигурации.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		log.Info("connecting to database...")
		treeStore, err := postgres.NewTreeStoreFromURL(ctx, cfg.Store.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Info("database connection established")
		return treeStore, func() {
			log.Info("closing database connection...")
			treeStore.Close()
		}, nil

	case config.StoreBackendMemory:
		log.Warn("using in-memory store, state is lost on restart")
		return store.NewMemoryStore(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// buildSchedule собирает расписание цикла: cron-выражение в IST, либо
// фиксированный интервал.
func buildSchedule(cfg *config.Config) (scheduler.Schedule, error) {
	if cfg.Scheduler.CycleCron != "" {
		return scheduler.ParseCronSchedule(cfg.Scheduler.CycleCron, timeutil.IST)
	}
	return scheduler.NewIntervalSchedule(cfg.Scheduler.CycleInterval), nil
}

// newRand создаёт источник случайности; фиксированный seed используется
// только для воспроизведения инцидентов.
func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Observability.LogLevel),
	}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" || cfg.IsDevelopment() {
		// Текстовый формат для development (лучше читается)
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		// JSON формат для production (лучше для агрегаторов логов)
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}

// parseLogLevel разбирает уровень логирования из конфигурации.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
