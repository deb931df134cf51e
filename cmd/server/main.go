package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"multileg/internal/api"
	"multileg/internal/api/handlers"
	"multileg/internal/bot"
	"multileg/internal/config"
	"multileg/internal/gateway"
	"multileg/internal/models"
	"multileg/internal/persist"
	"multileg/internal/repository"
	"multileg/internal/websocket"
	"multileg/pkg/retry"
	"multileg/pkg/utils"

	_ "github.com/lib/pq"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer logger.Sync()

	// Файловое хранилище контекстов: источник истины для восстановления
	store, err := persist.NewStore(cfg.Persistence.Dir, logger)
	if err != nil {
		logger.Fatal("failed to open persistence store", utils.Err(err))
	}

	// Журнал (Postgres) опционален: исполнение работает и без БД
	var db *sql.DB
	var journal handlers.JournalStore
	broadcasters := bot.MultiBroadcaster{}

	hub := websocket.NewHub()
	go hub.Run()
	broadcasters = append(broadcasters, hub)

	if cfg.Database.Enabled {
		db, err = initDatabase(cfg)
		if err != nil {
			logger.Fatal("failed to connect to database", utils.Err(err))
		}
		defer db.Close()
		logger.Info("connected to journal database",
			utils.String("dsn", cfg.Database.DSNWithoutPassword()))

		journalRepo := repository.NewJournalRepository(db)
		journal = journalRepo
		broadcasters = append(broadcasters, bot.NewJournalRecorder(journalRepo, logger))
	}

	// Шлюз бирж: симулятор, пока не подключены реальные площадки
	gw := gateway.NewPaperGateway()
	defer gw.Close()

	// Канал уведомлений оператору, доставка через websocket
	notify := make(chan models.Notification, 64)
	go hub.ConsumeNotifications(notify)

	// Реестр типов задач для восстановления после рестарта
	taskDeps := bot.TaskDeps{
		Gateway: gw,
		Signal:  spreadSignal(gw, cfg.Execution),
		Config:  cfg.Execution,
		Logger:  logger,
		Notify:  notify,
	}
	registry := bot.NewRegistry()
	registry.Register(bot.TaskTypeMultileg, func(tc models.TaskContext) (bot.Task, error) {
		return bot.NewArbitrageTaskFromContext(tc, taskDeps), nil
	})

	scheduler := bot.NewScheduler(cfg.Scheduler, bot.SchedulerDeps{
		Store:    store,
		Registry: registry,
		Notify:   notify,
		Hub:      broadcasters,
		Logger:   logger,
	})
	scheduler.SetRetention(cfg.Persistence.Retention)

	if err := scheduler.Start(true); err != nil {
		logger.Fatal("failed to start scheduler", utils.Err(err))
	}

	// HTTP API
	router := api.SetupRoutes(&api.Dependencies{
		Manager: scheduler,
		CreateTask: func(strategy, symbol string) (bot.Task, error) {
			return bot.NewArbitrageTask(strategy, symbol, taskDeps), nil
		},
		Journal:           journal,
		Gateway:           gw,
		Hub:               hub,
		Store:             store,
		OperatorTokenHash: cfg.Security.OperatorTokenHash,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", utils.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", utils.Err(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Сперва планировщик: dirty-контексты должны уйти в стор
	if err := scheduler.Stop(ctx); err != nil {
		logger.Error("scheduler stop failed", utils.Err(err))
	}

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", utils.Err(err))
	}

	hub.Stop()
	close(notify)

	logger.Info("server exited")
}

// spreadSignal - сигнал входа по спреду source ask / dest bid.
// Вход когда dest bid выше source ask: цикл купить на source,
// продать на dest даёт положительный денежный поток.
func spreadSignal(gw gateway.VenueGateway, cfg config.ExecutionConfig) bot.SignalFunc {
	return func(ctx context.Context, symbol string) (bool, error) {
		// Сбой чтения котировок - временный: задача уходит
		// в ERROR_RECOVERY, а не в терминальный ERROR
		src, err := gw.BestQuote(ctx, models.RoleSource)
		if err != nil {
			return false, retry.Temporary(fmt.Errorf("source quote: %w", err))
		}
		dst, err := gw.BestQuote(ctx, models.RoleDest)
		if err != nil {
			return false, retry.Temporary(fmt.Errorf("dest quote: %w", err))
		}
		if src.Ask <= 0 || dst.Bid <= 0 {
			return false, nil
		}
		return dst.Bid > src.Ask, nil
	}
}

// initDatabase создает подключение к базе данных журнала
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения: база может подниматься дольше сервиса,
	// пингуем с backoff пока не истечёт общий таймаут
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pingCfg := retry.DefaultConfig()
	pingCfg.MaxRetries = 0 // до истечения контекста
	pingCfg.RetryIf = retry.RetryIfNotContext

	err = retry.Do(ctx, func() error {
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()
		return db.PingContext(pingCtx)
	}, pingCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
