package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"marketmaker/internal/api"
	"marketmaker/internal/config"
	"marketmaker/internal/feed"
	"marketmaker/internal/pricing"
	"marketmaker/internal/repository"
	"marketmaker/internal/service"
	"marketmaker/internal/transport"
	"marketmaker/internal/websocket"
	"marketmaker/pkg/crypto"
	"marketmaker/pkg/logger"
	"marketmaker/pkg/retry"
)

// orderbookStoreShards - шарды хранилища последних стаканов
const orderbookStoreShards = 64

func main() {
	hashKey := flag.String("hash-api-key", "", "print bcrypt hash of the key for SETTINGS_API_KEY_HASH and exit")
	flag.Parse()

	if *hashKey != "" {
		hash, err := crypto.HashAPIKey(*hashKey, crypto.DefaultCost)
		if err != nil {
			log.Fatalf("Failed to hash api key: %v", err)
		}
		fmt.Println(hash)
		return
	}

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	lg.Info("starting market maker",
		zap.String("market_maker_id", cfg.MarketMaker.ID),
		zap.String("env", cfg.Security.Environment),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Инициализация базы данных
	db, err := initDatabase(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	lg.Info("connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))

	if err := repository.Migrate(db); err != nil {
		lg.Fatal("failed to migrate database", zap.Error(err))
	}

	// Инициализация репозиториев
	settingsRepo := repository.NewSettingsRepository(db)
	eventRepo := repository.NewEventRepository(db)

	// Инициализация сервисов
	settingsProvider := service.NewSettingsProvider(settingsRepo, cfg.Pricing, lg.Named("settings"))
	eventService := service.NewEventService(eventRepo, cfg.MarketMaker.ID, lg.Named("events"))

	// Конвейер расчёта цены и генератор спот-котировок делят блокировки пар
	locks := pricing.NewPairLocks()
	pipeline := pricing.NewPipeline(
		pricing.NewOrderbookStore(orderbookStoreShards),
		settingsProvider,
		eventService,
		pricing.WithLocks(locks),
		pricing.WithLogger(lg.Named("pricing")),
	)
	spotGenerator := pricing.NewSpotQuoteGenerator(locks, lg.Named("spot"))
	settingsProvider.SetProblemResetter(pipeline)

	statusService := service.NewStatusService(pipeline)

	// WebSocket hub для дашбордов
	hub := websocket.NewHub(lg.Named("ws"))
	hub.SetStatusProvider(statusService)
	hub.SetAllowedOrigins(cfg.Server.CORSOrigins)
	go hub.Run()
	eventService.SetWebSocketHub(hub)

	// Исходящая очередь
	var publisher *transport.KafkaPublisher
	if cfg.Kafka.Enabled() {
		publisher = transport.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix, lg.Named("kafka"))
		eventService.SetQueue(publisher)
		lg.Info("kafka publisher enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic_prefix", cfg.Kafka.TopicPrefix),
		)
	} else {
		lg.Warn("kafka brokers not configured, outbound messages go to journal and websocket only")
	}

	// Приём стаканов от ретрансляторов
	feedHandler := feed.NewHandler(pipeline, spotGenerator, settingsProvider, eventService, lg.Named("feed"))
	dispatcher := feed.NewDispatcher(cfg.Feed.Shards, cfg.Feed.QueueSize, feedHandler, lg.Named("dispatcher"))

	connCfg := feed.ConnectionConfigFrom(cfg.Feed)
	connections := make([]*feed.Connection, 0, len(cfg.Feed.URLs))
	var feedWG sync.WaitGroup
	for _, url := range cfg.Feed.URLs {
		conn := feed.NewConnection(url, connCfg, dispatcher, lg.Named("feed"))
		connections = append(connections, conn)

		feedWG.Add(1)
		go func() {
			defer feedWG.Done()
			conn.Run(ctx)
		}()
	}
	if len(connections) == 0 {
		lg.Warn("no feed urls configured, orderbooks will not be received")
	}

	go eventService.StartJournalCleanup(ctx, cfg.Journal.CleanupInterval, cfg.Journal.KeepEvents)

	// Настройка HTTP роутера
	router := api.SetupRoutes(&api.Dependencies{
		SettingsService: settingsProvider,
		StatusService:   statusService,
		EventService:    eventService,
		Hub:             hub,
		APIKeyHash:      cfg.Security.SettingsAPIKeyHash,
		CORSOrigins:     cfg.Server.CORSOrigins,
		Logger:          lg.Named("http"),
	})

	// HTTP сервер
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		lg.Info("starting http server", zap.String("addr", server.Addr))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			lg.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("shutting down")

	// Сначала прекращаем приём стаканов, затем дообрабатываем очереди
	cancel()
	for _, conn := range connections {
		conn.Close()
	}
	feedWG.Wait()
	dispatcher.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		lg.Error("http server forced to shutdown", zap.Error(err))
	}

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			lg.Error("failed to close kafka publisher", zap.Error(err))
		}
	}

	hub.Stop()

	lg.Info("server exited")
}

// initDatabase создает подключение к базе данных с повторными попытками
func initDatabase(ctx context.Context, cfg *config.Config, lg *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	retryCfg := retry.DatabaseConfig()
	retryCfg.RetryIf = retry.RetryIfNotPermanent
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		lg.Warn("database ping failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	err = retry.Do(ctx, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err := db.PingContext(pingCtx)
		if err != nil && ctx.Err() != nil {
			// Остановка во время старта: дальше не пингуем
			return retry.Permanent(err)
		}
		return err
	}, retryCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
