package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/cubestack/internal/api"
	"github.com/annel0/cubestack/internal/auth"
	"github.com/annel0/cubestack/internal/config"
	"github.com/annel0/cubestack/internal/eventbus"
	"github.com/annel0/cubestack/internal/grid"
	"github.com/annel0/cubestack/internal/logging"
	"github.com/annel0/cubestack/internal/network"
	"github.com/annel0/cubestack/internal/observability"
	"github.com/annel0/cubestack/internal/protocol"
	"github.com/annel0/cubestack/internal/replication"
	"github.com/annel0/cubestack/internal/session"
	"github.com/annel0/cubestack/internal/storage"
	cubesync "github.com/annel0/cubestack/internal/sync"
)

func main() {
	configPath := flag.String("config", "", "путь к config.yml (по умолчанию $GAME_CONFIG или config/config.yml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}
	if err := configureLogging(cfg.Logging); err != nil {
		log.Fatalf("❌ Ошибка настройки логирования: %v", err)
	}
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	if err := run(cfg); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
	logging.Info("👋 Сервер успешно остановлен")
	closeComponentLoggers()
}

func closeComponentLoggers() {
	lm := logging.GetLoggerManager()
	logging.Debug("📝 Закрываем логгеры компонентов: %v", lm.ListComponents())
	if err := lm.CloseAll(); err != nil {
		logging.Warn("⚠️ %v", err)
	}
}

func configureLogging(cfg config.LoggingConfig) error {
	console, err := logging.ParseLevel(cfg.ConsoleLevel)
	if err != nil {
		return err
	}
	file, err := logging.ParseLevel(cfg.FileLevel)
	if err != nil {
		return err
	}
	logging.Configure(logging.Options{Dir: cfg.Dir, ConsoleLevel: console, FileLevel: file})
	return nil
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info("🎮 Запуск CubeStack: сетка %dx%dx%d, владелец фигуры: %s",
		cfg.Grid.Planes, cfg.Grid.Rows, cfg.Grid.Columns, cfg.Match.PieceOwner)

	shutdownTracing, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer shutdownTracing(context.Background())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// === ХРАНИЛИЩЕ РЕКОРДА ===
	repo, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer repo.Close()
	best := storage.NewBestScoreKeeper(ctx, repo, storage.BestScoreKey)
	defer best.Close()
	logging.Info("🏆 Рекорд: %d (хранилище %s)", best.Best(), cfg.Storage.Backend)

	// === ШИНА СОБЫТИЙ ===
	bus, err := openBus(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("eventbus: %w", err)
	}
	defer bus.Close()
	eventbus.Init(bus)

	exporter := eventbus.NewMetricsExporter(bus, reg)
	exporter.Start()
	defer exporter.Stop()

	if sub, err := eventbus.StartLoggingListener(bus); err == nil {
		defer sub.Unsubscribe()
	} else {
		logging.Warn("⚠️ Логирование событий шины недоступно: %v", err)
	}

	busSink := eventbus.NewSink(bus, cfg.Sync.Source, cfg.EventBus.Buffer)
	defer busSink.Close()

	dims := grid.Dims{Planes: cfg.Grid.Planes, Rows: cfg.Grid.Rows, Cols: cfg.Grid.Columns}
	syncManager, err := cubesync.NewSyncManager(cubesync.SyncConfig{
		Source:       cfg.Sync.Source,
		Bus:          bus,
		Dims:         dims,
		BatchSize:    cfg.Sync.BatchSize,
		FlushEvery:   time.Duration(cfg.Sync.FlushEvery) * time.Second,
		UseGzipCompr: cfg.Sync.UseGzipCompr,
	})
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	defer syncManager.Stop()

	// === АУТЕНТИФИКАЦИЯ ===
	tokens, generated, err := auth.FromConfig(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if generated {
		logging.Warn("🔐 jwt_secret не задан, сгенерирован временный секрет: токены не переживут перезапуск")
		adminToken, err := tokens.Issue("admin", protocol.RoleHost, true)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		logging.Info("🔑 Токен администратора: %s", adminToken)
	}

	// === СЕТЬ И СЕССИЯ ===
	codec, err := protocol.NewCodec(protocol.DefaultCompressThreshold)
	if err != nil {
		return fmt.Errorf("codec: %w", err)
	}
	defer codec.Close()

	server := network.NewServer(codec, network.DefaultChannelConfig(), tokens, network.NewMetrics(reg))
	sess, err := session.New(session.Options{
		Config:    cfg,
		Transport: server,
		Best:      best,
		Sinks:     []replication.Sink{busSink},
		Metrics:   session.NewMetrics(reg),
	})
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	server.Bind(sess)

	rest := api.NewRestServer(api.Config{
		Addr:      fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GetRESTPort()),
		Status:    sess,
		Commands:  sess,
		Tokens:    tokens,
		Spectator: syncManager.Spectator(),
		Peers:     server,
		Registry:  reg,
	})

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GetMetricsPort()),
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 3)
	kcpDone := make(chan struct{})
	go func() {
		defer close(kcpDone)
		kcpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GetKCPPort())
		if err := server.ListenAndServe(ctx, kcpAddr); err != nil {
			errCh <- fmt.Errorf("kcp: %w", err)
		}
	}()
	go func() {
		if err := rest.Start(); err != nil {
			errCh <- fmt.Errorf("rest: %w", err)
		}
	}()
	go func() {
		logging.Info("📊 Prometheus метрики на %s/metrics", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics: %w", err)
		}
	}()

	hostDone := make(chan struct{})
	go func() {
		sess.Run(ctx)
		close(hostDone)
	}()

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🎮 KCP: %s:%d", cfg.Server.Host, cfg.Server.GetKCPPort())
	logging.Info("   🌐 REST API: http://%s:%d", cfg.Server.Host, cfg.Server.GetRESTPort())

	var runErr error
	select {
	case <-ctx.Done():
		logging.Info("📡 Получен сигнал завершения, остановка...")
	case runErr = <-errCh:
		stop()
	}

	<-hostDone
	<-kcpDone
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rest.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки сервера метрик: %v", err)
	}
	if dropped := busSink.Dropped(); dropped > 0 {
		logging.Warn("⚠️ В шину событий не попало %d событий", dropped)
	}
	return runErr
}

func openBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	switch cfg.Type {
	case "", "memory":
		return eventbus.NewMemoryBus(cfg.Buffer), nil
	case "jetstream":
		bus, err := eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
		if err != nil {
			return nil, err
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("неизвестный тип шины %q", cfg.Type)
	}
}
