package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"kr-quant-worker/config"
	"kr-quant-worker/internal/analysis"
	"kr-quant-worker/internal/api"
	"kr-quant-worker/internal/batch"
	"kr-quant-worker/internal/breaker"
	"kr-quant-worker/internal/fetch"
	"kr-quant-worker/internal/logger"
	"kr-quant-worker/internal/markethours"
	"kr-quant-worker/internal/metrics"
	"kr-quant-worker/internal/model"
	"kr-quant-worker/internal/notification"
	redisstore "kr-quant-worker/internal/store/redis"
	"kr-quant-worker/internal/store/sqlite"
)

const requestTimeout = 60 * time.Second

// publisherFunc adapts a function to model.ResultPublisher.
type publisherFunc func(ctx context.Context, res model.AnalysisResult) error

func (f publisherFunc) PublishResult(ctx context.Context, res model.AnalysisResult) error {
	return f(ctx, res)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	configPath := flag.String("config", "", "path to YAML config (default $WORKER_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[worker] %v", err)
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("[worker] %v", err)
	}
	lg := logger.Init("quant-worker", level)
	lg.Info("starting", slog.String("market", markethours.StatusString(time.Now())))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Metrics + health ──
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus(cfg.Redis.Addr != "", cfg.SQLite.Path != "")
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, prometheus.DefaultGatherer)
	metricsSrv.Start()

	exportBreaker := func(b *breaker.Breaker) {
		m.SetBreakerState(b.Name(), int(b.State()))
		b.OnStateChange = func(name string, from, to breaker.State) {
			log.Printf("[breaker] %s: %s -> %s", name, from, to)
			m.SetBreakerState(name, int(to))
			if name == "backend" {
				health.SetBackendState(to.String())
			}
		}
	}

	// ── Bar source chain: backend (+ local record/fallback) (+ Redis cache) ──
	backend := fetch.NewClient(fetch.ClientConfig{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.BackendTimeout(),
	})
	exportBreaker(backend.Breaker())
	health.SetBackendState(backend.Breaker().State().String())

	var source model.BarSource = backend
	var sqlDB *sql.DB
	if cfg.SQLite.Path != "" {
		writer, err := sqlite.New(sqlite.WriterConfig{DBPath: cfg.SQLite.Path})
		if err != nil {
			log.Fatalf("[worker] sqlite: %v", err)
		}
		defer writer.Close()
		reader, err := sqlite.NewReader(cfg.SQLite.Path)
		if err != nil {
			log.Fatalf("[worker] sqlite reader: %v", err)
		}
		defer reader.Close()
		sqlDB = writer.DB()

		source = &fetch.Fallback{
			Primary:   &fetch.Recording{Source: backend, Store: writer},
			Secondary: reader,
		}
	}

	var rdb *goredis.Client
	var resultSink model.ResultPublisher = analysis.LogPublisher{Log: lg}
	if cfg.Redis.Addr != "" {
		rdb, err = redisstore.NewClient(redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Fatalf("[worker] %v", err)
		}
		defer rdb.Close()

		cacheBreaker := breaker.New("redis_cache", 5, 30*time.Second)
		exportBreaker(cacheBreaker)
		source = redisstore.NewBarCache(rdb, source, cfg.CacheTTL(), cacheBreaker, m)

		pubBreaker := breaker.New("redis_publish", 5, 30*time.Second)
		exportBreaker(pubBreaker)
		pub := redisstore.NewPublisher(rdb, pubBreaker, 0)
		pub.OnBuffer = func() { m.PublishFailed("redis") }
		pub.OnFlush = func(n int) { log.Printf("[worker] flushed %d held results", n) }
		resultSink = pub
	}

	// ── Result sinks ──
	hub := api.NewHub(nil, m, requestTimeout)
	sinks := analysis.MultiPublisher{
		resultSink,
		hub,
		publisherFunc(func(_ context.Context, res model.AnalysisResult) error {
			health.SetLastAnalysis(time.Now())
			return nil
		}),
	}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notification.NewWebhookNotifier(cfg.Notify.WebhookURL))
	}
	if cfg.Notify.TelegramBotToken != "" {
		sinks = append(sinks, notification.NewTelegramNotifier(cfg.Notify.TelegramBotToken, cfg.Notify.TelegramChatID))
	}

	analyzer, err := analysis.New(cfg.Params(), source, sinks, m)
	if err != nil {
		log.Fatalf("[worker] %v", err)
	}
	hub.SetAnalyzer(analyzer)

	handler := api.NewHandler(analyzer, requestTimeout)

	// ── Daily batch ──
	var sched *batch.Scheduler
	if cfg.Batch.Enabled {
		sched, err = batch.NewScheduler(batch.Config{
			Cron:      cfg.Batch.Cron,
			Timezone:  cfg.Batch.Timezone,
			Watchlist: cfg.Batch.Watchlist,
			Delay:     cfg.BatchDelay(),
		}, analyzer, m)
		if err != nil {
			log.Fatalf("[worker] %v", err)
		}
		sched.Start()
		handler = handler.WithBatch(sched)
		lg.Info("daily batch scheduled",
			slog.String("cron", cfg.Batch.Cron),
			slog.Int("watchlist", len(cfg.Batch.Watchlist)))
	}

	health.StartLivenessChecker(ctx, rdb, sqlDB, 15*time.Second)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(handler, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		lg.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[worker] http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	lg.Info("shutting down", slog.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if sched != nil {
		sched.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("http shutdown", slog.Any("error", err))
	}
	if err := metricsSrv.Stop(shutdownCtx); err != nil {
		lg.Warn("metrics shutdown", slog.Any("error", err))
	}
	lg.Info("stopped")
}
