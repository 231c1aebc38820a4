package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"StoryReel-server/config"
	"StoryReel-server/continuity"
	"StoryReel-server/logger"
	"StoryReel-server/metrics"
	"StoryReel-server/models"
	"StoryReel-server/provider"
	"StoryReel-server/routers"
	"StoryReel-server/routers/api"
	"StoryReel-server/sequencer"
	"StoryReel-server/service"
	"StoryReel-server/task"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	flag.Parse()

	if err := config.InitConfig(*configPath); err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}
	cfg := config.AppConfig
	log := logger.MustNew(cfg.Log)
	defer log.Sync()
	gin.SetMode(cfg.Server.Mode)

	db, err := models.InitDB(cfg.MySQL, log)
	if err != nil {
		log.Fatal("init database", zap.Error(err))
	}
	store := models.NewStore(db)

	providers, err := provider.NewRegistry(providerConfigs(cfg.Providers), cfg.Generation.DefaultProvider, log)
	if err != nil {
		log.Fatal("init providers", zap.Error(err))
	}
	log.Info("providers configured", zap.Strings("providers", providers.Names()))

	blobs, err := service.NewMinIOStore(cfg.MinIO, log)
	if err != nil {
		log.Fatal("init storage", zap.Error(err))
	}
	media := service.NewMediaClient(cfg.Media, log)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()
	progress := service.NewRedisProgress(rdb, log)

	deps := sequencer.Deps{
		Store:     store,
		Blobs:     blobs,
		Media:     media,
		Progress:  progress,
		Providers: providers,
		Logger:    log,
	}
	var routerOpts routers.Options
	var queueMetrics service.QueueMetrics
	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector(cfg.Metrics.Namespace, prometheus.DefaultRegisterer, log)
		deps.Metrics = collector
		queueMetrics = collector
		routerOpts = routers.Options{Metrics: collector, Gatherer: prometheus.DefaultGatherer, MetricsPath: cfg.Metrics.Path}
	}

	seq := sequencer.New(deps, sequencer.Options{
		Policy: videoPolicy(cfg.Generation.Video),
		Continuity: continuity.Options{
			InjectIdentity: cfg.Generation.InjectIdentity,
			QualitySuffix:  cfg.Generation.QualitySuffix,
		},
		DefaultDuration: cfg.Generation.DefaultDuration,
	})

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
	queue := service.NewQueue(redisOpt, log)
	defer queue.Close()

	processor := service.NewProcessor(seq, log, queueMetrics)
	worker, err := processor.Start(redisOpt, cfg.Generation.Concurrency)
	if err != nil {
		log.Fatal("start processor", zap.Error(err))
	}

	h := api.NewHandler(store, queue, progress, providers, task.Policy{Interval: 2 * time.Second, MaxAttempts: 3}, log)
	srv := &http.Server{Addr: cfg.Server.Port, Handler: routers.InitRouter(h, routerOpts)}
	go func() {
		log.Info("server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	// Running jobs see their context canceled and are retried later; their
	// tasks resume from the stored handles.
	worker.Shutdown()
}

func providerConfigs(in map[string]config.ProviderConfig) map[string]provider.Config {
	out := make(map[string]provider.Config, len(in))
	for name, c := range in {
		out[name] = provider.Config{
			BaseURL:           c.BaseURL,
			APIKey:            c.APIKey,
			AccessKey:         c.AccessKey,
			SecretKey:         c.SecretKey,
			Model:             c.Model,
			Timeout:           c.Timeout,
			RequestsPerSecond: c.RPS,
			Burst:             c.Burst,
		}
	}
	return out
}

func videoPolicy(c config.PolicyConfig) task.Policy {
	p := task.VideoPolicy()
	if c.Interval > 0 {
		p.Interval = c.Interval
	}
	if c.MaxAttempts > 0 {
		p.MaxAttempts = c.MaxAttempts
	}
	p.MaxEmptyCompletions = c.MaxEmptyCompletions
	return p
}
