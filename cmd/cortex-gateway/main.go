package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"cortex/cmd/cortex-gateway/internal/biz"
	"cortex/cmd/cortex-gateway/internal/data"
	"cortex/cmd/cortex-gateway/internal/domain"
	"cortex/cmd/cortex-gateway/internal/infra"
	"cortex/cmd/cortex-gateway/internal/server"
	"cortex/cmd/cortex-gateway/internal/service"
	"cortex/pkg/cache"
	"cortex/pkg/config"
	"cortex/pkg/health"
	"cortex/pkg/logger"
	"cortex/pkg/monitoring"
	"cortex/pkg/observability"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	_ "go.uber.org/automaxprocs"
)

var confPath = flag.String("conf", "configs/cortex-gateway.yaml", "config file path")

func main() {
	flag.Parse()

	cfg, err := config.Load(*confPath)
	if err != nil {
		panic(err)
	}

	klogger, cleanupLog, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		panic(err)
	}
	defer cleanupLog()

	klogger = log.With(klogger, "service", "cortex-gateway")
	helper := log.NewHelper(klogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 链路追踪
	if cfg.Tracing.Enabled {
		shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			helper.Fatalf("failed to init tracing: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	// 存储连接
	db, err := data.NewDB(data.DBConfig{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		helper.Fatalf("failed to connect postgres: %v", err)
	}
	if err := data.Migrate(db); err != nil {
		helper.Fatalf("failed to migrate control tables: %v", err)
	}

	var (
		schemaCache cache.Cache
		redisCache  *cache.RedisCache
	)
	if cfg.Redis.Addr != "" {
		redisCache, err = cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, "cortex")
		if err != nil {
			helper.Fatalf("failed to connect redis: %v", err)
		}
		schemaCache = redisCache
	}

	d, cleanupData, err := data.NewData(db, schemaCache, klogger)
	if err != nil {
		helper.Fatalf("failed to init data layer: %v", err)
	}
	defer cleanupData()

	milvusCli, err := infra.NewMilvusClient(ctx, infra.MilvusConfig{
		Addr:     cfg.Milvus.Addr,
		Username: cfg.Milvus.Username,
		Password: cfg.Milvus.Password,
	})
	if err != nil {
		helper.Fatalf("failed to connect milvus: %v", err)
	}
	defer milvusCli.Close()

	minioCli, err := infra.NewMinioClient(infra.MinioConfig{
		Endpoint:  cfg.Minio.Endpoint,
		AccessKey: cfg.Minio.AccessKey,
		SecretKey: cfg.Minio.SecretKey,
		UseSSL:    cfg.Minio.UseSSL,
	})
	if err != nil {
		helper.Fatalf("failed to connect minio: %v", err)
	}

	var events domain.EventPublisher = infra.NopPublisher{}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		events = infra.NewKafkaPublisher(infra.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, klogger)
	}

	// 指标
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(registry)

	// 仓储与基础设施
	collectionRepo := data.NewCollectionRepo(d, klogger)
	providerRepo := data.NewProviderRepo(d, klogger)
	recordRepo := data.NewRecordRepo(d, klogger)
	vectorIndex := infra.NewMilvusIndex(milvusCli, klogger)
	blobStore := infra.NewMinioStore(minioCli, klogger)
	extractor := infra.NewTextExtractor(nil, klogger)
	resolver := infra.NewEmbeddingResolver(providerRepo, infra.DefaultProviderConfig{
		APIKey:  cfg.Embedding.APIKey,
		BaseURL: cfg.Embedding.BaseURL,
		Model:   cfg.Embedding.Model,
	}, klogger)

	// 业务装配
	dispatcher := biz.NewDispatcher(collectionRepo, recordRepo, vectorIndex, resolver, extractor, events, metrics, biz.DispatcherOptions{
		Workers:      cfg.Dispatcher.Workers,
		QueueSize:    cfg.Dispatcher.QueueSize,
		MaxRetries:   cfg.Dispatcher.MaxRetries,
		RetryDelay:   cfg.Dispatcher.RetryDelay,
		EmbedBatch:   cfg.Dispatcher.EmbedBatch,
		EmbedTimeout: cfg.Dispatcher.EmbedTimeout,
	}, klogger)
	dispatcher.Start()

	coordinator := biz.NewWriteCoordinator(recordRepo, vectorIndex, blobStore, dispatcher, events, metrics, klogger)
	compiler := biz.NewFilterCompiler()
	planner := biz.NewQueryPlanner(recordRepo, vectorIndex, resolver, compiler, metrics, klogger)
	router := biz.NewRecordRouter()

	collectionUC := biz.NewCollectionUsecase(collectionRepo, recordRepo, vectorIndex, blobStore, providerRepo, klogger)
	recordUC := biz.NewRecordUsecase(collectionRepo, recordRepo, vectorIndex, blobStore, router, coordinator, planner, klogger)
	providerUC := biz.NewProviderUsecase(providerRepo, klogger)

	// 就绪探活
	checker := health.NewChecker(3 * time.Second)
	if sqlDB, err := db.DB(); err == nil {
		checker.Register("postgres", sqlDB.PingContext)
	}
	if redisCache != nil {
		checker.Register("redis", redisCache.Ping)
	}
	checker.Register("milvus", func(ctx context.Context) error {
		_, err := milvusCli.GetVersion(ctx)
		return err
	})
	checker.Register("minio", func(ctx context.Context) error {
		_, err := minioCli.ListBuckets(ctx)
		return err
	})

	// HTTP服务
	httpSrv := server.NewHTTPServer(server.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	},
		service.NewCollectionService(collectionUC, klogger),
		service.NewRecordService(recordUC, cfg.Server.MaxUploadBytes, klogger),
		service.NewProviderService(providerUC, klogger),
		registry,
		checker,
		klogger,
	)

	go func() {
		if err := httpSrv.Start(); err != nil {
			helper.Errorf("http server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	helper.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		helper.Errorf("http shutdown failed: %v", err)
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		helper.Errorf("dispatcher drain failed: %v", err)
	}
	if closer, ok := events.(interface{ Close() error }); ok {
		_ = closer.Close()
	}

	helper.Info("bye")
}
