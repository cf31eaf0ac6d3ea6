// cmd/order-service/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"orderflow/internal/pkg/bootstrap"
	"orderflow/internal/pkg/config"
	"orderflow/internal/pkg/httpclient"
	"orderflow/internal/pkg/lock"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/metrics"
	"orderflow/internal/pkg/mq"
	"orderflow/internal/pkg/nacos"
	"orderflow/internal/pkg/tracing"
	"orderflow/internal/service/order/application"
	"orderflow/internal/service/order/domain"
	"orderflow/internal/service/order/infrastructure"
	"orderflow/internal/service/order/infrastructure/adapter"
	"orderflow/internal/service/order/interfaces"
)

// main 是应用的组装根：读取配置，创建并组装所有依赖项，然后启动服务。
func main() {
	configPath := flag.String("config", bootstrap.Getenv("ORDER_CONFIG", "config.yaml"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Init(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, Service: cfg.Service.Name})

	if err := run(context.Background(), cfg); err != nil {
		log.Fatal().Err(err).Msg("order service exited")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	var closers []bootstrap.Closer

	// 1. 初始化核心技术组件
	shutdownTracing, err := tracing.Setup(cfg.Tracing.Enabled, cfg.Service.Name, cfg.Tracing.JaegerEndpoint)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	closers = append(closers, bootstrap.Closer(shutdownTracing))
	tracer := otel.Tracer(cfg.Service.Name)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var nacosClient *nacos.Client
	if cfg.Nacos.Enabled {
		if nacosClient, err = nacos.NewNacosClient(cfg.Nacos.ServerAddrs, cfg.Nacos.Namespace, cfg.Nacos.Group); err != nil {
			return err
		}
	}

	// 2. 存储：仓储 + 可选的 Redis 读缓存
	repo, dbCloser, err := openRepository(ctx, cfg.Database)
	if err != nil {
		return err
	}
	if dbCloser != nil {
		closers = append(closers, dbCloser)
	}

	var redisClient redis.UniversalClient
	if cfg.Redis.Enabled() {
		redisClient = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		closers = append(closers, func(context.Context) error { return redisClient.Close() })
		repo = infrastructure.NewCachedOrderRepository(repo, redisClient, cfg.Redis.CacheTTL.Std())
	}

	locker, err := newLocker(cfg, redisClient)
	if err != nil {
		return err
	}
	if zl, ok := locker.(*lock.ZookeeperLocker); ok {
		closers = append(closers, func(context.Context) error { zl.Close(); return nil })
	}

	// 3. 下游网关
	inventoryURL := cfg.Inventory.BaseURL
	if nacosClient != nil && cfg.Inventory.ServiceName != "" {
		if inventoryURL, err = nacosClient.DiscoverBaseURL(cfg.Inventory.ServiceName); err != nil {
			return err
		}
		log.Info().Str("inventory", inventoryURL).Msg("resolved inventory service via nacos")
	}
	inventory := adapter.NewInventoryHTTPAdapter(httpclient.NewClient(tracer, cfg.Inventory.Timeout.Std()), inventoryURL)

	if cfg.Payment.SecretKey == "" {
		log.Warn().Msg("payment.secret_key is empty, payment initiation will fail")
	}
	payment := adapter.NewStripePaymentAdapter(adapter.StripeConfig{
		SecretKey: cfg.Payment.SecretKey,
		APIBase:   cfg.Payment.APIBase,
		Timeout:   cfg.Payment.Timeout.Std(),
		Logger:    log.Logger,
	}, tracer)

	// 4. 事件出口：WebSocket 推送 + 可选的 Kafka
	hub := interfaces.NewHub()
	sinks := []adapter.Sink{{Name: "websocket", Publisher: hub}}
	if cfg.Kafka.Enabled() {
		events := adapter.NewEventKafkaAdapter(mq.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, cfg.Kafka.WriteTimeout.Std()))
		closers = append(closers, func(context.Context) error { return events.Close() })
		sinks = append(sinks, adapter.Sink{Name: "kafka", Publisher: events})
	}
	publisher := adapter.NewFanoutPublisher(m, sinks...)

	admission, err := application.NewAdmissionPolicy(cfg.Orders.AdmissionRules)
	if err != nil {
		return err
	}

	// 5. 业务服务与入口
	service := application.NewOrderApplicationService(application.Dependencies{
		Repo:      repo,
		Inventory: inventory,
		Payment:   payment,
		Publisher: publisher,
		Locker:    locker,
		Admission: admission,
		Metrics:   m,
		Tracer:    tracer,
	}, application.Options{
		Currency:          cfg.Payment.Currency,
		FailurePolicy:     cfg.Inventory.FailurePolicy,
		ProcessingTimeout: cfg.Service.RequestTimeout.Std(),
	})
	handler := interfaces.NewOrderHandler(service, hub, registry)

	workers := []bootstrap.Worker{hub.Run}
	if cfg.Kafka.Enabled() {
		dlt := mq.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.DeadLetterTopic, cfg.Kafka.WriteTimeout.Std())
		closers = append(closers, func(context.Context) error { return dlt.Close() })
		reader := mq.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.PaymentTopic, cfg.Kafka.PaymentGroupID)
		consumer := interfaces.NewPaymentResultConsumer(reader, service, mq.NewFailureHandler(dlt))
		workers = append(workers, consumer.Run)
	}

	return bootstrap.StartService(ctx, bootstrap.AppInfo{
		ServiceName: cfg.Service.Name,
		Port:        cfg.Service.Port,
		Handler:     handler.Routes(),
		Workers:     workers,
		Closers:     closers,
		Nacos:       nacosClient,
	})
}

func openRepository(ctx context.Context, cfg config.DatabaseConfig) (domain.OrderRepository, bootstrap.Closer, error) {
	if cfg.Driver == "memory" {
		log.Info().Msg("using in-memory order repository")
		return infrastructure.NewMemoryOrderRepository(), nil, nil
	}

	if cfg.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := infrastructure.Migrate(migrateCtx, cfg.DSN); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	db, err := infrastructure.OpenMySQL(cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime.Std())
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return infrastructure.NewGormOrderRepository(db), func(context.Context) error { return sqlDB.Close() }, nil
}

func newLocker(cfg config.Config, client redis.UniversalClient) (lock.Locker, error) {
	switch cfg.Lock.Backend {
	case "redis":
		return lock.NewRedisLocker(client, "lock:", cfg.Lock.TTL.Std(), cfg.Lock.WaitTimeout.Std(), cfg.Lock.PollInterval.Std()), nil
	case "zookeeper":
		zl, err := lock.NewZookeeperLocker(cfg.Zookeeper.Servers, cfg.Zookeeper.SessionTimeout.Std(), cfg.Zookeeper.Root, cfg.Lock.WaitTimeout.Std())
		if err != nil {
			return nil, err
		}
		return zl, nil
	default:
		return lock.NewKeyedMutex(), nil
	}
}
