// cmd/order-service/main.go
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"shopline/internal/pkg/bootstrap"
	"shopline/internal/pkg/config"
	"shopline/internal/pkg/logger"
	"shopline/internal/pkg/mq"
	"shopline/internal/pkg/nacos"
	"shopline/internal/pkg/redis"
	"shopline/internal/pkg/serialqueue"
	"shopline/internal/service/order/application"
	"shopline/internal/service/order/domain"
	"shopline/internal/service/order/domain/port"
	"shopline/internal/service/order/infrastructure"
	"shopline/internal/service/order/infrastructure/adapter"
	"shopline/internal/service/order/infrastructure/rule"
	"shopline/internal/service/order/interfaces"
	"shopline/internal/service/order/numbering"
	"shopline/internal/tracing"
	"shopline/internal/zookeeper"
)

// main 函数是应用的"组装根" (Composition Root)：创建并组装所有依赖项，然后启动应用
func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the yaml config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatal().Err(err).Msg("order-service exited")
	}
}

func run(configPath string) error {
	ctx := context.Background()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Init(cfg.App.ServiceName, cfg.App.LogLevel)

	var cleanups []func(ctx context.Context)

	// 1. 配置中心和注册中心
	var nacosClient *nacos.Client
	if cfg.Infra.Nacos.Addrs != "" {
		if nacosClient, err = nacos.NewClient(cfg.Infra.Nacos.Addrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group); err != nil {
			return err
		}
		cleanups = append(cleanups, func(context.Context) { nacosClient.Close() })
		if cfg, err = loadRemoteConfig(nacosClient, cfg); err != nil {
			return err
		}
		logger.SetLevel(cfg.App.LogLevel)
	}
	config.Set(cfg)

	// 2. 链路追踪
	tp, err := tracing.InitTracerProvider(cfg.App.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		return err
	}
	cleanups = append(cleanups, func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("tracer provider shutdown")
		}
	})

	// 3. 存储
	webshops, orders, tickets, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	cleanups = append(cleanups, closeStore)

	// 4. 订单号缓存
	var numberCache numbering.Cache = numbering.NewMemoryCache()
	if cfg.App.NumberCache == "redis" {
		redisClient, err := redis.NewClient(ctx, cfg.Infra.Redis.Addr, cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
		if err != nil {
			return err
		}
		cleanups = append(cleanups, func(context.Context) { _ = redisClient.Close() })
		if numberCache, err = adapter.NewNumberCacheRedisAdapter(redisClient); err != nil {
			return err
		}
	}

	// 5. 门票规则
	ticketRule, err := rule.NewCELTicketRule(cfg.Tickets.EligibilityRule)
	if err != nil {
		return err
	}

	// 6. 通知
	var notifier port.NotificationProducer = adapter.NewNotificationLogAdapter()
	if cfg.Notification.Transport == "kafka" {
		kafkaNotifier := adapter.NewNotificationKafkaAdapter(mq.NewWriter(cfg.Infra.Kafka.Brokers, cfg.Notification.Topic))
		cleanups = append(cleanups, func(context.Context) { _ = kafkaNotifier.Close() })
		notifier = kafkaNotifier
	}

	feed := interfaces.NewStockFeedHub()
	cleanups = append(cleanups, func(context.Context) { feed.Close() })

	appSvc := application.NewOrderApplicationService(application.Dependencies{
		Webshops: webshops,
		Orders:   orders,
		Tickets:  tickets,
		Queue:    serialqueue.New(),
		Numbers:  numbering.NewAssigner(numbering.NewCounter(numberCache), orders),
		Issuer:   domain.NewTicketIssuer(ticketRule),
		Notifier: notifier,
		Feed:     feed,
		Resolver: net.DefaultResolver,
	},
		application.WithProcessingTimeout(cfg.App.ProcessingTimeout),
		application.WithDomainCheck(cfg.App.DomainTarget, cfg.App.DomainCheckDelay),
	)
	// 通知在 writer 关闭之前发完
	cleanups = append(cleanups, func(context.Context) { appSvc.Wait() })

	mux := http.NewServeMux()
	interfaces.NewOrderHandler(appSvc, feed).RegisterRoutes(mux)

	var workers []func(ctx context.Context) error
	if cfg.Payment.Topic != "" && len(cfg.Infra.Kafka.Brokers) > 0 {
		workers = append(workers, paymentWorker(cfg, appSvc), deadLetterWorker(cfg))
	}

	return bootstrap.Run(ctx, bootstrap.AppInfo{
		ServiceName: cfg.App.ServiceName,
		Port:        cfg.App.Port,
		Handler:     mux,
		Nacos:       nacosClient,
		Workers:     workers,
		Cleanups:    cleanups,
	})
}

// loadRemoteConfig 用配置中心的文档覆盖本地配置，并监听后续变更。
// 运行中只有日志级别会立即生效，其余字段在下次启动时生效。
func loadRemoteConfig(client *nacos.Client, local *config.Config) (*config.Config, error) {
	dataID := local.Infra.Nacos.DataID
	content, err := client.GetConfig(dataID)
	if err != nil {
		log.Warn().Err(err).Str("data_id", dataID).Msg("remote config unavailable, using local config")
		content = ""
	}
	cfg := local
	if content != "" {
		if cfg, err = config.Overlay([]byte(content)); err != nil {
			return nil, errors.Wrap(err, "remote config")
		}
	}

	err = client.ListenConfig(dataID, func(content string) {
		next, err := config.Overlay([]byte(content))
		if err != nil {
			log.Error().Err(err).Msg("ignoring invalid remote config")
			return
		}
		config.Set(next)
		logger.SetLevel(next.App.LogLevel)
	})
	if err != nil {
		log.Warn().Err(err).Msg("remote config changes will not be applied")
	}
	return cfg, nil
}

// openStore 返回三个仓储和关闭函数。memory 模式只用于本地开发，重启后数据丢失。
func openStore(cfg *config.Config) (domain.WebshopRepository, domain.OrderRepository, domain.TicketRepository, func(context.Context), error) {
	if cfg.App.Storage == "memory" {
		log.Warn().Msg("using in-memory storage, data is lost on restart")
		store := infrastructure.NewMemoryStore()
		return store.Webshops(), store.Orders(), store.Tickets(), func(context.Context) {}, nil
	}

	db, err := gorm.Open(mysql.Open(cfg.Infra.MySQL.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, nil, nil, nil, errors.Wrap(err, "open mysql")
	}
	if err := infrastructure.AutoMigrate(db); err != nil {
		return nil, nil, nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, nil, nil, errors.Wrap(err, "get sql db")
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	closeDB := func(context.Context) {
		if err := sqlDB.Close(); err != nil {
			log.Error().Err(err).Msg("close mysql")
		}
	}
	return infrastructure.NewGormWebshopRepository(db),
		infrastructure.NewGormOrderRepository(db),
		infrastructure.NewGormTicketRepository(db),
		closeDB, nil
}

// paymentWorker 消费支付状态事件。配置了选举路径时，只有赢得选举的实例才消费，
// 保证同一时刻只有一个进程持有 webshop 串行队列。
func paymentWorker(cfg *config.Config, appSvc *application.OrderApplicationService) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var expired <-chan struct{}
		if cfg.Infra.Zookeeper.ElectionPath != "" {
			conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
			if err != nil {
				return err
			}
			defer conn.Close()

			host, _ := os.Hostname()
			election := zookeeper.NewElection(conn, cfg.Infra.Zookeeper.ElectionPath, host)
			if err := election.Campaign(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			defer func() { _ = election.Resign() }()
			expired = conn.Expired()
		}

		brokers := cfg.Infra.Kafka.Brokers
		dltWriter := mq.NewWriter(brokers, mq.DeadLetterTopic(cfg.Payment.Topic))
		defer dltWriter.Close()

		consumer := interfaces.NewPaymentConsumerAdapter(
			mq.NewReader(brokers, cfg.Payment.Topic, cfg.Payment.GroupID),
			appSvc,
			mq.NewFailureHandler(dltWriter),
		)
		if err := consumer.Start(ctx); err != nil {
			return err
		}
		defer consumer.Stop(context.Background())

		select {
		case <-ctx.Done():
			return nil
		case <-expired:
			return errors.New("lost leadership: zookeeper session expired")
		}
	}
}

func deadLetterWorker(cfg *config.Config) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		topic := mq.DeadLetterTopic(cfg.Payment.Topic)
		consumer := interfaces.NewDltConsumerAdapter(mq.NewReader(cfg.Infra.Kafka.Brokers, topic, cfg.Payment.GroupID+"-dlt"))
		if err := consumer.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		consumer.Stop(context.Background())
		return nil
	}
}
