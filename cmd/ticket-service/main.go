// cmd/ticket-service/main.go
package main

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"eventix/internal/pkg/bootstrap"
	"eventix/internal/pkg/clock"
	"eventix/internal/pkg/config"
	"eventix/internal/pkg/httpclient"
	"eventix/internal/pkg/lock"
	"eventix/internal/pkg/logger"
	"eventix/internal/pkg/mq"
	pkgredis "eventix/internal/pkg/redis"
	"eventix/internal/service/ticket/application"
	"eventix/internal/service/ticket/infrastructure"
	"eventix/internal/service/ticket/infrastructure/adapter"
	"eventix/internal/service/ticket/interfaces"
)

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		panic(err)
	}
	logger.Init(cfg.Service.Name)
	log := logger.Ctx(context.Background())

	// 1. 持久化层
	db, err := gorm.Open(mysql.Open(cfg.Infra.MySQL.DSN), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MySQL")
	}
	if err := db.AutoMigrate(
		&infrastructure.InventoryModel{},
		&infrastructure.ReservationModel{},
		&infrastructure.TicketModel{},
	); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database schema")
	}

	inventoryRepo := infrastructure.NewGormInventoryRepository(db)
	reservationRepo := infrastructure.NewGormReservationRepository(db)
	ticketRepo := infrastructure.NewGormTicketRepository(db)

	// 2. Redis: 幂等键注册表
	redisClient, err := pkgredis.NewClient(context.Background(), cfg.Infra.Redis.Addr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()

	idemRegistry, err := adapter.NewIdempotencyRedisAdapter(redisClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize idempotency registry")
	}

	// 3. 台账锁：配置了 Zookeeper 用分布式锁，否则退化为进程内锁（单实例部署）
	var locker lock.KeyLocker
	if len(cfg.Infra.Zookeeper.Servers) > 0 {
		zkLocker, err := lock.NewZKLocker(cfg.Infra.Zookeeper.Servers, 5*time.Second)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Zookeeper")
		}
		defer zkLocker.Close()
		locker = zkLocker
	} else {
		log.Warn().Msg("Zookeeper not configured, falling back to in-process locks (single instance only)")
		locker = lock.NewKeyMutex()
	}

	tracer := otel.Tracer(cfg.Service.Name)

	// 目录网关。Nacos 发现客户端由启动框架创建，稍后通过 SetDiscovery 注入
	catalog := adapter.NewCatalogHTTPAdapter(
		httpclient.NewClient(tracer),
		cfg.Catalog.BaseURL,
		nil,
		cfg.Catalog.ServiceName,
	)

	svc := application.NewTicketService(
		inventoryRepo, reservationRepo, ticketRepo,
		catalog,
		idemRegistry, locker,
		application.NewLimitPolicy(cfg.Reservation.MaxTicketsPerReservation, cfg.Reservation.CategoryMaxPerReservation),
		clock.System(), cfg.HoldDuration(), tracer,
	)

	// 4. 后台任务：过期清扫器 + 支付结果消费者
	sweeper := application.NewExpirationSweeper(svc, cfg.Reservation.SweepInterval.Std(), clock.System(), tracer)

	paymentReader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.PaymentTopic, cfg.Infra.Kafka.GroupID)
	consumer := infrastructure.NewPaymentConsumerAdapter(paymentReader, svc)

	handler := interfaces.NewTicketHandler(svc)

	err = bootstrap.StartService(bootstrap.AppInfo{
		ServiceName:      cfg.Service.Name,
		Port:             cfg.Service.Port,
		JaegerEndpoint:   cfg.Infra.Jaeger.Endpoint,
		NacosServerAddrs: cfg.Infra.Nacos.ServerAddrs,
		NacosNamespace:   cfg.Infra.Nacos.Namespace,
		NacosGroup:       cfg.Infra.Nacos.Group,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			catalog.SetDiscovery(appCtx.Nacos)
			handler.RegisterRoutes(appCtx.Mux)
		},
		Runners: []func(ctx context.Context) error{
			sweeper.Run,
			func(ctx context.Context) error {
				consumer.Start(ctx)
				<-ctx.Done()
				consumer.Stop()
				return nil
			},
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Service exited with error")
	}
}
