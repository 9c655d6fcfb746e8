package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/hotaru-social/hotaru/ap"
	"github.com/hotaru-social/hotaru/apclient"
	"github.com/hotaru-social/hotaru/cache"
	"github.com/hotaru-social/hotaru/delivery"
	"github.com/hotaru-social/hotaru/inbox"
	"github.com/hotaru-social/hotaru/resolver"
	"github.com/hotaru-social/hotaru/sigverify"
	"github.com/hotaru-social/hotaru/store"
	"github.com/hotaru-social/hotaru/telemetry"
	"github.com/hotaru-social/hotaru/types"
	"github.com/hotaru-social/hotaru/worker"
)

var (
	version      = "unknown"
	buildMachine = "unknown"
	buildTime    = "unknown"
	goVersion    = "unknown"
)

func main() {
	e := echo.New()

	configPath := os.Getenv("HOTARU_CONFIG")
	if configPath == "" {
		configPath = "/etc/hotaru/config.yaml"
	}

	config, err := loadConfig(configPath)
	if err != nil {
		slog.Error("Failed to load config: ", slog.String("error", err.Error()))
		panic(err)
	}

	slog.Info(fmt.Sprintf("Hotaru %s starting...", version))
	slog.Info(fmt.Sprintf("Federating as %s", config.Federation.FQDN))

	config.NodeInfo.Version = "2.0"
	config.NodeInfo.Software.Name = "hotaru"
	config.NodeInfo.Software.Version = version
	config.NodeInfo.Protocols = []string{"activitypub"}

	e.HidePort = true
	e.HideBanner = true

	if config.Server.EnableTrace {
		cleanup, err := telemetry.SetupTraceProvider(config.Server.TraceEndpoint, config.Federation.FQDN+"/hotaru", version)
		if err != nil {
			panic(err)
		}
		defer cleanup()

		skipper := otelecho.WithSkipper(
			func(c echo.Context) bool {
				return c.Path() == "/metrics" || c.Path() == "/health"
			},
		)
		e.Use(otelecho.Middleware(config.Federation.FQDN, skipper))
	}

	e.Use(echoprometheus.NewMiddleware("hotaru"))
	e.Use(middleware.Recover())

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             300 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	db, err := gorm.Open(postgres.Open(config.Server.Dsn), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		panic("failed to connect database")
	}
	sqlDB, err := db.DB() // for pinging
	if err != nil {
		panic("failed to connect database")
	}
	defer sqlDB.Close()

	err = db.Use(tracing.NewPlugin(
		tracing.WithDBName("postgres"),
	))
	if err != nil {
		panic("failed to setup tracing plugin")
	}

	mc := memcache.New(config.Server.MemcachedAddr)
	defer mc.Close()

	log.Println("start migrate")
	db.AutoMigrate(
		&types.LocalUser{},
		&types.Actor{},
		&types.Follow{},
		&types.Note{},
		&types.Reaction{},
		&types.Boost{},
		&types.ReceivedActivity{},
		&types.InstanceBlock{},
		&types.DeliveryRecord{},
	)

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Server.RedisAddr,
		Password: "", // no password set
		DB:       config.Server.RedisDB,
	})
	err = redisotel.InstrumentTracing(
		rdb,
		redisotel.WithAttributes(
			attribute.KeyValue{
				Key:   "db.name",
				Value: attribute.StringValue("redis"),
			},
		),
	)
	if err != nil {
		panic("failed to setup tracing plugin")
	}

	ctx := context.Background()

	storeService := store.NewStore(db)
	cacheService := cache.NewMemcached(mc)
	apClient := apclient.NewClient()

	var systemSigner *apclient.Signer
	if config.Federation.SystemUser != "" {
		systemUser, err := storeService.FindLocalUserByUsername(ctx, config.Federation.SystemUser)
		if err != nil {
			slog.Error("system user not found", slog.String("username", config.Federation.SystemUser))
		} else {
			key, err := store.LoadKey(systemUser)
			if err != nil {
				panic("failed to load system user key")
			}
			systemSigner = &apclient.Signer{
				KeyID:      "https://" + config.Federation.FQDN + "/users/" + systemUser.Username + "#main-key",
				PrivateKey: key,
			}
		}
	}

	resolverService := resolver.NewResolver(
		storeService,
		storeService,
		apClient,
		cacheService,
		config.Federation,
		systemSigner,
	)

	verifier := sigverify.NewVerifier(resolverService, cacheService)
	deduper := inbox.NewDeduper(storeService)

	builder := delivery.NewBuilder(config.Federation.FQDN)
	queue := delivery.NewQueue(apClient, storeService, storeService, config.Server.DeliveryWorkers)
	deliveryService := delivery.NewService(
		queue,
		builder,
		resolverService,
		storeService,
		storeService,
		config.Federation,
	)

	dispatcher := inbox.NewDispatcher(inbox.Deps{
		Resolver:   resolverService,
		Users:      storeService,
		Follows:    storeService,
		Notes:      storeService,
		Engagement: storeService,
		Deleter:    storeService,
		Deliverer:  deliveryService,
		Builder:    builder,
		Config:     config.Federation,
	})

	apService := ap.NewService(
		storeService,
		verifier,
		deduper,
		dispatcher,
		builder,
		config.NodeInfo,
		config.Federation,
	)
	apHandler := ap.NewHandler(apService)

	queue.Start(ctx)

	federationWorker := worker.NewWorker(rdb, storeService, deliveryService, builder, resolverService, apService, config.Federation)
	go federationWorker.Start(ctx)

	e.GET("/.well-known/host-meta", apHandler.HostMeta)
	e.GET("/.well-known/webfinger", apHandler.WebFinger)
	e.GET("/.well-known/nodeinfo", apHandler.NodeInfoWellKnown)
	e.GET("/nodeinfo/2.0", apHandler.NodeInfo)

	e.GET("/users/:username", apHandler.User)
	e.POST("/users/:username/inbox", apHandler.UserInbox)
	e.GET("/notes/:id", apHandler.Note)
	e.POST("/inbox", apHandler.SharedInbox)

	e.GET("/health", func(c echo.Context) (err error) {
		ctx := c.Request().Context()

		err = sqlDB.Ping()
		if err != nil {
			return c.String(http.StatusInternalServerError, "db error")
		}

		err = rdb.Ping(ctx).Err()
		if err != nil {
			return c.String(http.StatusInternalServerError, "redis error")
		}

		return c.String(http.StatusOK, "ok")
	})

	e.GET("/metrics", echoprometheus.NewHandler())

	port := ":8000"
	envport := os.Getenv("HOTARU_PORT")
	if envport != "" {
		port = ":" + envport
	}

	e.Logger.Fatal(e.Start(port))
}
