package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cpsocial/internal/auth"
	"cpsocial/internal/config"
	"cpsocial/internal/handlers/apiserver"
	appKafka "cpsocial/internal/kafka"
	"cpsocial/internal/logging"
	"cpsocial/internal/middleware"
	"cpsocial/internal/ratelimit"
	appRedis "cpsocial/internal/redis"
	"cpsocial/internal/services"
	"cpsocial/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to a config file")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("无法初始化日志: %v", err)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("app", cfg.AppName), zap.String("component", "apiserver"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 初始化数据库连接
	db, err := storage.InitDB(cfg.Database, logger)
	if err != nil {
		logger.Fatal("无法初始化数据库", zap.Error(err))
	}
	if err := storage.AutoMigrateTables(db); err != nil {
		logger.Fatal("数据库表迁移失败", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("无法获取数据库连接池", zap.Error(err))
	}
	defer sqlDB.Close()

	// 3. Redis 可选；不可用时退回进程内实现
	var (
		blacklist auth.TokenBlacklist = auth.NewMemoryBlacklist()
		cache                         = services.NoopCache()
		memStore                      = ratelimit.NewMemoryStore()
		rateStore ratelimit.Store     = memStore
	)
	if rdb, err := appRedis.NewClient(ctx, cfg.Redis, logger); err != nil {
		logger.Warn("Redis 不可用，使用内存黑名单与限流计数", zap.Error(err))
	} else {
		defer rdb.Close()
		blacklist = appRedis.NewRedisTokenBlacklist(rdb)
		cache = appRedis.NewJSONCache(rdb)
		if cfg.RateLimit.Backend == "redis" {
			rateStore = appRedis.NewRateLimitStore(rdb)
		}
	}
	if rateStore == ratelimit.Store(memStore) {
		go memStore.RunSweeper(ctx, time.Minute)
	}

	// 4. Kafka 可选：领域事件与房间事件转发
	var (
		events     services.EventPublisher
		roomEvents apiserver.RoomEventSink
	)
	if cfg.Kafka.Enabled {
		producer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka, logger)
		if err != nil {
			logger.Fatal("无法创建 Kafka 生产者", zap.Error(err))
		}
		defer producer.Close()
		events = appKafka.NewDomainEventPublisher(producer, cfg.Kafka.DomainEventsTopic)
		roomEvents = appKafka.NewRoomEventPublisher(producer, cfg.Kafka.RoomEventsTopic)
	}

	// 5. 初始化 Repositories 与 Services
	userRepo := storage.NewGormUserRepository(db)
	friendshipRepo := storage.NewGormFriendshipRepository(db)
	roomRepo := storage.NewGormRoomRepository(db)
	messageRepo := storage.NewGormMessageRepository(db)
	activityRepo := storage.NewGormActivityRepository(db)

	leaderboard := services.NewLeaderboardService(userRepo, friendshipRepo, cache, cfg.Cache.LeaderboardTTL, logger)
	authService := services.NewAuthService(userRepo, blacklist, cfg.Auth, logger)
	userService := services.NewUserService(db, userRepo, leaderboard, cache, cfg.Cache.SearchTTL, logger)
	friendshipService := services.NewFriendshipService(db, userRepo, friendshipRepo, events, cfg.Friends, logger)
	roomService := services.NewRoomService(db, roomRepo, friendshipRepo, events, logger)
	messageService := services.NewMessageService(db, messageRepo, roomRepo, friendshipRepo, logger)
	activityService := services.NewActivityService(db, activityRepo, friendshipRepo)

	storageService, err := storage.NewLocalStorageService(cfg.Storage)
	if err != nil {
		logger.Fatal("无法初始化本地存储服务", zap.Error(err))
	}

	proxies, err := middleware.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		logger.Fatal("无效的可信代理配置", zap.Error(err))
	}

	// 6. 路由
	router := apiserver.NewRouter(apiserver.Deps{
		Auth:        authService,
		Users:       userService,
		Friendships: friendshipService,
		Rooms:       roomService,
		Messages:    messageService,
		Activities:  activityService,
		Leaderboard: leaderboard,
		Storage:     storageService,
		Limiter:     ratelimit.New(rateStore, ratelimit.RulesFromConfig(cfg.RateLimit), logger),
		Proxies:     proxies,
		RoomEvents:  roomEvents,
		Ping:        sqlDB.PingContext,
		AuthCfg:     cfg.Auth,
		StorageCfg:  cfg.Storage,
		Log:         logger,
	})

	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(cfg.APIServer.CORS.AllowedOrigins),
		handlers.AllowedMethods(cfg.APIServer.CORS.AllowedMethods),
		handlers.AllowedHeaders(cfg.APIServer.CORS.AllowedHeaders),
		handlers.ExposedHeaders(cfg.APIServer.CORS.ExposedHeaders),
		handlers.MaxAge(cfg.APIServer.CORS.MaxAge),
	}
	if cfg.APIServer.CORS.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}
	var handler http.Handler = handlers.CORS(corsOptions...)(router)
	handler = handlers.CombinedLoggingHandler(logging.Writer{L: logger.Named("access")}, handler)
	handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(logging.StdLogger(logger, zapcore.ErrorLevel)),
		handlers.PrintRecoveryStack(true),
	)(handler)

	// 7. 启动 HTTP 服务器并实现优雅关闭
	serverAddr := fmt.Sprintf("%s:%s", cfg.APIServer.Host, cfg.APIServer.Port)
	srv := &http.Server{
		Addr:           serverAddr,
		Handler:        handler,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		ErrorLog:       logging.StdLogger(logger, zapcore.WarnLevel),
	}

	go func() {
		logger.Info("API 服务器启动", zap.String("addr", serverAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("API 服务器启动失败", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("收到关闭信号，正在关闭 API 服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("API 服务器强制关闭", zap.Error(err))
		return
	}
	logger.Info("API 服务器已成功关闭")
}
