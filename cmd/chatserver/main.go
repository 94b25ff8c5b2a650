package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cpsocial/internal/auth"
	"cpsocial/internal/config"
	"cpsocial/internal/handlers/chatserver"
	"cpsocial/internal/handlers/response"
	appKafka "cpsocial/internal/kafka"
	kafkaHandlers "cpsocial/internal/kafka/handlers"
	"cpsocial/internal/logging"
	appRedis "cpsocial/internal/redis"
	"cpsocial/internal/services"
	"cpsocial/internal/storage"
	"cpsocial/internal/websocket"
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
	instanceID := uuid.NewString()
	logger = logger.With(zap.String("app", cfg.AppName), zap.String("component", "chatserver"), zap.String("instance", instanceID))

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

	// 3. Redis 黑名单，使登出在两个进程中都生效
	var blacklist auth.TokenBlacklist = auth.NewMemoryBlacklist()
	if rdb, err := appRedis.NewClient(ctx, cfg.Redis, logger); err != nil {
		logger.Warn("Redis 不可用，已登出的令牌只在 API 服务器内失效", zap.Error(err))
	} else {
		defer rdb.Close()
		blacklist = appRedis.NewRedisTokenBlacklist(rdb)
	}

	// 4. Services
	userRepo := storage.NewGormUserRepository(db)
	friendshipRepo := storage.NewGormFriendshipRepository(db)
	roomRepo := storage.NewGormRoomRepository(db)

	authService := services.NewAuthService(userRepo, blacklist, cfg.Auth, logger)
	roomService := services.NewRoomService(db, roomRepo, friendshipRepo, nil, logger)
	messageService := services.NewMessageService(db, storage.NewGormMessageRepository(db), roomRepo, friendshipRepo, logger)
	leaderboard := services.NewLeaderboardService(userRepo, friendshipRepo, nil, 0, logger)
	userService := services.NewUserService(db, userRepo, leaderboard, nil, 0, logger)

	deps := websocket.Deps{
		Auth:       authService,
		Rooms:      roomService,
		Messages:   messageService,
		LastSeen:   userService,
		InstanceID: instanceID,
	}

	// 5. Kafka 可选：跨实例转发房间事件，并把领域事件推送给在线用户
	var consumers []appKafka.MessageConsumer
	if cfg.Kafka.Enabled {
		producer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka, logger)
		if err != nil {
			logger.Fatal("无法创建 Kafka 生产者", zap.Error(err))
		}
		defer producer.Close()
		deps.Relay = appKafka.NewRoomEventPublisher(producer, cfg.Kafka.RoomEventsTopic)
	}

	// 6. 初始化 WebSocket Hub
	hub := websocket.NewHub(cfg.WebSocket, deps, logger)
	wsHandler := chatserver.NewWebSocketHandler(hub, authService, cfg.Auth.CookieName, logger)

	var consumerWG sync.WaitGroup
	if cfg.Kafka.Enabled {
		// every instance needs every event, so each consumes with its own group
		groupID := fmt.Sprintf("%s-%s", cfg.Kafka.ConsumerGroup, instanceID)
		subscriptions := []struct {
			topic   string
			handler appKafka.MessageHandler
		}{
			{cfg.Kafka.RoomEventsTopic, kafkaHandlers.NewRoomEventHandler(instanceID, hub, logger).Handle},
			{cfg.Kafka.DomainEventsTopic, kafkaHandlers.NewDomainEventHandler(hub, logger).Handle},
		}
		for _, sub := range subscriptions {
			consumer := appKafka.NewConfluentKafkaConsumer(cfg.Kafka, "latest", logger)
			consumers = append(consumers, consumer)
			consumerWG.Add(1)
			go func(topic string, handler appKafka.MessageHandler) {
				defer consumerWG.Done()
				logger.Info("Kafka 消费者启动", zap.String("topic", topic), zap.String("group", groupID))
				if err := consumer.Consume(ctx, []string{topic}, groupID, handler); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("Kafka 消费者错误", zap.String("topic", topic), zap.Error(err))
				}
			}(sub.topic, sub.handler)
		}
	}

	// 7. 配置 HTTP 服务器路由
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Server.WebSocketPath, wsHandler.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, map[string]int{"sessions": hub.SessionCount()})
	})
	handler := handlers.RecoveryHandler(
		handlers.RecoveryLogger(logging.StdLogger(logger, zapcore.ErrorLevel)),
		handlers.PrintRecoveryStack(true),
	)(mux)

	// 8. 启动 HTTP 服务器
	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:           serverAddr,
		Handler:        handler,
		ReadTimeout:    cfg.Server.ReadTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		ErrorLog:       logging.StdLogger(logger, zapcore.WarnLevel),
	}

	go func() {
		logger.Info("Chat 服务器启动", zap.String("addr", serverAddr), zap.String("path", cfg.Server.WebSocketPath))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Chat 服务器启动失败", zap.Error(err))
		}
	}()

	// 优雅关闭
	<-ctx.Done()
	logger.Info("Chat 服务器准备关闭...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Chat 服务器关闭失败", zap.Error(err))
	}
	hub.Close()
	consumerWG.Wait()
	for _, consumer := range consumers {
		consumer.Close()
	}
	logger.Info("Chat 服务器已优雅关闭。")
}
