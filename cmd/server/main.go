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

	"go.uber.org/zap"

	"ledger/internal/config"
	"ledger/internal/handler"
	"ledger/internal/infrastructure/cache"
	"ledger/internal/infrastructure/database"
	"ledger/internal/infrastructure/lock"
	"ledger/internal/infrastructure/mq"
	"ledger/internal/job"
	"ledger/internal/ledger"
	"ledger/internal/repository"
	"ledger/internal/service"
	"ledger/internal/storage/memory"
	"ledger/pkg/idgen"
	"ledger/pkg/logger"
)

// storage 引擎、账户服务和 outbox 中继共用的一套存储
type storage interface {
	ledger.Store
	service.AccountStore
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	// 初始化 ID 生成器
	if err := idgen.Init(cfg.Business.WorkerID); err != nil {
		zl.Fatal("init id generator", zap.Error(err))
	}

	var (
		store  storage
		outbox job.OutboxStore
	)
	switch cfg.Storage.Driver {
	case config.StorageDriverMySQL:
		db, err := database.InitMySQL(&cfg.MySQL, zl)
		if err != nil {
			zl.Fatal("init mysql", zap.Error(err))
		}
		defer func() { _ = database.Close(db) }()
		gs := repository.NewStore(db)
		store, outbox = gs, gs.Outbox()
	default:
		ms := memory.NewStore()
		store, outbox = ms, ms
		zl.Warn("using in-memory storage, data is lost on restart")
	}

	opts := []ledger.Option{ledger.WithLogger(zl.Named("ledger"))}

	if cfg.Redis.Enabled {
		redisClient, err := cache.InitRedis(&cfg.Redis, zl)
		if err != nil {
			zl.Fatal("init redis", zap.Error(err))
		}
		defer func() { _ = redisClient.Close() }()
		opts = append(opts, ledger.WithLocker(lock.NewAccountLocker(redisClient, cfg.Ledger.Lock, zl.Named("lock"))))
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Kafka.Enabled {
		producer, err := mq.InitKafka(&cfg.Kafka, zl)
		if err != nil {
			zl.Fatal("init kafka", zap.Error(err))
		}
		defer func() { _ = producer.Close() }()

		opts = append(opts, ledger.WithOutboxTopic(cfg.Kafka.Topic.TransactionCompleted))

		outboxSender := job.NewOutboxSender(outbox, producer, cfg.Business.MaxRetryCount, zl)
		go outboxSender.Start(ctx)
		defer outboxSender.Stop()
	}

	engine := ledger.NewEngine(store, opts...)
	accounts := service.NewAccountService(store, cfg.Ledger.AccountNumber, zl.Named("account"))
	router := handler.SetupRouter(handler.NewHandler(accounts, engine, zl), zl, cfg.Server.Mode)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zl.Info("server listening", zap.Int("port", cfg.Server.Port), zap.String("storage", cfg.Storage.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server failed", zap.Error(err))
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("shutting down")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("server shutdown", zap.Error(err))
	}

	zl.Info("server stopped")
}
