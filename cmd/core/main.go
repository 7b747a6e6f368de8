package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpc_adapter "github.com/JoeShih716/go-balance-ledger/internal/app/core/adapter/in/grpc"
	event_adapter "github.com/JoeShih716/go-balance-ledger/internal/app/core/adapter/out/event"
	kafka_adapter "github.com/JoeShih716/go-balance-ledger/internal/app/core/adapter/out/kafka"
	memory_adapter "github.com/JoeShih716/go-balance-ledger/internal/app/core/adapter/out/memory"
	mysql_adapter "github.com/JoeShih716/go-balance-ledger/internal/app/core/adapter/out/mysql"
	redis_adapter "github.com/JoeShih716/go-balance-ledger/internal/app/core/adapter/out/redis"
	"github.com/JoeShih716/go-balance-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-balance-ledger/pkg/logger"
	"github.com/JoeShih716/go-balance-ledger/pkg/mysql"
	"github.com/JoeShih716/go-balance-ledger/pkg/redis"
	"github.com/JoeShih716/go-balance-ledger/pkg/wal"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the yaml config file")
	flag.Parse()

	// 1. 載入設定
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, _, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server exited")
}

func run(ctx context.Context, cfg Config, log *zap.Logger) error {
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn("failed to close resource", zap.Error(err))
			}
		}
	}()

	// 2. 帳務儲存 (Level 0 MySQL / Level 1 Memory + WAL)
	store, closeStore, err := buildStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	closers = append(closers, closeStore)

	// 3. 分散式鎖與餘額快取
	locker, cache, closeRedis, err := buildLockAndCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	closers = append(closers, closeRedis)

	scope, err := usecase.ParseLockScope(cfg.Ledger.LockScope)
	if err != nil {
		return err
	}
	opts := []usecase.EngineOption{
		usecase.WithCacheTTL(cfg.Ledger.CacheTTL),
		usecase.WithLockTTL(cfg.Ledger.LockTTL),
		usecase.WithLockScope(scope),
		usecase.WithLogger(log),
	}

	// 4. 事件 (可選): Engine -> Dispatcher -> Kafka
	var dispatcher *event_adapter.Dispatcher
	dispatcherCtx, stopDispatcher := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatcher()
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := kafka_adapter.NewPublisher(cfg.Kafka)
		closers = append(closers, publisher.Close)

		dispatcher = event_adapter.NewDispatcher(publisher, cfg.Ledger.EventBuffer, log)
		dispatcher.Start(dispatcherCtx)
		opts = append(opts, usecase.WithPublisher(dispatcher))
		log.Info("publishing ledger events to kafka", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	// 5. 初始化 UseCase
	engine := usecase.NewBalanceEngine(store, locker, cache, opts...)
	coreUseCase := usecase.NewCoreUseCase(engine)

	if cfg.Ledger.ProvisionCurrencies {
		if err := coreUseCase.Provision(ctx, cfg.Ledger.currencyIDs()...); err != nil {
			return fmt.Errorf("failed to provision technical accounts: %w", err)
		}
		log.Info("technical accounts provisioned", zap.Int64s("currency_ids", cfg.Ledger.currencyIDs()))
	}

	// 6. 啟動 gRPC Server
	lis, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s := grpc.NewServer()
	grpc_adapter.RegisterLedgerServiceServer(s, grpc_adapter.NewGrpcServer(coreUseCase, log))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(s, healthServer)
	healthServer.SetServingStatus(grpc_adapter.ServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(s) // 方便 grpcurl 測試

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting grpc server",
			zap.String("addr", cfg.Server.Addr),
			zap.String("store", string(cfg.Ledger.Store)),
			zap.Stringer("lock_scope", scope),
		)
		serveErr <- s.Serve(lis)
	}()

	// Graceful Shutdown
	select {
	case <-ctx.Done():
		log.Info("shutting down server")
	case err := <-serveErr:
		return fmt.Errorf("failed to serve: %w", err)
	}

	healthServer.Shutdown()
	gracefulStop(s, cfg, log)

	// 已提交的事件送完再關閉 Kafka
	stopDispatcher()
	if dispatcher != nil {
		dispatcher.Wait()
	}
	return nil
}

func gracefulStop(s *grpc.Server, cfg Config, log *zap.Logger) {
	stopped := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(stopped)
	}()
	timer := time.NewTimer(cfg.Server.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-stopped:
	case <-timer.C:
		log.Warn("graceful stop timed out, forcing", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
		s.Stop()
	}
}

func buildStore(ctx context.Context, cfg Config, log *zap.Logger) (usecase.Store, func() error, error) {
	currencies := cfg.Ledger.domainCurrencies()

	switch cfg.Ledger.Store {
	case StoreMySQL:
		dbClient, err := mysql.NewClient(cfg.MySQL, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to mysql: %w", err)
		}
		log.Info("connected to mysql", zap.String("host", cfg.MySQL.Host), zap.String("db", cfg.MySQL.DBName))

		ledger := mysql_adapter.NewMySQLLedger(dbClient, log)
		if err := ledger.AutoMigrate(ctx); err != nil {
			_ = dbClient.Close()
			return nil, nil, err
		}
		if err := ledger.EnsureCurrencies(ctx, currencies...); err != nil {
			_ = dbClient.Close()
			return nil, nil, err
		}
		return ledger, dbClient.Close, nil

	case StoreMemory:
		journal, err := wal.NewWAL(cfg.WAL, memory_adapter.JournalKey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init wal: %w", err)
		}
		store, err := memory_adapter.NewStore(
			memory_adapter.WithCurrencies(currencies...),
			memory_adapter.WithWAL(journal),
		)
		if err != nil {
			_ = journal.Close()
			return nil, nil, fmt.Errorf("failed to recover memory store: %w", err)
		}
		log.Info("memory store recovered from wal", zap.Int("entries", len(store.Entries())))
		return store, journal.Close, nil
	}
	return nil, nil, fmt.Errorf("invalid ledger.store %q", cfg.Ledger.Store)
}

// buildLockAndCache 有設定 redis.addr 時使用 Redis (多實例共用)，否則使用單機記憶體實作
func buildLockAndCache(ctx context.Context, cfg Config, log *zap.Logger) (usecase.Locker, usecase.Cache, func() error, error) {
	if cfg.Redis.Addr == "" {
		log.Warn("redis.addr is empty, using in-process lock and cache (single instance only)")
		return memory_adapter.NewLocker(), memory_adapter.NewCache(), func() error { return nil }, nil
	}

	client, err := redis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, nil, err
	}
	log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	return redis_adapter.NewLocker(client), redis_adapter.NewCache(client, log), client.Close, nil
}
