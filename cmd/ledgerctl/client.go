package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	grpc_adapter "github.com/JoeShih716/go-balance-ledger/internal/app/core/adapter/in/grpc"
	"github.com/JoeShih716/go-balance-ledger/pkg/grpc"
	"github.com/JoeShih716/go-balance-ledger/pkg/logger"
)

var (
	serverAddr = flag.String("addr", "localhost:50051", "ledger gRPC server address")
	timeout    = flag.Duration("timeout", 5*time.Second, "per-request timeout")
	verbose    = flag.Bool("v", false, "log every gRPC call")
)

// session 一次指令共用的連線
type session struct {
	client *grpc_adapter.Client
	pool   *grpc.Pool
	log    *zap.Logger
}

func openSession() (*session, error) {
	level := "info"
	if *verbose {
		level = "debug"
	}
	log, _, err := logger.New(logger.Config{Level: level, Format: "console"})
	if err != nil {
		return nil, err
	}

	pool := grpc.NewPool(grpc.WithInterceptor(grpc.LoggingInterceptor(log)))
	conn, err := pool.GetConnection(*serverAddr)
	if err != nil {
		return nil, err
	}
	return &session{
		client: grpc_adapter.NewClient(conn),
		pool:   pool,
		log:    log,
	}, nil
}

func (s *session) Close() {
	_ = s.pool.Close()
	_ = s.log.Sync()
}

func requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, *timeout)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
