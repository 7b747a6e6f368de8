package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/subcommands"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type benchCmd struct {
	total       int
	concurrency int
	op          string
	owner       int64
	to          int64
	currency    int64
	amount      int64
	duration    time.Duration
}

func (*benchCmd) Name() string     { return "bench" }
func (*benchCmd) Synopsis() string { return "send many concurrent requests and report TPS" }
func (*benchCmd) Usage() string {
	return `ledgerctl bench [-n 100000] [-c 100] [-op delta|transfer] -owner <id> [-to <id>] -currency <id> [-amount 1]

  Every request carries a fresh client transaction id. Lock contention
  (Unavailable) is counted separately from other failures.
`
}

func (c *benchCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.total, "n", 100000, "total requests")
	f.IntVar(&c.concurrency, "c", 100, "concurrent requests")
	f.StringVar(&c.op, "op", "delta", "operation: delta or transfer")
	f.Int64Var(&c.owner, "owner", 1, "owner id (transfer source)")
	f.Int64Var(&c.to, "to", 2, "transfer destination owner id")
	f.Int64Var(&c.currency, "currency", 1, "currency id")
	f.Int64Var(&c.amount, "amount", 1, "amount per request in minor units")
	f.DurationVar(&c.duration, "max-duration", 2*time.Minute, "abort after this long")
}

func (c *benchCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.op != "delta" && c.op != "transfer" {
		fail("bench: unknown op %q", c.op)
		return subcommands.ExitUsageError
	}
	if c.concurrency < 1 || c.total < 1 {
		fail("bench: -n and -c must be positive")
		return subcommands.ExitUsageError
	}

	s, err := openSession()
	if err != nil {
		fail("%v", err)
		return subcommands.ExitFailure
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(ctx, c.duration)
	defer cancel()

	var (
		ok, busy, failed atomic.Int64
		wg               sync.WaitGroup
	)
	sem := make(chan struct{}, c.concurrency)
	startTime := time.Now()

	for i := 0; i < c.total; i++ {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			err := c.send(ctx, s, uuid.NewString())
			switch {
			case err == nil:
				ok.Add(1)
			case status.Code(err) == codes.Unavailable:
				busy.Add(1)
			default:
				if failed.Add(1) == 1 || idx%10000 == 0 {
					s.log.Warn("request failed", zap.Int("idx", idx), zap.Error(err))
				}
			}
		}(i)
	}
	wg.Wait()

	elapsed := time.Since(startTime)
	done := ok.Load() + busy.Load() + failed.Load()
	fmt.Printf("Completed %d requests in %v (ok=%d lock_busy=%d failed=%d)\n",
		done, elapsed, ok.Load(), busy.Load(), failed.Load())
	fmt.Printf("TPS: %.2f\n", float64(ok.Load())/elapsed.Seconds())

	if failed.Load() > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *benchCmd) send(ctx context.Context, s *session, txID string) error {
	ctx, cancel := requestContext(ctx)
	defer cancel()
	if c.op == "transfer" {
		_, err := s.client.Transfer(ctx, c.owner, c.to, c.currency, c.amount, txID)
		return err
	}
	_, err := s.client.UpdateBalance(ctx, c.owner, c.currency, c.amount, txID)
	return err
}
