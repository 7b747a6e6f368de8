package event

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-balance-ledger/internal/app/core/usecase"
)

// ErrQueueFull 輸送帶已滿，事件被丟棄
var ErrQueueFull = errors.New("event queue is full")

// publishRequest 事件包裝，經由 channel 交給背景迴圈
type publishRequest struct {
	Ctx   context.Context
	Event domain.Event
}

// Dispatcher 非同步事件發送
//
// Publish(不等待) -> Channel -> Run Loop (單一 goroutine) -> 下游 Publisher
// 帳務已提交後才發送事件，下游變慢不影響呼叫端
type Dispatcher struct {
	next   usecase.EventPublisher
	logger *zap.Logger
	// 輸送帶 負責接收事件
	requestChan chan *publishRequest
	// Pool 減少 GC 壓力
	requestPool sync.Pool
	done        chan struct{}
}

// NewDispatcher 建立一個新的 Dispatcher 實例
//
// 參數:
//
//	next: 真正發送事件的 Publisher
//	buffer: 輸送帶容量
//	logger: 下游失敗時記錄
func NewDispatcher(next usecase.EventPublisher, buffer int, logger *zap.Logger) *Dispatcher {
	if buffer < 1 {
		buffer = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		next:        next,
		logger:      logger,
		requestChan: make(chan *publishRequest, buffer),
		requestPool: sync.Pool{
			New: func() interface{} {
				return &publishRequest{}
			},
		},
		done: make(chan struct{}),
	}
}

// Publish 放入輸送帶，滿了直接回傳 ErrQueueFull
func (d *Dispatcher) Publish(ctx context.Context, event domain.Event) error {
	req := d.requestPool.Get().(*publishRequest)
	req.Ctx = context.WithoutCancel(ctx)
	req.Event = event

	select {
	case d.requestChan <- req:
		return nil
	default:
		d.release(req)
		return ErrQueueFull
	}
}

// Start 啟動背景迴圈 (非同步)，ctx 結束後把剩下的事件送完
func (d *Dispatcher) Start(ctx context.Context) {
	go d.run(ctx)
}

// Wait 等待背景迴圈結束
func (d *Dispatcher) Wait() {
	<-d.done
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			// 收到關閉信號，把剩下的事件處理完
			d.drain()
			return
		case req := <-d.requestChan:
			d.process(req)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case req := <-d.requestChan:
			d.process(req)
		default:
			return
		}
	}
}

func (d *Dispatcher) process(req *publishRequest) {
	if err := d.next.Publish(req.Ctx, req.Event); err != nil {
		d.logger.Warn("failed to publish event",
			zap.String("topic", req.Event.Topic()),
			zap.String("key", req.Event.Key()),
			zap.Error(err),
		)
	}
	d.release(req)
}

func (d *Dispatcher) release(req *publishRequest) {
	req.Ctx = nil
	req.Event = nil
	d.requestPool.Put(req)
}

var _ usecase.EventPublisher = (*Dispatcher)(nil)
