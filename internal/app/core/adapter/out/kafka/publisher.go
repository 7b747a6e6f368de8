package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-balance-ledger/internal/app/core/usecase"
)

// Config Kafka 設定
type Config struct {
	Brokers      []string      `yaml:"brokers"`
	TopicPrefix  string        `yaml:"topic_prefix"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// messageWriter kafka.Writer 的最小介面 (方便測試替換)
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher 將提交後的帳務事件寫入 Kafka，topic 由事件決定
type Publisher struct {
	writer      messageWriter
	topicPrefix string
}

func NewPublisher(cfg Config) *Publisher {
	timeout := cfg.WriteTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			WriteTimeout:           timeout,
			AllowAutoTopicCreation: true,
		},
		topicPrefix: cfg.TopicPrefix,
	}
}

// Publish 以 client_tx_id 為 message key，同一筆交易的事件落在同一個 partition
func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}

	return errors.Wrapf(p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topicPrefix + event.Topic(),
		Key:   []byte(event.Key()),
		Value: data,
	}), "publish %s", event.Topic())
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ usecase.EventPublisher = (*Publisher)(nil)
