package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublisher_PublishUsesEventTopicAndKey(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{writer: w, topicPrefix: "test."}

	event := domain.TransferCommitted{
		ClientTxID:  "tx-1",
		FromOwnerID: 1,
		ToOwnerID:   2,
		CurrencyID:  3,
		Amount:      100,
		OccurredAt:  time.Unix(0, 0).UTC(),
	}
	require.NoError(t, p.Publish(context.Background(), event))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "test.ledger.transfer_committed", msg.Topic)
	assert.Equal(t, []byte("tx-1"), msg.Key)

	var decoded domain.TransferCommitted
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event, decoded)
}

func TestPublisher_PublishWrapsWriterError(t *testing.T) {
	p := &Publisher{writer: &fakeWriter{err: assert.AnError}}

	err := p.Publish(context.Background(), domain.BalanceChanged{ClientTxID: "tx-2"})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "ledger.balance_changed")
}
