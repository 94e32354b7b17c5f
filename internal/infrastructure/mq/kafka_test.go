package mq

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaPublisherSendsHeaders(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "ledger.journal.posted" {
			return errors.New("unexpected topic")
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != "traceparent" {
			return errors.New("missing traceparent header")
		}
		return nil
	})

	p := NewKafkaPublisher(producer)
	err := p.Publish(context.Background(), Message{
		Topic:   "ledger.journal.posted",
		Key:     "je-1",
		Value:   []byte(`{"journalEntryId":"je-1"}`),
		Headers: map[string]string{"traceparent": "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01"},
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestKafkaPublisherWrapsFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewKafkaPublisher(producer)
	err := p.Publish(context.Background(), Message{Topic: "t", Key: "k", Value: []byte("{}")})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestKafkaPublisherHonoursCancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewKafkaPublisher(producer).Publish(ctx, Message{Topic: "t"})
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, producer.Close())
}
