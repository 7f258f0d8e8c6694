package messaging

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/distributed-ecommerce-saga/order-pipeline/shared/events"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAcknowledger struct {
	acks     int
	nacks    int
	requeued bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acks++
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	f.nacks++
	f.requeued = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

type republished struct {
	queue string
	msg   amqp.Publishing
}

func newTestConsumer(maxRetries int) *Consumer {
	return &Consumer{
		config: ConsumerConfig{
			Queue:      "payment-service-queue",
			MaxRetries: maxRetries,
			RetryDelay: time.Millisecond,
		}.withDefaults(),
		sleep: func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	}
}

func newDelivery(ack amqp.Acknowledger, retry int32) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  1,
		MessageId:    "msg-1",
		Type:         string(events.FulfillmentRequestedEvent),
		ContentType:  "application/json",
		Body:         []byte(`{"orderId":1}`),
		Headers: amqp.Table{
			HeaderOrderID:       "1",
			HeaderSchemaVersion: int32(1),
			HeaderRetryCount:    retry,
		},
	}
}

func TestDecide(t *testing.T) {
	transient := errors.New("db down")

	tests := []struct {
		name       string
		err        error
		retryCount int
		maxRetries int
		want       disposition
	}{
		{"success", nil, 0, 5, dispositionAck},
		{"permanent", Permanent(errors.New("bad")), 0, 5, dispositionDeadLetter},
		{"malformed", fmt.Errorf("decode: %w", events.ErrMalformed), 0, 0, dispositionDeadLetter},
		{"unlimited retries", transient, 40, 0, dispositionRequeue},
		{"below cap", transient, 4, 5, dispositionRetryLater},
		{"at cap", transient, 5, 5, dispositionDeadLetter},
		{"not ready at cap", NotReady(transient), 5, 5, dispositionDefer},
		{"not ready unlimited", fmt.Errorf("apply: %w", NotReady(transient)), 9, 0, dispositionDefer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decide(tt.err, tt.retryCount, tt.maxRetries))
		})
	}
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
	assert.False(t, IsPermanent(nil))
}

func TestHandleMessageAcksOnSuccess(t *testing.T) {
	c := newTestConsumer(5)
	ack := &fakeAcknowledger{}

	var got Delivery
	c.handleMessage(context.Background(), newDelivery(ack, 0), func(ctx context.Context, d Delivery) error {
		got = d
		return nil
	}, nil)

	assert.Equal(t, 1, ack.acks)
	assert.Zero(t, ack.nacks)
	assert.Equal(t, "1", got.OrderID)
	assert.Equal(t, 1, got.SchemaVersion)
	assert.Equal(t, "msg-1", got.MessageID)
}

func TestHandleMessageDeadLettersPoison(t *testing.T) {
	c := newTestConsumer(5)
	ack := &fakeAcknowledger{}

	c.handleMessage(context.Background(), newDelivery(ack, 0), func(ctx context.Context, d Delivery) error {
		return events.Decode([]byte("not json"), &events.FulfillmentRequested{})
	}, func(string, amqp.Publishing) error {
		t.Fatal("poison message must not be retried")
		return nil
	})

	assert.Zero(t, ack.acks)
	assert.Equal(t, 1, ack.nacks)
	assert.False(t, ack.requeued)
}

func TestHandleMessageRepublishesWithIncrementedRetryCount(t *testing.T) {
	c := newTestConsumer(5)
	ack := &fakeAcknowledger{}
	var sent []republished

	c.handleMessage(context.Background(), newDelivery(ack, 2), func(ctx context.Context, d Delivery) error {
		return errors.New("connection refused")
	}, func(queue string, msg amqp.Publishing) error {
		sent = append(sent, republished{queue, msg})
		return nil
	})

	require.Len(t, sent, 1)
	assert.Equal(t, "payment-service-queue", sent[0].queue)
	assert.Equal(t, int32(3), sent[0].msg.Headers[HeaderRetryCount])
	assert.Equal(t, "1", sent[0].msg.Headers[HeaderOrderID])
	assert.Equal(t, amqp.Persistent, sent[0].msg.DeliveryMode)
	assert.Equal(t, "msg-1", sent[0].msg.MessageId)
	assert.Equal(t, 1, ack.acks)
	assert.Zero(t, ack.nacks)
}

func TestHandleMessageDefersNotReadyWithoutSpendingRetries(t *testing.T) {
	c := newTestConsumer(5)
	ack := &fakeAcknowledger{}
	var sent []republished

	c.handleMessage(context.Background(), newDelivery(ack, 5), func(ctx context.Context, d Delivery) error {
		return NotReady(errors.New("order 1 is PENDING, not ready for SHIPPED"))
	}, func(queue string, msg amqp.Publishing) error {
		sent = append(sent, republished{queue, msg})
		return nil
	})

	require.Len(t, sent, 1)
	assert.Equal(t, "payment-service-queue", sent[0].queue)
	assert.Equal(t, int32(5), sent[0].msg.Headers[HeaderRetryCount])
	assert.Equal(t, 1, ack.acks)
	assert.Zero(t, ack.nacks)
}

func TestNotReadyNil(t *testing.T) {
	assert.NoError(t, NotReady(nil))
	assert.False(t, IsNotReady(errors.New("plain")))
	assert.False(t, IsPermanent(NotReady(errors.New("later"))))
}

func TestHandleMessageRequeuesWhenRetryPublishFails(t *testing.T) {
	c := newTestConsumer(5)
	ack := &fakeAcknowledger{}

	c.handleMessage(context.Background(), newDelivery(ack, 0), func(ctx context.Context, d Delivery) error {
		return errors.New("timeout")
	}, func(string, amqp.Publishing) error {
		return ErrNotConnected
	})

	assert.Zero(t, ack.acks)
	assert.Equal(t, 1, ack.nacks)
	assert.True(t, ack.requeued)
}

func TestHandleMessageDeadLettersAtRetryCap(t *testing.T) {
	c := newTestConsumer(3)
	ack := &fakeAcknowledger{}

	c.handleMessage(context.Background(), newDelivery(ack, 3), func(ctx context.Context, d Delivery) error {
		return errors.New("still failing")
	}, nil)

	assert.Equal(t, 1, ack.nacks)
	assert.False(t, ack.requeued)
}

func TestHandleMessageRequeuesWithoutCap(t *testing.T) {
	c := newTestConsumer(0)
	ack := &fakeAcknowledger{}

	c.handleMessage(context.Background(), newDelivery(ack, 100), func(ctx context.Context, d Delivery) error {
		return errors.New("still failing")
	}, nil)

	assert.Equal(t, 1, ack.nacks)
	assert.True(t, ack.requeued)
}

func TestHandleMessageRecoversPanics(t *testing.T) {
	c := newTestConsumer(0)
	ack := &fakeAcknowledger{}

	assert.NotPanics(t, func() {
		c.handleMessage(context.Background(), newDelivery(ack, 0), func(ctx context.Context, d Delivery) error {
			panic("boom")
		}, nil)
	})
	assert.Equal(t, 1, ack.nacks)
	assert.True(t, ack.requeued)
}

func TestHeaderIntAcceptsBrokerIntegerTypes(t *testing.T) {
	headers := amqp.Table{"a": int32(3), "b": int64(4), "c": "5", "d": int16(6), "e": 1.5}
	assert.Equal(t, 3, headerInt(headers, "a"))
	assert.Equal(t, 4, headerInt(headers, "b"))
	assert.Equal(t, 5, headerInt(headers, "c"))
	assert.Equal(t, 6, headerInt(headers, "d"))
	assert.Equal(t, 0, headerInt(headers, "e"))
	assert.Equal(t, 0, headerInt(headers, "missing"))
}

func TestConsumerConfigDefaults(t *testing.T) {
	cfg := ConsumerConfig{Queue: "q", Concurrency: 4, Prefetch: 1, MaxRetries: -1}.withDefaults()
	assert.Equal(t, "q", cfg.Name)
	assert.Equal(t, 4, cfg.Prefetch)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, "q.dlq", cfg.DeadLetterQueue())
}

func TestNewConsumerConfigReadsEnvironment(t *testing.T) {
	t.Setenv("WORKER_PREFETCH", "10")
	t.Setenv("WORKER_CONCURRENCY", "3")
	t.Setenv("WORKER_MAX_RETRIES", "0")
	t.Setenv("WORKER_RETRY_DELAY", "250ms")

	cfg := NewConsumerConfig("shipping-service-queue", "", events.FulfillmentRequestedKey)
	assert.Equal(t, 10, cfg.Prefetch)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, []string{events.FulfillmentRequestedKey}, cfg.RoutingKeys)
}

func TestConnectionURL(t *testing.T) {
	cfg := &RabbitMQConfig{Host: "mq", Port: 5672, Username: "u", Password: "p", VHost: "saga"}
	assert.Equal(t, "amqp://u:p@mq:5672/saga", cfg.ConnectionURL())

	cfg.VHost = "/"
	assert.Equal(t, "amqp://u:p@mq:5672/", cfg.ConnectionURL())
}
