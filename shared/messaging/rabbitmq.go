package messaging

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"github.com/zeromicro/go-zero/core/logx"
)

var ErrNotConnected = errors.New("there is no connection to RabbitMQ")

type RabbitMQClient struct {
	config     *RabbitMQConfig
	connection *amqp.Connection
	channel    *amqp.Channel
	mu         sync.RWMutex
	isClosing  bool
}

func NewRabbitMQClient(config *RabbitMQConfig) *RabbitMQClient {
	return &RabbitMQClient{
		config: config,
	}
}

func (r *RabbitMQClient) Config() *RabbitMQConfig {
	return r.config
}

func (r *RabbitMQClient) Connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	attempts := r.config.RetryCount
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if r.isClosing {
			return ErrNotConnected
		}

		r.connection, err = amqp.DialConfig(r.config.ConnectionURL(), amqp.Config{
			Dial: amqp.DefaultDial(r.config.ConnectionTimeout),
		})
		if err != nil {
			logx.Errorf("RabbitMQ connection error (attempt %d/%d): %v", i+1, attempts, err)
			if i < attempts-1 {
				time.Sleep(r.config.RetryDelay)
				continue
			}
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}

		r.channel, err = r.connection.Channel()
		if err != nil {
			r.connection.Close()
			return fmt.Errorf("failed to open RabbitMQ channel: %w", err)
		}

		if err = declareExchanges(r.channel, r.config); err != nil {
			r.channel.Close()
			r.connection.Close()
			return err
		}

		logx.Infof("Successfully connected to RabbitMQ: %s", r.config.Host)

		go r.handleReconnection(r.connection)

		return nil
	}

	return err
}

func declareExchanges(ch *amqp.Channel, config *RabbitMQConfig) error {
	err := ch.ExchangeDeclare(
		config.Exchange, // name
		"topic",         // type
		true,            // durable
		false,           // auto-deleted
		false,           // internal
		false,           // no-wait
		nil,             // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to create exchange %s: %w", config.Exchange, err)
	}

	err = ch.ExchangeDeclare(
		config.DeadLetterExchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to create dead letter exchange %s: %w", config.DeadLetterExchange, err)
	}
	return nil
}

func (r *RabbitMQClient) handleReconnection(conn *amqp.Connection) {
	notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))

	err, ok := <-notifyClose
	if !ok {
		// graceful close
		return
	}

	for {
		r.mu.RLock()
		closing := r.isClosing
		r.mu.RUnlock()
		if closing {
			return
		}

		logx.Errorf("RabbitMQ connection is lost: %v. Trying reconnect...", err)
		time.Sleep(r.config.RetryDelay)
		if reconnectErr := r.Connect(); reconnectErr != nil {
			logx.Errorf("Reconnect error: %v", reconnectErr)
			continue
		}
		return
	}
}

// Channel returns the shared administrative channel.
func (r *RabbitMQClient) Channel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel
}

// NewChannel opens a dedicated channel; consumers and the confirming publisher
// each need their own because QoS and confirm mode are channel scoped.
func (r *RabbitMQClient) NewChannel() (*amqp.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.connection == nil || r.connection.IsClosed() {
		return nil, ErrNotConnected
	}
	return r.connection.Channel()
}

// DeclareWorkQueue declares the durable queue, its dead-letter queue and the
// routing key bindings on the events exchange.
func (r *RabbitMQClient) DeclareWorkQueue(ch *amqp.Channel, cfg ConsumerConfig) error {
	dlq := cfg.DeadLetterQueue()

	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("dead letter queue declare error: %w", err)
	}
	if err := ch.QueueBind(dlq, cfg.Queue, r.config.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("dead letter queue bind error: %w", err)
	}

	queue, err := ch.QueueDeclare(
		cfg.Queue, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		amqp.Table{
			"x-dead-letter-exchange":    r.config.DeadLetterExchange,
			"x-dead-letter-routing-key": cfg.Queue,
		},
	)
	if err != nil {
		return fmt.Errorf("queue declare error: %w", err)
	}

	for _, routingKey := range cfg.RoutingKeys {
		err = ch.QueueBind(
			queue.Name,        // queue name
			routingKey,        // routing key
			r.config.Exchange, // exchange
			false,             // no-wait
			nil,               // arguments
		)
		if err != nil {
			return fmt.Errorf("queue bind error (%s): %w", routingKey, err)
		}
		logx.Infof("Queue %s bound to routing key: %s", queue.Name, routingKey)
	}

	return nil
}

func (r *RabbitMQClient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isClosing {
		return nil
	}

	r.isClosing = true

	var errs []error

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("channel close error: %w", err))
		}
	}

	if r.connection != nil && !r.connection.IsClosed() {
		if err := r.connection.Close(); err != nil {
			errs = append(errs, fmt.Errorf("connection close error: %w", err))
		}
	}

	closeErr := errors.Join(errs...)
	if closeErr != nil {
		logx.Errorf("Failed to close RabbitMQ: %v", closeErr)
	} else {
		logx.Info("RabbitMQ connection closed successfully")
	}

	return closeErr
}

func (r *RabbitMQClient) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.connection != nil && !r.connection.IsClosed()
}
