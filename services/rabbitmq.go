package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"docconvert/config"
	"docconvert/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const QueueTypeQuorum = "quorum"

// RabbitMQTopology names the primary and dead-letter exchange/queue/routing
// key triples.
type RabbitMQTopology struct {
	Exchange             string
	Queue                string
	RoutingKey           string
	DeadLetterExchange   string
	DeadLetterQueue      string
	DeadLetterRoutingKey string
	QueueType            string
	DeliveryLimit        int
}

func TopologyFromConfig(cfg *config.Config) RabbitMQTopology {
	return RabbitMQTopology{
		Exchange:             cfg.Exchange,
		Queue:                cfg.Queue,
		RoutingKey:           cfg.RoutingKey,
		DeadLetterExchange:   cfg.DeadLetterExchange(),
		DeadLetterQueue:      cfg.DeadLetterQueue(),
		DeadLetterRoutingKey: cfg.DeadLetterRoutingKey(),
		QueueType:            cfg.QueueType,
		DeliveryLimit:        cfg.MaxDeliveries,
	}
}

// QueueArgs are the primary queue's dead-letter attributes. Quorum queues
// also carry the broker-enforced delivery limit.
func (t RabbitMQTopology) QueueArgs() amqp.Table {
	args := amqp.Table{
		"x-dead-letter-exchange":    t.DeadLetterExchange,
		"x-dead-letter-routing-key": t.DeadLetterRoutingKey,
	}
	if t.QueueType == QueueTypeQuorum {
		args["x-queue-type"] = QueueTypeQuorum
		args["x-delivery-limit"] = int64(t.DeliveryLimit)
	}
	return args
}

type topologyDeclarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// DeclareTopology declares the dead-letter side first so the primary queue's
// dead-letter target always exists.
func DeclareTopology(ch topologyDeclarer, t RabbitMQTopology) error {
	if err := ch.ExchangeDeclare(t.DeadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.DeadLetterExchange, err)
	}
	if _, err := ch.QueueDeclare(t.DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.DeadLetterQueue, err)
	}
	if err := ch.QueueBind(t.DeadLetterQueue, t.DeadLetterRoutingKey, t.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", t.DeadLetterQueue, err)
	}

	if err := ch.ExchangeDeclare(t.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.Exchange, err)
	}
	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, t.QueueArgs()); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.Queue, err)
	}
	if err := ch.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", t.Queue, err)
	}
	return nil
}

// amqpConnection is the part of *amqp.Connection the broker depends on.
type amqpConnection interface {
	Channel() (*amqp.Channel, error)
	IsClosed() bool
	Close() error
}

var errBrokerClosed = errors.New("rabbitmq broker is closed")

// RabbitMQBroker publishes conversion tasks with publisher confirms and
// consumes them with manual acknowledgements. Failed deliveries go back to
// the broker, which dead-letters them once its retry policy is exhausted.
// A lost connection is redialed on the next Publish or Consume.
type RabbitMQBroker struct {
	url            string
	dial           func(url string) (amqpConnection, error)
	mu             sync.Mutex
	conn           amqpConnection
	publishCh      *amqp.Channel
	closed         bool
	topology       RabbitMQTopology
	concurrency    int
	publishTimeout time.Duration
	logger         logrus.FieldLogger
}

func NewRabbitMQBroker(url string, topology RabbitMQTopology, concurrency int, publishTimeout time.Duration, logger logrus.FieldLogger) (*RabbitMQBroker, error) {
	b := &RabbitMQBroker{
		url:            url,
		dial:           dialAMQP,
		topology:       topology,
		concurrency:    concurrency,
		publishTimeout: publishTimeout,
		logger:         logger.WithField("queue", topology.Queue),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureConnected(); err != nil {
		if b.conn != nil {
			_ = b.conn.Close()
		}
		return nil, err
	}
	return b, nil
}

func dialAMQP(url string) (amqpConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ensureConnected redials a closed connection and reopens the publish
// channel, redeclaring the topology on it. Callers hold b.mu.
func (b *RabbitMQBroker) ensureConnected() error {
	if b.closed {
		return errBrokerClosed
	}
	if b.conn == nil || b.conn.IsClosed() {
		if b.conn != nil {
			b.logger.Warn("RabbitMQ connection lost, reconnecting")
		}
		conn, err := b.dial(b.url)
		if err != nil {
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		b.conn = conn
		b.publishCh = nil
	}
	if b.publishCh != nil && !b.publishCh.IsClosed() {
		return nil
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := DeclareTopology(ch, b.topology); err != nil {
		ch.Close()
		return err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	b.publishCh = ch
	return nil
}

func (b *RabbitMQBroker) Publish(ctx context.Context, task models.ConversionTask) error {
	body, err := task.Marshal()
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureConnected(); err != nil {
		return &models.StorageError{Op: "publish conversion task", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, b.publishTimeout)
	defer cancel()

	confirm, err := b.publishCh.PublishWithDeferredConfirmWithContext(
		ctx,
		b.topology.Exchange,
		b.topology.RoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    task.DocumentID.String(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return &models.StorageError{Op: "publish conversion task", Err: err}
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return &models.StorageError{Op: "publish conversion task", Err: err}
	}
	if !acked {
		return &models.StorageError{Op: "publish conversion task", Err: errors.New("broker nacked the message")}
	}
	return nil
}

func (b *RabbitMQBroker) Consume(ctx context.Context, handler TaskHandler) error {
	b.mu.Lock()
	err := b.ensureConnected()
	conn := b.conn
	b.mu.Unlock()
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(b.concurrency, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(b.topology.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", b.topology.Queue, err)
	}

	b.logger.WithField("concurrency", b.concurrency).Info("Consuming conversion tasks")
	return b.dispatch(ctx, deliveries, handler)
}

// dispatch hands each delivery to its own goroutine, bounded by the
// semaphore. Handlers run detached from ctx so a shutdown lets in-flight
// conversions finish.
func (b *RabbitMQBroker) dispatch(ctx context.Context, deliveries <-chan amqp.Delivery, handler TaskHandler) error {
	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup
	handlerCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case d, ok := <-deliveries:
			if !ok {
				wg.Wait()
				return errors.New("delivery channel closed")
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				_ = d.Nack(false, true)
				wg.Wait()
				return nil
			}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer func() {
					sem.Release(1)
					wg.Done()
				}()
				b.handleDelivery(handlerCtx, d, handler)
			}(d)
		}
	}
}

func (b *RabbitMQBroker) handleDelivery(ctx context.Context, d amqp.Delivery, handler TaskHandler) {
	task, err := models.UnmarshalTask(d.Body)
	if err != nil {
		b.logger.WithError(err).Error("Rejecting malformed conversion task to dead-letter queue")
		if err := d.Reject(false); err != nil {
			b.logger.WithError(err).Error("Failed to reject delivery")
		}
		return
	}

	log := b.logger.WithField("job_id", task.DocumentID)
	if err := runHandler(ctx, handler, task); err != nil {
		requeue := b.shouldRequeue(d)
		log.WithError(err).WithFields(logrus.Fields{
			"redelivered": d.Redelivered,
			"requeue":     requeue,
		}).Error("Error processing conversion message")
		if err := d.Nack(false, requeue); err != nil {
			log.WithError(err).Error("Failed to nack delivery")
		}
		return
	}

	if err := d.Ack(false); err != nil {
		log.WithError(err).Error("Failed to ack delivery")
	}
}

// Quorum queues count deliveries themselves and dead-letter past the limit.
// Classic queues get one redelivery before the message is dead-lettered.
func (b *RabbitMQBroker) shouldRequeue(d amqp.Delivery) bool {
	if b.topology.QueueType == QueueTypeQuorum {
		return true
	}
	return !d.Redelivered
}

func (b *RabbitMQBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}
	if b.publishCh != nil {
		_ = b.publishCh.Close()
	}
	return b.conn.Close()
}

// runHandler converts a handler panic into an error so the delivery is
// settled instead of killing the consumer.
func runHandler(ctx context.Context, handler TaskHandler, task models.ConversionTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling job %s: %v", task.DocumentID, r)
		}
	}()
	return handler(ctx, task)
}
