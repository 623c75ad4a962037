package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"docconvert/config"
	"docconvert/models"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type declaredQueue struct {
	name string
	args amqp.Table
}

type binding struct {
	queue, key, exchange string
}

type fakeDeclarer struct {
	exchanges []string
	queues    []declaredQueue
	bindings  []binding
	failOn    string
}

func (f *fakeDeclarer) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	if name == f.failOn {
		return errors.New("access refused")
	}
	f.exchanges = append(f.exchanges, name)
	return nil
}

func (f *fakeDeclarer) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if name == f.failOn {
		return amqp.Queue{}, errors.New("precondition failed")
	}
	f.queues = append(f.queues, declaredQueue{name: name, args: args})
	return amqp.Queue{Name: name}, nil
}

func (f *fakeDeclarer) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.bindings = append(f.bindings, binding{queue: name, key: key, exchange: exchange})
	return nil
}

func testTopology(queueType string) RabbitMQTopology {
	cfg := config.Load()
	cfg.QueueType = queueType
	return TopologyFromConfig(cfg)
}

func TestDeclareTopology(t *testing.T) {
	topology := testTopology(QueueTypeQuorum)
	declarer := &fakeDeclarer{}

	require.NoError(t, DeclareTopology(declarer, topology))

	assert.Equal(t, []string{"document-conversion-exchange.dlx", "document-conversion-exchange"}, declarer.exchanges)
	require.Len(t, declarer.queues, 2)
	assert.Equal(t, "document-conversion-queue.dlq", declarer.queues[0].name)
	assert.Nil(t, declarer.queues[0].args)

	primary := declarer.queues[1]
	assert.Equal(t, "document-conversion-queue", primary.name)
	assert.Equal(t, "document-conversion-exchange.dlx", primary.args["x-dead-letter-exchange"])
	assert.Equal(t, "document.conversion.dlq", primary.args["x-dead-letter-routing-key"])
	assert.Equal(t, "quorum", primary.args["x-queue-type"])
	assert.Equal(t, int64(3), primary.args["x-delivery-limit"])

	assert.Equal(t, []binding{
		{queue: "document-conversion-queue.dlq", key: "document.conversion.dlq", exchange: "document-conversion-exchange.dlx"},
		{queue: "document-conversion-queue", key: "document.conversion", exchange: "document-conversion-exchange"},
	}, declarer.bindings)
}

func TestDeclareTopology_ClassicQueueHasNoDeliveryLimit(t *testing.T) {
	args := testTopology("classic").QueueArgs()
	_, hasLimit := args["x-delivery-limit"]
	assert.False(t, hasLimit)
	assert.Equal(t, "document-conversion-exchange.dlx", args["x-dead-letter-exchange"])
}

func TestDeclareTopology_Error(t *testing.T) {
	declarer := &fakeDeclarer{failOn: "document-conversion-queue"}
	err := DeclareTopology(declarer, testTopology(QueueTypeQuorum))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declare queue document-conversion-queue")
}

type nackCall struct {
	tag     uint64
	requeue bool
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	acks    []uint64
	nacks   []nackCall
	rejects []nackCall
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacks = append(f.nacks, nackCall{tag: tag, requeue: requeue})
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects = append(f.rejects, nackCall{tag: tag, requeue: requeue})
	return nil
}

func newDelivery(t *testing.T, ack amqp.Acknowledger, tag uint64, body []byte, redelivered bool) amqp.Delivery {
	t.Helper()
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: body, Redelivered: redelivered}
}

func taskBody(t *testing.T, id uuid.UUID) []byte {
	t.Helper()
	body, err := models.ConversionTask{DocumentID: id}.Marshal()
	require.NoError(t, err)
	return body
}

func newTestRabbitBroker(queueType string) *RabbitMQBroker {
	logger, _ := test.NewNullLogger()
	return &RabbitMQBroker{
		topology:    testTopology(queueType),
		concurrency: 2,
		logger:      logger,
	}
}

// runDispatch feeds the deliveries through dispatch and waits until every
// handler goroutine has settled its message.
func runDispatch(t *testing.T, broker *RabbitMQBroker, handler TaskHandler, deliveries ...amqp.Delivery) {
	t.Helper()
	ch := make(chan amqp.Delivery, len(deliveries))
	for _, d := range deliveries {
		ch <- d
	}
	close(ch)

	err := broker.dispatch(context.Background(), ch, handler)
	assert.EqualError(t, err, "delivery channel closed")
}

func TestRabbitMQBroker_Dispatch_AcksSuccess(t *testing.T) {
	ack := &fakeAcknowledger{}
	okID, failID := uuid.New(), uuid.New()

	var mu sync.Mutex
	var seen []uuid.UUID
	handler := func(ctx context.Context, task models.ConversionTask) error {
		mu.Lock()
		seen = append(seen, task.DocumentID)
		mu.Unlock()
		if task.DocumentID == failID {
			return errors.New("record store unavailable")
		}
		return nil
	}

	runDispatch(t, newTestRabbitBroker(QueueTypeQuorum), handler,
		newDelivery(t, ack, 1, taskBody(t, okID), false),
		newDelivery(t, ack, 2, taskBody(t, failID), true),
	)

	assert.ElementsMatch(t, []uuid.UUID{okID, failID}, seen)
	assert.Equal(t, []uint64{1}, ack.acks)
	assert.Equal(t, []nackCall{{tag: 2, requeue: true}}, ack.nacks)
	assert.Empty(t, ack.rejects)
}

func TestRabbitMQBroker_Dispatch_ClassicQueueDeadLettersRedelivery(t *testing.T) {
	ack := &fakeAcknowledger{}
	handler := func(ctx context.Context, task models.ConversionTask) error {
		return errors.New("boom")
	}

	runDispatch(t, newTestRabbitBroker("classic"), handler,
		newDelivery(t, ack, 7, taskBody(t, uuid.New()), true),
	)
	assert.Equal(t, []nackCall{{tag: 7, requeue: false}}, ack.nacks)

	ack = &fakeAcknowledger{}
	runDispatch(t, newTestRabbitBroker("classic"), handler,
		newDelivery(t, ack, 8, taskBody(t, uuid.New()), false),
	)
	assert.Equal(t, []nackCall{{tag: 8, requeue: true}}, ack.nacks)
}

func TestRabbitMQBroker_Dispatch_RejectsMalformedBody(t *testing.T) {
	ack := &fakeAcknowledger{}
	called := false
	handler := func(ctx context.Context, task models.ConversionTask) error {
		called = true
		return nil
	}

	runDispatch(t, newTestRabbitBroker(QueueTypeQuorum), handler,
		newDelivery(t, ack, 3, []byte("{not json"), false),
	)

	assert.False(t, called)
	assert.Equal(t, []nackCall{{tag: 3, requeue: false}}, ack.rejects)
	assert.Empty(t, ack.acks)
}

func TestRabbitMQBroker_Dispatch_RecoversPanics(t *testing.T) {
	ack := &fakeAcknowledger{}
	handler := func(ctx context.Context, task models.ConversionTask) error {
		panic("renderer crashed")
	}

	runDispatch(t, newTestRabbitBroker(QueueTypeQuorum), handler,
		newDelivery(t, ack, 4, taskBody(t, uuid.New()), false),
	)

	assert.Equal(t, []nackCall{{tag: 4, requeue: true}}, ack.nacks)
}

func TestRabbitMQBroker_Dispatch_StopsOnContextCancel(t *testing.T) {
	broker := newTestRabbitBroker(QueueTypeQuorum)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := broker.dispatch(ctx, make(chan amqp.Delivery), func(context.Context, models.ConversionTask) error {
		return nil
	})
	assert.NoError(t, err)
}

type fakeConnection struct {
	closed       bool
	channelCalls int
}

func (f *fakeConnection) Channel() (*amqp.Channel, error) {
	f.channelCalls++
	return nil, amqp.ErrClosed
}

func (f *fakeConnection) IsClosed() bool { return f.closed }

func (f *fakeConnection) Close() error {
	f.closed = true
	return nil
}

func TestRabbitMQBroker_RedialsLostConnection(t *testing.T) {
	dead := &fakeConnection{closed: true}
	broker := newTestRabbitBroker(QueueTypeQuorum)
	broker.conn = dead

	var dials int
	broker.dial = func(url string) (amqpConnection, error) {
		dials++
		return nil, errors.New("connection refused")
	}

	err := broker.Consume(context.Background(), func(context.Context, models.ConversionTask) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 1, dials)
	assert.Zero(t, dead.channelCalls)

	// The broker is reachable again on the next subscription attempt.
	fresh := &fakeConnection{}
	broker.dial = func(url string) (amqpConnection, error) {
		dials++
		return fresh, nil
	}
	err = broker.Consume(context.Background(), func(context.Context, models.ConversionTask) error { return nil })
	require.Error(t, err)
	assert.Equal(t, 2, dials)
	assert.Same(t, fresh, broker.conn)
	assert.Equal(t, 1, fresh.channelCalls)
	assert.Zero(t, dead.channelCalls)
}

func TestRabbitMQBroker_PublishRedialsLostConnection(t *testing.T) {
	broker := newTestRabbitBroker(QueueTypeQuorum)
	broker.conn = &fakeConnection{closed: true}

	var dials int
	broker.dial = func(url string) (amqpConnection, error) {
		dials++
		return nil, errors.New("connection refused")
	}

	err := broker.Publish(context.Background(), models.ConversionTask{DocumentID: uuid.New()})
	require.Error(t, err)
	assert.True(t, models.IsStorageError(err))
	assert.Equal(t, 1, dials)
}

func TestRabbitMQBroker_ClosedBrokerDoesNotRedial(t *testing.T) {
	broker := newTestRabbitBroker(QueueTypeQuorum)
	conn := &fakeConnection{}
	broker.conn = conn
	broker.dial = func(url string) (amqpConnection, error) {
		t.Fatal("closed broker must not redial")
		return nil, nil
	}

	require.NoError(t, broker.Close())
	assert.True(t, conn.closed)

	err := broker.Publish(context.Background(), models.ConversionTask{DocumentID: uuid.New()})
	assert.ErrorIs(t, err, errBrokerClosed)
}
