package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artbay/market-bridge/internal/blockchain"
	"github.com/artbay/market-bridge/internal/config"
	"github.com/artbay/market-bridge/internal/notifier"
)

type fakeAcknowledger struct {
	acks    int
	nacks   int
	requeue bool
}

func (f *fakeAcknowledger) Ack(_ uint64, _ bool) error { f.acks++; return nil }
func (f *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	f.nacks++
	f.requeue = requeue
	return nil
}
func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacks++
	f.requeue = requeue
	return nil
}

type published struct {
	queue   string
	body    []byte
	headers amqp.Table
}

type fakePublisher struct {
	published []published
	err       error
}

func (f *fakePublisher) PublishRaw(_ context.Context, queueName string, body []byte, headers amqp.Table) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, published{queue: queueName, body: body, headers: headers})
	return nil
}

type fakeDispatcher struct {
	err   error
	mints []MintCommand
}

func (f *fakeDispatcher) ExecuteMint(_ context.Context, cmd MintCommand) error {
	f.mints = append(f.mints, cmd)
	return f.err
}
func (f *fakeDispatcher) ExecuteTransfer(_ context.Context, _ TransferCommand) error { return f.err }
func (f *fakeDispatcher) ExecuteTransferMint(_ context.Context, _ TransferMintCommand) error {
	return f.err
}
func (f *fakeDispatcher) ExecuteBurn(_ context.Context, _ BurnCommand) error { return f.err }

type fakeResultNotifier struct {
	mu   sync.Mutex
	sent map[string][]notifier.Payload
}

func (f *fakeResultNotifier) Notify(wallet string, p notifier.Payload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = make(map[string][]notifier.Payload)
	}
	f.sent[wallet] = append(f.sent[wallet], p)
}

func testQueueConfig() config.RabbitMQConfig {
	return config.RabbitMQConfig{
		Host:           "localhost",
		Port:           5672,
		QueuePrefix:    "market-bridge",
		PrefetchCount:  4,
		MaxRetries:     3,
		DrainBatchSize: 10,
	}
}

func newTestConsumer(dispatcher Dispatcher, pub publisher, n ResultNotifier) *Consumer {
	return &Consumer{
		pub:        pub,
		cfg:        testQueueConfig(),
		dispatcher: dispatcher,
		notifier:   n,
		stopChan:   make(chan struct{}),
	}
}

const mintBody = `{"mint_id":7,"asset_no":5,"product_no":1,"owner_address":"0x1111111111111111111111111111111111111111","owner_key":"env:OWNER_KEY"}`

func TestHandleAcksAfterTerminalState(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	pub := &fakePublisher{}
	ack := &fakeAcknowledger{}

	c := newTestConsumer(dispatcher, pub, &fakeResultNotifier{})
	c.handle(context.Background(), CommandMint, amqp.Delivery{
		Acknowledger: ack,
		Body:         []byte(mintBody),
	})

	assert.Equal(t, 1, ack.acks)
	assert.Zero(t, ack.nacks)
	assert.Empty(t, pub.published)
	require.Len(t, dispatcher.mints, 1)
	assert.Equal(t, int64(7), dispatcher.mints[0].MintID)
}

func TestHandleRetriableRepublishesWithIncrementedCount(t *testing.T) {
	dispatcher := &fakeDispatcher{err: fmt.Errorf("mint 7: %w", blockchain.ErrUnreachable)}
	pub := &fakePublisher{}
	ack := &fakeAcknowledger{}

	c := newTestConsumer(dispatcher, pub, &fakeResultNotifier{})
	c.handle(context.Background(), CommandMint, amqp.Delivery{
		Acknowledger: ack,
		Body:         []byte(mintBody),
	})

	// Republished with retry 1, original acked so it is not redelivered.
	require.Len(t, pub.published, 1)
	assert.Equal(t, "market-bridge.mint", pub.published[0].queue)
	assert.Equal(t, int32(1), pub.published[0].headers[retryCountHeader])
	assert.Equal(t, []byte(mintBody), pub.published[0].body)
	assert.Equal(t, 1, ack.acks)
	assert.Zero(t, ack.nacks)
}

func TestHandleRetryBudgetExhaustedDeadLetters(t *testing.T) {
	dispatcher := &fakeDispatcher{err: fmt.Errorf("mint 7: %w", blockchain.ErrUnreachable)}
	pub := &fakePublisher{}
	ack := &fakeAcknowledger{}
	n := &fakeResultNotifier{}

	c := newTestConsumer(dispatcher, pub, n)
	c.handle(context.Background(), CommandMint, amqp.Delivery{
		Acknowledger: ack,
		Body:         []byte(mintBody),
		Headers:      amqp.Table{retryCountHeader: int32(3)},
	})

	assert.Empty(t, pub.published)
	assert.Zero(t, ack.acks)
	assert.Equal(t, 1, ack.nacks)
	assert.False(t, ack.requeue, "rejected deliveries route to the DLQ at broker level")

	payloads := n.sent["0x1111111111111111111111111111111111111111"]
	require.Len(t, payloads, 1)
	assert.Equal(t, notifier.StatusFailed, payloads[0].Status)
	assert.Equal(t, "Mint", payloads[0].Type)
}

func TestHandleMalformedPayloadDeadLettersImmediately(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	pub := &fakePublisher{}
	ack := &fakeAcknowledger{}

	c := newTestConsumer(dispatcher, pub, &fakeResultNotifier{})
	c.handle(context.Background(), CommandMint, amqp.Delivery{
		Acknowledger: ack,
		Body:         []byte(`{"mint_id":`),
	})

	assert.Empty(t, dispatcher.mints)
	assert.Empty(t, pub.published)
	assert.Equal(t, 1, ack.nacks)
	assert.False(t, ack.requeue)
}

func TestHandleNonRetriableFailureDeadLettersAndNotifies(t *testing.T) {
	dispatcher := &fakeDispatcher{err: fmt.Errorf("mint 7 ledger update: connection reset")}
	pub := &fakePublisher{}
	ack := &fakeAcknowledger{}
	n := &fakeResultNotifier{}

	c := newTestConsumer(dispatcher, pub, n)
	c.handle(context.Background(), CommandMint, amqp.Delivery{
		Acknowledger: ack,
		Body:         []byte(mintBody),
	})

	assert.Empty(t, pub.published)
	assert.Equal(t, 1, ack.nacks)
	assert.False(t, ack.requeue)
	require.Len(t, n.sent["0x1111111111111111111111111111111111111111"], 1)
}

func TestRetryCountHeaderTypes(t *testing.T) {
	assert.Equal(t, 0, retryCount(nil))
	assert.Equal(t, 0, retryCount(amqp.Table{}))
	assert.Equal(t, 2, retryCount(amqp.Table{retryCountHeader: int32(2)}))
	assert.Equal(t, 5, retryCount(amqp.Table{retryCountHeader: int64(5)}))
	assert.Equal(t, 0, retryCount(amqp.Table{retryCountHeader: "2"}))
}
