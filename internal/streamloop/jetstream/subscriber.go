package jetstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	natsjs "github.com/nats-io/nats.go/jetstream"

	"smarthub-telemetry/internal/streamloop"
)

const defaultBatch = 100

// ConsumerCreator is the subset of natsjs.JetStream used to bind consumers.
type ConsumerCreator interface {
	CreateOrUpdateConsumer(ctx context.Context, stream string, cfg natsjs.ConsumerConfig) (natsjs.Consumer, error)
}

type fetcher interface {
	Fetch(batch int, opts ...natsjs.FetchOpt) (natsjs.MessageBatch, error)
}

type acker interface {
	Ack() error
	DoubleAck(ctx context.Context) error
}

// Subscriber binds a durable pull consumer. Each stream loop uses its own
// durable name so their positions are independent.
type Subscriber struct {
	js     ConsumerCreator
	stream string
	config natsjs.ConsumerConfig
	batch  int
}

// NewSubscriber constructs a subscriber for durable on stream. filter limits
// the consumer to matching subjects; empty means the whole stream.
func NewSubscriber(js ConsumerCreator, stream, durable, filter string, batch int) (*Subscriber, error) {
	if js == nil {
		return nil, errors.New("jetstream: nil jetstream")
	}
	if stream == "" || durable == "" {
		return nil, errors.New("jetstream: empty stream or durable name")
	}
	if batch <= 0 {
		batch = defaultBatch
	}
	return &Subscriber{
		js:     js,
		stream: stream,
		config: natsjs.ConsumerConfig{
			Durable:       durable,
			FilterSubject: filter,
			AckPolicy:     natsjs.AckAllPolicy,
			DeliverPolicy: natsjs.DeliverAllPolicy,
			AckWait:       30 * time.Second,
		},
		batch: batch,
	}, nil
}

// Subscribe creates or updates the durable consumer.
func (s *Subscriber) Subscribe(ctx context.Context) (streamloop.Subscription, error) {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, s.stream, s.config)
	if err != nil {
		return nil, fmt.Errorf("jetstream: consumer %s on %s: %w", s.config.Durable, s.stream, err)
	}
	return &Subscription{consumer: consumer, batch: s.batch}, nil
}

// Subscription polls a pull consumer. With the AckAll policy acking the last
// message of a batch commits the whole batch.
type Subscription struct {
	consumer fetcher
	batch    int

	mu      sync.Mutex
	pending acker
	acked   acker
	closed  bool
}

// Poll fetches up to one batch, waiting at most maxWait. Cancelling ctx
// returns the messages received so far.
func (s *Subscription) Poll(ctx context.Context, maxWait time.Duration) ([]streamloop.Message, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: subscription closed", streamloop.ErrFatal)
	}

	batch, err := s.consumer.Fetch(s.batch, natsjs.FetchMaxWait(maxWait))
	if err != nil {
		return nil, classify(err)
	}

	var (
		out  []streamloop.Message
		last acker
	)
	msgs := batch.Messages()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case m, ok := <-msgs:
			if !ok {
				break loop
			}
			out = append(out, toMessage(m))
			last = m
		}
	}
	if last != nil {
		s.mu.Lock()
		s.pending = last
		s.mu.Unlock()
	}
	if err := batch.Error(); err != nil && len(out) == 0 && !isTimeout(err) {
		return nil, classify(err)
	}
	return out, nil
}

// Commit acks the last polled message without waiting for the server.
func (s *Subscription) Commit() error {
	s.mu.Lock()
	m := s.pending
	s.pending = nil
	if m != nil {
		s.acked = m
	}
	s.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.Ack()
}

// CommitSync acks the last polled message and waits for the server to
// confirm. A position already acked asynchronously is confirmed again.
func (s *Subscription) CommitSync(ctx context.Context) error {
	s.mu.Lock()
	m := s.pending
	if m == nil {
		m = s.acked
	}
	s.pending = nil
	s.acked = m
	s.mu.Unlock()
	if m == nil {
		return nil
	}
	err := m.DoubleAck(ctx)
	if errors.Is(err, natsjs.ErrMsgAlreadyAckd) {
		return nil
	}
	return err
}

// Close releases the subscription. The durable consumer stays on the server.
func (s *Subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pending = nil
	s.acked = nil
	return nil
}

func toMessage(m natsjs.Msg) streamloop.Message {
	msg := streamloop.Message{
		Subject: m.Subject(),
		Key:     keyFromSubject(m.Subject()),
		Data:    m.Data(),
	}
	if meta, err := m.Metadata(); err == nil && meta != nil {
		msg.Sequence = meta.Sequence.Stream
		msg.Published = meta.Timestamp
	}
	return msg
}

func isTimeout(err error) bool {
	return errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// classify marks errors the loop cannot recover from by retrying.
func classify(err error) error {
	switch {
	case errors.Is(err, natsjs.ErrConsumerDeleted),
		errors.Is(err, natsjs.ErrConsumerNotFound),
		errors.Is(err, natsjs.ErrStreamNotFound),
		errors.Is(err, nats.ErrConnectionClosed):
		return fmt.Errorf("%w: %v", streamloop.ErrFatal, err)
	default:
		return err
	}
}
