// Package streamloop runs the poll, process and commit cycle shared by the
// stream consumers.
package streamloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"smarthub-telemetry/internal/eventing"
	"smarthub-telemetry/internal/observability/metrics"
)

var (
	// ErrDecode marks a message that cannot be decoded. It is skipped.
	ErrDecode = eventing.ErrDecode
	// ErrFatal marks a poll error the loop cannot recover from.
	ErrFatal = errors.New("streamloop: fatal")
)

const (
	DefaultMaxWait       = time.Second
	DefaultCommitTimeout = 3 * time.Second
)

// State is the lifecycle state of a loop.
type State int32

const (
	StateInit State = iota
	StateSubscribed
	StatePolling
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateSubscribed:
		return "SUBSCRIBED"
	case StatePolling:
		return "POLLING"
	case StateDraining:
		return "DRAINING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Message is one record read from a stream.
type Message struct {
	Subject   string
	Key       string
	Data      []byte
	Sequence  uint64
	Published time.Time
}

// Subscription is an open consumer position on a stream.
type Subscription interface {
	// Poll blocks up to maxWait for the next batch.
	Poll(ctx context.Context, maxWait time.Duration) ([]Message, error)
	// Commit requests an advance of the committed position to the last
	// polled message without waiting for the broker.
	Commit() error
	// CommitSync advances the committed position and waits for confirmation.
	CommitSync(ctx context.Context) error
	Close() error
}

// Subscriber opens subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// Handler processes one message.
type Handler func(ctx context.Context, msg Message) error

// Loop drives one subscription.
type Loop struct {
	name          string
	subscriber    Subscriber
	handler       Handler
	maxWait       time.Duration
	backoff       time.Duration
	commitTimeout time.Duration
	logger        *slog.Logger
	state         atomic.Int32
}

// Option customizes a loop.
type Option func(*Loop)

// WithMaxWait bounds a single poll.
func WithMaxWait(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.maxWait = d
		}
	}
}

// WithBackoff sets the pause after a failed poll. It defaults to the poll wait.
func WithBackoff(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.backoff = d
		}
	}
}

// WithCommitTimeout bounds the final synchronous commit.
func WithCommitTimeout(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.commitTimeout = d
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New constructs a loop. name labels logs and metrics.
func New(name string, subscriber Subscriber, handler Handler, opts ...Option) (*Loop, error) {
	if name == "" {
		return nil, errors.New("streamloop: empty name")
	}
	if subscriber == nil {
		return nil, errors.New("streamloop: nil subscriber")
	}
	if handler == nil {
		return nil, errors.New("streamloop: nil handler")
	}
	l := &Loop{
		name:          name,
		subscriber:    subscriber,
		handler:       handler,
		maxWait:       DefaultMaxWait,
		commitTimeout: DefaultCommitTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.backoff <= 0 {
		l.backoff = l.maxWait
	}
	l.logger = l.logger.With("stream", name)
	return l, nil
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

// Run polls until ctx is cancelled or a fatal poll error occurs, then
// commits synchronously and closes the subscription. It returns nil on
// cancellation.
func (l *Loop) Run(ctx context.Context) error {
	l.setState(StateInit)
	sub, err := l.subscriber.Subscribe(ctx)
	if err != nil {
		l.setState(StateClosed)
		return fmt.Errorf("streamloop %s: subscribe: %w", l.name, err)
	}
	l.setState(StateSubscribed)
	l.logger.Info("subscribed")

	runErr := l.poll(ctx, sub)
	l.drain(sub)
	return runErr
}

func (l *Loop) poll(ctx context.Context, sub Subscription) error {
	l.setState(StatePolling)
	// Handlers finish the current batch even after shutdown is requested.
	handleCtx := context.WithoutCancel(ctx)
	for ctx.Err() == nil {
		msgs, err := sub.Poll(ctx, l.maxWait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrFatal) {
				l.logger.Error("poll failed, stopping", "err", err)
				return fmt.Errorf("streamloop %s: %w", l.name, err)
			}
			metrics.IncPollError(l.name)
			l.logger.Warn("poll failed, retrying", "err", err, "backoff", l.backoff)
			if !sleepCtx(ctx, l.backoff) {
				return nil
			}
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		metrics.ObserveBatch(l.name, len(msgs))
		for _, msg := range msgs {
			l.handle(handleCtx, msg)
		}
		if last := msgs[len(msgs)-1]; !last.Published.IsZero() {
			metrics.ObserveConsumerLag(l.name, time.Since(last.Published))
		}
		err = sub.Commit()
		metrics.IncCommit(l.name, "async", err)
		if err != nil {
			l.logger.Warn("commit failed", "err", err)
		}
	}
	return nil
}

func (l *Loop) handle(ctx context.Context, msg Message) {
	err := l.handler(ctx, msg)
	switch {
	case err == nil:
		metrics.IncMessage(l.name, metrics.ResultSuccess)
	case errors.Is(err, ErrDecode):
		metrics.IncMessage(l.name, metrics.ResultSkipped)
		l.logger.Warn("skipping undecodable message", "subject", msg.Subject, "seq", msg.Sequence, "err", err)
	default:
		metrics.IncMessage(l.name, metrics.ResultError)
		l.logger.Error("message handler failed", "subject", msg.Subject, "seq", msg.Sequence, "key", msg.Key, "err", err)
	}
}

func (l *Loop) drain(sub Subscription) {
	l.setState(StateDraining)
	ctx, cancel := context.WithTimeout(context.Background(), l.commitTimeout)
	defer cancel()

	err := sub.CommitSync(ctx)
	metrics.IncCommit(l.name, "sync", err)
	if err != nil {
		l.logger.Warn("final commit failed", "err", err)
	}
	if err := sub.Close(); err != nil {
		l.logger.Warn("close subscription failed", "err", err)
	}
	l.setState(StateClosed)
	l.logger.Info("stream loop closed")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// WaitStopped waits up to timeout for done to close. It reports whether the
// loop stopped in time.
func WaitStopped(done <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
