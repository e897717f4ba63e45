// Package jetstream implements stream loop subscriptions and snapshot
// publishing on NATS JetStream.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	natsjs "github.com/nats-io/nats.go/jetstream"
)

// Connect dials the NATS server and opens a JetStream context.
func Connect(url, name string, timeout time.Duration, logger *slog.Logger) (*nats.Conn, natsjs.JetStream, error) {
	if url == "" {
		return nil, nil, errors.New("jetstream: empty nats url")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("jetstream: connect %s: %w", url, err)
	}
	js, err := natsjs.New(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("jetstream: init: %w", err)
	}
	return conn, js, nil
}

// StreamCreator is the subset of natsjs.JetStream used to declare streams.
type StreamCreator interface {
	CreateOrUpdateStream(ctx context.Context, cfg natsjs.StreamConfig) (natsjs.Stream, error)
}

// EnsureStream declares a file-backed stream capturing subject.>.
func EnsureStream(ctx context.Context, js StreamCreator, name, subject string, maxAge time.Duration) error {
	if js == nil {
		return errors.New("jetstream: nil jetstream")
	}
	if name == "" || subject == "" {
		return errors.New("jetstream: empty stream name or subject")
	}
	_, err := js.CreateOrUpdateStream(ctx, natsjs.StreamConfig{
		Name:       name,
		Subjects:   []string{subject + ".>"},
		Storage:    natsjs.FileStorage,
		Retention:  natsjs.LimitsPolicy,
		MaxAge:     maxAge,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("jetstream: ensure stream %s: %w", name, err)
	}
	return nil
}

// SubjectFor returns the per-hub subject under prefix. Characters that are
// not allowed in a subject token are replaced.
func SubjectFor(prefix, hubID string) string {
	return prefix + "." + subjectToken(hubID)
}

func subjectToken(value string) string {
	if value == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		default:
			return r
		}
	}, value)
}

func keyFromSubject(subject string) string {
	if idx := strings.LastIndexByte(subject, '.'); idx >= 0 {
		return subject[idx+1:]
	}
	return subject
}
