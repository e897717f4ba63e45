package jetstream

import (
	"context"
	"errors"

	natsjs "github.com/nats-io/nats.go/jetstream"

	"smarthub-telemetry/internal/eventing"
	telemetry "smarthub-telemetry/internal/telemetry/domain"
)

// StreamPublisher is the subset of natsjs.JetStream used to publish.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...natsjs.PublishOpt) (*natsjs.PubAck, error)
}

// SnapshotPublisher publishes hub snapshots to {subject}.{hubId}.
type SnapshotPublisher struct {
	js      StreamPublisher
	subject string
}

// NewSnapshotPublisher constructs a publisher under subject.
func NewSnapshotPublisher(js StreamPublisher, subject string) (*SnapshotPublisher, error) {
	if js == nil {
		return nil, errors.New("jetstream: nil jetstream")
	}
	if subject == "" {
		return nil, errors.New("jetstream: empty snapshot subject")
	}
	return &SnapshotPublisher{js: js, subject: subject}, nil
}

// PublishSnapshot publishes and waits for the stream ack. The message id lets
// the server drop a republished snapshot.
func (p *SnapshotPublisher) PublishSnapshot(ctx context.Context, snapshot telemetry.HubSnapshot) error {
	data, err := eventing.EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(ctx, SubjectFor(p.subject, snapshot.HubID), data,
		natsjs.WithMsgID(eventing.SnapshotMsgID(snapshot.HubID, snapshot.Timestamp)))
	return err
}
