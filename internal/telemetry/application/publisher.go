package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"smarthub-telemetry/internal/observability/metrics"
	telemetry "smarthub-telemetry/internal/telemetry/domain"
)

// SnapshotPublisher emits hub snapshots.
type SnapshotPublisher interface {
	PublishSnapshot(ctx context.Context, snapshot telemetry.HubSnapshot) error
}

// Sink is a named snapshot publisher.
type Sink struct {
	Name      string
	Publisher SnapshotPublisher
}

// MultiPublisher publishes to a primary sink and best-effort mirrors. Only
// a primary failure is returned; mirror failures are logged.
type MultiPublisher struct {
	primary Sink
	mirrors []Sink
	logger  *slog.Logger
}

// NewMultiPublisher constructs a fan-out publisher.
func NewMultiPublisher(logger *slog.Logger, primary Sink, mirrors ...Sink) (*MultiPublisher, error) {
	if primary.Publisher == nil {
		return nil, errors.New("telemetry: nil primary publisher")
	}
	for _, m := range mirrors {
		if m.Publisher == nil {
			return nil, fmt.Errorf("telemetry: nil mirror publisher %q", m.Name)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiPublisher{primary: primary, mirrors: mirrors, logger: logger}, nil
}

// PublishSnapshot publishes to the primary sink, then to every mirror.
func (p *MultiPublisher) PublishSnapshot(ctx context.Context, snapshot telemetry.HubSnapshot) error {
	err := p.primary.Publisher.PublishSnapshot(ctx, snapshot)
	metrics.IncSnapshotPublish(p.primary.Name, err)
	if err != nil {
		return fmt.Errorf("telemetry: publish snapshot hub=%s to %s: %w", snapshot.HubID, p.primary.Name, err)
	}
	for _, m := range p.mirrors {
		merr := m.Publisher.PublishSnapshot(ctx, snapshot)
		metrics.IncSnapshotPublish(m.Name, merr)
		if merr != nil {
			p.logger.WarnContext(ctx, "snapshot mirror failed", "sink", m.Name, "hub_id", snapshot.HubID, "err", merr)
		}
	}
	return nil
}

// Ingestor applies sensor events to the aggregator and publishes every
// changed snapshot.
type Ingestor struct {
	aggregator *Aggregator
	publisher  SnapshotPublisher
}

// NewIngestor constructs an ingestor.
func NewIngestor(aggregator *Aggregator, publisher SnapshotPublisher) (*Ingestor, error) {
	if aggregator == nil {
		return nil, errors.New("telemetry: nil aggregator")
	}
	if publisher == nil {
		return nil, errors.New("telemetry: nil publisher")
	}
	return &Ingestor{aggregator: aggregator, publisher: publisher}, nil
}

// HandleEvent validates and applies event. A rejected stale or duplicate
// event is not an error.
func (i *Ingestor) HandleEvent(ctx context.Context, event telemetry.SensorEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	snapshot, changed := i.aggregator.UpdateState(event)
	if !changed {
		return nil
	}
	return i.publisher.PublishSnapshot(ctx, snapshot)
}
