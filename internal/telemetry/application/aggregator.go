package application

import (
	"log/slog"

	"smarthub-telemetry/internal/observability/metrics"
	telemetry "smarthub-telemetry/internal/telemetry/domain"
)

// Aggregator merges sensor events into per-hub snapshots.
//
// State lives only in memory and is lost on restart. The aggregator is not
// safe for concurrent use: it is owned by a single stream loop, which
// serializes every update.
type Aggregator struct {
	snapshots map[string]*telemetry.HubSnapshot
	logger    *slog.Logger
}

// NewAggregator constructs an empty aggregator.
func NewAggregator(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		snapshots: make(map[string]*telemetry.HubSnapshot),
		logger:    logger,
	}
}

// UpdateState applies event to its hub snapshot. It returns a frozen copy of
// the updated snapshot and true when the event changed the stored state.
// Events older than the stored reading, and readings equal to it, are dropped.
func (a *Aggregator) UpdateState(event telemetry.SensorEvent) (telemetry.HubSnapshot, bool) {
	snapshot, ok := a.snapshots[event.HubID]
	if !ok {
		a.logger.Debug("creating hub snapshot", "hub_id", event.HubID)
		snapshot = &telemetry.HubSnapshot{
			HubID:        event.HubID,
			Timestamp:    event.Timestamp,
			SensorsState: make(map[string]telemetry.SensorState),
		}
		a.snapshots[event.HubID] = snapshot
	}

	if stored, ok := snapshot.SensorsState[event.SensorID]; ok {
		if event.Timestamp.Before(stored.Timestamp) {
			a.logger.Debug("skipping outdated sensor event",
				"hub_id", event.HubID, "sensor_id", event.SensorID,
				"event_ts", event.Timestamp, "stored_ts", stored.Timestamp)
			metrics.IncSnapshotDrop(metrics.DropStale)
			return telemetry.HubSnapshot{}, false
		}
		if telemetry.PayloadEqual(stored.Payload, event.Payload) {
			a.logger.Debug("sensor reading unchanged", "hub_id", event.HubID, "sensor_id", event.SensorID)
			metrics.IncSnapshotDrop(metrics.DropDuplicate)
			return telemetry.HubSnapshot{}, false
		}
	}

	snapshot.SensorsState[event.SensorID] = telemetry.SensorState{
		Timestamp: event.Timestamp,
		Payload:   event.Payload,
	}
	snapshot.Timestamp = event.Timestamp
	metrics.IncSnapshotUpdate()
	a.logger.Info("snapshot updated", "hub_id", event.HubID, "sensor_id", event.SensorID)
	return snapshot.Clone(), true
}

// Snapshot returns a copy of the current snapshot of a hub.
func (a *Aggregator) Snapshot(hubID string) (telemetry.HubSnapshot, bool) {
	snapshot, ok := a.snapshots[hubID]
	if !ok {
		return telemetry.HubSnapshot{}, false
	}
	return snapshot.Clone(), true
}

// Hubs returns the number of hubs with state.
func (a *Aggregator) Hubs() int {
	return len(a.snapshots)
}
