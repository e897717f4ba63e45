package telemetry

import (
	"errors"
	"time"
)

// SensorEvent is a single measurement reported by a hub sensor.
type SensorEvent struct {
	HubID     string
	SensorID  string
	Timestamp time.Time
	Payload   SensorPayload
}

// Validate rejects structurally incomplete events.
func (e SensorEvent) Validate() error {
	if e.HubID == "" {
		return errors.New("sensor event: empty hub id")
	}
	if e.SensorID == "" {
		return errors.New("sensor event: empty sensor id")
	}
	if e.Payload == nil {
		return errors.New("sensor event: nil payload")
	}
	if e.Timestamp.IsZero() {
		return errors.New("sensor event: zero timestamp")
	}
	return nil
}

// SensorState is the latest applied reading of one sensor.
type SensorState struct {
	Timestamp time.Time
	Payload   SensorPayload
}

// HubSnapshot is the latest known state of every sensor of a hub.
// Emitted snapshots are never mutated; every update produces a new value.
type HubSnapshot struct {
	HubID        string
	Timestamp    time.Time
	SensorsState map[string]SensorState
}

// Clone returns a copy that shares no mutable state with s.
func (s HubSnapshot) Clone() HubSnapshot {
	out := HubSnapshot{
		HubID:        s.HubID,
		Timestamp:    s.Timestamp,
		SensorsState: make(map[string]SensorState, len(s.SensorsState)),
	}
	for id, state := range s.SensorsState {
		out.SensorsState[id] = state
	}
	return out
}

// State returns the stored state for a sensor.
func (s HubSnapshot) State(sensorID string) (SensorState, bool) {
	state, ok := s.SensorsState[sensorID]
	return state, ok
}
