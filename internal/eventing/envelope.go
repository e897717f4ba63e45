package eventing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	telemetry "smarthub-telemetry/internal/telemetry/domain"
	topology "smarthub-telemetry/internal/topology/domain"
)

// ErrDecode marks a message that cannot be decoded. Consumers skip such
// messages instead of retrying them.
var ErrDecode = errors.New("eventing: decode")

// SensorEnvelope is the wire form of a measurement event.
type SensorEnvelope struct {
	HubID     string          `json:"hub_id"`
	SensorID  string          `json:"sensor_id"`
	Timestamp time.Time       `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// HubEnvelope is the wire form of a hub topology event.
type HubEnvelope struct {
	HubID     string          `json:"hub_id"`
	Timestamp time.Time       `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// SnapshotEnvelope is the wire form of a hub snapshot.
type SnapshotEnvelope struct {
	HubID        string                   `json:"hub_id"`
	Timestamp    time.Time                `json:"timestamp"`
	SensorsState map[string]StateEnvelope `json:"sensors_state"`
}

// StateEnvelope is the wire form of a single sensor state.
type StateEnvelope struct {
	Timestamp time.Time       `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

func decodeErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDecode, fmt.Sprintf(format, args...))
}

// EncodeSensorEvent serializes a measurement event.
func EncodeSensorEvent(event telemetry.SensorEvent) ([]byte, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(SensorEnvelope{
		HubID:     event.HubID,
		SensorID:  event.SensorID,
		Timestamp: event.Timestamp.UTC(),
		Type:      string(event.Payload.Kind()),
		Payload:   payload,
	})
}

// DecodeSensorEvent parses a measurement event.
func DecodeSensorEvent(data []byte) (telemetry.SensorEvent, error) {
	var env SensorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return telemetry.SensorEvent{}, decodeErr("sensor event: %v", err)
	}
	payload, err := decodeSensorPayload(env.Type, env.Payload)
	if err != nil {
		return telemetry.SensorEvent{}, err
	}
	event := telemetry.SensorEvent{
		HubID:     env.HubID,
		SensorID:  env.SensorID,
		Timestamp: env.Timestamp,
		Payload:   payload,
	}
	if err := event.Validate(); err != nil {
		return telemetry.SensorEvent{}, decodeErr("%v", err)
	}
	return event, nil
}

func decodeSensorPayload(kind string, raw json.RawMessage) (telemetry.SensorPayload, error) {
	if len(raw) == 0 {
		return nil, decodeErr("sensor payload %q: empty", kind)
	}
	var (
		payload telemetry.SensorPayload
		err     error
	)
	switch telemetry.PayloadKind(kind) {
	case telemetry.KindMotion:
		var p telemetry.MotionPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case telemetry.KindTemperature:
		var p telemetry.TemperaturePayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case telemetry.KindClimate:
		var p telemetry.ClimatePayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case telemetry.KindLight:
		var p telemetry.LightPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case telemetry.KindSwitch:
		var p telemetry.SwitchPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	default:
		return nil, decodeErr("unknown sensor payload type %q", kind)
	}
	if err != nil {
		return nil, decodeErr("sensor payload %s: %v", kind, err)
	}
	return payload, nil
}

// EncodeSnapshot serializes a hub snapshot.
func EncodeSnapshot(snapshot telemetry.HubSnapshot) ([]byte, error) {
	if snapshot.HubID == "" {
		return nil, errors.New("eventing: snapshot without hub id")
	}
	env := SnapshotEnvelope{
		HubID:        snapshot.HubID,
		Timestamp:    snapshot.Timestamp.UTC(),
		SensorsState: make(map[string]StateEnvelope, len(snapshot.SensorsState)),
	}
	for id, state := range snapshot.SensorsState {
		if state.Payload == nil {
			return nil, fmt.Errorf("eventing: sensor %s has no payload", id)
		}
		payload, err := json.Marshal(state.Payload)
		if err != nil {
			return nil, err
		}
		env.SensorsState[id] = StateEnvelope{
			Timestamp: state.Timestamp.UTC(),
			Type:      string(state.Payload.Kind()),
			Payload:   payload,
		}
	}
	return json.Marshal(env)
}

// DecodeSnapshot parses a hub snapshot.
func DecodeSnapshot(data []byte) (telemetry.HubSnapshot, error) {
	var env SnapshotEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return telemetry.HubSnapshot{}, decodeErr("snapshot: %v", err)
	}
	if env.HubID == "" {
		return telemetry.HubSnapshot{}, decodeErr("snapshot: empty hub id")
	}
	snapshot := telemetry.HubSnapshot{
		HubID:        env.HubID,
		Timestamp:    env.Timestamp,
		SensorsState: make(map[string]telemetry.SensorState, len(env.SensorsState)),
	}
	for id, state := range env.SensorsState {
		payload, err := decodeSensorPayload(state.Type, state.Payload)
		if err != nil {
			return telemetry.HubSnapshot{}, fmt.Errorf("snapshot sensor %s: %w", id, err)
		}
		snapshot.SensorsState[id] = telemetry.SensorState{Timestamp: state.Timestamp, Payload: payload}
	}
	return snapshot, nil
}

type deviceAddedBody struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

type deviceRemovedBody struct {
	ID string `json:"id"`
}

type conditionBody struct {
	SensorID  string          `json:"sensor_id"`
	Type      string          `json:"type"`
	Operation string          `json:"operation"`
	Value     json.RawMessage `json:"value,omitempty"`
}

type actionBody struct {
	SensorID string `json:"sensor_id"`
	Type     string `json:"type"`
	Value    *int   `json:"value,omitempty"`
}

type scenarioAddedBody struct {
	Name       string          `json:"name"`
	Conditions []conditionBody `json:"conditions"`
	Actions    []actionBody    `json:"actions"`
}

type scenarioRemovedBody struct {
	Name string `json:"name"`
}

// EncodeHubEvent serializes a hub topology event.
func EncodeHubEvent(event topology.HubEvent) ([]byte, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	var body any
	switch p := event.Payload.(type) {
	case topology.DeviceAdded:
		body = deviceAddedBody{ID: p.SensorID, Type: p.DeviceType}
	case topology.DeviceRemoved:
		body = deviceRemovedBody{ID: p.SensorID}
	case topology.ScenarioAdded:
		out := scenarioAddedBody{Name: p.Name}
		for _, c := range p.Conditions {
			cb := conditionBody{SensorID: c.SensorID, Type: string(c.Type), Operation: string(c.Operator)}
			if c.Value != nil {
				raw, err := json.Marshal(c.Value)
				if err != nil {
					return nil, err
				}
				cb.Value = raw
			}
			out.Conditions = append(out.Conditions, cb)
		}
		for _, a := range p.Actions {
			out.Actions = append(out.Actions, actionBody{SensorID: a.SensorID, Type: string(a.Type), Value: a.Value})
		}
		body = out
	case topology.ScenarioRemoved:
		body = scenarioRemovedBody{Name: p.Name}
	default:
		return nil, fmt.Errorf("eventing: unsupported hub event %T", event.Payload)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(HubEnvelope{
		HubID:     event.HubID,
		Timestamp: event.Timestamp.UTC(),
		Type:      string(event.Payload.Kind()),
		Payload:   payload,
	})
}

// DecodeHubEvent parses a hub topology event.
func DecodeHubEvent(data []byte) (topology.HubEvent, error) {
	var env HubEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return topology.HubEvent{}, decodeErr("hub event: %v", err)
	}
	if len(env.Payload) == 0 {
		return topology.HubEvent{}, decodeErr("hub event %q: empty payload", env.Type)
	}
	var (
		payload topology.HubEventPayload
		err     error
	)
	switch topology.EventKind(env.Type) {
	case topology.KindDeviceAdded:
		var body deviceAddedBody
		err = json.Unmarshal(env.Payload, &body)
		payload = topology.DeviceAdded{SensorID: body.ID, DeviceType: body.Type}
	case topology.KindDeviceRemoved:
		var body deviceRemovedBody
		err = json.Unmarshal(env.Payload, &body)
		payload = topology.DeviceRemoved{SensorID: body.ID}
	case topology.KindScenarioAdded:
		payload, err = decodeScenarioAdded(env.Payload)
	case topology.KindScenarioRemoved:
		var body scenarioRemovedBody
		err = json.Unmarshal(env.Payload, &body)
		payload = topology.ScenarioRemoved{Name: body.Name}
	default:
		return topology.HubEvent{}, decodeErr("unknown hub event type %q", env.Type)
	}
	if err != nil {
		if errors.Is(err, ErrDecode) {
			return topology.HubEvent{}, err
		}
		return topology.HubEvent{}, decodeErr("hub event %s: %v", env.Type, err)
	}
	event := topology.HubEvent{HubID: env.HubID, Timestamp: env.Timestamp, Payload: payload}
	if err := event.Validate(); err != nil {
		return topology.HubEvent{}, decodeErr("%v", err)
	}
	return event, nil
}

func decodeScenarioAdded(raw json.RawMessage) (topology.ScenarioAdded, error) {
	var body scenarioAddedBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return topology.ScenarioAdded{}, err
	}
	out := topology.ScenarioAdded{Name: body.Name}
	for _, c := range body.Conditions {
		value, err := conditionValue(c.Value)
		if err != nil {
			return topology.ScenarioAdded{}, decodeErr("condition on %s: %v", c.SensorID, err)
		}
		out.Conditions = append(out.Conditions, topology.ConditionSpec{
			SensorID: c.SensorID,
			Type:     topology.ConditionType(c.Type),
			Operator: topology.Operator(c.Operation),
			Value:    value,
		})
	}
	for _, a := range body.Actions {
		out.Actions = append(out.Actions, topology.ActionSpec{
			SensorID: a.SensorID,
			Type:     topology.ActionType(a.Type),
			Value:    a.Value,
		})
	}
	return out, nil
}

// conditionValue maps a raw condition value to an int, a bool or nil.
func conditionValue(raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var flag bool
	if err := json.Unmarshal(raw, &flag); err == nil {
		return flag, nil
	}
	var number int
	if err := json.Unmarshal(raw, &number); err != nil {
		return nil, fmt.Errorf("value %s is neither int nor bool", string(raw))
	}
	return number, nil
}
