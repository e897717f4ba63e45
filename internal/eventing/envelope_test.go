package eventing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	telemetry "smarthub-telemetry/internal/telemetry/domain"
	topology "smarthub-telemetry/internal/topology/domain"
)

func TestDecodeSensorEvent(t *testing.T) {
	data := []byte(`{"hub_id":"H1","sensor_id":"S1","timestamp":"2024-05-01T10:00:00Z",
		"type":"CLIMATE_SENSOR_EVENT","payload":{"temperature_c":21,"humidity":40,"co2_level":650}}`)

	event, err := DecodeSensorEvent(data)
	require.NoError(t, err)
	assert.Equal(t, "H1", event.HubID)
	assert.Equal(t, "S1", event.SensorID)
	assert.True(t, event.Timestamp.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, telemetry.ClimatePayload{TemperatureC: 21, Humidity: 40, CO2Level: 650}, event.Payload)
}

func TestDecodeSensorEventRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"unknown type":  `{"hub_id":"H1","sensor_id":"S1","timestamp":"2024-05-01T10:00:00Z","type":"RADAR","payload":{}}`,
		"no payload":    `{"hub_id":"H1","sensor_id":"S1","timestamp":"2024-05-01T10:00:00Z","type":"SWITCH_SENSOR_EVENT"}`,
		"no hub":        `{"sensor_id":"S1","timestamp":"2024-05-01T10:00:00Z","type":"SWITCH_SENSOR_EVENT","payload":{"state":true}}`,
		"wrong payload": `{"hub_id":"H1","sensor_id":"S1","timestamp":"2024-05-01T10:00:00Z","type":"SWITCH_SENSOR_EVENT","payload":{"state":"on"}}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeSensorEvent([]byte(data))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestSensorEventRoundTrip(t *testing.T) {
	event := telemetry.SensorEvent{
		HubID:     "H1",
		SensorID:  "S3",
		Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 500, time.UTC),
		Payload:   telemetry.LightPayload{LinkQuality: 80, Luminosity: 310},
	}
	data, err := EncodeSensorEvent(event)
	require.NoError(t, err)

	decoded, err := DecodeSensorEvent(data)
	require.NoError(t, err)
	assert.True(t, decoded.Timestamp.Equal(event.Timestamp))
	assert.Equal(t, event.Payload, decoded.Payload)
}

func TestSnapshotRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 5, 0, time.UTC)
	snapshot := telemetry.HubSnapshot{
		HubID:     "H1",
		Timestamp: ts,
		SensorsState: map[string]telemetry.SensorState{
			"S1": {Timestamp: ts, Payload: telemetry.MotionPayload{LinkQuality: 90, Motion: true, Voltage: 3}},
			"S2": {Timestamp: ts.Add(-time.Second), Payload: telemetry.SwitchPayload{State: false}},
		},
	}
	data, err := EncodeSnapshot(snapshot)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"sensors_state"`)

	decoded, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, "H1", decoded.HubID)
	require.Len(t, decoded.SensorsState, 2)
	assert.Equal(t, snapshot.SensorsState["S1"].Payload, decoded.SensorsState["S1"].Payload)
	assert.Equal(t, snapshot.SensorsState["S2"].Payload, decoded.SensorsState["S2"].Payload)
	assert.True(t, decoded.SensorsState["S2"].Timestamp.Equal(ts.Add(-time.Second)))
}

func TestDecodeSnapshotRejectsUnknownState(t *testing.T) {
	data := []byte(`{"hub_id":"H1","timestamp":"2024-05-01T10:00:00Z","sensors_state":{"S1":{"timestamp":"2024-05-01T10:00:00Z","type":"?","payload":{}}}}`)
	_, err := DecodeSnapshot(data)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecodeScenarioAddedValues(t *testing.T) {
	data := []byte(`{"hub_id":"H1","timestamp":"2024-05-01T10:00:00Z","type":"SCENARIO_ADDED","payload":{
		"name":"turn_on_light",
		"conditions":[
			{"sensor_id":"S1","type":"MOTION","operation":"EQUALS","value":true},
			{"sensor_id":"S3","type":"LUMINOSITY","operation":"LOWER_THAN","value":40},
			{"sensor_id":"S4","type":"SWITCH","operation":"EQUALS"}
		],
		"actions":[{"sensor_id":"S2","type":"ACTIVATE","value":100},{"sensor_id":"S5","type":"DEACTIVATE"}]}}`)

	event, err := DecodeHubEvent(data)
	require.NoError(t, err)
	added, ok := event.Payload.(topology.ScenarioAdded)
	require.True(t, ok, "payload %T", event.Payload)
	assert.Equal(t, "turn_on_light", added.Name)
	require.Len(t, added.Conditions, 3)
	assert.Equal(t, true, added.Conditions[0].Value)
	assert.Equal(t, 40, added.Conditions[1].Value)
	assert.Nil(t, added.Conditions[2].Value)
	assert.Equal(t, topology.OperatorLowerThan, added.Conditions[1].Operator)
	require.Len(t, added.Actions, 2)
	require.NotNil(t, added.Actions[0].Value)
	assert.Equal(t, 100, *added.Actions[0].Value)
	assert.Nil(t, added.Actions[1].Value)
}

func TestDecodeHubEventRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown type":   `{"hub_id":"H1","type":"HUB_RENAMED","payload":{}}`,
		"missing hub":    `{"type":"DEVICE_REMOVED","payload":{"id":"S1"}}`,
		"float value":    `{"hub_id":"H1","type":"SCENARIO_ADDED","payload":{"name":"x","conditions":[{"sensor_id":"S1","value":1.5}]}}`,
		"string value":   `{"hub_id":"H1","type":"SCENARIO_ADDED","payload":{"name":"x","conditions":[{"sensor_id":"S1","value":"on"}]}}`,
		"missing body":   `{"hub_id":"H1","type":"DEVICE_ADDED"}`,
		"malformed body": `{"hub_id":"H1","type":"DEVICE_ADDED","payload":[1]}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeHubEvent([]byte(data))
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestHubEventRoundTrip(t *testing.T) {
	events := []topology.HubEvent{
		{HubID: "H1", Payload: topology.DeviceAdded{SensorID: "S1", DeviceType: "MOTION_SENSOR"}},
		{HubID: "H1", Payload: topology.DeviceRemoved{SensorID: "S1"}},
		{HubID: "H1", Payload: topology.ScenarioRemoved{Name: "turn_on_light"}},
		{HubID: "H1", Payload: topology.ScenarioAdded{
			Name:       "turn_on_light",
			Conditions: []topology.ConditionSpec{{SensorID: "S1", Type: topology.ConditionMotion, Operator: topology.OperatorEquals, Value: 1}},
			Actions:    []topology.ActionSpec{{SensorID: "S2", Type: topology.ActionActivate, Value: topology.IntPtr(100)}},
		}},
	}
	for _, event := range events {
		data, err := EncodeHubEvent(event)
		require.NoError(t, err)
		decoded, err := DecodeHubEvent(data)
		require.NoError(t, err)
		assert.Equal(t, event.Payload, decoded.Payload)
	}
}

func TestSnapshotMsgID(t *testing.T) {
	ts := time.Unix(0, 1714557600123456789)
	assert.Equal(t, "H1:1714557600123456789", SnapshotMsgID("H1", ts))
	assert.Len(t, NewInstanceID(), 16)
}
