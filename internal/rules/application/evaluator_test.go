package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"smarthub-telemetry/internal/actuator"
	telemetry "smarthub-telemetry/internal/telemetry/domain"
	topologyapp "smarthub-telemetry/internal/topology/application"
	topology "smarthub-telemetry/internal/topology/domain"
	"smarthub-telemetry/internal/topology/infrastructure/memory"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type recordingDispatcher struct {
	actions []actuator.DeviceAction
	failFor map[string]error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, action actuator.DeviceAction) error {
	if err := d.failFor[action.SensorID]; err != nil {
		return err
	}
	d.actions = append(d.actions, action)
	return nil
}

type staticScenarios struct {
	scenarios []topology.Scenario
	err       error
}

func (s staticScenarios) ListScenarios(context.Context, string) ([]topology.Scenario, error) {
	return s.scenarios, s.err
}

var evalTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newEvaluator(t *testing.T, reader topology.ScenarioReader, dispatcher actuator.Dispatcher) *Evaluator {
	t.Helper()
	evaluator, err := NewEvaluator(reader, dispatcher, WithClock(fixedClock{now: evalTime}))
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	return evaluator
}

func snapshotOf(hubID string, states map[string]telemetry.SensorPayload) telemetry.HubSnapshot {
	snapshot := telemetry.HubSnapshot{HubID: hubID, Timestamp: evalTime, SensorsState: map[string]telemetry.SensorState{}}
	for id, payload := range states {
		snapshot.SensorsState[id] = telemetry.SensorState{Timestamp: evalTime, Payload: payload}
	}
	return snapshot
}

func turnOnLight() topology.Scenario {
	return topology.Scenario{
		HubID: "H1",
		Name:  "turn_on_light",
		Conditions: []topology.Condition{
			{SensorID: "S1", Type: topology.ConditionMotion, Operator: topology.OperatorEquals, Value: topology.IntPtr(1)},
		},
		Actions: []topology.Action{
			{SensorID: "S2", Type: topology.ActionActivate, Value: topology.IntPtr(100)},
		},
	}
}

func TestTurnOnLightFires(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	evaluator := newEvaluator(t, staticScenarios{scenarios: []topology.Scenario{turnOnLight()}}, dispatcher)

	snapshot := snapshotOf("H1", map[string]telemetry.SensorPayload{"S1": telemetry.MotionPayload{Motion: true}})
	if err := evaluator.OnSnapshot(context.Background(), snapshot); err != nil {
		t.Fatalf("on snapshot: %v", err)
	}
	if len(dispatcher.actions) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(dispatcher.actions))
	}
	got := dispatcher.actions[0]
	want := actuator.DeviceAction{
		HubID:        "H1",
		ScenarioName: "turn_on_light",
		SensorID:     "S2",
		ActionType:   "ACTIVATE",
		Value:        100,
		Timestamp:    evalTime,
	}
	if got != want {
		t.Fatalf("unexpected dispatch %+v", got)
	}
}

func TestTurnOnLightNeedsReportedSensor(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	evaluator := newEvaluator(t, staticScenarios{scenarios: []topology.Scenario{turnOnLight()}}, dispatcher)

	snapshot := snapshotOf("H1", map[string]telemetry.SensorPayload{"S9": telemetry.MotionPayload{Motion: true}})
	if err := evaluator.OnSnapshot(context.Background(), snapshot); err != nil {
		t.Fatalf("on snapshot: %v", err)
	}
	if len(dispatcher.actions) != 0 {
		t.Fatalf("expected no dispatch, got %+v", dispatcher.actions)
	}
}

func TestMatchCondition(t *testing.T) {
	cases := []struct {
		name     string
		operator topology.Operator
		value    *int
		payload  telemetry.SensorPayload
		want     bool
	}{
		{"motion equals", topology.OperatorEquals, topology.IntPtr(1), telemetry.MotionPayload{Motion: true}, true},
		{"motion idle", topology.OperatorEquals, topology.IntPtr(1), telemetry.MotionPayload{Motion: false}, false},
		{"motion wrong operator", topology.OperatorGreaterThan, topology.IntPtr(0), telemetry.MotionPayload{Motion: true}, false},
		{"switch off equals zero", topology.OperatorEquals, topology.IntPtr(0), telemetry.SwitchPayload{State: false}, true},
		{"switch wrong operator", topology.OperatorLowerThan, topology.IntPtr(1), telemetry.SwitchPayload{State: false}, false},
		{"temperature above", topology.OperatorGreaterThan, topology.IntPtr(20), telemetry.TemperaturePayload{TemperatureC: 25, TemperatureF: 77}, true},
		{"temperature equal not above", topology.OperatorGreaterThan, topology.IntPtr(25), telemetry.TemperaturePayload{TemperatureC: 25}, false},
		{"climate celsius below", topology.OperatorLowerThan, topology.IntPtr(18), telemetry.ClimatePayload{TemperatureC: 16, CO2Level: 900}, true},
		{"light equals", topology.OperatorEquals, topology.IntPtr(300), telemetry.LightPayload{Luminosity: 300}, true},
		{"light below", topology.OperatorLowerThan, topology.IntPtr(40), telemetry.LightPayload{Luminosity: 55}, false},
		{"absent value", topology.OperatorEquals, nil, telemetry.LightPayload{Luminosity: 0}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			condition := topology.Condition{SensorID: "S1", Operator: tc.operator, Value: tc.value}
			got, known := matchCondition(condition, tc.payload)
			if !known {
				t.Fatalf("payload %T not recognized", tc.payload)
			}
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}

	if _, known := matchCondition(topology.Condition{Operator: topology.OperatorEquals, Value: topology.IntPtr(1)}, nil); known {
		t.Fatalf("expected nil payload to be unrecognized")
	}
}

func TestConditionsAreANDed(t *testing.T) {
	scenario := turnOnLight()
	scenario.Conditions = append(scenario.Conditions, topology.Condition{
		SensorID: "S3", Type: topology.ConditionLuminosity, Operator: topology.OperatorLowerThan, Value: topology.IntPtr(40),
	})
	dispatcher := &recordingDispatcher{}
	evaluator := newEvaluator(t, staticScenarios{scenarios: []topology.Scenario{scenario}}, dispatcher)

	bright := snapshotOf("H1", map[string]telemetry.SensorPayload{
		"S1": telemetry.MotionPayload{Motion: true},
		"S3": telemetry.LightPayload{Luminosity: 80},
	})
	_ = evaluator.OnSnapshot(context.Background(), bright)
	if len(dispatcher.actions) != 0 {
		t.Fatalf("expected no dispatch while bright")
	}

	dark := snapshotOf("H1", map[string]telemetry.SensorPayload{
		"S1": telemetry.MotionPayload{Motion: true},
		"S3": telemetry.LightPayload{Luminosity: 10},
	})
	_ = evaluator.OnSnapshot(context.Background(), dark)
	if len(dispatcher.actions) != 1 {
		t.Fatalf("expected one dispatch when dark, got %d", len(dispatcher.actions))
	}
}

func TestEmptyConditionsNeverFire(t *testing.T) {
	scenario := turnOnLight()
	scenario.Conditions = nil
	dispatcher := &recordingDispatcher{}
	evaluator := newEvaluator(t, staticScenarios{scenarios: []topology.Scenario{scenario}}, dispatcher)

	_ = evaluator.OnSnapshot(context.Background(), snapshotOf("H1", map[string]telemetry.SensorPayload{"S1": telemetry.MotionPayload{Motion: true}}))
	if len(dispatcher.actions) != 0 {
		t.Fatalf("expected no dispatch for scenario without conditions")
	}
}

func TestDispatchFailureDoesNotStopEvaluation(t *testing.T) {
	first := turnOnLight()
	first.Actions = []topology.Action{
		{SensorID: "S2", Type: topology.ActionActivate, Value: topology.IntPtr(100)},
		{SensorID: "S4", Type: topology.ActionDeactivate},
	}
	second := turnOnLight()
	second.Name = "alarm"
	second.Actions = []topology.Action{{SensorID: "S5", Type: topology.ActionInverse}}

	dispatcher := &recordingDispatcher{failFor: map[string]error{"S2": errors.New("actuator down")}}
	evaluator := newEvaluator(t, staticScenarios{scenarios: []topology.Scenario{first, second}}, dispatcher)

	err := evaluator.OnSnapshot(context.Background(), snapshotOf("H1", map[string]telemetry.SensorPayload{"S1": telemetry.MotionPayload{Motion: true}}))
	if err != nil {
		t.Fatalf("on snapshot: %v", err)
	}
	if len(dispatcher.actions) != 2 {
		t.Fatalf("expected the remaining two dispatches, got %+v", dispatcher.actions)
	}
	if dispatcher.actions[0].SensorID != "S4" || dispatcher.actions[0].Value != 0 {
		t.Fatalf("expected S4 with default value 0, got %+v", dispatcher.actions[0])
	}
	if dispatcher.actions[1].ScenarioName != "alarm" {
		t.Fatalf("expected second scenario to fire, got %+v", dispatcher.actions[1])
	}
}

func TestListErrorIsReturned(t *testing.T) {
	evaluator := newEvaluator(t, staticScenarios{err: errors.New("db down")}, &recordingDispatcher{})
	if err := evaluator.OnSnapshot(context.Background(), snapshotOf("H1", nil)); err == nil {
		t.Fatalf("expected list error")
	}
}

func TestReevaluationAfterCascade(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	registry, err := topologyapp.NewRegistry(store, nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	events := []topology.HubEventPayload{
		topology.DeviceAdded{SensorID: "S1"},
		topology.DeviceAdded{SensorID: "S2"},
		topology.DeviceAdded{SensorID: "S3"},
		topology.ScenarioAdded{
			Name:       "by_motion",
			Conditions: []topology.ConditionSpec{{SensorID: "S1", Type: topology.ConditionMotion, Operator: topology.OperatorEquals, Value: true}},
			Actions:    []topology.ActionSpec{{SensorID: "S2", Type: topology.ActionActivate, Value: topology.IntPtr(100)}},
		},
		topology.ScenarioAdded{
			Name:       "by_light",
			Conditions: []topology.ConditionSpec{{SensorID: "S3", Type: topology.ConditionLuminosity, Operator: topology.OperatorLowerThan, Value: 40}},
			Actions: []topology.ActionSpec{
				{SensorID: "S1", Type: topology.ActionActivate},
				{SensorID: "S2", Type: topology.ActionSetValue, Value: topology.IntPtr(60)},
			},
		},
	}
	for _, payload := range events {
		if err := registry.ApplyHubEvent(ctx, topology.HubEvent{HubID: "H1", Payload: payload}); err != nil {
			t.Fatalf("apply %s: %v", payload.Kind(), err)
		}
	}

	snapshot := snapshotOf("H1", map[string]telemetry.SensorPayload{
		"S1": telemetry.MotionPayload{Motion: true},
		"S3": telemetry.LightPayload{Luminosity: 10},
	})
	dispatcher := &recordingDispatcher{}
	evaluator := newEvaluator(t, store, dispatcher)
	if err := evaluator.OnSnapshot(ctx, snapshot); err != nil {
		t.Fatalf("on snapshot: %v", err)
	}
	if len(dispatcher.actions) != 3 {
		t.Fatalf("expected three dispatches before removal, got %d", len(dispatcher.actions))
	}

	if err := registry.ApplyHubEvent(ctx, topology.HubEvent{HubID: "H1", Payload: topology.DeviceRemoved{SensorID: "S1"}}); err != nil {
		t.Fatalf("remove S1: %v", err)
	}
	dispatcher.actions = nil
	if err := evaluator.OnSnapshot(ctx, snapshot); err != nil {
		t.Fatalf("on snapshot: %v", err)
	}
	if len(dispatcher.actions) != 1 {
		t.Fatalf("expected only by_light to fire with one action, got %+v", dispatcher.actions)
	}
	if got := dispatcher.actions[0]; got.ScenarioName != "by_light" || got.SensorID != "S2" || got.Value != 60 {
		t.Fatalf("unexpected dispatch %+v", got)
	}
}
