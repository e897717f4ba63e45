package application

import (
	"context"
	"errors"
	"reflect"
	"testing"

	topology "smarthub-telemetry/internal/topology/domain"
	"smarthub-telemetry/internal/topology/infrastructure/memory"
)

func newRegistry(t *testing.T) (*Registry, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	registry, err := NewRegistry(store, nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return registry, store
}

func apply(t *testing.T, r *Registry, hubID string, payload topology.HubEventPayload) {
	t.Helper()
	if err := r.ApplyHubEvent(context.Background(), topology.HubEvent{HubID: hubID, Payload: payload}); err != nil {
		t.Fatalf("apply %s: %v", payload.Kind(), err)
	}
}

func lightScenario() topology.ScenarioAdded {
	return topology.ScenarioAdded{
		Name: "turn_on_light",
		Conditions: []topology.ConditionSpec{
			{SensorID: "S1", Type: topology.ConditionMotion, Operator: topology.OperatorEquals, Value: true},
			{SensorID: "S3", Type: topology.ConditionLuminosity, Operator: topology.OperatorLowerThan, Value: 40},
		},
		Actions: []topology.ActionSpec{
			{SensorID: "S2", Type: topology.ActionActivate, Value: topology.IntPtr(100)},
			{SensorID: "S3", Type: topology.ActionSetValue},
		},
	}
}

func TestDeviceAddedIsIdempotent(t *testing.T) {
	registry, store := newRegistry(t)
	apply(t, registry, "H1", topology.DeviceAdded{SensorID: "S1", DeviceType: "MOTION_SENSOR"})
	apply(t, registry, "H1", topology.DeviceAdded{SensorID: "S1", DeviceType: "SWITCH_SENSOR"})

	sensors, _ := store.ListSensors(context.Background(), "H1")
	if len(sensors) != 1 || sensors[0].DeviceType != "MOTION_SENSOR" {
		t.Fatalf("expected the first registration to win, got %+v", sensors)
	}
}

func TestScenarioAddedResolvesSensorsAndNormalizesValues(t *testing.T) {
	registry, store := newRegistry(t)
	apply(t, registry, "H1", topology.DeviceAdded{SensorID: "S1"})
	apply(t, registry, "H1", topology.DeviceAdded{SensorID: "S2"})
	apply(t, registry, "H1", lightScenario())

	got, _ := store.FindScenario(context.Background(), "H1", "turn_on_light")
	if got == nil {
		t.Fatalf("expected scenario to be saved")
	}
	if len(got.Conditions) != 1 || got.Conditions[0].SensorID != "S1" || *got.Conditions[0].Value != 1 {
		t.Fatalf("expected only the S1 condition with value 1, got %+v", got.Conditions)
	}
	if len(got.Actions) != 1 || got.Actions[0].SensorID != "S2" || *got.Actions[0].Value != 100 {
		t.Fatalf("expected only the S2 action, got %+v", got.Actions)
	}
}

func TestDanglingReferenceIsNotRetried(t *testing.T) {
	registry, store := newRegistry(t)
	apply(t, registry, "H1", topology.DeviceAdded{SensorID: "S1"})
	apply(t, registry, "H1", lightScenario())
	apply(t, registry, "H1", topology.DeviceAdded{SensorID: "S3"})

	got, _ := store.FindScenario(context.Background(), "H1", "turn_on_light")
	if len(got.Conditions) != 1 || len(got.Actions) != 0 {
		t.Fatalf("late sensor registration must not revive dropped refs, got %+v", got)
	}
}

func TestSensorsAreResolvedPerHub(t *testing.T) {
	registry, store := newRegistry(t)
	apply(t, registry, "H2", topology.DeviceAdded{SensorID: "S1"})
	apply(t, registry, "H2", topology.DeviceAdded{SensorID: "S2"})
	apply(t, registry, "H1", lightScenario())

	got, _ := store.FindScenario(context.Background(), "H1", "turn_on_light")
	if len(got.Conditions) != 0 || len(got.Actions) != 0 {
		t.Fatalf("sensors of another hub must not resolve, got %+v", got)
	}
}

func TestIdempotentReplay(t *testing.T) {
	batch := []topology.HubEvent{
		{HubID: "H1", Payload: topology.DeviceAdded{SensorID: "S1"}},
		{HubID: "H1", Payload: topology.DeviceAdded{SensorID: "S2"}},
		{HubID: "H1", Payload: topology.DeviceAdded{SensorID: "S3"}},
		{HubID: "H1", Payload: lightScenario()},
		{HubID: "H1", Payload: topology.ScenarioAdded{Name: "off", Conditions: []topology.ConditionSpec{{SensorID: "S1", Type: topology.ConditionMotion, Operator: topology.OperatorEquals, Value: false}}}},
		{HubID: "H1", Payload: topology.ScenarioRemoved{Name: "off"}},
		{HubID: "H1", Payload: topology.DeviceRemoved{SensorID: "S3"}},
	}

	once, onceStore := newRegistry(t)
	for _, evt := range batch {
		if err := once.ApplyHubEvent(context.Background(), evt); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	twice, twiceStore := newRegistry(t)
	for i := 0; i < 2; i++ {
		for _, evt := range batch {
			if err := twice.ApplyHubEvent(context.Background(), evt); err != nil {
				t.Fatalf("replay: %v", err)
			}
		}
	}

	a, _ := onceStore.ListScenarios(context.Background(), "H1")
	b, _ := twiceStore.ListScenarios(context.Background(), "H1")
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("replay diverged:\n once=%+v\ntwice=%+v", a, b)
	}
	sa, _ := onceStore.ListSensors(context.Background(), "H1")
	sb, _ := twiceStore.ListSensors(context.Background(), "H1")
	if !reflect.DeepEqual(sa, sb) {
		t.Fatalf("sensor replay diverged: %+v vs %+v", sa, sb)
	}
}

func TestDeviceRemovedCascades(t *testing.T) {
	registry, store := newRegistry(t)
	for _, id := range []string{"S1", "S2", "S3"} {
		apply(t, registry, "H1", topology.DeviceAdded{SensorID: id})
	}
	apply(t, registry, "H1", lightScenario())
	apply(t, registry, "H1", topology.ScenarioAdded{
		Name:       "toggle",
		Conditions: []topology.ConditionSpec{{SensorID: "S2", Type: topology.ConditionSwitch, Operator: topology.OperatorEquals, Value: 1}},
		Actions:    []topology.ActionSpec{{SensorID: "S3", Type: topology.ActionInverse}},
	})

	apply(t, registry, "H1", topology.DeviceRemoved{SensorID: "S3"})

	light, _ := store.FindScenario(context.Background(), "H1", "turn_on_light")
	if len(light.Conditions) != 1 || light.Conditions[0].SensorID != "S1" {
		t.Fatalf("expected S3 condition removed, got %+v", light.Conditions)
	}
	if len(light.Actions) != 1 || light.Actions[0].SensorID != "S2" {
		t.Fatalf("expected S3 action removed, got %+v", light.Actions)
	}
	toggle, _ := store.FindScenario(context.Background(), "H1", "toggle")
	if len(toggle.Actions) != 0 || len(toggle.Conditions) != 1 {
		t.Fatalf("unexpected toggle after cascade: %+v", toggle)
	}
	if s, _ := store.FindSensor(context.Background(), "H1", "S3"); s != nil {
		t.Fatalf("expected sensor to be deleted")
	}

	// Removing an unknown device is a no-op.
	apply(t, registry, "H1", topology.DeviceRemoved{SensorID: "S3"})
}

func TestScenarioRemovedMissingIsNoop(t *testing.T) {
	registry, _ := newRegistry(t)
	apply(t, registry, "H1", topology.ScenarioRemoved{Name: "missing"})
}

type failingRepo struct {
	*memory.Store
	err error
}

func (f failingRepo) FindSensor(context.Context, string, string) (*topology.Sensor, error) {
	return nil, f.err
}

func TestRepositoryErrorsPropagate(t *testing.T) {
	boom := errors.New("connection reset")
	registry, err := NewRegistry(failingRepo{Store: memory.NewStore(), err: boom}, nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	err = registry.ApplyHubEvent(context.Background(), topology.HubEvent{HubID: "H1", Payload: topology.DeviceAdded{SensorID: "S1"}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestInvalidEventIsIgnored(t *testing.T) {
	registry, _ := newRegistry(t)
	if err := registry.ApplyHubEvent(context.Background(), topology.HubEvent{Payload: topology.DeviceAdded{SensorID: "S1"}}); err != nil {
		t.Fatalf("expected invalid event to be ignored, got %v", err)
	}
	if _, err := NewRegistry(nil, nil); err == nil {
		t.Fatalf("expected nil repository to be rejected")
	}
}
