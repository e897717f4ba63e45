package topology

import "context"

// Repository persists hub topology. Implementations must make SaveScenario
// replace a scenario's conditions and actions atomically with respect to
// concurrent readers of ListScenarios.
//
// Lookups return (nil, nil) when the record does not exist.
type Repository interface {
	FindSensor(ctx context.Context, hubID, sensorID string) (*Sensor, error)
	SaveSensor(ctx context.Context, sensor Sensor) error
	DeleteSensor(ctx context.Context, hubID, sensorID string) error
	// DeleteSensorReferences removes every condition and action of the hub's
	// scenarios that references sensorID.
	DeleteSensorReferences(ctx context.Context, hubID, sensorID string) (conditions, actions int, err error)

	FindScenario(ctx context.Context, hubID, name string) (*Scenario, error)
	ListScenarios(ctx context.Context, hubID string) ([]Scenario, error)
	// SaveScenario upserts the scenario by (HubID, Name) and replaces its
	// conditions and actions with the given ones.
	SaveScenario(ctx context.Context, scenario Scenario) error
	DeleteScenario(ctx context.Context, hubID, name string) (bool, error)
}

// ScenarioReader is the read side used by rule evaluation.
type ScenarioReader interface {
	ListScenarios(ctx context.Context, hubID string) ([]Scenario, error)
}

// SensorLister lists the sensors of a hub.
type SensorLister interface {
	ListSensors(ctx context.Context, hubID string) ([]Sensor, error)
}
