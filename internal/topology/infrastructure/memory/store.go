package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	topology "smarthub-telemetry/internal/topology/domain"
)

type sensorKey struct {
	hubID    string
	sensorID string
}

type scenarioKey struct {
	hubID string
	name  string
}

// scenarioRow holds keys into the condition and action tables, in order.
type scenarioRow struct {
	seq          int64
	hubID        string
	name         string
	conditionIDs []int64
	actionIDs    []int64
}

// Store is an in-memory arena implementation of topology.Repository.
// Scenarios reference conditions and actions by id; cascades are explicit.
type Store struct {
	mu         sync.RWMutex
	nextID     int64
	sensors    map[sensorKey]topology.Sensor
	scenarios  map[scenarioKey]*scenarioRow
	conditions map[int64]topology.Condition
	actions    map[int64]topology.Action
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		sensors:    make(map[sensorKey]topology.Sensor),
		scenarios:  make(map[scenarioKey]*scenarioRow),
		conditions: make(map[int64]topology.Condition),
		actions:    make(map[int64]topology.Action),
	}
}

// FindSensor loads a sensor by hub and id.
func (s *Store) FindSensor(ctx context.Context, hubID, sensorID string) (*topology.Sensor, error) {
	_ = ctx
	if hubID == "" || sensorID == "" {
		return nil, errors.New("topology store: invalid sensor key")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sensor, ok := s.sensors[sensorKey{hubID, sensorID}]
	if !ok {
		return nil, nil
	}
	return &sensor, nil
}

// ListSensors returns the sensors of a hub ordered by id.
func (s *Store) ListSensors(ctx context.Context, hubID string) ([]topology.Sensor, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []topology.Sensor
	for key, sensor := range s.sensors {
		if key.hubID == hubID {
			result = append(result, sensor)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// SaveSensor upserts a sensor.
func (s *Store) SaveSensor(ctx context.Context, sensor topology.Sensor) error {
	_ = ctx
	if err := sensor.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensors[sensorKey{sensor.HubID, sensor.ID}] = sensor
	return nil
}

// DeleteSensor removes a sensor. Missing sensors are ignored.
func (s *Store) DeleteSensor(ctx context.Context, hubID, sensorID string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sensors, sensorKey{hubID, sensorID})
	return nil
}

// DeleteSensorReferences drops conditions and actions of the hub's scenarios
// that point at sensorID.
func (s *Store) DeleteSensorReferences(ctx context.Context, hubID, sensorID string) (int, int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var conditions, actions int
	for _, row := range s.scenarios {
		if row.hubID != hubID {
			continue
		}
		keptConditions := row.conditionIDs[:0]
		for _, id := range row.conditionIDs {
			if s.conditions[id].SensorID == sensorID {
				delete(s.conditions, id)
				conditions++
				continue
			}
			keptConditions = append(keptConditions, id)
		}
		row.conditionIDs = keptConditions

		keptActions := row.actionIDs[:0]
		for _, id := range row.actionIDs {
			if s.actions[id].SensorID == sensorID {
				delete(s.actions, id)
				actions++
				continue
			}
			keptActions = append(keptActions, id)
		}
		row.actionIDs = keptActions
	}
	return conditions, actions, nil
}

// FindScenario loads a scenario by hub and name.
func (s *Store) FindScenario(ctx context.Context, hubID, name string) (*topology.Scenario, error) {
	_ = ctx
	if hubID == "" || name == "" {
		return nil, errors.New("topology store: invalid scenario key")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.scenarios[scenarioKey{hubID, name}]
	if !ok {
		return nil, nil
	}
	scenario := s.materialize(row)
	return &scenario, nil
}

// ListScenarios returns the hub's scenarios in creation order.
func (s *Store) ListScenarios(ctx context.Context, hubID string) ([]topology.Scenario, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]*scenarioRow, 0)
	for _, row := range s.scenarios {
		if row.hubID == hubID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	result := make([]topology.Scenario, 0, len(rows))
	for _, row := range rows {
		result = append(result, s.materialize(row))
	}
	return result, nil
}

// SaveScenario upserts a scenario and replaces its conditions and actions.
func (s *Store) SaveScenario(ctx context.Context, scenario topology.Scenario) error {
	_ = ctx
	if err := scenario.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := scenarioKey{scenario.HubID, scenario.Name}
	row, ok := s.scenarios[key]
	if !ok {
		row = &scenarioRow{seq: s.allocID(), hubID: scenario.HubID, name: scenario.Name}
		s.scenarios[key] = row
	}
	s.dropRows(row)

	for _, c := range scenario.Conditions {
		id := s.allocID()
		c.Value = copyInt(c.Value)
		s.conditions[id] = c
		row.conditionIDs = append(row.conditionIDs, id)
	}
	for _, a := range scenario.Actions {
		id := s.allocID()
		a.Value = copyInt(a.Value)
		s.actions[id] = a
		row.actionIDs = append(row.actionIDs, id)
	}
	return nil
}

// DeleteScenario removes a scenario. It reports whether one existed.
func (s *Store) DeleteScenario(ctx context.Context, hubID, name string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scenarioKey{hubID, name}
	row, ok := s.scenarios[key]
	if !ok {
		return false, nil
	}
	s.dropRows(row)
	delete(s.scenarios, key)
	return true, nil
}

func (s *Store) dropRows(row *scenarioRow) {
	for _, id := range row.conditionIDs {
		delete(s.conditions, id)
	}
	for _, id := range row.actionIDs {
		delete(s.actions, id)
	}
	row.conditionIDs = nil
	row.actionIDs = nil
}

func (s *Store) materialize(row *scenarioRow) topology.Scenario {
	scenario := topology.Scenario{
		HubID:      row.hubID,
		Name:       row.name,
		Conditions: make([]topology.Condition, 0, len(row.conditionIDs)),
		Actions:    make([]topology.Action, 0, len(row.actionIDs)),
	}
	for _, id := range row.conditionIDs {
		c := s.conditions[id]
		c.Value = copyInt(c.Value)
		scenario.Conditions = append(scenario.Conditions, c)
	}
	for _, id := range row.actionIDs {
		a := s.actions[id]
		a.Value = copyInt(a.Value)
		scenario.Actions = append(scenario.Actions, a)
	}
	return scenario
}

func (s *Store) allocID() int64 {
	s.nextID++
	return s.nextID
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

var _ topology.Repository = (*Store)(nil)
var _ topology.SensorLister = (*Store)(nil)
