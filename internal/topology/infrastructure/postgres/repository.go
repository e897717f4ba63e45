package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	topology "smarthub-telemetry/internal/topology/domain"
)

// Repository persists hub topology in Postgres. Scenario reads run in a
// repeatable-read transaction so a concurrent replace is seen whole or not
// at all.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a repository.
func NewRepository(db *sql.DB) (*Repository, error) {
	if db == nil {
		return nil, errors.New("topology repo: nil db")
	}
	return &Repository{db: db}, nil
}

// FindSensor loads a sensor by (hub, id).
func (r *Repository) FindSensor(ctx context.Context, hubID, sensorID string) (*topology.Sensor, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("topology repo: nil db")
	}
	var sensor topology.Sensor
	err := r.db.QueryRowContext(ctx, `
SELECT id, hub_id, device_type
FROM hub_sensors
WHERE hub_id = $1 AND id = $2
LIMIT 1`, hubID, sensorID).Scan(&sensor.ID, &sensor.HubID, &sensor.DeviceType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sensor, nil
}

// ListSensors loads the sensors of a hub ordered by id.
func (r *Repository) ListSensors(ctx context.Context, hubID string) ([]topology.Sensor, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("topology repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, hub_id, device_type
FROM hub_sensors
WHERE hub_id = $1
ORDER BY id ASC`, hubID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []topology.Sensor
	for rows.Next() {
		var sensor topology.Sensor
		if err := rows.Scan(&sensor.ID, &sensor.HubID, &sensor.DeviceType); err != nil {
			return nil, err
		}
		result = append(result, sensor)
	}
	return result, rows.Err()
}

// SaveSensor inserts a sensor. An existing sensor is left untouched.
func (r *Repository) SaveSensor(ctx context.Context, sensor topology.Sensor) error {
	if r == nil || r.db == nil {
		return errors.New("topology repo: nil db")
	}
	if err := sensor.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO hub_sensors (hub_id, id, device_type)
VALUES ($1, $2, $3)
ON CONFLICT (hub_id, id) DO NOTHING`, sensor.HubID, sensor.ID, sensor.DeviceType)
	return err
}

// DeleteSensor removes a sensor.
func (r *Repository) DeleteSensor(ctx context.Context, hubID, sensorID string) error {
	if r == nil || r.db == nil {
		return errors.New("topology repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
DELETE FROM hub_sensors
WHERE hub_id = $1 AND id = $2`, hubID, sensorID)
	return err
}

// DeleteSensorReferences removes the conditions and actions of the hub's
// scenarios that reference sensorID.
func (r *Repository) DeleteSensorReferences(ctx context.Context, hubID, sensorID string) (int, int, error) {
	if r == nil || r.db == nil {
		return 0, 0, errors.New("topology repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	conditions, err := execCount(ctx, tx, `
DELETE FROM scenario_conditions c
USING hub_scenarios s
WHERE c.scenario_id = s.id AND s.hub_id = $1 AND c.sensor_id = $2`, hubID, sensorID)
	if err != nil {
		_ = tx.Rollback()
		return 0, 0, err
	}
	actions, err := execCount(ctx, tx, `
DELETE FROM scenario_actions a
USING hub_scenarios s
WHERE a.scenario_id = s.id AND s.hub_id = $1 AND a.sensor_id = $2`, hubID, sensorID)
	if err != nil {
		_ = tx.Rollback()
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return conditions, actions, nil
}

// FindScenario loads a scenario by (hub, name).
func (r *Repository) FindScenario(ctx context.Context, hubID, name string) (*topology.Scenario, error) {
	scenarios, err := r.loadScenarios(ctx, hubID, name)
	if err != nil {
		return nil, err
	}
	if len(scenarios) == 0 {
		return nil, nil
	}
	return &scenarios[0], nil
}

// ListScenarios loads every scenario of a hub in creation order.
func (r *Repository) ListScenarios(ctx context.Context, hubID string) ([]topology.Scenario, error) {
	return r.loadScenarios(ctx, hubID, "")
}

// loadScenarios reads scenarios of hubID, limited to name when not empty.
func (r *Repository) loadScenarios(ctx context.Context, hubID, name string) ([]topology.Scenario, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("topology repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
SELECT id, name
FROM hub_scenarios
WHERE hub_id = $1 AND ($2 = '' OR name = $2)
ORDER BY id ASC`, hubID, name)
	if err != nil {
		return nil, err
	}
	var (
		scenarios []topology.Scenario
		index     = map[int64]int{}
	)
	for rows.Next() {
		var (
			id       int64
			scenario = topology.Scenario{HubID: hubID}
		)
		if err := rows.Scan(&id, &scenario.Name); err != nil {
			rows.Close()
			return nil, err
		}
		index[id] = len(scenarios)
		scenarios = append(scenarios, scenario)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(scenarios) == 0 {
		return nil, nil
	}

	if err := loadConditions(ctx, tx, hubID, name, index, scenarios); err != nil {
		return nil, err
	}
	if err := loadActions(ctx, tx, hubID, name, index, scenarios); err != nil {
		return nil, err
	}
	return scenarios, tx.Commit()
}

func loadConditions(ctx context.Context, tx *sql.Tx, hubID, name string, index map[int64]int, scenarios []topology.Scenario) error {
	rows, err := tx.QueryContext(ctx, `
SELECT c.scenario_id, c.sensor_id, c.type, c.operation, c.value
FROM scenario_conditions c
JOIN hub_scenarios s ON s.id = c.scenario_id
WHERE s.hub_id = $1 AND ($2 = '' OR s.name = $2)
ORDER BY c.scenario_id ASC, c.position ASC`, hubID, name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			scenarioID int64
			condition  topology.Condition
			ctype      string
			operation  string
			value      sql.NullInt64
		)
		if err := rows.Scan(&scenarioID, &condition.SensorID, &ctype, &operation, &value); err != nil {
			return err
		}
		i, ok := index[scenarioID]
		if !ok {
			continue
		}
		condition.Type = topology.ConditionType(ctype)
		condition.Operator = topology.Operator(operation)
		condition.Value = intFromNull(value)
		scenarios[i].Conditions = append(scenarios[i].Conditions, condition)
	}
	return rows.Err()
}

func loadActions(ctx context.Context, tx *sql.Tx, hubID, name string, index map[int64]int, scenarios []topology.Scenario) error {
	rows, err := tx.QueryContext(ctx, `
SELECT a.scenario_id, a.sensor_id, a.type, a.value
FROM scenario_actions a
JOIN hub_scenarios s ON s.id = a.scenario_id
WHERE s.hub_id = $1 AND ($2 = '' OR s.name = $2)
ORDER BY a.scenario_id ASC, a.position ASC`, hubID, name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			scenarioID int64
			action     topology.Action
			atype      string
			value      sql.NullInt64
		)
		if err := rows.Scan(&scenarioID, &action.SensorID, &atype, &value); err != nil {
			return err
		}
		i, ok := index[scenarioID]
		if !ok {
			continue
		}
		action.Type = topology.ActionType(atype)
		action.Value = intFromNull(value)
		scenarios[i].Actions = append(scenarios[i].Actions, action)
	}
	return rows.Err()
}

// SaveScenario upserts the scenario and replaces its conditions and actions
// in one transaction.
func (r *Repository) SaveScenario(ctx context.Context, scenario topology.Scenario) error {
	if r == nil || r.db == nil {
		return errors.New("topology repo: nil db")
	}
	if err := scenario.Validate(); err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var scenarioID int64
	err = tx.QueryRowContext(ctx, `
INSERT INTO hub_scenarios (hub_id, name)
VALUES ($1, $2)
ON CONFLICT (hub_id, name) DO UPDATE SET updated_at = now()
RETURNING id`, scenario.HubID, scenario.Name).Scan(&scenarioID)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scenario_conditions WHERE scenario_id = $1`, scenarioID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scenario_actions WHERE scenario_id = $1`, scenarioID); err != nil {
		_ = tx.Rollback()
		return err
	}
	for i, c := range scenario.Conditions {
		_, err := tx.ExecContext(ctx, `
INSERT INTO scenario_conditions (scenario_id, position, sensor_id, type, operation, value)
VALUES ($1, $2, $3, $4, $5, $6)`,
			scenarioID, i, c.SensorID, string(c.Type), string(c.Operator), nullFromInt(c.Value))
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("topology repo: insert condition %d: %w", i, err)
		}
	}
	for i, a := range scenario.Actions {
		_, err := tx.ExecContext(ctx, `
INSERT INTO scenario_actions (scenario_id, position, sensor_id, type, value)
VALUES ($1, $2, $3, $4, $5)`,
			scenarioID, i, a.SensorID, string(a.Type), nullFromInt(a.Value))
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("topology repo: insert action %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// DeleteScenario removes a scenario with its conditions and actions. It
// reports whether the scenario existed.
func (r *Repository) DeleteScenario(ctx context.Context, hubID, name string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("topology repo: nil db")
	}
	n, err := execCount(ctx, r.db, `
DELETE FROM hub_scenarios
WHERE hub_id = $1 AND name = $2`, hubID, name)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execCount(ctx context.Context, db execer, query string, args ...any) (int, error) {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func intFromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	return topology.IntPtr(int(v.Int64))
}

func nullFromInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

var (
	_ topology.Repository     = (*Repository)(nil)
	_ topology.SensorLister   = (*Repository)(nil)
	_ topology.ScenarioReader = (*Repository)(nil)
)
