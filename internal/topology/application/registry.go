package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"smarthub-telemetry/internal/observability/metrics"
	topology "smarthub-telemetry/internal/topology/domain"
)

// Registry applies hub topology events to a repository. Every branch is
// idempotent so replayed events converge to the same state.
type Registry struct {
	repo   topology.Repository
	logger *slog.Logger
}

// NewRegistry constructs a registry.
func NewRegistry(repo topology.Repository, logger *slog.Logger) (*Registry, error) {
	if repo == nil {
		return nil, errors.New("topology registry: nil repository")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{repo: repo, logger: logger}, nil
}

// ApplyHubEvent dispatches event by kind. Only repository failures are
// returned; application-level conditions are logged.
func (r *Registry) ApplyHubEvent(ctx context.Context, event topology.HubEvent) error {
	if r == nil {
		return errors.New("topology registry: nil registry")
	}
	if err := event.Validate(); err != nil {
		r.logger.Warn("ignoring invalid hub event", "error", err)
		return nil
	}

	var err error
	kind := string(event.Payload.Kind())
	switch payload := event.Payload.(type) {
	case topology.DeviceAdded:
		err = r.deviceAdded(ctx, event.HubID, payload)
	case topology.DeviceRemoved:
		err = r.deviceRemoved(ctx, event.HubID, payload)
	case topology.ScenarioAdded:
		err = r.scenarioAdded(ctx, event.HubID, payload)
	case topology.ScenarioRemoved:
		err = r.scenarioRemoved(ctx, event.HubID, payload)
	default:
		r.logger.Warn("unknown hub event type", "hub_id", event.HubID, "kind", kind)
		metrics.IncTopologyEvent(kind, nil)
		return nil
	}
	metrics.IncTopologyEvent(kind, err)
	if err != nil {
		return fmt.Errorf("topology registry: %s hub=%s: %w", kind, event.HubID, err)
	}
	return nil
}

func (r *Registry) deviceAdded(ctx context.Context, hubID string, payload topology.DeviceAdded) error {
	if payload.SensorID == "" {
		r.logger.Warn("device added without sensor id", "hub_id", hubID)
		return nil
	}
	existing, err := r.repo.FindSensor(ctx, hubID, payload.SensorID)
	if err != nil {
		return err
	}
	if existing != nil {
		r.logger.Debug("sensor already registered", "hub_id", hubID, "sensor_id", payload.SensorID)
		return nil
	}
	if err := r.repo.SaveSensor(ctx, topology.Sensor{ID: payload.SensorID, HubID: hubID, DeviceType: payload.DeviceType}); err != nil {
		return err
	}
	r.logger.Info("sensor added", "hub_id", hubID, "sensor_id", payload.SensorID)
	return nil
}

func (r *Registry) deviceRemoved(ctx context.Context, hubID string, payload topology.DeviceRemoved) error {
	existing, err := r.repo.FindSensor(ctx, hubID, payload.SensorID)
	if err != nil {
		return err
	}
	if existing == nil {
		r.logger.Debug("sensor not found for removal", "hub_id", hubID, "sensor_id", payload.SensorID)
		return nil
	}
	conditions, actions, err := r.repo.DeleteSensorReferences(ctx, hubID, payload.SensorID)
	if err != nil {
		return err
	}
	if err := r.repo.DeleteSensor(ctx, hubID, payload.SensorID); err != nil {
		return err
	}
	r.logger.Info("sensor removed", "hub_id", hubID, "sensor_id", payload.SensorID,
		"conditions_removed", conditions, "actions_removed", actions)
	return nil
}

func (r *Registry) scenarioAdded(ctx context.Context, hubID string, payload topology.ScenarioAdded) error {
	if payload.Name == "" {
		r.logger.Warn("scenario added without name", "hub_id", hubID)
		return nil
	}
	scenario, err := r.repo.FindScenario(ctx, hubID, payload.Name)
	if err != nil {
		return err
	}
	if scenario == nil {
		scenario = &topology.Scenario{HubID: hubID, Name: payload.Name}
	}
	scenario.Conditions = nil
	scenario.Actions = nil

	for _, spec := range payload.Conditions {
		ok, err := r.sensorExists(ctx, hubID, spec.SensorID)
		if err != nil {
			return err
		}
		if !ok {
			r.logger.Debug("dropping condition for unknown sensor",
				"hub_id", hubID, "scenario", payload.Name, "sensor_id", spec.SensorID)
			metrics.IncDanglingRef("condition")
			continue
		}
		scenario.Conditions = append(scenario.Conditions, topology.Condition{
			SensorID: spec.SensorID,
			Type:     spec.Type,
			Operator: spec.Operator,
			Value:    spec.NormalizedValue(),
		})
	}
	for _, spec := range payload.Actions {
		ok, err := r.sensorExists(ctx, hubID, spec.SensorID)
		if err != nil {
			return err
		}
		if !ok {
			r.logger.Debug("dropping action for unknown sensor",
				"hub_id", hubID, "scenario", payload.Name, "sensor_id", spec.SensorID)
			metrics.IncDanglingRef("action")
			continue
		}
		var value *int
		if spec.Value != nil {
			value = topology.IntPtr(*spec.Value)
		}
		scenario.Actions = append(scenario.Actions, topology.Action{
			SensorID: spec.SensorID,
			Type:     spec.Type,
			Value:    value,
		})
	}

	if err := r.repo.SaveScenario(ctx, *scenario); err != nil {
		return err
	}
	r.logger.Info("scenario saved", "hub_id", hubID, "scenario", payload.Name,
		"conditions", len(scenario.Conditions), "actions", len(scenario.Actions),
		"conditions_received", len(payload.Conditions), "actions_received", len(payload.Actions))
	return nil
}

func (r *Registry) scenarioRemoved(ctx context.Context, hubID string, payload topology.ScenarioRemoved) error {
	deleted, err := r.repo.DeleteScenario(ctx, hubID, payload.Name)
	if err != nil {
		return err
	}
	if !deleted {
		r.logger.Debug("scenario not found for removal", "hub_id", hubID, "scenario", payload.Name)
		return nil
	}
	r.logger.Info("scenario removed", "hub_id", hubID, "scenario", payload.Name)
	return nil
}

func (r *Registry) sensorExists(ctx context.Context, hubID, sensorID string) (bool, error) {
	if sensorID == "" {
		return false, nil
	}
	sensor, err := r.repo.FindSensor(ctx, hubID, sensorID)
	if err != nil {
		return false, err
	}
	return sensor != nil, nil
}
