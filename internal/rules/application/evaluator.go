package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"smarthub-telemetry/internal/actuator"
	"smarthub-telemetry/internal/observability/metrics"
	telemetry "smarthub-telemetry/internal/telemetry/domain"
	topology "smarthub-telemetry/internal/topology/domain"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Evaluator matches hub snapshots against the hub's scenarios and dispatches
// the actions of every scenario that fires.
type Evaluator struct {
	scenarios  topology.ScenarioReader
	dispatcher actuator.Dispatcher
	clock      Clock
	logger     *slog.Logger
}

// EvaluatorOption customizes the evaluator.
type EvaluatorOption func(*Evaluator)

// WithClock assigns the clock used to stamp dispatched actions.
func WithClock(clock Clock) EvaluatorOption {
	return func(e *Evaluator) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEvaluator constructs an evaluator.
func NewEvaluator(scenarios topology.ScenarioReader, dispatcher actuator.Dispatcher, opts ...EvaluatorOption) (*Evaluator, error) {
	if scenarios == nil {
		return nil, errors.New("rules: nil scenario reader")
	}
	if dispatcher == nil {
		return nil, errors.New("rules: nil dispatcher")
	}
	e := &Evaluator{
		scenarios:  scenarios,
		dispatcher: dispatcher,
		clock:      systemClock{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// OnSnapshot evaluates every scenario of the snapshot's hub. Dispatch
// failures are logged and do not stop evaluation; only a failure to list
// scenarios is returned.
func (e *Evaluator) OnSnapshot(ctx context.Context, snapshot telemetry.HubSnapshot) error {
	if e == nil {
		return errors.New("rules: nil evaluator")
	}
	scenarios, err := e.scenarios.ListScenarios(ctx, snapshot.HubID)
	if err != nil {
		return fmt.Errorf("rules: list scenarios hub=%s: %w", snapshot.HubID, err)
	}
	for _, scenario := range scenarios {
		if len(scenario.Conditions) == 0 {
			e.logger.DebugContext(ctx, "scenario has no conditions", "hub_id", scenario.HubID, "scenario", scenario.Name)
			metrics.IncScenarioEvaluation(metrics.OutcomeNoCondition)
			continue
		}
		if !e.conditionsMet(ctx, scenario, snapshot) {
			metrics.IncScenarioEvaluation(metrics.OutcomeNotMet)
			continue
		}
		metrics.IncScenarioEvaluation(metrics.OutcomeFired)
		e.fire(ctx, scenario)
	}
	return nil
}

func (e *Evaluator) conditionsMet(ctx context.Context, scenario topology.Scenario, snapshot telemetry.HubSnapshot) bool {
	for _, condition := range scenario.Conditions {
		state, ok := snapshot.SensorsState[condition.SensorID]
		if !ok {
			return false
		}
		matched, known := matchCondition(condition, state.Payload)
		if !known {
			e.logger.WarnContext(ctx, "condition references unsupported payload",
				"hub_id", scenario.HubID, "scenario", scenario.Name, "sensor_id", condition.SensorID)
			return false
		}
		if !matched {
			return false
		}
	}
	return true
}

func (e *Evaluator) fire(ctx context.Context, scenario topology.Scenario) {
	for _, action := range scenario.Actions {
		deviceAction := actuator.DeviceAction{
			HubID:        scenario.HubID,
			ScenarioName: scenario.Name,
			SensorID:     action.SensorID,
			ActionType:   string(action.Type),
			Value:        action.ValueOrZero(),
			Timestamp:    e.clock.Now(),
		}
		if err := e.dispatcher.Dispatch(ctx, deviceAction); err != nil {
			e.logger.ErrorContext(ctx, "dispatch action failed",
				"hub_id", scenario.HubID, "scenario", scenario.Name,
				"sensor_id", action.SensorID, "type", action.Type, "err", err)
		}
	}
}

// matchCondition compares a condition with a sensor reading. known is false
// when the payload is not a recognized variant.
func matchCondition(condition topology.Condition, payload telemetry.SensorPayload) (matched, known bool) {
	switch p := payload.(type) {
	case telemetry.MotionPayload:
		return matchFlag(condition, p.Motion), true
	case telemetry.SwitchPayload:
		return matchFlag(condition, p.State), true
	case telemetry.TemperaturePayload:
		return compare(condition, p.TemperatureC), true
	case telemetry.ClimatePayload:
		return compare(condition, p.TemperatureC), true
	case telemetry.LightPayload:
		return compare(condition, p.Luminosity), true
	default:
		return false, false
	}
}

func matchFlag(condition topology.Condition, flag bool) bool {
	if condition.Value == nil || condition.Operator != topology.OperatorEquals {
		return false
	}
	reading := 0
	if flag {
		reading = 1
	}
	return reading == *condition.Value
}

func compare(condition topology.Condition, reading int) bool {
	if condition.Value == nil {
		return false
	}
	value := *condition.Value
	switch condition.Operator {
	case topology.OperatorGreaterThan:
		return reading > value
	case topology.OperatorLowerThan:
		return reading < value
	case topology.OperatorEquals:
		return reading == value
	default:
		return false
	}
}
