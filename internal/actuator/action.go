package actuator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"smarthub-telemetry/internal/observability/metrics"
)

// DefaultTimeout bounds a single actuator call.
const DefaultTimeout = 5 * time.Second

// DeviceAction is one command issued to the actuator service.
type DeviceAction struct {
	HubID        string    `json:"hub_id"`
	ScenarioName string    `json:"scenario_name"`
	SensorID     string    `json:"sensor_id"`
	ActionType   string    `json:"type"`
	Value        int       `json:"value"`
	Timestamp    time.Time `json:"timestamp"`
}

// Validate checks action invariants.
func (a DeviceAction) Validate() error {
	if a.HubID == "" {
		return errors.New("actuator: empty hub id")
	}
	if a.SensorID == "" {
		return errors.New("actuator: empty sensor id")
	}
	if a.ActionType == "" {
		return errors.New("actuator: empty action type")
	}
	return nil
}

// Dispatcher delivers device actions.
type Dispatcher interface {
	Dispatch(ctx context.Context, action DeviceAction) error
}

// Instrumented wraps a dispatcher with a per-call timeout and metrics.
type Instrumented struct {
	next      Dispatcher
	transport string
	timeout   time.Duration
}

// NewInstrumented constructs the decorator. timeout <= 0 uses DefaultTimeout.
func NewInstrumented(next Dispatcher, transport string, timeout time.Duration) (*Instrumented, error) {
	if next == nil {
		return nil, errors.New("actuator: nil dispatcher")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Instrumented{next: next, transport: transport, timeout: timeout}, nil
}

// Dispatch forwards the action under the configured timeout.
func (d *Instrumented) Dispatch(ctx context.Context, action DeviceAction) error {
	if err := action.Validate(); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := d.next.Dispatch(callCtx, action)
	metrics.ObserveDispatch(d.transport, err, time.Since(start))
	return err
}

// LoggingDispatcher only logs actions. It is used when no actuator endpoint
// is configured.
type LoggingDispatcher struct {
	logger *slog.Logger
}

// NewLoggingDispatcher constructs a dry-run dispatcher.
func NewLoggingDispatcher(logger *slog.Logger) *LoggingDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingDispatcher{logger: logger}
}

// Dispatch logs the action.
func (d *LoggingDispatcher) Dispatch(ctx context.Context, action DeviceAction) error {
	d.logger.InfoContext(ctx, "dry-run device action",
		"hub_id", action.HubID, "scenario", action.ScenarioName,
		"sensor_id", action.SensorID, "type", action.ActionType, "value", action.Value)
	return nil
}
