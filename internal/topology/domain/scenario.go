package topology

import (
	"errors"
	"fmt"
)

// Operator compares a sensor reading with a condition value.
type Operator string

const (
	OperatorGreaterThan Operator = "GREATER_THAN"
	OperatorLowerThan   Operator = "LOWER_THAN"
	OperatorEquals      Operator = "EQUALS"
)

// IsValid reports whether the operator is supported.
func (o Operator) IsValid() bool {
	switch o {
	case OperatorGreaterThan, OperatorLowerThan, OperatorEquals:
		return true
	default:
		return false
	}
}

// ConditionType names the reading a condition looks at.
type ConditionType string

const (
	ConditionMotion      ConditionType = "MOTION"
	ConditionLuminosity  ConditionType = "LUMINOSITY"
	ConditionSwitch      ConditionType = "SWITCH"
	ConditionTemperature ConditionType = "TEMPERATURE"
	ConditionCO2Level    ConditionType = "CO2LEVEL"
	ConditionHumidity    ConditionType = "HUMIDITY"
)

// IsValid reports whether the condition type is supported.
func (t ConditionType) IsValid() bool {
	switch t {
	case ConditionMotion, ConditionLuminosity, ConditionSwitch, ConditionTemperature, ConditionCO2Level, ConditionHumidity:
		return true
	default:
		return false
	}
}

// ActionType names the command sent to an actuator.
type ActionType string

const (
	ActionActivate   ActionType = "ACTIVATE"
	ActionDeactivate ActionType = "DEACTIVATE"
	ActionInverse    ActionType = "INVERSE"
	ActionSetValue   ActionType = "SET_VALUE"
)

// IsValid reports whether the action type is supported.
func (t ActionType) IsValid() bool {
	switch t {
	case ActionActivate, ActionDeactivate, ActionInverse, ActionSetValue:
		return true
	default:
		return false
	}
}

// Sensor is a device registered on a hub.
type Sensor struct {
	ID         string
	HubID      string
	DeviceType string
}

// Validate checks sensor invariants.
func (s Sensor) Validate() error {
	if s.ID == "" {
		return errors.New("sensor: empty id")
	}
	if s.HubID == "" {
		return errors.New("sensor: empty hub id")
	}
	return nil
}

// Condition is a predicate over one sensor's latest reading.
// A nil Value never matches.
type Condition struct {
	SensorID string
	Type     ConditionType
	Operator Operator
	Value    *int
}

// Action is a command for one actuator. A nil Value is sent as 0.
type Action struct {
	SensorID string
	Type     ActionType
	Value    *int
}

// ValueOrZero returns the action value, defaulting to 0.
func (a Action) ValueOrZero() int {
	if a.Value == nil {
		return 0
	}
	return *a.Value
}

// Scenario is a named automation rule of a hub, identified by (HubID, Name).
type Scenario struct {
	HubID      string
	Name       string
	Conditions []Condition
	Actions    []Action
}

// Validate checks scenario invariants.
func (s Scenario) Validate() error {
	if s.HubID == "" {
		return errors.New("scenario: empty hub id")
	}
	if s.Name == "" {
		return errors.New("scenario: empty name")
	}
	for i, c := range s.Conditions {
		if c.SensorID == "" {
			return fmt.Errorf("scenario: condition %d has empty sensor id", i)
		}
	}
	for i, a := range s.Actions {
		if a.SensorID == "" {
			return fmt.Errorf("scenario: action %d has empty sensor id", i)
		}
	}
	return nil
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
