package topology

import (
	"errors"
	"time"
)

// EventKind tags a hub topology event.
type EventKind string

const (
	KindDeviceAdded     EventKind = "DEVICE_ADDED"
	KindDeviceRemoved   EventKind = "DEVICE_REMOVED"
	KindScenarioAdded   EventKind = "SCENARIO_ADDED"
	KindScenarioRemoved EventKind = "SCENARIO_REMOVED"
)

// HubEvent is a structural change of a hub.
type HubEvent struct {
	HubID     string
	Timestamp time.Time
	Payload   HubEventPayload
}

// Validate checks hub event invariants.
func (e HubEvent) Validate() error {
	if e.HubID == "" {
		return errors.New("hub event: empty hub id")
	}
	if e.Payload == nil {
		return errors.New("hub event: nil payload")
	}
	return nil
}

// HubEventPayload is the closed set of hub event bodies.
type HubEventPayload interface {
	Kind() EventKind
	hubEventPayload()
}

// DeviceAdded registers a sensor on the hub.
type DeviceAdded struct {
	SensorID   string
	DeviceType string
}

// DeviceRemoved unregisters a sensor and everything referencing it.
type DeviceRemoved struct {
	SensorID string
}

// ScenarioAdded creates or replaces a scenario.
type ScenarioAdded struct {
	Name       string
	Conditions []ConditionSpec
	Actions    []ActionSpec
}

// ScenarioRemoved deletes a scenario.
type ScenarioRemoved struct {
	Name string
}

// ConditionSpec is a condition as received, before sensor resolution.
// Value holds an int, a bool, or nil.
type ConditionSpec struct {
	SensorID string
	Type     ConditionType
	Operator Operator
	Value    any
}

// NormalizedValue converts the raw value: booleans become 1/0 and integers
// pass through. Any other value yields nil.
func (c ConditionSpec) NormalizedValue() *int {
	switch v := c.Value.(type) {
	case bool:
		if v {
			return IntPtr(1)
		}
		return IntPtr(0)
	case int:
		return IntPtr(v)
	case int32:
		return IntPtr(int(v))
	case int64:
		return IntPtr(int(v))
	case *int:
		if v == nil {
			return nil
		}
		return IntPtr(*v)
	default:
		return nil
	}
}

// ActionSpec is an action as received, before sensor resolution.
type ActionSpec struct {
	SensorID string
	Type     ActionType
	Value    *int
}

func (DeviceAdded) Kind() EventKind     { return KindDeviceAdded }
func (DeviceRemoved) Kind() EventKind   { return KindDeviceRemoved }
func (ScenarioAdded) Kind() EventKind   { return KindScenarioAdded }
func (ScenarioRemoved) Kind() EventKind { return KindScenarioRemoved }

func (DeviceAdded) hubEventPayload()     {}
func (DeviceRemoved) hubEventPayload()   {}
func (ScenarioAdded) hubEventPayload()   {}
func (ScenarioRemoved) hubEventPayload() {}
