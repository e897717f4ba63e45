package telemetry

// PayloadKind tags the concrete sensor reading carried by an event.
type PayloadKind string

const (
	KindMotion      PayloadKind = "MOTION_SENSOR_EVENT"
	KindTemperature PayloadKind = "TEMPERATURE_SENSOR_EVENT"
	KindClimate     PayloadKind = "CLIMATE_SENSOR_EVENT"
	KindLight       PayloadKind = "LIGHT_SENSOR_EVENT"
	KindSwitch      PayloadKind = "SWITCH_SENSOR_EVENT"
)

// IsValid reports whether the kind is one of the known sensor kinds.
func (k PayloadKind) IsValid() bool {
	switch k {
	case KindMotion, KindTemperature, KindClimate, KindLight, KindSwitch:
		return true
	default:
		return false
	}
}

// SensorPayload is a closed set of sensor readings. Only the types in this
// package implement it, so a type switch over the variants is exhaustive.
//
// Every variant is a comparable value type: two payloads are deep-equal
// exactly when the interface values compare equal with ==.
type SensorPayload interface {
	Kind() PayloadKind
	sensorPayload()
}

// MotionPayload is a reading from a motion sensor.
type MotionPayload struct {
	LinkQuality int  `json:"link_quality"`
	Motion      bool `json:"motion"`
	Voltage     int  `json:"voltage"`
}

// TemperaturePayload is a reading from a temperature sensor.
type TemperaturePayload struct {
	TemperatureC int `json:"temperature_c"`
	TemperatureF int `json:"temperature_f"`
}

// ClimatePayload is a reading from a climate sensor.
type ClimatePayload struct {
	TemperatureC int `json:"temperature_c"`
	Humidity     int `json:"humidity"`
	CO2Level     int `json:"co2_level"`
}

// LightPayload is a reading from a light sensor.
type LightPayload struct {
	LinkQuality int `json:"link_quality"`
	Luminosity  int `json:"luminosity"`
}

// SwitchPayload is a reading from a switch.
type SwitchPayload struct {
	State bool `json:"state"`
}

func (MotionPayload) Kind() PayloadKind      { return KindMotion }
func (TemperaturePayload) Kind() PayloadKind { return KindTemperature }
func (ClimatePayload) Kind() PayloadKind     { return KindClimate }
func (LightPayload) Kind() PayloadKind       { return KindLight }
func (SwitchPayload) Kind() PayloadKind      { return KindSwitch }

func (MotionPayload) sensorPayload()      {}
func (TemperaturePayload) sensorPayload() {}
func (ClimatePayload) sensorPayload()     {}
func (LightPayload) sensorPayload()       {}
func (SwitchPayload) sensorPayload()      {}

// PayloadEqual reports whether two payloads carry the same reading.
func PayloadEqual(a, b SensorPayload) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a == b
}
