package model

// Sensor is a record ready for a sink: the value and unit are normalised and
// the owning parent is attached so the sink can group sensors per device.
type Sensor struct {
	Record      DeviceRecord
	Parent      DeviceRecord
	Value       string
	Unit        string
	DeviceClass string
	StateClass  string
}

// Identifier groups the sensor under its physical component.
func (s Sensor) Identifier() string {
	return s.Parent.Key
}

func (s Sensor) Slug() string {
	return s.Record.Key
}
