package model

type DeviceType string

func (dt DeviceType) String() string {
	return string(dt)
}

const (
	DeviceTypeTemperature  DeviceType = "temp_sensor"
	DeviceTypeDoor         DeviceType = "door_sensor"
	DeviceTypePelletWeight DeviceType = "pellet_sensor"
	DeviceTypeComponent    DeviceType = "component"
	DeviceTypeOther        DeviceType = "other"
)

type NumericUnit string

const (
	NumericUnitDegreeC    NumericUnit = "°C"
	NumericUnitDegreeCAlt NumericUnit = "℃"
	NumericUnitKilogram   NumericUnit = "kg"
	NumericUnitTonne      NumericUnit = "t"
	NumericUnitHour       NumericUnit = "h"
)

// ComponentKind is the "type" tag of an entry in the facility overview.
type ComponentKind string

func (ck ComponentKind) String() string {
	return string(ck)
}

const (
	ComponentBoiler     ComponentKind = "BOILER"
	ComponentCircuit    ComponentKind = "CIRCUIT"
	ComponentDHW        ComponentKind = "DHW"
	ComponentBufferTank ComponentKind = "BUFFER_TANK"
	ComponentFeedSystem ComponentKind = "FEED_SYSTEM"
)
