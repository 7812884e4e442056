package model

type RegisterDevice struct {
	Name          string   `json:"name"`
	Identifiers   []string `json:"identifiers"`
	Model         string   `json:"model,omitempty"`
	Manufacturer  string   `json:"manufacturer"`
	SuggestedArea string   `json:"suggested_area,omitempty"`
}

type RegisterMessage struct {
	Tilda             string         `json:"~"`
	Name              string         `json:"name"`
	ID                string         `json:"unique_id"`
	ObjectID          string         `json:"object_id"`
	StateTopic        string         `json:"state_topic"`
	ValueTemplate     string         `json:"value_template"`
	UnitOfMeasurement string         `json:"unit_of_measurement,omitempty"`
	DeviceClass       string         `json:"device_class,omitempty"`
	StateClass        string         `json:"state_class,omitempty"`
	Icon              string         `json:"icon,omitempty"`
	Device            RegisterDevice `json:"device"`
}
