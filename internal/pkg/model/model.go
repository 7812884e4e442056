package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/samber/lo"
)

type StateKind int

const (
	StateNumber StateKind = iota
	StateBool
	StateText
)

// State is the value of a record. Exactly one of Number, Bool or Text is
// meaningful, selected by Kind.
type State struct {
	Kind   StateKind
	Number float64
	Bool   bool
	Text   string
}

func NumberState(f float64) State { return State{Kind: StateNumber, Number: f} }
func BoolState(b bool) State      { return State{Kind: StateBool, Bool: b} }
func TextState(s string) State    { return State{Kind: StateText, Text: s} }

func (s State) String() string {
	switch s.Kind {
	case StateNumber:
		return strconv.FormatFloat(s.Number, 'f', -1, 64)
	case StateBool:
		return strconv.FormatBool(s.Bool)
	default:
		return s.Text
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case StateNumber:
		return json.Marshal(s.Number)
	case StateBool:
		return json.Marshal(s.Bool)
	default:
		return json.Marshal(s.Text)
	}
}

func (s *State) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case float64:
		*s = NumberState(t)
	case bool:
		*s = BoolState(t)
	case string:
		*s = TextState(t)
	default:
		return fmt.Errorf("unsupported state value %s", string(data))
	}
	return nil
}

// DeviceRecord is one entry of a facility snapshot. Parent records represent
// physical components, children are measurement points of a parent.
type DeviceRecord struct {
	Key              string     `json:"key"`
	UniqueID         string     `json:"unique_id"`
	IsParent         bool       `json:"is_parent"`
	ParentIdentifier string     `json:"parent_identifier,omitempty"`
	DisplayName      string     `json:"display_name"`
	Icon             string     `json:"icon,omitempty"`
	Unit             *string    `json:"unit,omitempty"`
	Type             DeviceType `json:"device_type"`
	State            State      `json:"state"`
}

func (d DeviceRecord) UnitString() string {
	if d.Unit == nil {
		return ""
	}
	return *d.Unit
}

type SkippedComponent struct {
	Type        string `json:"type"`
	ComponentID string `json:"component_id"`
}

// Snapshot is the immutable result of one successful poll.
type Snapshot struct {
	ControllerName string             `json:"controller_name"`
	FetchedAt      time.Time          `json:"fetched_at"`
	Devices        []DeviceRecord     `json:"devices"`
	Skipped        []SkippedComponent `json:"skipped,omitempty"`

	index map[string]DeviceRecord
}

func NewSnapshot(controllerName string, fetchedAt time.Time, devices []DeviceRecord, skipped []SkippedComponent) *Snapshot {
	return &Snapshot{
		ControllerName: controllerName,
		FetchedAt:      fetchedAt,
		Devices:        devices,
		Skipped:        skipped,
		index: lo.KeyBy(devices, func(d DeviceRecord) string {
			return d.Key
		}),
	}
}

func (s *Snapshot) Get(key string) (DeviceRecord, bool) {
	if s == nil {
		return DeviceRecord{}, false
	}
	d, ok := s.index[key]
	return d, ok
}

func (s *Snapshot) Parents() []DeviceRecord {
	if s == nil {
		return nil
	}
	return lo.Filter(s.Devices, func(d DeviceRecord, _ int) bool {
		return d.IsParent
	})
}
