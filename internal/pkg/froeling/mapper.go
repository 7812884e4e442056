package froeling

import (
	"fmt"
	"time"

	"github.com/anicoll/froeling-integration/internal/pkg/model"
)

const (
	outTempIcon = "mdi:sun-thermometer"
	sensorIcon  = "mdi:hvac"
)

// componentSpec describes how one component kind is flattened.
type componentSpec struct {
	tag        string // literal used in the parent key
	icon       string
	stateField string // dotted path of the parent state
	unitField  string // dotted path of the parent unit, empty if unitless
	deviceType model.DeviceType
	children   []string
}

// specFor returns the flattening rules for a component kind. Unknown kinds
// return false and are skipped by the mapper.
func specFor(kind model.ComponentKind) (componentSpec, bool) {
	switch kind {
	case model.ComponentBoiler:
		return componentSpec{
			tag:        "kessel",
			icon:       "mdi:hvac",
			stateField: "state.displayValue",
			deviceType: model.DeviceTypeComponent,
			children:   []string{"boilerTemp", "mode2", "ignitionWhenBufferTempBelow"},
		}, true
	case model.ComponentCircuit:
		return componentSpec{
			tag:        "circuit",
			icon:       "mdi:heating-coil",
			stateField: "mode.displayValue",
			deviceType: model.DeviceTypeComponent,
			children:   []string{"desiredRoomTemp", "mode", "actualFlowTemp"},
		}, true
	case model.ComponentDHW:
		return componentSpec{
			tag:        "boiler",
			icon:       "mdi:water-boiler",
			stateField: "active",
			deviceType: model.DeviceTypeComponent,
			children:   []string{"dhwTempTop", "mode", "setDhwTemp"},
		}, true
	case model.ComponentBufferTank:
		return componentSpec{
			tag:        "buffer",
			icon:       "mdi:propane-tank",
			stateField: "active",
			deviceType: model.DeviceTypeComponent,
			children:   []string{"bufferPumpControl", "bufferTankCharge", "bufferTempBottom", "bufferTempTop"},
		}, true
	case model.ComponentFeedSystem:
		return componentSpec{
			tag:        "feedSystem",
			icon:       "mdi:cog-box",
			stateField: "remainingPelletsAmount.value",
			unitField:  "remainingPelletsAmount.unit",
			deviceType: model.DeviceTypePelletWeight,
			children:   []string{"pelletsUsageCounter", "remainingPelletsAmount", "totalPelletConsumption"},
		}, true
	default:
		return componentSpec{}, false
	}
}

// MapSnapshot flattens a facility overview into device records: the outside
// temperature first, then one parent per known component in document order,
// then the children of each component in the same order. Any malformed field
// fails the whole snapshot.
func MapSnapshot(controllerName string, doc Overview, fetchedAt time.Time) (*model.Snapshot, error) {
	root := newObject("", doc)

	outTemp, err := mapOutTemp(controllerName, root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMapping, err)
	}

	components, err := root.list("components")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMapping, err)
	}

	parents := make([]model.DeviceRecord, 0, len(components))
	children := []model.DeviceRecord{}
	skipped := []model.SkippedComponent{}

	for i, raw := range components {
		values, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: components[%d] is %T, expected object", ErrMapping, i, raw)
		}
		component := newObject(fmt.Sprintf("components[%d]", i), values)

		kind, err := component.text("type")
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMapping, err)
		}
		spec, known := specFor(model.ComponentKind(kind))
		if !known {
			id, _ := component.text("componentId")
			skipped = append(skipped, model.SkippedComponent{Type: kind, ComponentID: id})
			continue
		}

		parent, err := mapComponent(controllerName, component, spec)
		if err != nil {
			return nil, fmt.Errorf("%w: %s component: %w", ErrMapping, kind, err)
		}
		parents = append(parents, parent)

		for _, name := range spec.children {
			child, err := mapChild(parent, component, name)
			if err != nil {
				return nil, fmt.Errorf("%w: %s component: %w", ErrMapping, kind, err)
			}
			children = append(children, child)
		}
	}

	devices := make([]model.DeviceRecord, 0, 1+len(parents)+len(children))
	devices = append(devices, outTemp)
	devices = append(devices, parents...)
	devices = append(devices, children...)

	seen := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		if _, dup := seen[d.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate device key %q", ErrMapping, d.Key)
		}
		seen[d.Key] = struct{}{}
	}

	return model.NewSnapshot(controllerName, fetchedAt, devices, skipped), nil
}

func mapOutTemp(controllerName string, root object) (model.DeviceRecord, error) {
	outTemp, err := root.object("outTemp")
	if err != nil {
		return model.DeviceRecord{}, err
	}
	state, err := outTemp.state("value")
	if err != nil {
		return model.DeviceRecord{}, err
	}
	unit, err := outTemp.optionalText("unit")
	if err != nil {
		return model.DeviceRecord{}, err
	}
	name, err := outTemp.text("displayName")
	if err != nil {
		return model.DeviceRecord{}, err
	}
	key := controllerName + "_outTemp"
	return model.DeviceRecord{
		Key:         key,
		UniqueID:    key,
		IsParent:    true,
		DisplayName: name,
		Icon:        outTempIcon,
		Unit:        unit,
		Type:        DeviceTypeByUnit(unit),
		State:       state,
	}, nil
}

func mapComponent(controllerName string, component object, spec componentSpec) (model.DeviceRecord, error) {
	id, err := component.text("componentId")
	if err != nil {
		return model.DeviceRecord{}, err
	}
	number, err := component.text("componentNumber")
	if err != nil {
		return model.DeviceRecord{}, err
	}
	name, err := component.text("displayName")
	if err != nil {
		return model.DeviceRecord{}, err
	}
	state, err := component.statePath(spec.stateField)
	if err != nil {
		return model.DeviceRecord{}, err
	}
	var unit *string
	if spec.unitField != "" {
		if unit, err = component.optionalTextPath(spec.unitField); err != nil {
			return model.DeviceRecord{}, err
		}
	}
	return model.DeviceRecord{
		Key:         fmt.Sprintf("%s_%s_%s_%s", controllerName, id, spec.tag, number),
		UniqueID:    fmt.Sprintf("%s_%s", controllerName, id),
		IsParent:    true,
		DisplayName: name,
		Icon:        spec.icon,
		Unit:        unit,
		Type:        spec.deviceType,
		State:       state,
	}, nil
}

func mapChild(parent model.DeviceRecord, component object, name string) (model.DeviceRecord, error) {
	entity, err := component.object(name)
	if err != nil {
		return model.DeviceRecord{}, err
	}
	var state model.State
	if entity.has("displayValue") {
		state, err = entity.state("displayValue")
	} else {
		state, err = entity.state("value")
	}
	if err != nil {
		return model.DeviceRecord{}, err
	}
	unit, err := entity.optionalText("unit")
	if err != nil {
		return model.DeviceRecord{}, err
	}
	displayName, err := entity.text("displayName")
	if err != nil {
		return model.DeviceRecord{}, err
	}
	key := parent.Key + "_" + name
	return model.DeviceRecord{
		Key:              key,
		UniqueID:         key,
		IsParent:         false,
		ParentIdentifier: parent.Key,
		DisplayName:      displayName,
		Icon:             sensorIcon,
		Unit:             unit,
		Type:             DeviceTypeByUnit(unit),
		State:            state,
	}, nil
}
