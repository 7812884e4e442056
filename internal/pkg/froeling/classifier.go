package froeling

import "github.com/anicoll/froeling-integration/internal/pkg/model"

// DeviceTypeByUnit classifies a measurement by its unit. Only degrees Celsius
// is recognised; mass and percentage units fall through to other.
func DeviceTypeByUnit(unit *string) model.DeviceType {
	if unit == nil {
		return model.DeviceTypeOther
	}
	switch model.NumericUnit(*unit) {
	case model.NumericUnitDegreeC:
		return model.DeviceTypeTemperature
	default:
		return model.DeviceTypeOther
	}
}
