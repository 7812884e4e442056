package publisher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/anicoll/froeling-integration/internal/pkg/model"
)

var errAlreadyRegistered = errors.New("publisher already registered")

// Sink receives normalised readings. Sinks are called sequentially from the
// poll loop.
type Sink interface {
	Write(ctx context.Context, data model.Properties) error
	RegisterDevice(ctx context.Context, sensor model.Sensor) error
}

// Publisher fans a snapshot out to every registered sink, publishing only
// values that changed since the previous snapshot.
type Publisher struct {
	logger *zap.Logger

	mu         sync.Mutex
	sinks      map[string]Sink
	sensors    sync.Map
	registered sync.Map
}

func New() *Publisher {
	return &Publisher{
		logger: zap.L(),
		sinks:  make(map[string]Sink),
	}
}

func (p *Publisher) RegisterPublisher(name string, sink Sink) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sinks[name]; ok {
		return fmt.Errorf("%w: %s", errAlreadyRegistered, name)
	}
	p.sinks[name] = sink
	return nil
}

// PublishSnapshot registers records not seen before and writes changed
// values. Sink failures are logged and never returned.
func (p *Publisher) PublishSnapshot(ctx context.Context, snapshot *model.Snapshot) error {
	if snapshot == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	data := make(model.Properties, 0, len(snapshot.Devices))
	for _, record := range snapshot.Devices {
		parent := record
		if !record.IsParent {
			var ok bool
			if parent, ok = snapshot.Get(record.ParentIdentifier); !ok {
				p.logger.Warn("record without parent", zap.String("key", record.Key))
				continue
			}
		}
		sensor := Normalise(record, parent)

		p.registerDevice(ctx, sensor)

		if !p.shouldUpdate(sensor.Identifier(), sensor.Slug(), sensor.Value) {
			continue
		}
		data = append(data, model.Property{
			TimeStamp:  snapshot.FetchedAt,
			Unit:       sensor.Unit,
			Value:      sensor.Value,
			Identifier: sensor.Identifier(),
			Slug:       sensor.Slug(),
		})
	}
	if len(data) == 0 {
		return nil
	}

	for name, sink := range p.sinks {
		if err := sink.Write(ctx, data); err != nil {
			p.logger.Error("failed to publish data", zap.Error(err), zap.String("publisher", name))
			continue
		}
		p.logger.Debug("updated sensors", zap.Int("count", len(data)), zap.String("publisher", name))
	}
	return nil
}

// registerDevice registers the sensor with every sink that has not accepted
// it yet. A failed sink is retried on the next snapshot.
func (p *Publisher) registerDevice(ctx context.Context, sensor model.Sensor) {
	for name, sink := range p.sinks {
		key := name + "/" + sensor.Record.Key
		if _, done := p.registered.Load(key); done {
			continue
		}
		if err := sink.RegisterDevice(ctx, sensor); err != nil {
			p.logger.Error("failed to register device", zap.Error(err), zap.String("publisher", name))
			continue
		}
		p.registered.Store(key, struct{}{})
		p.logger.Debug("registered device", zap.String("device", sensor.Record.Key), zap.String("publisher", name))
	}
}

func (p *Publisher) shouldUpdate(identifier, slug, newValue string) bool {
	key := fmt.Sprintf("%s_%s", identifier, slug)
	oldValue, exists := p.sensors.Load(key)
	if exists && strings.EqualFold(newValue, oldValue.(string)) {
		return false
	}
	if !exists {
		p.logger.Info("configured sensor", zap.String("device", identifier), zap.String("sensor", slug), zap.String("value", newValue))
	}
	p.sensors.Store(key, newValue)
	return true
}

// Normalise prepares a record for the sinks. Temperatures are reported in °C.
// Pellet weights arrive in tonnes and are published in kilograms whatever unit
// the API reports.
func Normalise(record, parent model.DeviceRecord) model.Sensor {
	sensor := model.Sensor{
		Record: record,
		Parent: parent,
		Unit:   record.UnitString(),
		Value:  record.State.String(),
	}

	if record.Type == model.DeviceTypePelletWeight {
		value, ok := numericValue(record.State)
		if !ok {
			return sensor
		}
		sensor.Unit = string(model.NumericUnitKilogram)
		sensor.Value = formatRat(value.Mul(value, big.NewRat(1000, 1)))
		sensor.DeviceClass = "weight"
		sensor.StateClass = "total"
		return sensor
	}

	if record.State.Kind != model.StateNumber {
		return sensor
	}
	value, _ := numericValue(record.State)
	switch model.NumericUnit(sensor.Unit) {
	case model.NumericUnitDegreeCAlt:
		sensor.Unit = string(model.NumericUnitDegreeC)
	case model.NumericUnitTonne:
		sensor.Unit = string(model.NumericUnitKilogram)
		value = value.Mul(value, big.NewRat(1000, 1))
	}
	sensor.Value = formatRat(value)

	switch model.NumericUnit(sensor.Unit) {
	case model.NumericUnitDegreeC:
		sensor.DeviceClass = "temperature"
	case model.NumericUnitKilogram:
		sensor.DeviceClass = "weight"
	case model.NumericUnitHour:
		sensor.DeviceClass = "duration"
	}
	if record.Type == model.DeviceTypeTemperature || sensor.DeviceClass == "temperature" {
		sensor.StateClass = "measurement"
	} else {
		sensor.StateClass = "total"
	}
	return sensor
}

// numericValue reads a number state, or a text state holding a decimal number.
func numericValue(state model.State) (*big.Rat, bool) {
	switch state.Kind {
	case model.StateNumber:
		if value := new(big.Rat).SetFloat64(state.Number); value != nil {
			return value, true
		}
		return new(big.Rat), true
	case model.StateText:
		return new(big.Rat).SetString(strings.TrimSpace(state.Text))
	default:
		return nil, false
	}
}

func formatRat(r *big.Rat) string {
	s := r.FloatString(4)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
