package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gosimple/slug"

	"github.com/anicoll/froeling-integration/internal/pkg/model"
)

// Write publishes each reading to its state topic.
func (s *Service) Write(ctx context.Context, data model.Properties) error {
	for _, d := range data {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.PublishData(d); err != nil {
			return err
		}
	}
	return nil
}

// RegisterDevice publishes the retained Home Assistant discovery config of a
// sensor.
func (s *Service) RegisterDevice(_ context.Context, sensor model.Sensor) error {
	registerMessage := s.registerMsg(sensor)
	topic := fmt.Sprintf("%s/sensor/%s/config", s.discoveryPrefix, registerMessage.ObjectID)

	payload, err := json.Marshal(registerMessage)
	if err != nil {
		return err
	}
	token := s.client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing %s", topic)
	}
	return token.Error()
}

func (s *Service) PublishData(data model.Property) error {
	topic := s.stateTopic(objectID(data.Slug))

	payload := map[string]string{
		"value": data.Value,
	}
	if data.Unit != "" {
		payload["unit_of_measurement"] = data.Unit
	}

	publishData, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	token := s.client.Publish(topic, 0, false, publishData)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing %s", topic)
	}
	return token.Error()
}

func (s *Service) stateTopic(id string) string {
	return fmt.Sprintf("%s/%s/state", s.statePrefix, id)
}

func objectID(key string) string {
	return slug.Make(key)
}

func (s *Service) registerMsg(sensor model.Sensor) model.RegisterMessage {
	id := objectID(sensor.Slug())
	return model.RegisterMessage{
		Tilda:             fmt.Sprintf("%s/%s", s.statePrefix, id),
		Name:              sensor.Record.DisplayName,
		ID:                sensor.Record.UniqueID,
		ObjectID:          id,
		StateTopic:        "~/state",
		ValueTemplate:     "{{ value_json.value }}",
		UnitOfMeasurement: sensor.Unit,
		DeviceClass:       sensor.DeviceClass,
		StateClass:        sensor.StateClass,
		Icon:              sensor.Record.Icon,
		Device: model.RegisterDevice{
			Name:         sensor.Parent.DisplayName,
			Identifiers:  []string{sensor.Parent.UniqueID},
			Model:        deviceModel,
			Manufacturer: manufacturer,
		},
	}
}
