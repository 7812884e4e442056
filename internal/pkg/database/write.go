package database

import (
	"context"

	"github.com/anicoll/froeling-integration/internal/pkg/model"
)

func (d *Database) Write(ctx context.Context, data model.Properties) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, record := range data {
		if _, err := tx.Exec(ctx, `
			INSERT INTO Property (time_stamp, unit_of_measurement, value, identifier, slug)
			VALUES ($1, $2, $3, $4, $5)
		`, record.TimeStamp, record.Unit, record.Value, record.Identifier, record.Slug); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// RegisterDevice upserts the descriptive fields of a record.
func (d *Database) RegisterDevice(ctx context.Context, sensor model.Sensor) error {
	var parentKey *string
	if !sensor.Record.IsParent {
		parentKey = &sensor.Record.ParentIdentifier
	}
	_, err := d.pool.Exec(ctx, `
		INSERT INTO Device (key, unique_id, parent_key, display_name, unit_of_measurement, device_type, device_class)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE SET
			unique_id = EXCLUDED.unique_id,
			parent_key = EXCLUDED.parent_key,
			display_name = EXCLUDED.display_name,
			unit_of_measurement = EXCLUDED.unit_of_measurement,
			device_type = EXCLUDED.device_type,
			device_class = EXCLUDED.device_class,
			updated_at = now();`,
		sensor.Record.Key,
		sensor.Record.UniqueID,
		parentKey,
		sensor.Record.DisplayName,
		sensor.Unit,
		sensor.Record.Type.String(),
		sensor.DeviceClass,
	)
	return err
}
