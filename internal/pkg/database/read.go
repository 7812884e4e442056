package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/anicoll/froeling-integration/internal/pkg/model"
)

const defaultHistory = 48 * time.Hour

// GetProperties returns the readings of one record between from and to,
// newest first. Without a window the last two days are returned.
func (db *Database) GetProperties(ctx context.Context, slug string, from, to *time.Time) (model.Properties, error) {
	if from == nil || to == nil {
		now := time.Now()
		start := now.Add(-defaultHistory)
		from, to = &start, &now
	}
	const query = `
	SELECT id, time_stamp, unit_of_measurement, value, identifier, slug
	FROM Property
	WHERE slug = $1 AND time_stamp BETWEEN $2 AND $3
	ORDER BY time_stamp DESC;
	`

	rows, err := db.pool.Query(ctx, query, slug, *from, *to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanProperties(rows)
}

func scanProperties(rows pgx.Rows) (model.Properties, error) {
	properties := model.Properties{}
	for rows.Next() {
		var property model.Property
		if err := rows.Scan(&property.ID, &property.TimeStamp, &property.Unit, &property.Value, &property.Identifier, &property.Slug); err != nil {
			return nil, err
		}
		properties = append(properties, property)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return properties, nil
}

// GetLatestProperties returns the newest reading of every record.
func (db *Database) GetLatestProperties(ctx context.Context) (model.Properties, error) {
	const query = `
	SELECT DISTINCT ON (slug) id, time_stamp, unit_of_measurement, value, identifier, slug
	FROM Property
	ORDER BY slug, time_stamp DESC;
	`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanProperties(rows)
}
