package model

import "time"

// Property is one published reading, as stored in the history table.
// Identifier is the key of the parent record, Slug the key of the record
// the value belongs to.
type Property struct {
	ID         int64     `json:"id"`
	TimeStamp  time.Time `json:"timestamp"`
	Unit       string    `json:"unit_of_measurement,omitempty"`
	Value      string    `json:"value"`
	Identifier string    `json:"identifier"`
	Slug       string    `json:"slug"`
}

type Properties []Property
