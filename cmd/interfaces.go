package cmd

import (
	"context"
	"time"

	"github.com/anicoll/froeling-integration/internal/pkg/coordinator"
	"github.com/anicoll/froeling-integration/internal/pkg/model"
)

// Poller defines what cmd.run expects from the polling coordinator.
type Poller interface {
	Run(ctx context.Context) error
	Subscribe() (<-chan coordinator.Event, func())
	// Methods needed by server.New(poller, store)
	Snapshot() *model.Snapshot
	GetDeviceByKey(key string) (model.DeviceRecord, bool)
	Refresh(ctx context.Context) error
	Status() coordinator.Status
}

// Store is the history database as used by the cleanup job and the API.
type Store interface {
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
	GetProperties(ctx context.Context, slug string, from, to *time.Time) (model.Properties, error)
}
