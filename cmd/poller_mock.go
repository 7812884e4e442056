package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/anicoll/froeling-integration/internal/pkg/coordinator"
	"github.com/anicoll/froeling-integration/internal/pkg/model"
)

// MockPoller is a mock implementation of the Poller interface.
type MockPoller struct {
	RunFunc       func(ctx context.Context) error
	SubscribeFunc func() (<-chan coordinator.Event, func())
	SnapshotFunc  func() *model.Snapshot
	RefreshFunc   func(ctx context.Context) error
	StatusFunc    func() coordinator.Status
}

func (m *MockPoller) Run(ctx context.Context) error {
	if m.RunFunc != nil {
		return m.RunFunc(ctx)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *MockPoller) Subscribe() (<-chan coordinator.Event, func()) {
	if m.SubscribeFunc != nil {
		return m.SubscribeFunc()
	}
	// a channel that never sends
	return make(chan coordinator.Event), func() {}
}

func (m *MockPoller) Snapshot() *model.Snapshot {
	if m.SnapshotFunc != nil {
		return m.SnapshotFunc()
	}
	return nil
}

func (m *MockPoller) GetDeviceByKey(key string) (model.DeviceRecord, bool) {
	return m.Snapshot().Get(key)
}

func (m *MockPoller) Refresh(ctx context.Context) error {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx)
	}
	return errors.New("mocked Refresh not implemented")
}

func (m *MockPoller) Status() coordinator.Status {
	if m.StatusFunc != nil {
		return m.StatusFunc()
	}
	return coordinator.Status{State: coordinator.StateIdle.String()}
}

// MockStore is a mock implementation of the Store interface.
type MockStore struct {
	CleanupFunc       func(ctx context.Context, retentionDays int) (int64, error)
	GetPropertiesFunc func(ctx context.Context, slug string, from, to *time.Time) (model.Properties, error)
}

func (m *MockStore) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if m.CleanupFunc != nil {
		return m.CleanupFunc(ctx, retentionDays)
	}
	return 0, nil
}

func (m *MockStore) GetProperties(ctx context.Context, slug string, from, to *time.Time) (model.Properties, error) {
	if m.GetPropertiesFunc != nil {
		return m.GetPropertiesFunc(ctx, slug, from, to)
	}
	return model.Properties{}, nil
}
