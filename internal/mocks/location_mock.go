package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/benmeehan/sos-agent/pkg/location"
)

// MockLocationProvider is a mock implementation of the location.Provider interface
type MockLocationProvider struct {
	mock.Mock
}

func (m *MockLocationProvider) PermissionStatus(ctx context.Context) (location.Permission, error) {
	args := m.Called(ctx)
	return args.Get(0).(location.Permission), args.Error(1)
}

func (m *MockLocationProvider) RequestPermission(ctx context.Context) (location.Permission, error) {
	args := m.Called(ctx)
	return args.Get(0).(location.Permission), args.Error(1)
}

func (m *MockLocationProvider) CurrentPosition(ctx context.Context, accuracy location.Accuracy) (location.Position, error) {
	args := m.Called(ctx, accuracy)
	return args.Get(0).(location.Position), args.Error(1)
}

func (m *MockLocationProvider) Watch(ctx context.Context, opts location.WatchOptions, onPosition func(location.Position)) (location.Subscription, error) {
	args := m.Called(ctx, opts, onPosition)
	sub, _ := args.Get(0).(location.Subscription)
	return sub, args.Error(1)
}

func (m *MockLocationProvider) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockSubscription is a mock implementation of the location.Subscription interface
type MockSubscription struct {
	mock.Mock
}

func (m *MockSubscription) Cancel() {
	m.Called()
}
