package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/benmeehan/sos-agent/internal/models"
)

// MockBackend is a mock implementation of the backend client used by the services
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) ListDevices(ctx context.Context, token string) ([]models.Device, error) {
	args := m.Called(ctx, token)
	devices, _ := args.Get(0).([]models.Device)
	return devices, args.Error(1)
}

func (m *MockBackend) SubmitDeviceLocation(ctx context.Context, token, deviceID string, submission models.LocationSubmission) error {
	args := m.Called(ctx, token, deviceID, submission)
	return args.Error(0)
}

func (m *MockBackend) TriggerSOS(ctx context.Context, token string, req models.SOSTriggerRequest) (*models.SOSResult, error) {
	args := m.Called(ctx, token, req)
	result, _ := args.Get(0).(*models.SOSResult)
	return result, args.Error(1)
}

// MockNotifier is a mock implementation of the services.Notifier interface
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(n models.Notification) {
	m.Called(n)
}
