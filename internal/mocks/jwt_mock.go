package mocks

import "github.com/stretchr/testify/mock"

// MockJWTManager is a mock implementation of the jwt.JWTManagerInterface
type MockJWTManager struct {
	mock.Mock
}

func (m *MockJWTManager) LoadJWT() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockJWTManager) SaveJWT(token string) error {
	args := m.Called(token)
	return args.Error(0)
}

func (m *MockJWTManager) ClearJWT() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockJWTManager) GetJWT() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockJWTManager) IsJWTValid() (bool, error) {
	args := m.Called()
	return args.Bool(0), args.Error(1)
}
