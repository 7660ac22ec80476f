// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/moodlens/api/schemas"
)

// -- Analyzer Mock --

// MockAnalyzer mocks schemas.Analyzer.
type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) Analyze(ctx context.Context, image []byte, mimeType string) (*schemas.ExpressionResult, error) {
	args := m.Called(ctx, image, mimeType)
	var res *schemas.ExpressionResult
	if r := args.Get(0); r != nil {
		res = r.(*schemas.ExpressionResult)
	}
	return res, args.Error(1)
}

// -- Frame Source Mocks --

// MockDeviceHandle is a named device handle.
type MockDeviceHandle struct {
	Name string
}

func (h *MockDeviceHandle) Device() string { return h.Name }

// MockFrameSource mocks schemas.FrameSource and counts open handles so tests
// can check that every acquisition is released.
type MockFrameSource struct {
	mock.Mock

	mu   sync.Mutex
	open int
}

func (m *MockFrameSource) Acquire(ctx context.Context) (schemas.DeviceHandle, error) {
	args := m.Called(ctx)
	var h schemas.DeviceHandle
	if v := args.Get(0); v != nil {
		h = v.(schemas.DeviceHandle)
	}
	if err := args.Error(1); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.open++
	m.mu.Unlock()
	return h, nil
}

func (m *MockFrameSource) Capture(ctx context.Context, h schemas.DeviceHandle) (schemas.Frame, error) {
	args := m.Called(ctx, h)
	return args.Get(0).(schemas.Frame), args.Error(1)
}

func (m *MockFrameSource) Release(h schemas.DeviceHandle) error {
	args := m.Called(h)
	m.mu.Lock()
	m.open--
	m.mu.Unlock()
	return args.Error(0)
}

// OpenHandles returns acquisitions not yet released.
func (m *MockFrameSource) OpenHandles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// -- Store Mock --

// MockResultStore mocks schemas.ResultStore.
type MockResultStore struct {
	mock.Mock
}

func (m *MockResultStore) SaveResult(ctx context.Context, result schemas.ExpressionResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}

func (m *MockResultStore) RecentResults(ctx context.Context, limit int) ([]schemas.ExpressionResult, error) {
	args := m.Called(ctx, limit)
	var out []schemas.ExpressionResult
	if v := args.Get(0); v != nil {
		out = v.([]schemas.ExpressionResult)
	}
	return out, args.Error(1)
}

func (m *MockResultStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
