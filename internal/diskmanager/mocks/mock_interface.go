// mock_interface.go - Mock implementation of diskmanager.Interface using testify/mock
package mock_diskmanager

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockInterface is a mock implementation of diskmanager.Interface for testing.
//
// Note: no compile-time interface assertion, it would create an import cycle
// mocks -> diskmanager -> mocks (via tests)
type MockInterface struct {
	mock.Mock
}

// BulkClearPaths mocks the BulkClearPaths method
func (m *MockInterface) BulkClearPaths(ctx context.Context, paths []string) (int64, error) {
	args := m.Called(ctx, paths)
	// Safe type assertion with ok check to avoid panics on misconfigured returns
	if n, ok := args.Get(0).(int64); ok {
		return n, args.Error(1)
	}
	return 0, args.Error(1)
}
