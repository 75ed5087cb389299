package testutil

import "snipsync/internal/staging"

const (
	// DefaultStagingMaxSize is the default max size for test staging areas (10MB).
	DefaultStagingMaxSize = 10 * 1024 * 1024
)

// NewTestStagingArea creates a new in-memory staging area for testing.
func NewTestStagingArea() *staging.StagingArea {
	return staging.NewMemoryStagingArea(DefaultStagingMaxSize)
}

