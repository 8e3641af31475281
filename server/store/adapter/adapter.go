// Package adapter contains the interfaces to be implemented by the
// state persistence adapter.
package adapter

import (
	"github.com/slbsh/crussh/server/store/types"
)

// Adapter is the interface which must be implemented by a persistence
// backend. The server state is saved and loaded as one opaque unit.
type Adapter interface {
	// Open and configure the adapter.
	Open(jsonconf string) error
	// Close the adapter.
	Close() error
	// IsOpen checks if the adapter is ready for use.
	IsOpen() bool
	// GetName returns the name of the adapter.
	GetName() string

	// Load reads the last saved server state. Returns
	// types.ErrNotInitialized if nothing has been saved yet.
	Load() (*types.ServerState, error)
	// Save replaces the stored server state.
	Save(*types.ServerState) error
}
