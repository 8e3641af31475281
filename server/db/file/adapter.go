// Package file implements the default persistence adapter: the whole server
// state as one JSON document on disk, replaced atomically on save.
package file

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/slbsh/crussh/server/store"
	t "github.com/slbsh/crussh/server/store/types"
)

// adapter holds the file adapter state.
type adapter struct {
	filename string
	isOpen   bool
}

const (
	defaultFilename = "state.json"

	adapterName = "file"
)

type configType struct {
	Filename string `json:"filename,omitempty"`
}

// Open parses the config and remembers the state file location.
func (a *adapter) Open(jsonconf string) error {
	if a.isOpen {
		return errors.New("adapter file is already open")
	}

	a.filename = defaultFilename
	if jsonconf != "" {
		var config configType
		if err := json.Unmarshal([]byte(jsonconf), &config); err != nil {
			return errors.New("adapter file failed to parse config: " + err.Error())
		}
		if config.Filename != "" {
			a.filename = config.Filename
		}
	}

	a.isOpen = true
	return nil
}

// Close closes the adapter.
func (a *adapter) Close() error {
	a.isOpen = false
	return nil
}

// IsOpen returns true if the adapter is ready for use.
func (a *adapter) IsOpen() bool {
	return a.isOpen
}

// GetName returns the name of the adapter.
func (a *adapter) GetName() string {
	return adapterName
}

// Load reads the state file.
func (a *adapter) Load() (*t.ServerState, error) {
	raw, err := os.ReadFile(a.filename)
	if os.IsNotExist(err) {
		return nil, t.ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, t.ErrNotInitialized
	}

	var state t.ServerState
	if err = json.Unmarshal(raw, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Save writes the state to a temporary file in the same directory, then
// renames it over the old one so a crash mid-write never loses the previous
// snapshot.
func (a *adapter) Save(state *t.ServerState) error {
	raw, err := json.MarshalIndent(state, "", "\t")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(a.filename), ".state-*")
	if err != nil {
		return err
	}
	if _, err = tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), a.filename)
}

func init() {
	store.RegisterAdapter(&adapter{})
}
