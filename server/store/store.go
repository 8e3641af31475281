// Package store provides methods for registering and accessing persistence
// adapters.
package store

import (
	"encoding/json"
	"errors"

	"github.com/slbsh/crussh/server/store/adapter"
	"github.com/slbsh/crussh/server/store/types"
)

var adp adapter.Adapter
var availableAdapters = make(map[string]adapter.Adapter)

// Unique ID generator.
var uGen types.UidGenerator

type configType struct {
	// Adapter name to use. Should be one of those specified in `Adapters`.
	UseAdapter string `json:"use_adapter"`
	// Configurations for individual adapters.
	Adapters map[string]json.RawMessage `json:"adapters"`
}

// Open initializes the persistence system. Adapter name and configuration
// come from the `store_config` section of the config file.
func Open(workerID int, jsonconf string) error {
	var config configType
	if err := json.Unmarshal([]byte(jsonconf), &config); err != nil {
		return errors.New("store: failed to parse config: " + err.Error() + "(" + jsonconf + ")")
	}

	if adp == nil {
		if len(config.UseAdapter) > 0 {
			// Adapter name specified explicitly.
			if ad, ok := availableAdapters[config.UseAdapter]; ok {
				adp = ad
			} else {
				return errors.New("store: " + config.UseAdapter + " adapter is not available in this binary")
			}
		} else if len(availableAdapters) == 1 {
			// Default to the only entry in availableAdapters.
			for _, v := range availableAdapters {
				adp = v
			}
		} else {
			return errors.New("store: adapter is not specified. Please set `store_config.use_adapter`")
		}
	}

	if adp.IsOpen() {
		return errors.New("store: connection is already opened")
	}

	if workerID < 0 || workerID > 1023 {
		return errors.New("store: invalid worker ID")
	}
	if err := uGen.Init(uint(workerID)); err != nil {
		return errors.New("store: failed to init snowflake: " + err.Error())
	}

	var adapterConfig json.RawMessage
	if config.Adapters != nil {
		adapterConfig = config.Adapters[adp.GetName()]
	}

	return adp.Open(string(adapterConfig))
}

// Close terminates the persistence system.
func Close() error {
	if adp != nil && adp.IsOpen() {
		return adp.Close()
	}
	return nil
}

// GetAdapterName returns the name of the active adapter.
func GetAdapterName() string {
	if adp == nil {
		return ""
	}
	return adp.GetName()
}

// RegisterAdapter makes a persistence adapter available by the provided
// name. If Register is called twice or if the adapter is nil, it panics.
func RegisterAdapter(a adapter.Adapter) {
	if a == nil {
		panic("store: Register adapter is nil")
	}

	name := a.GetName()
	if _, dup := availableAdapters[name]; dup {
		panic("store: adapter '" + name + "' is already registered")
	}
	availableAdapters[name] = a
}

// GetUidString returns a new unique id as a string.
func GetUidString() string {
	return uGen.GetStr()
}

// Load reads the saved server state, falling back to the default state when
// the adapter has nothing.
func Load() (*types.ServerState, error) {
	if adp == nil || !adp.IsOpen() {
		return nil, types.ErrNotInitialized
	}
	state, err := adp.Load()
	if err == types.ErrNotInitialized {
		return DefaultState(), nil
	}
	if err != nil {
		return nil, err
	}
	state.Normalize()
	return state, nil
}

// Save replaces the stored server state.
func Save(state *types.ServerState) error {
	if adp == nil || !adp.IsOpen() {
		return types.ErrNotInitialized
	}
	return adp.Save(state)
}

// DefaultState is the state of a server which has never been saved: one
// general channel under the root and one privileged account.
func DefaultState() *types.ServerState {
	return &types.ServerState{
		Root: &types.ChannelRec{
			Children: map[string]*types.ChannelRec{
				"general": {
					Perms: []types.PermEntry{
						{Class: types.RestrictAll, Level: types.PermRead | types.PermWrite},
					},
				},
			},
		},
		Users: map[string]types.UserRec{
			"admin": {
				// Digest of "admin". Must be changed with :passwd on first login.
				Digest: "8c6976e5b5410415bde908bd4dee15dfb167a9c873fc4bb8a81f6f2ab448a918",
				Roles: map[string]types.PermLevel{
					"admin": types.PermRead | types.PermWrite | types.PermManage,
				},
			},
		},
	}
}
