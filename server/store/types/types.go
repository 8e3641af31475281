// Package types provides data types for persisting server state.
package types

// StoreError satisfies Error interface but allows constant values for
// direct comparison.
type StoreError string

// Error is required by error interface.
func (s StoreError) Error() string {
	return string(s)
}

const (
	// ErrNotInitialized means the adapter has no saved state yet.
	ErrNotInitialized = StoreError("not initialized")
	// ErrNotFound means the requested object was not found.
	ErrNotFound = StoreError("not found")
	// ErrDuplicate means the object being created already exists.
	ErrDuplicate = StoreError("duplicate object")
	// ErrMalformed means the secret or object provided cannot be parsed.
	ErrMalformed = StoreError("malformed")
	// ErrInternal means the adapter failed to perform the requested operation.
	ErrInternal = StoreError("internal error")
)

// UserRec is the durable part of an account: the password digest and the
// role grants. Online state is never persisted.
type UserRec struct {
	// Hex-encoded one-way digest of the password bytes.
	Digest string `json:"digest"`
	// Role name -> level granted by holding the role.
	Roles map[string]PermLevel `json:"roles,omitempty"`
}

// ChannelRec is the durable form of one channel node.
type ChannelRec struct {
	Perms    []PermEntry            `json:"perms,omitempty"`
	Children map[string]*ChannelRec `json:"children,omitempty"`
}

// ServerState is the unit of persistence: the channel tree and the account
// registry, round-tripped as one value.
type ServerState struct {
	Root  *ChannelRec        `json:"root"`
	Users map[string]UserRec `json:"users"`
}

// Normalize re-establishes invariants which the serialized form does not
// guarantee: rule lists sorted by specificity, maps non-nil.
func (ss *ServerState) Normalize() {
	if ss.Users == nil {
		ss.Users = make(map[string]UserRec)
	}
	if ss.Root == nil {
		ss.Root = &ChannelRec{}
	}
	var walk func(*ChannelRec)
	walk = func(rec *ChannelRec) {
		SortPerms(rec.Perms)
		for _, child := range rec.Children {
			walk(child)
		}
	}
	walk(ss.Root)
}
