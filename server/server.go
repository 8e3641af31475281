/******************************************************************************
 *
 *  Description :
 *
 *    The shared server context: channel tree root, account registry, live
 *    session registry, and the debounced state saver. Passed down
 *    explicitly to sessions and the dispatcher, never a hidden global.
 *
 *****************************************************************************/

package main

import (
	"github.com/slbsh/crussh/server/logs"
	"github.com/slbsh/crussh/server/store"
	t "github.com/slbsh/crussh/server/store/types"
)

// Server ties the durable state (tree + accounts) to the live one
// (sessions). Tree nodes and the registry carry their own locks; Server
// itself holds none.
type Server struct {
	root     *Channel
	users    *UserRegistry
	sessions *SessionStore

	defaultChannel string
	maxInputLen    int

	// Dirty marker for the saver goroutine, capacity 1.
	dirty chan struct{}
}

func newServer(state *t.ServerState, defaultChannel string, maxInputLen int) *Server {
	srv := &Server{
		root:           buildTree(state.Root),
		users:          newUserRegistry(state.Users),
		sessions:       NewSessionStore(),
		defaultChannel: defaultChannel,
		maxInputLen:    maxInputLen,
		dirty:          make(chan struct{}, 1),
	}
	go srv.saveLoop()
	return srv
}

// buildTree turns persisted channel records into live nodes.
func buildTree(rec *t.ChannelRec) *Channel {
	node := newChannel(append([]t.PermEntry(nil), rec.Perms...))
	for name, childRec := range rec.Children {
		node.children[name] = buildTree(childRec)
	}
	return node
}

// snapshot captures the durable state under per-node read locks. Orphaned
// channels are not part of the tree and are not captured.
func (srv *Server) snapshot() *t.ServerState {
	var walk func(*Channel) *t.ChannelRec
	walk = func(node *Channel) *t.ChannelRec {
		rec := &t.ChannelRec{Perms: node.Perms()}
		for _, name := range node.childNames() {
			if child := node.child(name); child != nil {
				if rec.Children == nil {
					rec.Children = make(map[string]*t.ChannelRec)
				}
				rec.Children[name] = walk(child)
			}
		}
		return rec
	}

	return &t.ServerState{
		Root:  walk(srv.root),
		Users: srv.users.snapshot(),
	}
}

// markDirty schedules a state save. Never blocks: command paths must not
// wait on I/O.
func (srv *Server) markDirty() {
	select {
	case srv.dirty <- struct{}{}:
	default:
	}
}

// saveLoop serializes all state saves on one goroutine.
func (srv *Server) saveLoop() {
	for range srv.dirty {
		if err := store.Save(srv.snapshot()); err != nil {
			logs.Error.Println("state save failed:", err)
		}
	}
}

// shutdown saves state one final time, synchronously.
func (srv *Server) shutdown() {
	if err := store.Save(srv.snapshot()); err != nil {
		logs.Error.Println("final state save failed:", err)
	}
}

// defaultNode returns the channel new sessions land in; falls back to the
// root if the configured default is missing.
func (srv *Server) defaultNode() *Channel {
	if node := srv.root.child(srv.defaultChannel); node != nil {
		return node
	}
	logs.Warning.Println("default channel missing:", srv.defaultChannel)
	return srv.root
}
