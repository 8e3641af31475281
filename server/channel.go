/******************************************************************************
 *
 *  Description :
 *
 *    The channel tree. Each node owns its access rules, its children and
 *    its event bus, and is locked independently: resolution walks one
 *    segment at a time, never holding a lock across the whole walk.
 *
 *****************************************************************************/

package main

import (
	"sort"
	"strings"
	"sync"

	t "github.com/slbsh/crussh/server/store/types"
)

// Channel is one named node in the tree.
type Channel struct {
	mu sync.RWMutex

	// Access rules, kept sorted by specificity (user < role < all).
	perms []t.PermEntry
	// Child name -> owned child node.
	children map[string]*Channel

	bus *EventBus
}

func newChannel(perms []t.PermEntry) *Channel {
	t.SortPerms(perms)
	return &Channel{
		perms:    perms,
		children: make(map[string]*Channel),
		bus:      newEventBus(),
	}
}

// Subscribe binds a new subscription to this node's bus.
func (c *Channel) Subscribe() *Subscription {
	return &Subscription{
		sub:  c.bus.Subscribe(),
		bus:  c.bus,
		node: c,
	}
}

// ResolvePerm computes the caller's level on this channel from the
// channel-local rules only. The global admin override is checked by the
// dispatcher in addition to this.
func (c *Channel) ResolvePerm(uname string, roles map[string]t.PermLevel) t.PermLevel {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return t.ResolvePerm(c.perms, uname, roles)
}

// Perms returns a copy of the rule list.
func (c *Channel) Perms() []t.PermEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]t.PermEntry(nil), c.perms...)
}

// child looks up an immediate child. The read lock covers only this one
// lookup, so concurrent mutation elsewhere in the tree may interleave with
// a longer walk; each hop is still atomic.
func (c *Channel) child(name string) *Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.children[name]
}

// createChild inserts a new node. Returns false if the name is taken.
func (c *Channel) createChild(name string, perms []t.PermEntry) (*Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.children[name]; ok {
		return nil, false
	}
	child := newChannel(perms)
	c.children[name] = child
	return child, true
}

// removeChild detaches a node from the tree. The node's bus keeps working
// for already subscribed sessions; the orphan is collected once they all
// switch away. Returns false if the name is absent.
func (c *Channel) removeChild(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.children[name]; !ok {
		return false
	}
	delete(c.children, name)
	return true
}

// childNames returns the sorted names of immediate children.
func (c *Channel) childNames() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.children))
	for name := range c.children {
		names = append(names, name)
	}
	c.mu.RUnlock()

	sort.Strings(names)
	return names
}

// splitPath breaks a /-delimited path into segments. A leading slash makes
// the path absolute. Empty segments (doubled or trailing slashes) make the
// path invalid, except the bare root path "/".
func splitPath(path string) (segs []string, abs, ok bool) {
	if path == "" {
		return nil, false, false
	}
	if path == "/" {
		return nil, true, true
	}

	abs = strings.HasPrefix(path, "/")
	if abs {
		path = path[1:]
	}
	segs = strings.Split(path, "/")
	for _, seg := range segs {
		if seg == "" {
			return nil, false, false
		}
	}
	return segs, abs, true
}

// resolvePath walks the tree one segment at a time starting from the given
// node. Returns nil when any segment is missing.
func resolvePath(start *Channel, segs []string) *Channel {
	node := start
	for _, seg := range segs {
		if node = node.child(seg); node == nil {
			return nil
		}
	}
	return node
}

// renderTree draws the subtree with box connectors, one name per line, the
// way it is shown to the user by the channels listing.
func (c *Channel) renderTree(name string) []byte {
	var buf []byte
	var draw func(name string, node *Channel, prefix string, last bool)
	draw = func(name string, node *Channel, prefix string, last bool) {
		conn := ""
		if prefix != "" || name != "/" {
			conn = "├─"
			if last {
				conn = "└─"
			}
		}
		buf = append(buf, prefix+conn+name+"\r\n"...)

		childPrefix := prefix
		if conn != "" {
			if last {
				childPrefix += "   "
			} else {
				childPrefix += "│  "
			}
		}
		names := node.childNames()
		for i, n := range names {
			draw(n, node.child(n), childPrefix, i == len(names)-1)
		}
	}
	draw(name, c, "", true)
	return buf
}

// renderPerms formats the rule list for the channel-perms listing.
func renderPerms(perms []t.PermEntry) []byte {
	var buf []byte
	for _, pe := range perms {
		line := pe.Class.String()
		if pe.Subject != "" {
			line += " " + ansiBold + pe.Subject + ansiReset
		}
		buf = append(buf, line+": "+pe.Level.String()+"\r\n"...)
	}
	if len(buf) == 0 {
		buf = []byte("(no rules)\r\n")
	}
	return buf
}
