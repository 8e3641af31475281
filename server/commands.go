/******************************************************************************
 *
 *  Description :
 *
 *    The command dispatcher: ':'-prefixed input lines parsed against the
 *    fixed grammar and executed against the tree, the account registry and
 *    the session registry. Every command either succeeds (optionally with
 *    an overlay reply), fails with exactly one command error shown to the
 *    invoking session, or quits.
 *
 *****************************************************************************/

package main

import (
	"strings"
	"unicode/utf8"

	t "github.com/slbsh/crussh/server/store/types"
)

// cmdError is the closed taxonomy of user-facing command failures. All are
// recoverable and rendered only to the invoking session.
type cmdError struct {
	msg string
}

func (e *cmdError) Error() string {
	return e.msg
}

var (
	errCmdInvalidUtf8 = &cmdError{"EUTF: invalid utf8"}
	errCmdInvalidArgs = &cmdError{"EBADA: invalid arguments"}
	errCmdInvalidPath = &cmdError{"EIPATH: invalid path"}
	errCmdInvalid     = &cmdError{"EINVAL: invalid command"}
	errCmdNotFound    = &cmdError{"ENFOUND: not found"}
	errCmdExists      = &cmdError{"EEXIST: already exists"}
	errCmdForbidden   = &cmdError{"EFRBD: forbidden"}
	errCmdUnimpl      = &cmdError{"EUNIMP: not implemented"}

	// Sentinel, never rendered: tells the editor to close the session.
	errCmdQuit = &cmdError{"QUIT"}
)

const helpText = "== Commands ==\r\n" +
	"help, h                  - show this message\r\n" +
	"clear                    - clear the terminal\r\n" +
	"quit, q                  - close the connection\r\n" +
	"reply, r <name> <msg>    - reply to a message from <name>\r\n" +
	"passwd <password>        - change your password\r\n" +
	"\r\n" +
	"useradd <name>           - create an account (admin)\r\n" +
	"passwd-reset <name>      - reset an account's password (admin)\r\n" +
	"\r\n" +
	"make-channel, mkch <path>      - create a new channel\r\n" +
	"remove-channel, rmch <path>    - remove a channel\r\n" +
	"channel, ch <path>             - move to a channel\r\n" +
	"channels, ls                   - list all channels\r\n" +
	"all-users, lsa                 - list online users\r\n" +
	"channel-perms, lsperm <path>   - list a channel's access rules\r\n"

// tokenize splits a command line on spaces, dropping empty tokens so runs
// of spaces between arguments collapse. Message text never goes through
// here; the asymmetry with verbatim message bodies is intentional and
// observable via reply.
func tokenize(line string) []string {
	var tokens []string
	for _, tok := range strings.Split(line, " ") {
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// dispatchCommand executes one trimmed, ':'-stripped command line. All
// permission checks happen before any mutation; a command error never
// leaves partial state behind. Caller holds s.mu.
func (s *Session) dispatchCommand(line []byte) error {
	if !utf8.Valid(line) {
		return errCmdInvalidUtf8
	}

	tokens := tokenize(string(line))
	if len(tokens) == 0 {
		return errCmdInvalid
	}

	srv := s.srv
	switch tokens[0] {
	case "help", "h":
		if len(tokens) != 1 {
			return errCmdInvalidArgs
		}
		s.info([]byte(helpText))

	case "quit", "q":
		if len(tokens) != 1 {
			return errCmdInvalidArgs
		}
		return errCmdQuit

	case "clear":
		if len(tokens) != 1 {
			return errCmdInvalidArgs
		}
		s.queueOut([]byte("\x1b[2J\x1b[H"))

	case "reply", "r":
		// Args are re-joined with single spaces, then split at the first
		// one: the recipient name, then the message.
		if len(tokens) < 3 {
			return errCmdInvalidArgs
		}
		name, msg, _ := strings.Cut(strings.Join(tokens[1:], " "), " ")
		name = normalizeUname(name)

		// Recipient existence is checked against the account registry,
		// not against the channel membership.
		if !srv.users.Exists(name) {
			return errCmdNotFound
		}
		if !s.mayWrite() {
			return errCmdForbidden
		}
		s.sub.Publish(Event{What: EvReply, From: s.uname, To: name, Text: msg})
		statsInc("MessagesPublished", 1)

	case "useradd":
		if len(tokens) != 2 {
			return errCmdInvalidArgs
		}
		if !srv.users.GlobalPerm(s.uname).IsManager() {
			return errCmdForbidden
		}
		pass, err := srv.users.Add(tokens[1])
		if err == t.ErrDuplicate {
			return errCmdExists
		} else if err != nil {
			return &cmdError{err.Error()}
		}
		srv.markDirty()
		s.info([]byte(pass + "\r\n"))

	case "passwd":
		if len(tokens) != 2 {
			return errCmdInvalidArgs
		}
		if err := srv.users.SetPassword(s.uname, tokens[1]); err != nil {
			return errCmdNotFound
		}
		srv.markDirty()

	case "passwd-reset":
		if len(tokens) != 2 {
			return errCmdInvalidArgs
		}
		if !srv.users.GlobalPerm(s.uname).IsManager() {
			return errCmdForbidden
		}
		pass, err := srv.users.ResetPassword(tokens[1])
		if err == t.ErrNotFound {
			return errCmdNotFound
		} else if err != nil {
			return &cmdError{err.Error()}
		}
		srv.markDirty()
		s.info([]byte(pass + "\r\n"))

	case "make-channel", "mkch":
		if len(tokens) != 2 {
			return errCmdInvalidArgs
		}
		return s.makeChannel(tokens[1])

	case "make-priv-channel", "mkchp":
		return errCmdUnimpl

	case "remove-channel", "rmch":
		if len(tokens) != 2 {
			return errCmdInvalidArgs
		}
		return s.removeChannel(tokens[1])

	case "channel", "ch":
		if len(tokens) != 2 {
			return errCmdInvalidArgs
		}
		node, err := s.resolveArg(tokens[1])
		if err != nil {
			return err
		}
		if !node.ResolvePerm(s.uname, srv.users.Roles(s.uname)).IsReader() &&
			!srv.users.GlobalPerm(s.uname).IsManager() {
			return errCmdForbidden
		}
		s.switchChannel(node)

	case "channels", "ls":
		if len(tokens) != 1 {
			return errCmdInvalidArgs
		}
		s.info(srv.root.renderTree("/"))

	case "users", "lsu":
		return errCmdUnimpl

	case "all-users", "lsa":
		if len(tokens) != 1 {
			return errCmdInvalidArgs
		}
		var list []byte
		for _, name := range srv.sessions.OnlineUsers() {
			list = append(list, name+"\r\n"...)
		}
		if len(list) == 0 {
			list = []byte("(nobody)\r\n")
		}
		s.info(list)

	case "channel-perms", "lsperm":
		if len(tokens) != 2 {
			return errCmdInvalidArgs
		}
		node, err := s.resolveArg(tokens[1])
		if err != nil {
			return err
		}
		s.info(renderPerms(node.Perms()))

	default:
		return errCmdInvalid
	}

	return nil
}

// resolveArg resolves a path argument: absolute from the root, otherwise
// relative to the session's current channel (which may already be an
// orphan; path-relative lookups still work within it).
func (s *Session) resolveArg(path string) (*Channel, error) {
	segs, abs, ok := splitPath(path)
	if !ok {
		return nil, errCmdInvalidPath
	}
	start := s.sub.Node()
	if abs {
		start = s.srv.root
	}
	node := resolvePath(start, segs)
	if node == nil {
		return nil, errCmdInvalidPath
	}
	return node, nil
}

// makeChannel creates a node under the parent named by all but the last
// path segment. Requires manage rights on the parent.
func (s *Session) makeChannel(path string) error {
	segs, abs, ok := splitPath(path)
	if !ok || len(segs) == 0 {
		return errCmdInvalidPath
	}
	start := s.sub.Node()
	if abs {
		start = s.srv.root
	}
	parent := resolvePath(start, segs[:len(segs)-1])
	if parent == nil {
		return errCmdInvalidPath
	}

	if !parent.ResolvePerm(s.uname, s.srv.users.Roles(s.uname)).IsManager() &&
		!s.srv.users.GlobalPerm(s.uname).IsManager() {
		return errCmdForbidden
	}

	// New channels are public to read/write, managed by their creator.
	perms := []t.PermEntry{
		{Class: t.RestrictAll, Level: t.PermRead | t.PermWrite},
		{Class: t.RestrictUser, Subject: s.uname, Level: t.PermRead | t.PermWrite | t.PermManage},
	}
	if _, ok := parent.createChild(segs[len(segs)-1], perms); !ok {
		return errCmdExists
	}

	statsInc("Channels", 1)
	s.srv.markDirty()
	return nil
}

// removeChannel detaches a node from its parent. Requires manage rights on
// the node itself. Sessions still subscribed keep the orphaned bus until
// they switch away.
func (s *Session) removeChannel(path string) error {
	segs, abs, ok := splitPath(path)
	if !ok || len(segs) == 0 {
		return errCmdInvalidPath
	}
	start := s.sub.Node()
	if abs {
		start = s.srv.root
	}
	parent := resolvePath(start, segs[:len(segs)-1])
	if parent == nil {
		return errCmdInvalidPath
	}
	name := segs[len(segs)-1]
	node := parent.child(name)
	if node == nil {
		return errCmdNotFound
	}

	if !node.ResolvePerm(s.uname, s.srv.users.Roles(s.uname)).IsManager() &&
		!s.srv.users.GlobalPerm(s.uname).IsManager() {
		return errCmdForbidden
	}

	if !parent.removeChild(name) {
		return errCmdNotFound
	}

	statsInc("Channels", -1)
	s.srv.markDirty()
	return nil
}
