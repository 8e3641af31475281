package main

import (
	"bytes"
	"testing"

	t "github.com/slbsh/crussh/server/store/types"
)

func TestTokenize(tt *testing.T) {
	cases := []struct {
		line   string
		tokens []string
	}{
		{"", nil},
		{"   ", nil},
		{"r bob hi", []string{"r", "bob", "hi"}},
		{"r   bob   hi  there", []string{"r", "bob", "hi", "there"}},
	}
	for _, tc := range cases {
		got := tokenize(tc.line)
		if len(got) != len(tc.tokens) {
			tt.Errorf("tokenize(%q): %v", tc.line, got)
			continue
		}
		for i := range got {
			if got[i] != tc.tokens[i] {
				tt.Errorf("tokenize(%q): %v", tc.line, got)
				break
			}
		}
	}
}

func TestCommandHelp(tt *testing.T) {
	srv := newTestServer()
	s := newTestSession(srv, "alice", "s1")

	if err := runCommand(s, "help"); err != nil {
		tt.Fatal(err)
	}
	if s.overlay == nil || !bytes.Contains(s.overlay, []byte("== Commands ==")) {
		tt.Error("help overlay missing")
	}
	if err := runCommand(s, "h extra"); err != errCmdInvalidArgs {
		tt.Errorf("expected EBADA for excess args, got %v", err)
	}
}

func TestCommandQuit(tt *testing.T) {
	srv := newTestServer()
	s := newTestSession(srv, "alice", "s1")

	if err := runCommand(s, "q"); err != errCmdQuit {
		tt.Errorf("expected the quit sentinel, got %v", err)
	}
}

func TestCommandClear(tt *testing.T) {
	srv := newTestServer()
	s := newTestSession(srv, "alice", "s1")

	if err := runCommand(s, "clear"); err != nil {
		tt.Fatal(err)
	}
	if out := drainOut(s); !bytes.Equal([]byte("\x1b[2J\x1b[H"), out) {
		tt.Errorf("clear emitted %q", out)
	}
}

func TestCommandReplyCollapsesArgSpaces(tt *testing.T) {
	srv := newTestServer()
	addUser(srv, "bob", "pw", nil)
	s := newTestSession(srv, "alice", "s1")

	// Runs of spaces between the command and the name collapse; the
	// message body is whatever follows the first space after the name.
	if err := runCommand(s, "r   bob   hi  there"); err != nil {
		tt.Fatal(err)
	}

	ev, _, ok := s.sub.sub.TryRecv()
	if !ok || ev.What != EvReply {
		tt.Fatalf("expected a reply event, got ok=%v %+v", ok, ev)
	}
	if ev.From != "alice" || ev.To != "bob" || ev.Text != "hi there" {
		tt.Errorf("reply fields: %+v", ev)
	}
}

func TestCommandReplyErrors(tt *testing.T) {
	srv := newTestServer()
	s := newTestSession(srv, "alice", "s1")

	if err := runCommand(s, "reply bob"); err != errCmdInvalidArgs {
		tt.Errorf("missing message: got %v", err)
	}
	if err := runCommand(s, "reply nobody hi"); err != errCmdNotFound {
		tt.Errorf("unknown recipient: got %v", err)
	}

	// Recipient lookup is case-insensitive via name normalization.
	addUser(srv, "bob", "pw", nil)
	if err := runCommand(s, "reply BOB hi"); err != nil {
		tt.Errorf("normalized recipient: got %v", err)
	}
}

func TestCommandUseradd(tt *testing.T) {
	srv := newTestServer()
	alice := newTestSession(srv, "alice", "s1")
	admin := newTestSession(srv, "admin", "s2")

	if err := runCommand(alice, "useradd carol"); err != errCmdForbidden {
		tt.Errorf("non-admin useradd: got %v", err)
	}

	if err := runCommand(admin, "useradd carol"); err != nil {
		tt.Fatal(err)
	}
	// The one-time password is shown only to the admin, as an overlay.
	if admin.overlay == nil || len(bytes.TrimSpace(admin.overlay)) != passwordLength {
		tt.Errorf("password overlay: %q", admin.overlay)
	}
	if !srv.users.Exists("carol") {
		tt.Error("account not created")
	}

	if err := runCommand(admin, "useradd carol"); err != errCmdExists {
		tt.Errorf("duplicate useradd: got %v", err)
	}
}

func TestCommandPasswd(tt *testing.T) {
	srv := newTestServer()
	addUser(srv, "alice", "old", nil)
	s := newTestSession(srv, "alice", "s1")

	if err := runCommand(s, "passwd newpass"); err != nil {
		tt.Fatal(err)
	}
	if !srv.users.Authenticate("alice", "newpass") || srv.users.Authenticate("alice", "old") {
		tt.Error("password not replaced")
	}
}

func TestCommandPasswdReset(tt *testing.T) {
	srv := newTestServer()
	addUser(srv, "alice", "old", nil)
	alice := newTestSession(srv, "alice", "s1")
	admin := newTestSession(srv, "admin", "s2")

	if err := runCommand(alice, "passwd-reset admin"); err != errCmdForbidden {
		tt.Errorf("non-admin reset: got %v", err)
	}
	if err := runCommand(admin, "passwd-reset nobody"); err != errCmdNotFound {
		tt.Errorf("unknown account: got %v", err)
	}

	if err := runCommand(admin, "passwd-reset alice"); err != nil {
		tt.Fatal(err)
	}
	pass := string(bytes.TrimSpace(admin.overlay))
	if len(pass) != passwordLength {
		tt.Fatalf("password overlay: %q", admin.overlay)
	}
	if !srv.users.Authenticate("alice", pass) || srv.users.Authenticate("alice", "old") {
		tt.Error("digest not replaced with the shown password")
	}
}

func TestCommandMakeChannel(tt *testing.T) {
	srv := newTestServer()
	alice := newTestSession(srv, "alice", "s1")
	admin := newTestSession(srv, "admin", "s2")

	// The general channel grants everyone RW, not M: creation under it is
	// refused until a manage grant applies.
	if err := runCommand(alice, "mkch sub"); err != errCmdForbidden {
		tt.Errorf("unprivileged mkch: got %v", err)
	}

	if err := runCommand(admin, "mkch sub"); err != nil {
		tt.Fatal(err)
	}
	sub := srv.root.child("general").child("sub")
	if sub == nil {
		tt.Fatal("channel not created")
	}

	// New channels are public RW with the creator as manager.
	if lvl := sub.ResolvePerm("alice", nil); lvl != t.PermRead|t.PermWrite {
		tt.Errorf("default grant: %s", lvl)
	}
	if lvl := sub.ResolvePerm("admin", nil); !lvl.IsManager() {
		tt.Errorf("creator grant: %s", lvl)
	}

	if err := runCommand(admin, "mkch sub"); err != errCmdExists {
		tt.Errorf("duplicate mkch: got %v", err)
	}
	if err := runCommand(admin, "mkch /missing/deep"); err != errCmdInvalidPath {
		tt.Errorf("missing parent: got %v", err)
	}
	if err := runCommand(admin, "mkch bad//path"); err != errCmdInvalidPath {
		tt.Errorf("malformed path: got %v", err)
	}
}

func TestCommandMakeChannelAbsolutePath(tt *testing.T) {
	srv := newTestServer()
	admin := newTestSession(srv, "admin", "s1")

	if err := runCommand(admin, "mkch /random"); err != nil {
		tt.Fatal(err)
	}
	if srv.root.child("random") == nil {
		tt.Error("absolute path did not create under the root")
	}
}

func TestCommandCreatorCanRemoveOwnChannel(tt *testing.T) {
	srv := newTestServer()
	// A role with a manage grant on general lets alice create below it.
	addUser(srv, "alice", "pw", map[string]t.PermLevel{"builders": t.PermRead})
	general := srv.root.child("general")
	general.mu.Lock()
	general.perms = append(general.perms, t.PermEntry{
		Class: t.RestrictRole, Subject: "builders",
		Level: t.PermRead | t.PermWrite | t.PermManage,
	})
	t.SortPerms(general.perms)
	general.mu.Unlock()

	alice := newTestSession(srv, "alice", "s1")
	if err := runCommand(alice, "mkch mine"); err != nil {
		tt.Fatal(err)
	}

	// Removal needs manage on the target itself; the creator holds it.
	bob := newTestSession(srv, "bob", "s2")
	if err := runCommand(bob, "rmch mine"); err != errCmdForbidden {
		tt.Errorf("non-manager rmch: got %v", err)
	}
	if err := runCommand(alice, "rmch mine"); err != nil {
		tt.Fatal(err)
	}
	if general.child("mine") != nil {
		tt.Error("channel not removed")
	}
	if err := runCommand(alice, "rmch mine"); err != errCmdNotFound {
		tt.Errorf("repeat rmch: got %v", err)
	}
}

func TestCommandChannelSwitch(tt *testing.T) {
	srv := newTestServer()
	srv.root.createChild("open", []t.PermEntry{
		{Class: t.RestrictAll, Level: t.PermRead | t.PermWrite},
	})
	srv.root.createChild("vault", []t.PermEntry{
		{Class: t.RestrictAll, Level: t.PermNone},
	})
	alice := newTestSession(srv, "alice", "s1")
	admin := newTestSession(srv, "admin", "s2")

	if err := runCommand(alice, "ch /open"); err != nil {
		tt.Fatal(err)
	}
	if alice.sub.Node() != srv.root.child("open") {
		tt.Error("not moved to the target channel")
	}

	// No read grant, no entry. The admin override still applies.
	if err := runCommand(alice, "ch /vault"); err != errCmdForbidden {
		tt.Errorf("unreadable channel: got %v", err)
	}
	if err := runCommand(admin, "ch /vault"); err != nil {
		tt.Errorf("admin override: got %v", err)
	}

	if err := runCommand(alice, "ch /missing"); err != errCmdInvalidPath {
		tt.Errorf("missing channel: got %v", err)
	}

	// The root carries no rules, so only the override grants entry.
	if err := runCommand(alice, "ch /"); err != errCmdForbidden {
		tt.Errorf("ruleless root: got %v", err)
	}
	if err := runCommand(admin, "ch /"); err != nil {
		tt.Errorf("admin switch to root: got %v", err)
	}
}

func TestCommandChannelList(tt *testing.T) {
	srv := newTestServer()
	s := newTestSession(srv, "alice", "s1")

	if err := runCommand(s, "ls"); err != nil {
		tt.Fatal(err)
	}
	if s.overlay == nil || !bytes.Contains(s.overlay, []byte("└─general")) {
		tt.Errorf("tree overlay: %q", s.overlay)
	}
}

func TestCommandOnlineUsers(tt *testing.T) {
	srv := newTestServer()
	s := newTestSession(srv, "zoe", "s1")
	newTestSession(srv, "adam", "s2")
	newTestSession(srv, "adam", "s3")

	if err := runCommand(s, "lsa"); err != nil {
		tt.Fatal(err)
	}
	// Sorted, one line per user regardless of session count.
	if !bytes.Equal([]byte("adam\r\nzoe\r\n"), s.overlay) {
		tt.Errorf("online listing: %q", s.overlay)
	}
}

func TestCommandChannelPerms(tt *testing.T) {
	srv := newTestServer()
	s := newTestSession(srv, "alice", "s1")

	if err := runCommand(s, "lsperm /general"); err != nil {
		tt.Fatal(err)
	}
	if !bytes.Contains(s.overlay, []byte("all: RW")) {
		tt.Errorf("perm listing: %q", s.overlay)
	}

	if err := runCommand(s, "lsperm /"); err != nil {
		tt.Fatal(err)
	}
	if !bytes.Contains(s.overlay, []byte("(no rules)")) {
		tt.Errorf("empty rule listing: %q", s.overlay)
	}
}

func TestCommandUnimplemented(tt *testing.T) {
	srv := newTestServer()
	s := newTestSession(srv, "alice", "s1")

	for _, line := range []string{"mkchp x", "make-priv-channel x", "lsu", "users"} {
		if err := runCommand(s, line); err != errCmdUnimpl {
			tt.Errorf("%q: expected EUNIMP, got %v", line, err)
		}
	}
}

func TestCommandInvalid(tt *testing.T) {
	srv := newTestServer()
	s := newTestSession(srv, "alice", "s1")

	if err := runCommand(s, "frobnicate"); err != errCmdInvalid {
		tt.Errorf("unknown command: got %v", err)
	}
	if err := runCommand(s, ""); err != errCmdInvalid {
		tt.Errorf("empty command: got %v", err)
	}
	if err := runCommand(s, string([]byte{0xff, 0xfe})); err != errCmdInvalidUtf8 {
		tt.Errorf("invalid utf8: got %v", err)
	}
}
