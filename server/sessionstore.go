/******************************************************************************
 *
 *  Description :
 *
 *    Management of live sessions: registration, lookup of online users,
 *    orderly shutdown.
 *
 *****************************************************************************/

package main

import (
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/ssh"

	"github.com/slbsh/crussh/server/logs"
	"github.com/slbsh/crussh/server/store"
)

// SessionStore holds all live sessions indexed by session ID.
type SessionStore struct {
	lock sync.Mutex

	sessCache map[string]*Session
}

// NewSessionStore initializes a session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessCache: make(map[string]*Session),
	}
}

// NewSession creates a session for an authenticated connection, subscribes
// it to the default channel and spawns its delivery goroutine. The session
// value is fully constructed and registered before the goroutine starts:
// the task always sees a stable handle.
func (ss *SessionStore) NewSession(conn interface{}, uname string, srv *Server) (*Session, int) {
	s := &Session{
		uname:  uname,
		sid:    store.GetUidString(),
		srv:    srv,
		buffer: make([]byte, 0, 256),
		send:   make(chan []byte, 256),
		stop:   make(chan struct{}),
	}

	switch c := conn.(type) {
	case ssh.Channel:
		s.proto = SSH
		s.sshChan = c
	case *websocket.Conn:
		s.proto = WEBSOCK
		s.ws = c
		s.remoteAddr = c.RemoteAddr().String()
	default:
		s.proto = NONE
	}

	s.sub = srv.defaultNode().Subscribe()

	ss.lock.Lock()
	ss.sessCache[s.sid] = s
	count := len(ss.sessCache)
	ss.lock.Unlock()

	statsInc("LiveSessions", 1)
	statsInc("TotalSessions", 1)

	go s.deliveryLoop()

	return s, count
}

// Delete removes a session from the store.
func (ss *SessionStore) Delete(s *Session) int {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	delete(ss.sessCache, s.sid)
	return len(ss.sessCache)
}

// OnlineUsers returns the sorted names of users with at least one live
// session.
func (ss *SessionStore) OnlineUsers() []string {
	ss.lock.Lock()
	seen := make(map[string]bool, len(ss.sessCache))
	for _, s := range ss.sessCache {
		seen[s.uname] = true
	}
	ss.lock.Unlock()

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Shutdown asks every live session to close. The cooperative Terminate
// path does the real teardown; this only kicks it off.
func (ss *SessionStore) Shutdown() {
	ss.lock.Lock()
	sessions := make([]*Session, 0, len(ss.sessCache))
	for _, s := range ss.sessCache {
		sessions = append(sessions, s)
	}
	ss.lock.Unlock()

	for _, s := range sessions {
		s.queueOut([]byte("\r\nserver shutting down\r\n"))
		s.closeSession()
	}

	logs.Info.Printf("SessionStore shut down, sessions terminated: %d", len(sessions))
}
