/******************************************************************************
 *
 *  Description :
 *
 *    Handling of user sessions/connections. Each session runs two active
 *    contexts: the foreground input path (dispatchRaw, editor.go) and one
 *    background delivery goroutine draining the session's current
 *    subscription. Both coordinate through the session mutex.
 *
 *****************************************************************************/

package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/ssh"

	"github.com/slbsh/crussh/server/logs"
)

// Wire transport.
const (
	NONE = iota
	SSH
	WEBSOCK
)

// Session is one connected, authenticated user.
type Session struct {
	// protocol - NONE (unset), SSH, WEBSOCK
	proto int

	// SSH channel. Set only for ssh sessions.
	sshChan ssh.Channel

	// Websocket. Set only for websocket sessions.
	ws *websocket.Conn

	// IP address of the client.
	remoteAddr string

	// Account name, normalized.
	uname string

	// Session ID.
	sid string

	// Shared server context.
	srv *Server

	// Guards buffer, cursor, overlay and sub. Held only for short critical
	// sections, never across a blocking send.
	mu sync.Mutex

	// In-progress input line and the cursor offset into it.
	buffer []byte
	cursor int

	// Transient one-shot overlay currently displayed; nil means the
	// session is in the normal state.
	overlay []byte

	// Current channel subscription. Replaced atomically on channel switch.
	sub *Subscription

	// Outbound bytes, buffered.
	send chan []byte

	// Closed by closeSession to abort the write/delivery loops. The
	// Terminate sentinel is the primary shutdown path; stop covers the
	// sentinel being dropped from the bounded ring under lag.
	stop     chan struct{}
	stopOnce sync.Once
	endOnce  sync.Once
}

// queueOut attempts to send raw bytes to the session's write loop; if the
// send buffer is full, timeout is 50 usec.
func (s *Session) queueOut(data []byte) bool {
	if s == nil {
		return true
	}

	select {
	case s.send <- data:
	case <-time.After(time.Microsecond * 50):
		logs.Warning.Println("s.queueOut: timeout", s.sid)
		return false
	}
	return true
}

// start announces the session: welcome banner to the user, Join event to
// the default channel.
func (s *Session) start() {
	s.queueOut([]byte("Welcome! :help for commands, ctrl-c to exit.\r\n"))

	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	sub.Publish(Event{What: EvJoin, From: s.uname})
}

// closeSession starts the cooperative teardown: Leave then the Terminate
// sentinel into the current channel. The delivery loop stops itself when
// the sentinel comes back around; stop is closed as well because under
// heavy publishing the drop-oldest ring may evict the sentinel before the
// loop reads it, and the loop must still exit once its backlog drains.
// Idempotent.
func (s *Session) closeSession() {
	s.endOnce.Do(func() {
		s.mu.Lock()
		sub := s.sub
		s.mu.Unlock()

		sub.Publish(Event{What: EvLeave, From: s.uname})
		sub.Publish(Event{What: EvTerminate, Sid: s.sid})
		s.stopOnce.Do(func() { close(s.stop) })
	})
}

// deliveryLoop is the session's background task: wait for the bus wake
// signal, drain pending events one at a time, composite each one with the
// in-progress input line.
func (s *Session) deliveryLoop() {
	defer s.teardown()

	for {
		s.mu.Lock()
		sub := s.sub
		s.mu.Unlock()

		ev, lagged, ok := sub.sub.TryRecv()
		switch {
		case lagged > 0:
			// Bounded-buffer loss is reported, never silent.
			s.queueOut(fmt.Appendf(nil, "%s%sECHL: channel lost %d event(s)%s\r\n",
				ansiBold, ansiRed, lagged, ansiReset))
			statsInc("EventsLost", lagged)

		case !ok:
			// Nothing pending: suspend until publish. The wake channel is
			// closed on resubscription, so a channel switch also lands here
			// and the loop re-reads s.sub.
			select {
			case <-sub.sub.Wake():
			case <-s.stop:
				return
			}

		case ev.What == EvTerminate:
			if ev.Sid == s.sid {
				return
			}
			// Another session's shutdown sentinel. Not ours to act on.

		default:
			s.deliver(ev)
		}
	}
}

// deliver renders one event into the terminal without losing the user's
// in-progress input: erase the input line, print the event, restore
// whatever was on screen (overlay first if one is showing, then the
// buffer).
func (s *Session) deliver(ev Event) {
	s.mu.Lock()
	var out []byte
	switch {
	case s.overlay != nil:
		out = append(out, clearOverlay(s.overlay)...)
		out = append(out, ev.Render()...)
		out = append(out, "\r\n"...)
		out = append(out, s.overlay...)
		out = append(out, s.buffer...)
	case len(s.buffer) > 0:
		out = append(out, "\x1b[2K\r"...)
		out = append(out, ev.Render()...)
		out = append(out, "\r\n"...)
		out = append(out, s.buffer...)
	default:
		out = append(out, ev.Render()...)
		out = append(out, "\r\n"...)
	}
	s.mu.Unlock()

	s.queueOut(out)
}

// info replaces the input line with a transient one-shot overlay. The next
// keystroke dismisses it. Caller must hold s.mu.
func (s *Session) info(data []byte) {
	s.overlay = append([]byte(nil), data...)

	out := make([]byte, 0, len(data)+6)
	out = append(out, "\x1b[2K\r"...)
	out = append(out, data...)
	out = append(out, '\r')
	s.queueOut(out)
}

// clearOverlay produces the erase sequence for a displayed overlay: one
// line-erase for a single-line overlay, otherwise move-up-and-erase per
// overlay line.
func clearOverlay(data []byte) []byte {
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines == 0 {
		return []byte("\x1b[2K\r")
	}
	out := make([]byte, 0, 8*lines)
	for i := 0; i < lines; i++ {
		out = append(out, "\x1b[1F\x1b[2K"...)
	}
	return out
}

// bufClear resets the input line. Caller must hold s.mu.
func (s *Session) bufClear() {
	s.buffer = s.buffer[:0]
	s.cursor = 0
}

// switchChannel atomically replaces the session's subscription so no event
// is delivered twice across the boundary. Caller must hold s.mu; the
// delivery loop can therefore never observe the half-switched state.
func (s *Session) switchChannel(node *Channel) {
	old := s.sub
	s.sub = node.Subscribe()
	// Closing the old cursor also closes its wake channel, kicking the
	// delivery loop off the stale subscription if it is parked there.
	old.Close()
}

// teardown runs when the delivery loop exits: drop the subscription,
// deregister, stop the write loop.
func (s *Session) teardown() {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	sub.Close()

	live := s.srv.sessions.Delete(s)
	statsInc("LiveSessions", -1)
	logs.Info.Printf("session closed sid='%s' user='%s' (%d live)", s.sid, s.uname, live)

	s.stopOnce.Do(func() { close(s.stop) })
}
