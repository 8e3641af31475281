/******************************************************************************
 *
 *  Description :
 *
 *    The line editor state machine: raw bytes from the transport in,
 *    structured actions out. Runs on the session's foreground path.
 *
 *****************************************************************************/

package main

import (
	"bytes"
	"unicode/utf8"

	"github.com/slbsh/crussh/server/logs"
)

var (
	keyUp    = []byte{27, 91, 65}
	keyDown  = []byte{27, 91, 66}
	keyRight = []byte{27, 91, 67}
	keyLeft  = []byte{27, 91, 68}
)

// dispatchRaw processes one chunk of input bytes from the transport.
func (s *Session) dispatchRaw(data []byte) {
	if len(data) == 0 {
		return
	}

	s.mu.Lock()

	// A showing overlay is one-shot: any keystroke dismisses it and
	// restores the input line before being processed itself.
	if s.overlay != nil {
		out := clearOverlay(s.overlay)
		out = append(out, s.buffer...)
		s.overlay = nil
		s.queueOut(out)
	}

	switch {
	case len(data) == 1 && data[0] == 3: // ctrl-c
		s.mu.Unlock()
		s.closeSession()
		return

	case len(data) == 1 && data[0] == 13: // enter
		quit := s.submit()
		s.mu.Unlock()
		if quit {
			s.closeSession()
		}
		return

	case len(data) == 1 && data[0] == 127: // backspace
		if s.cursor > 0 {
			s.buffer = append(s.buffer[:s.cursor-1], s.buffer[s.cursor:]...)
			s.cursor--
			s.queueOut([]byte("\x1b[D\x1b[P"))
		}

	case bytes.Equal(data, keyUp), bytes.Equal(data, keyDown):
		// Reserved. History is out of scope.

	case bytes.Equal(data, keyRight):
		if s.cursor < len(s.buffer) {
			s.cursor++
			s.queueOut(data)
		}

	case bytes.Equal(data, keyLeft):
		if s.cursor > 0 {
			s.cursor--
			s.queueOut(data)
		}

	default:
		// Insert at cursor. Overflow past the input cap is rejected
		// silently: no error, no partial insert, no echo.
		if len(s.buffer)+len(data) <= s.srv.maxInputLen {
			s.buffer = append(s.buffer[:s.cursor], append(append([]byte(nil), data...), s.buffer[s.cursor:]...)...)
			s.cursor += len(data)
			s.queueOut(append([]byte(nil), data...))
		}
	}

	s.mu.Unlock()
}

// submit handles Enter: a trimmed buffer starting with ':' goes to the
// command dispatcher, anything else is published as a message into the
// current channel. Returns true when the session asked to quit. Caller
// holds s.mu.
func (s *Session) submit() (quit bool) {
	if len(s.buffer) == 0 {
		return false
	}

	logs.Info.Printf("in: '%s' sid='%s' user='%s'", preview(s.buffer, 64), s.sid, s.uname)

	trimmed := bytes.TrimSpace(s.buffer)
	if len(trimmed) > 0 && trimmed[0] == ':' {
		switch err := s.dispatchCommand(trimmed[1:]); err {
		case nil:
			s.queueOut([]byte("\x1b[2K\r"))
			s.bufClear()
		case errCmdQuit:
			s.queueOut([]byte("\x1b[2K\r"))
			return true
		default:
			s.info([]byte(ansiBold + ansiRed + err.Error() + ansiReset + "\r\n"))
			s.bufClear()
		}
		return false
	}

	// Interior whitespace is preserved in message text; only command
	// arguments get collapsed by tokenization.
	if !utf8.Valid(s.buffer) {
		s.info([]byte(ansiBold + ansiRed + errCmdInvalidUtf8.Error() + ansiReset + "\r\n"))
		s.bufClear()
		return false
	}

	if !s.mayWrite() {
		s.info([]byte(ansiBold + ansiRed + errCmdForbidden.Error() + ansiReset + "\r\n"))
		s.bufClear()
		return false
	}

	s.sub.Publish(Event{What: EvMsg, From: s.uname, Text: string(s.buffer)})
	statsInc("MessagesPublished", 1)

	s.queueOut([]byte("\x1b[2K\r"))
	s.bufClear()
	return false
}

// mayWrite checks publish rights on the current channel: a write grant from
// the channel's rules, or the operator override. Caller holds s.mu.
func (s *Session) mayWrite() bool {
	lvl := s.sub.Node().ResolvePerm(s.uname, s.srv.users.Roles(s.uname))
	return lvl.IsWriter() || s.srv.users.GlobalPerm(s.uname).IsManager()
}
