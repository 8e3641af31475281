package main

import (
	"bytes"
	"testing"
	"time"
)

// waitOut reads the session's outbound queue until the wanted fragment
// shows up.
func waitOut(tt *testing.T, s *Session, want string) []byte {
	tt.Helper()
	var out []byte
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-s.send:
			out = append(out, data...)
			if bytes.Contains(out, []byte(want)) {
				return out
			}
		case <-deadline:
			tt.Fatalf("output %q never arrived; got %q", want, out)
		}
	}
}

func TestDeliverPlain(t *testing.T) {
	srv := newTestServer()
	s := newTestSession(srv, "alice", "s1")

	s.deliver(Event{What: EvMsg, From: "bob", Text: "hello"})

	expected := append(Event{What: EvMsg, From: "bob", Text: "hello"}.Render(), "\r\n"...)
	if out := drainOut(s); !bytes.Equal(expected, out) {
		t.Errorf("expected %q, got %q", expected, out)
	}
}

func TestDeliverRedrawsBuffer(t *testing.T) {
	srv := newTestServer()
	s := newTestSession(srv, "alice", "s1")

	s.mu.Lock()
	s.buffer = append(s.buffer, "typed so far"...)
	s.cursor = len(s.buffer)
	s.mu.Unlock()

	s.deliver(Event{What: EvMsg, From: "bob", Text: "hello"})

	expected := append([]byte("\x1b[2K\r"), Event{What: EvMsg, From: "bob", Text: "hello"}.Render()...)
	expected = append(expected, "\r\n"...)
	expected = append(expected, "typed so far"...)
	if out := drainOut(s); !bytes.Equal(expected, out) {
		t.Errorf("expected %q, got %q", expected, out)
	}
}

func TestDeliverPreservesOverlay(t *testing.T) {
	srv := newTestServer()
	s := newTestSession(srv, "alice", "s1")

	s.mu.Lock()
	s.info([]byte("one-shot notice\r\n"))
	s.buffer = append(s.buffer, "draft"...)
	s.cursor = len(s.buffer)
	s.mu.Unlock()
	drainOut(s)

	s.deliver(Event{What: EvJoin, From: "bob"})

	// Overlay erased, event printed, then overlay and buffer restored in
	// that order.
	expected := append(clearOverlay([]byte("one-shot notice\r\n")),
		Event{What: EvJoin, From: "bob"}.Render()...)
	expected = append(expected, "\r\n"...)
	expected = append(expected, "one-shot notice\r\n"...)
	expected = append(expected, "draft"...)
	if out := drainOut(s); !bytes.Equal(expected, out) {
		t.Errorf("expected %q, got %q", expected, out)
	}
}

func TestClearOverlay(t *testing.T) {
	if got := string(clearOverlay([]byte("single line"))); got != "\x1b[2K\r" {
		t.Errorf("single-line overlay: got %q", got)
	}
	if got := string(clearOverlay([]byte("a\r\nb\r\n"))); got != "\x1b[1F\x1b[2K\x1b[1F\x1b[2K" {
		t.Errorf("two-line overlay: got %q", got)
	}
}

func TestDeliveryLoopEndsOnOwnTerminateOnly(t *testing.T) {
	srv := newTestServer()
	alice := newTestSession(srv, "alice", "s1")
	bob := newTestSession(srv, "bob", "s2")

	go alice.deliveryLoop()
	go bob.deliveryLoop()

	// Bob quits. His Leave reaches alice; his Terminate sentinel must end
	// only his own loop.
	bob.closeSession()
	waitClosed(t, bob)
	waitOut(t, alice, "left]")

	select {
	case <-alice.stop:
		t.Fatal("another session's terminate ended this loop")
	default:
	}

	alice.closeSession()
	waitClosed(t, alice)
}

func TestDeliveryLoopReportsLag(t *testing.T) {
	srv := newTestServer()
	s := newTestSession(srv, "alice", "s1")

	pub := srv.defaultNode().Subscribe()
	for i := 0; i < busCapacity*4; i++ {
		pub.Publish(Event{What: EvMsg, From: "bob", Text: "spam"})
	}

	// The loop starts with the backlog already overflowed: the loss is
	// reported with a count, never silently dropped.
	go s.deliveryLoop()
	waitOut(t, s, "ECHL: channel lost 12 event(s)")
	waitOut(t, s, "spam")

	s.closeSession()
	waitClosed(t, s)
}

func TestDeliveryLoopExitsWhenSentinelEvicted(t *testing.T) {
	srv := newTestServer()
	s := newTestSession(srv, "alice", "s1")

	// Close first, then flood the ring so the Terminate sentinel is
	// overwritten before the loop ever reads it. The loop must still exit
	// once the backlog drains.
	s.closeSession()
	pub := srv.defaultNode().Subscribe()
	for i := 0; i < busCapacity+2; i++ {
		pub.Publish(Event{What: EvMsg, From: "bob", Text: "flood"})
	}

	go s.deliveryLoop()

	// Deregistration happens only when the loop exits and tears down.
	deadline := time.Now().Add(2 * time.Second)
	for len(srv.sessions.OnlineUsers()) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("delivery loop leaked, session never deregistered")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestChannelSwitchNoDuplicateDelivery(t *testing.T) {
	srv := newTestServer()
	srv.root.createChild("other", nil)
	s := newTestSession(srv, "alice", "s1")

	general := srv.root.child("general")
	general.Subscribe().Publish(Event{What: EvMsg, From: "bob", Text: "before switch"})

	ev, _, ok := s.sub.sub.TryRecv()
	if !ok || ev.Text != "before switch" {
		t.Fatalf("expected the pre-switch event, got ok=%v", ok)
	}

	s.mu.Lock()
	s.switchChannel(srv.root.child("other"))
	s.mu.Unlock()

	// Neither the already-consumed event nor late traffic in the old
	// channel may surface on the new subscription.
	general.Subscribe().Publish(Event{What: EvMsg, From: "bob", Text: "after switch"})
	if ev, lagged, ok := s.sub.sub.TryRecv(); ok || lagged != 0 {
		t.Errorf("unexpected delivery after switch: %+v lagged=%d", ev, lagged)
	}

	if s.sub.Node() != srv.root.child("other") {
		t.Error("subscription not moved to the new channel")
	}
}

func TestQueueOutTimesOutWhenFull(t *testing.T) {
	s := &Session{send: make(chan []byte, 1), sid: "s1"}
	if !s.queueOut([]byte("first")) {
		t.Fatal("send into an empty queue failed")
	}
	if s.queueOut([]byte("second")) {
		t.Error("send into a full queue should time out")
	}
}
