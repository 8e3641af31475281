/******************************************************************************
 *
 *  Description :
 *
 *    Events broadcast on channel buses and their terminal rendering.
 *
 *****************************************************************************/

package main

// ANSI SGR fragments used when rendering events and errors.
const (
	ansiBold   = "\x1b[1m"
	ansiItalic = "\x1b[3m"
	ansiRed    = "\x1b[31m"
	ansiGrey   = "\x1b[90m"
	ansiReset  = "\x1b[0m"
)

// EventType is the closed set of event variants.
type EventType int

const (
	// EvMsg is a plain message to everyone in the channel.
	EvMsg EventType = iota
	// EvReply is a message addressed to one named user, still broadcast.
	EvReply
	// EvJoin announces a user connecting.
	EvJoin
	// EvLeave announces a user disconnecting.
	EvLeave
	// EvTerminate tells the delivery loop of the session identified by Sid
	// to stop. Never rendered, ignored by every other session.
	EvTerminate
)

// Event is one item broadcast on a channel bus. Events are immutable values
// and carry no ordering token: publish order within one bus is the only
// ordering guarantee.
type Event struct {
	What EventType
	// Sender for Msg/Reply, subject for Join/Leave.
	From string
	// Recipient, Reply only.
	To string
	// Message text, Msg/Reply only.
	Text string
	// Originating session, Terminate only.
	Sid string
}

// Render produces the terminal form of the event, without trailing line
// ending. Must not be called for Terminate.
func (ev Event) Render() []byte {
	switch ev.What {
	case EvMsg:
		return []byte(ansiBold + ev.From + ansiReset + ": " + ev.Text)
	case EvReply:
		return []byte(ansiBold + ev.From + ansiReset + " " +
			ansiItalic + ansiGrey + "to" + ansiReset + " " +
			ansiBold + ev.To + ansiReset + ": " + ev.Text)
	case EvJoin:
		return []byte("[" + ansiBold + ev.From + ansiReset + " joined]")
	case EvLeave:
		return []byte("[" + ansiBold + ev.From + ansiReset + " left]")
	}
	panic("render of internal event")
}
