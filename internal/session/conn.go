package session

import "github.com/meetlite/meetlite/internal/protocol"

// Conn is the client's handle on the relay. It is constructed explicitly and
// injected into the controller; there is no ambient shared socket.
type Conn interface {
	Send(env protocol.Envelope) error
	// Receive yields inbound envelopes. The channel closes when the
	// transport dies; there is no resume.
	Receive() <-chan protocol.Envelope
	Close() error
}
