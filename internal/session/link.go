package session

import "encoding/json"

// LinkState tracks a peer link through its life. There is no reconnecting
// state: once closed, the only recovery is a fresh link triggered by a new
// join event.
type LinkState int

const (
	LinkNegotiating LinkState = iota
	LinkActive
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkNegotiating:
		return "negotiating"
	case LinkActive:
		return "active"
	case LinkClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// LinkCallbacks are the three capabilities a negotiation library must feed
// back into the core.
type LinkCallbacks struct {
	// OnLocalSignal fires when the link produces negotiation data that must
	// reach the remote side out-of-band.
	OnLocalSignal func(data json.RawMessage)
	// OnRemoteStream fires once the remote track bundle is live.
	OnRemoteStream func(stream MediaStream)
	// OnTerminate fires on error or remote close. The link is unusable after.
	OnTerminate func(reason error)
}

// PeerLink is one point-to-point media channel. Implementations wrap a
// WebRTC library; the core never sees SDP or ICE details.
type PeerLink interface {
	// Signal feeds negotiation data received from the remote side.
	Signal(data json.RawMessage) error
	// ReplaceVideoTrack swaps the outbound video track without a full
	// renegotiation. Used by the screen-share toggle.
	ReplaceVideoTrack(oldTrack, newTrack MediaTrack) error
	Close() error
}

// LinkFactory constructs a link bound to the local stream's tracks. The
// initiator side generates the first offer.
type LinkFactory func(initiator bool, local MediaStream, cb LinkCallbacks) (PeerLink, error)
