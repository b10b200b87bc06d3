package session

import "errors"

var (
	// ErrNoLocalStream is returned when a peer link would be created with no
	// local media to offer.
	ErrNoLocalStream = errors.New("no stream available")

	// ErrPeerExists is returned when a second live link for the same peer id
	// would be created before the first is torn down.
	ErrPeerExists = errors.New("peer connection already exists")

	// ErrNotHost is returned for host-only operations invoked by a non-host.
	ErrNotHost = errors.New("only the host can do that")

	// ErrMeetNotFound is returned when joining a meeting the relay does not
	// know about.
	ErrMeetNotFound = errors.New("meet not found")

	// ErrBadState is returned when a lifecycle operation is invoked from a
	// phase it is not valid in.
	ErrBadState = errors.New("operation not valid in current state")

	// ErrConnectionLost is surfaced when the relay connection drops. There
	// is no resume path; the session is over.
	ErrConnectionLost = errors.New("signaling connection lost")
)
