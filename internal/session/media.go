package session

import "context"

// MediaTrack is one audio or video track of a local or remote stream. The
// concrete capture machinery lives outside this package; the core only
// toggles enabled flags and watches for the track ending.
type MediaTrack interface {
	// Kind reports "audio" or "video".
	Kind() string
	Enabled() bool
	SetEnabled(enabled bool)
	// OnEnded registers a callback fired when the source stops producing,
	// e.g. the user ends a screen capture from native browser UI. At most
	// one callback is kept.
	OnEnded(fn func())
}

// MediaStream is an opaque bundle of tracks.
type MediaStream interface {
	AudioTracks() []MediaTrack
	VideoTracks() []MediaTrack
	// Close releases the underlying capture resources.
	Close()
}

// MediaProvider acquires media from the environment. Acquisition may block
// on a permission prompt, hence the context.
type MediaProvider interface {
	GetUserMedia(ctx context.Context) (MediaStream, error)
	GetDisplayMedia(ctx context.Context) (MediaStream, error)
}

// firstVideoTrack returns the stream's first video track, or nil.
func firstVideoTrack(s MediaStream) MediaTrack {
	if s == nil {
		return nil
	}
	tracks := s.VideoTracks()
	if len(tracks) == 0 {
		return nil
	}
	return tracks[0]
}
