package rtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/meetlite/meetlite/internal/session"
)

// HeadlessMedia is a session.MediaProvider for clients without capture
// hardware, such as the CLI participant. Tracks carry no samples; they exist
// so negotiation and track replacement behave exactly as with real media.
type HeadlessMedia struct{}

func (HeadlessMedia) GetUserMedia(_ context.Context) (session.MediaStream, error) {
	audio, err := newLocalTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "meetlite-mic")
	if err != nil {
		return nil, fmt.Errorf("user media: %w", err)
	}
	video, err := newLocalTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "meetlite-cam")
	if err != nil {
		return nil, fmt.Errorf("user media: %w", err)
	}
	return &localStream{
		audio: []session.MediaTrack{audio},
		video: []session.MediaTrack{video},
	}, nil
}

func (HeadlessMedia) GetDisplayMedia(_ context.Context) (session.MediaStream, error) {
	video, err := newLocalTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "meetlite-screen")
	if err != nil {
		return nil, fmt.Errorf("display media: %w", err)
	}
	return &localStream{video: []session.MediaTrack{video}}, nil
}

type localStream struct {
	audio []session.MediaTrack
	video []session.MediaTrack
}

func (s *localStream) AudioTracks() []session.MediaTrack { return s.audio }
func (s *localStream) VideoTracks() []session.MediaTrack { return s.video }

func (s *localStream) Close() {
	for _, t := range append(s.audio, s.video...) {
		if lt, ok := t.(*localTrack); ok {
			lt.end()
		}
	}
}

// localTrack wraps a pion static-sample track behind session.MediaTrack.
type localTrack struct {
	kind    string
	rtp     *webrtc.TrackLocalStaticSample
	enabled atomic.Bool

	mu      sync.Mutex
	onEnded func()
	ended   bool
}

func newLocalTrack(cap webrtc.RTPCodecCapability, kind, streamID string) (*localTrack, error) {
	rtp, err := webrtc.NewTrackLocalStaticSample(cap, uuid.New().String(), streamID)
	if err != nil {
		return nil, err
	}
	t := &localTrack{kind: kind, rtp: rtp}
	t.enabled.Store(true)
	return t, nil
}

func (t *localTrack) Kind() string            { return t.kind }
func (t *localTrack) Enabled() bool           { return t.enabled.Load() }
func (t *localTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// RTPTrack exposes the underlying pion track for link wiring.
func (t *localTrack) RTPTrack() webrtc.TrackLocal { return t.rtp }

func (t *localTrack) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

// end fires the ended callback once, mirroring a capture source stopping.
func (t *localTrack) end() {
	t.mu.Lock()
	fn := t.onEnded
	fired := t.ended
	t.ended = true
	t.mu.Unlock()

	if fn != nil && !fired {
		fn()
	}
}
