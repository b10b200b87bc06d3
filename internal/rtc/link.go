// Package rtc is the pion-backed implementation of the session package's
// peer-link and media interfaces. The session core only ever sees opaque
// signal blobs and track handles; all SDP/ICE detail stays here.
package rtc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/meetlite/meetlite/internal/session"
)

// Default STUN servers for ICE candidate gathering. No TURN: the signaling
// core targets direct P2P connectivity.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// signalBody is the negotiation blob carried inside the relay's opaque
// signal payload.
type signalBody struct {
	Type      string                   `json:"type"` // offer | answer | candidate
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// NewLinkFactory builds a session.LinkFactory that negotiates pion
// PeerConnections over the given STUN servers.
func NewLinkFactory(stunServers []string) session.LinkFactory {
	if len(stunServers) == 0 {
		stunServers = DefaultSTUNServers
	}

	return func(initiator bool, local session.MediaStream, cb session.LinkCallbacks) (session.PeerLink, error) {
		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
		})
		if err != nil {
			return nil, fmt.Errorf("new peer connection: %w", err)
		}

		l := &pionLink{pc: pc, cb: cb}

		for _, t := range append(local.AudioTracks(), local.VideoTracks()...) {
			rt, ok := t.(rtpTrackProvider)
			if !ok {
				pc.Close()
				return nil, fmt.Errorf("track %s is not pion-backed", t.Kind())
			}
			if _, err := pc.AddTrack(rt.RTPTrack()); err != nil {
				pc.Close()
				return nil, fmt.Errorf("add %s track: %w", t.Kind(), err)
			}
		}

		pc.OnICECandidate(func(c *webrtc.ICECandidate) {
			if c == nil {
				return
			}
			init := c.ToJSON()
			l.emit(signalBody{Type: "candidate", Candidate: &init})
		})

		remote := &remoteStream{}
		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			remote.add(track)
			l.streamOnce.Do(func() {
				if cb.OnRemoteStream != nil {
					cb.OnRemoteStream(remote)
				}
			})
		})

		pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
			switch state {
			case webrtc.PeerConnectionStateFailed,
				webrtc.PeerConnectionStateClosed,
				webrtc.PeerConnectionStateDisconnected:
				l.terminate(fmt.Errorf("peer connection %s", state))
			}
		})

		if initiator {
			if err := l.sendOffer(); err != nil {
				pc.Close()
				return nil, err
			}
		}
		return l, nil
	}
}

// rtpTrackProvider exposes the underlying pion track for link wiring.
type rtpTrackProvider interface {
	RTPTrack() webrtc.TrackLocal
}

type pionLink struct {
	pc *webrtc.PeerConnection
	cb session.LinkCallbacks

	mu      sync.Mutex
	pending []webrtc.ICECandidateInit

	streamOnce sync.Once
	termOnce   sync.Once
}

func (l *pionLink) sendOffer() error {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	l.emit(signalBody{Type: "offer", SDP: offer.SDP})
	return nil
}

func (l *pionLink) Signal(data json.RawMessage) error {
	var body signalBody
	if err := json.Unmarshal(data, &body); err != nil {
		return fmt.Errorf("bad signal blob: %w", err)
	}

	switch body.Type {
	case "offer":
		if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  body.SDP,
		}); err != nil {
			return fmt.Errorf("set remote offer: %w", err)
		}

		answer, err := l.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := l.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local answer: %w", err)
		}
		l.emit(signalBody{Type: "answer", SDP: answer.SDP})
		return l.flushCandidates()

	case "answer":
		if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  body.SDP,
		}); err != nil {
			return fmt.Errorf("set remote answer: %w", err)
		}
		return l.flushCandidates()

	case "candidate":
		if body.Candidate == nil {
			return nil
		}
		// Candidates can trickle in before the remote description lands.
		l.mu.Lock()
		if l.pc.RemoteDescription() == nil {
			l.pending = append(l.pending, *body.Candidate)
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()
		if err := l.pc.AddICECandidate(*body.Candidate); err != nil {
			return fmt.Errorf("add candidate: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown signal type %q", body.Type)
	}
}

func (l *pionLink) flushCandidates() error {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, cand := range pending {
		if err := l.pc.AddICECandidate(cand); err != nil {
			return fmt.Errorf("add queued candidate: %w", err)
		}
	}
	return nil
}

func (l *pionLink) ReplaceVideoTrack(oldTrack, newTrack session.MediaTrack) error {
	nt, ok := newTrack.(rtpTrackProvider)
	if !ok {
		return fmt.Errorf("replacement track is not pion-backed")
	}

	var oldRTP webrtc.TrackLocal
	if op, ok := oldTrack.(rtpTrackProvider); ok {
		oldRTP = op.RTPTrack()
	}

	for _, sender := range l.pc.GetSenders() {
		cur := sender.Track()
		if cur == nil || cur.Kind() != webrtc.RTPCodecTypeVideo {
			continue
		}
		if oldRTP != nil && cur != oldRTP {
			continue
		}
		if err := sender.ReplaceTrack(nt.RTPTrack()); err != nil {
			return fmt.Errorf("replace track: %w", err)
		}
		return nil
	}
	return fmt.Errorf("no video sender to replace")
}

func (l *pionLink) Close() error {
	return l.pc.Close()
}

func (l *pionLink) emit(body signalBody) {
	if l.cb.OnLocalSignal == nil {
		return
	}
	data, err := json.Marshal(body)
	if err != nil {
		return
	}
	l.cb.OnLocalSignal(data)
}

func (l *pionLink) terminate(reason error) {
	l.termOnce.Do(func() {
		if l.cb.OnTerminate != nil {
			l.cb.OnTerminate(reason)
		}
	})
}

// remoteStream collects the peer's inbound tracks as they arrive.
type remoteStream struct {
	mu     sync.RWMutex
	tracks []session.MediaTrack
}

func (s *remoteStream) add(track *webrtc.TrackRemote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, &remoteTrack{track: track})
}

func (s *remoteStream) AudioTracks() []session.MediaTrack { return s.byKind("audio") }
func (s *remoteStream) VideoTracks() []session.MediaTrack { return s.byKind("video") }
func (s *remoteStream) Close()                            {}

func (s *remoteStream) byKind(kind string) []session.MediaTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]session.MediaTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// remoteTrack is a read-only view of a peer's track. Enable toggles are
// meaningless on the receive side.
type remoteTrack struct {
	track *webrtc.TrackRemote

	mu      sync.Mutex
	onEnded func()
}

func (t *remoteTrack) Kind() string    { return t.track.Kind().String() }
func (t *remoteTrack) Enabled() bool   { return true }
func (t *remoteTrack) SetEnabled(bool) {}

func (t *remoteTrack) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}
