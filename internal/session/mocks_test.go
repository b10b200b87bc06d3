package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meetlite/meetlite/internal/protocol"
)

// Compile-time interface checks.
var (
	_ MediaTrack    = (*fakeTrack)(nil)
	_ MediaStream   = (*fakeStream)(nil)
	_ MediaProvider = (*fakeMedia)(nil)
	_ PeerLink      = (*fakeLink)(nil)
	_ Conn          = (*mockConn)(nil)
)

type fakeTrack struct {
	kind string

	mu      sync.Mutex
	enabled bool
	onEnded func()
}

func newFakeTrack(kind string) *fakeTrack {
	return &fakeTrack{kind: kind, enabled: true}
}

func (t *fakeTrack) Kind() string { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *fakeTrack) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

// end simulates the capture source stopping, e.g. the user ending a screen
// share from native browser UI.
func (t *fakeTrack) end() {
	t.mu.Lock()
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeStream struct {
	mu     sync.Mutex
	audio  []MediaTrack
	video  []MediaTrack
	closed bool
}

func newFakeStream(audio, video int) *fakeStream {
	s := &fakeStream{}
	for i := 0; i < audio; i++ {
		s.audio = append(s.audio, newFakeTrack("audio"))
	}
	for i := 0; i < video; i++ {
		s.video = append(s.video, newFakeTrack("video"))
	}
	return s
}

func (s *fakeStream) AudioTracks() []MediaTrack { return s.audio }
func (s *fakeStream) VideoTracks() []MediaTrack { return s.video }

func (s *fakeStream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeMedia struct {
	mu          sync.Mutex
	userErr     error
	displayErr  error
	lastUser    *fakeStream
	lastDisplay *fakeStream
}

func (m *fakeMedia) GetUserMedia(context.Context) (MediaStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userErr != nil {
		return nil, m.userErr
	}
	m.lastUser = newFakeStream(1, 1)
	return m.lastUser, nil
}

func (m *fakeMedia) GetDisplayMedia(context.Context) (MediaStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.displayErr != nil {
		return nil, m.displayErr
	}
	m.lastDisplay = newFakeStream(0, 1)
	return m.lastDisplay, nil
}

// fakeLink records signals and the current outbound video track. Two-step
// fake negotiation: the initiator emits an offer blob on creation, the
// responder answers and goes active, the answer makes the initiator active.
type fakeLink struct {
	initiator bool
	cb        LinkCallbacks

	mu         sync.Mutex
	closed     bool
	videoTrack MediaTrack
	received   []json.RawMessage
	replaceErr error
}

type fakeBlob struct {
	T string `json:"t"`
}

func (l *fakeLink) Signal(data json.RawMessage) error {
	l.mu.Lock()
	l.received = append(l.received, data)
	l.mu.Unlock()

	var blob fakeBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return err
	}

	switch blob.T {
	case "offer":
		if l.cb.OnLocalSignal != nil {
			l.cb.OnLocalSignal(json.RawMessage(`{"t":"answer"}`))
		}
		if l.cb.OnRemoteStream != nil {
			l.cb.OnRemoteStream(newFakeStream(1, 1))
		}
	case "answer":
		if l.cb.OnRemoteStream != nil {
			l.cb.OnRemoteStream(newFakeStream(1, 1))
		}
	}
	return nil
}

func (l *fakeLink) ReplaceVideoTrack(_, newTrack MediaTrack) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.replaceErr != nil {
		return l.replaceErr
	}
	l.videoTrack = newTrack
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *fakeLink) terminate(reason error) {
	if l.cb.OnTerminate != nil {
		l.cb.OnTerminate(reason)
	}
}

func (l *fakeLink) currentVideo() MediaTrack {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.videoTrack
}

// fakeFactory builds fakeLinks and keeps them in creation order.
type fakeFactory struct {
	mu      sync.Mutex
	links   []*fakeLink
	failure error
}

func (f *fakeFactory) factory() LinkFactory {
	return func(initiator bool, local MediaStream, cb LinkCallbacks) (PeerLink, error) {
		f.mu.Lock()
		if f.failure != nil {
			err := f.failure
			f.mu.Unlock()
			return nil, err
		}
		l := &fakeLink{initiator: initiator, cb: cb, videoTrack: firstVideoTrack(local)}
		f.links = append(f.links, l)
		f.mu.Unlock()

		if initiator && cb.OnLocalSignal != nil {
			cb.OnLocalSignal(json.RawMessage(`{"t":"offer"}`))
		}
		return l, nil
	}
}

func (f *fakeFactory) all() []*fakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakeLink, len(f.links))
	copy(out, f.links)
	return out
}

// mockConn captures sends and lets tests script replies.
type mockConn struct {
	mu     sync.Mutex
	sent   []protocol.Envelope
	recv   chan protocol.Envelope
	script func(env protocol.Envelope) []protocol.Envelope

	closeOnce sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{recv: make(chan protocol.Envelope, 64)}
}

func (m *mockConn) Send(env protocol.Envelope) error {
	m.mu.Lock()
	m.sent = append(m.sent, env)
	script := m.script
	m.mu.Unlock()

	if script != nil {
		for _, reply := range script(env) {
			m.recv <- reply
		}
	}
	return nil
}

func (m *mockConn) Receive() <-chan protocol.Envelope { return m.recv }

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.recv) })
	return nil
}

func (m *mockConn) sentOfType(t protocol.Type) []protocol.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []protocol.Envelope
	for _, env := range m.sent {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

// registrar scripts the relay's registration and create/join acks the way
// the real relay answers them.
func registrarScript(assignID string) func(env protocol.Envelope) []protocol.Envelope {
	return func(env protocol.Envelope) []protocol.Envelope {
		switch env.Type {
		case protocol.TypeSaveUserData:
			var u protocol.User
			_ = env.Decode(&u)
			u.ID = assignID
			return []protocol.Envelope{protocol.New(protocol.TypeUserRegistered, u)}
		case protocol.TypeCreateMeet:
			var req protocol.CreateMeet
			_ = env.Decode(&req)
			return []protocol.Envelope{protocol.New(protocol.TypeMeetCreated, protocol.MeetCreated{
				MeetID:   req.MeetID,
				MeetName: req.MeetName,
			})}
		}
		return nil
	}
}

var errFakeTerminate = errors.New("fake terminate")

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
