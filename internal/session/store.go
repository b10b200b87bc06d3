package session

import (
	"sync"

	"github.com/meetlite/meetlite/internal/protocol"
)

// Store is the authoritative in-memory view of the meeting on this client:
// local identity, meeting id/name, the known peers with their presence
// flags, and the local media stream. It owns the local stream; no other
// component acquires or releases it.
//
// Invariant: the key sets of the three flag maps are always subsets of the
// peer-identity map, and RemovePeer clears an id from every map under one
// lock so no stale flag can survive under a reused id.
type Store struct {
	mu sync.RWMutex

	localUser protocol.User
	meetID    string
	meetName  string

	localStream   MediaStream
	displayStream MediaStream

	micOn     bool
	camOn     bool
	sharingOn bool

	peers         map[string]protocol.User
	muted         map[string]bool
	videoStopped  map[string]bool
	sharingScreen map[string]bool
	remoteStreams map[string]MediaStream
}

func NewStore() *Store {
	return &Store{
		peers:         make(map[string]protocol.User),
		muted:         make(map[string]bool),
		videoStopped:  make(map[string]bool),
		sharingScreen: make(map[string]bool),
		remoteStreams: make(map[string]MediaStream),
	}
}

func (s *Store) SetLocalUser(u protocol.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localUser = u
}

func (s *Store) LocalUser() protocol.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localUser
}

func (s *Store) SetMeeting(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meetID = id
	s.meetName = name
}

func (s *Store) SetMeetingName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meetName = name
}

func (s *Store) Meeting() (id, name string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meetID, s.meetName
}

// SetLocalStream hands the acquired camera/mic bundle to the store. The
// capability flags reflect what the bundle actually carries.
func (s *Store) SetLocalStream(stream MediaStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localStream = stream
	s.micOn = stream != nil && len(stream.AudioTracks()) > 0
	s.camOn = stream != nil && len(stream.VideoTracks()) > 0
}

func (s *Store) LocalStream() MediaStream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localStream
}

func (s *Store) SetDisplayStream(stream MediaStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.displayStream = stream
	s.sharingOn = stream != nil
}

func (s *Store) DisplayStream() MediaStream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.displayStream
}

func (s *Store) SetMicOn(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.micOn = on
}

func (s *Store) SetCamOn(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.camOn = on
}

// Capabilities reports the local media flags.
func (s *Store) Capabilities() (micOn, camOn, sharingOn bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.micOn, s.camOn, s.sharingOn
}

// AddOrUpdatePeer records a participant's identity. Flags for an unknown
// peer default to zero values; existing flags survive a rename.
func (s *Store) AddOrUpdatePeer(u protocol.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[u.ID] = u
}

func (s *Store) Peer(id string) (protocol.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.peers[id]
	return u, ok
}

// Peers snapshots the known participants.
func (s *Store) Peers() []protocol.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.User, 0, len(s.peers))
	for _, u := range s.peers {
		out = append(out, u)
	}
	return out
}

// PeerIDs snapshots the known participant ids.
func (s *Store) PeerIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.peers))
	for id := range s.peers {
		out = append(out, id)
	}
	return out
}

// RemovePeer drops a participant from every map in one critical section and
// returns whether it was present.
func (s *Store) RemovePeer(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.peers[id]
	delete(s.peers, id)
	delete(s.muted, id)
	delete(s.videoStopped, id)
	delete(s.sharingScreen, id)
	delete(s.remoteStreams, id)
	return ok
}

func (s *Store) SetPeerMuted(id string, muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[id]; ok {
		s.muted[id] = muted
	}
}

func (s *Store) PeerMuted(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.muted[id]
}

func (s *Store) SetPeerVideoStopped(id string, stopped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[id]; ok {
		s.videoStopped[id] = stopped
	}
}

func (s *Store) PeerVideoStopped(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.videoStopped[id]
}

func (s *Store) SetPeerSharingScreen(id string, sharing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[id]; ok {
		s.sharingScreen[id] = sharing
	}
}

func (s *Store) PeerSharingScreen(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sharingScreen[id]
}

// SetPeerStream binds a peer's live remote bundle. The UI collaborator reads
// it through PeerStream and attaches it to a rendering surface; the core
// never touches rendering.
func (s *Store) SetPeerStream(id string, stream MediaStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[id]; ok {
		s.remoteStreams[id] = stream
	}
}

func (s *Store) PeerStream(id string) (MediaStream, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.remoteStreams[id]
	return st, ok
}

// ClearAll resets every collection and releases the local media streams.
// Used on leave, removal and cancel. The streams are closed outside the
// lock: closing can fire track-ended callbacks that read the store.
func (s *Store) ClearAll() {
	s.mu.Lock()
	local, display := s.localStream, s.displayStream
	s.localStream = nil
	s.displayStream = nil

	s.meetID = ""
	s.meetName = ""
	s.micOn = false
	s.camOn = false
	s.sharingOn = false
	s.peers = make(map[string]protocol.User)
	s.muted = make(map[string]bool)
	s.videoStopped = make(map[string]bool)
	s.sharingScreen = make(map[string]bool)
	s.remoteStreams = make(map[string]MediaStream)
	s.mu.Unlock()

	if local != nil {
		local.Close()
	}
	if display != nil {
		display.Close()
	}
}
