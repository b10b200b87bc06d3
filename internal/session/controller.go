package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/meetlite/meetlite/internal/logutil"
	"github.com/meetlite/meetlite/internal/protocol"
)

// Phase is the local client's participation state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCreating
	PhaseRequesting
	PhaseHosting
	PhaseJoined
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCreating:
		return "creating"
	case PhaseRequesting:
		return "requesting"
	case PhaseHosting:
		return "hosting"
	case PhaseJoined:
		return "joined"
	default:
		return "unknown"
	}
}

// Events are the optional notifications delivered to the UI collaborator.
// Nil fields are skipped.
type Events struct {
	OnPeerJoined func(u protocol.User)
	OnPeerLeft   func(peerID string)
	// OnJoinRequest fires on the host when a participant is admitted, so the
	// host can surface an accept/reject prompt. Admission itself is made by
	// the relay; reject evicts after the fact.
	OnJoinRequest func(u protocol.User)
	OnMeetRenamed func(name string)
	// OnPeerState fires after any presence flag of peerID changed.
	OnPeerState  func(peerID string)
	OnPeerStream func(peerID string)
	OnRemoved    func()
	OnRejected   func()
	// OnPeerError reports which participant's connection failed. Scoped to
	// that peer; the rest of the session continues.
	OnPeerError  func(peerID string, err error)
	OnDisconnect func()
}

// Controller orchestrates the meeting lifecycle: it drives the relay
// round-trips, owns the dispatch loop that serializes all remote events, and
// wires the store and peer manager together.
type Controller struct {
	conn  Conn
	media MediaProvider

	store *Store
	peers *PeerManager

	events Events

	mu      sync.Mutex
	phase   Phase
	waiters map[protocol.Type]chan protocol.Envelope
}

// NewController builds a controller around an already-dialed relay
// connection. All collaborators are injected; nothing is ambient.
func NewController(conn Conn, media MediaProvider, factory LinkFactory, events Events) *Controller {
	c := &Controller{
		conn:    conn,
		media:   media,
		store:   NewStore(),
		events:  events,
		waiters: make(map[protocol.Type]chan protocol.Envelope),
	}
	c.peers = NewPeerManager(factory, c)
	return c
}

// Store exposes the session state for the UI collaborator. Read-side use
// only; mutation belongs to the controller's dispatch loop.
func (c *Controller) Store() *Store { return c.store }

// PeerManager exposes the link set, primarily for tests and diagnostics.
func (c *Controller) PeerManager() *PeerManager { return c.peers }

// Phase reports the current lifecycle phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Run consumes the relay connection until it closes or ctx is cancelled.
// A transport loss mid-session tears everything down and returns
// ErrConnectionLost; there is no reconnect.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-c.conn.Receive():
			if !ok {
				if c.Phase() == PhaseIdle {
					return nil
				}
				c.teardown()
				c.setPhase(PhaseIdle)
				if c.events.OnDisconnect != nil {
					c.events.OnDisconnect()
				}
				return ErrConnectionLost
			}
			c.dispatch(env)
		}
	}
}

// StartNewMeet registers identity, creates a meeting and transitions to
// hosting once the relay acknowledges. Media failure is non-fatal: the host
// may run the meeting audio/video-less.
func (c *Controller) StartNewMeet(ctx context.Context, name, email, meetName string) error {
	if err := c.transition(PhaseIdle, PhaseCreating); err != nil {
		return err
	}

	c.acquireMedia(ctx)

	if _, err := c.register(ctx, name, email); err != nil {
		c.abort()
		return fmt.Errorf("start meet: %w", err)
	}

	meetID := uuid.New().String()

	reply, cancel := c.await(protocol.TypeMeetCreated)
	defer cancel()

	if err := c.conn.Send(protocol.New(protocol.TypeCreateMeet, protocol.CreateMeet{
		MeetID:   meetID,
		MeetName: meetName,
	})); err != nil {
		c.abort()
		return fmt.Errorf("start meet: %w", err)
	}

	select {
	case env := <-reply:
		var ack protocol.MeetCreated
		if err := env.Decode(&ack); err != nil {
			c.abort()
			return fmt.Errorf("start meet: bad ack: %w", err)
		}
		c.store.SetMeeting(ack.MeetID, ack.MeetName)
		me := c.store.LocalUser()
		me.IsHost = true
		c.store.SetLocalUser(me)
		c.setPhase(PhaseHosting)
		logutil.LogInfo("hosting meet %s (%q)", ack.MeetID, ack.MeetName)
		return nil

	case <-ctx.Done():
		c.abort()
		return ctx.Err()
	}
}

// JoinMeet registers identity and requests entry to meetID. On the snapshot
// reply the controller creates an initiator link toward every member already
// present. A meet-not-found reply releases any acquired media and reverts to
// idle.
func (c *Controller) JoinMeet(ctx context.Context, name, email, meetID string) error {
	if err := c.transition(PhaseIdle, PhaseRequesting); err != nil {
		return err
	}

	c.acquireMedia(ctx)

	me, err := c.register(ctx, name, email)
	if err != nil {
		c.abort()
		return fmt.Errorf("join meet: %w", err)
	}

	reply, cancel := c.await(protocol.TypeMeetJoined, protocol.TypeMeetNotFound)
	defer cancel()

	if err := c.conn.Send(protocol.New(protocol.TypeJoinMeet, protocol.JoinMeet{
		MeetID: meetID,
		User:   me,
	})); err != nil {
		c.abort()
		return fmt.Errorf("join meet: %w", err)
	}

	select {
	case env := <-reply:
		if env.Type == protocol.TypeMeetNotFound {
			c.abort()
			return ErrMeetNotFound
		}

		var snap protocol.MeetJoined
		if err := env.Decode(&snap); err != nil {
			c.abort()
			return fmt.Errorf("join meet: bad snapshot: %w", err)
		}

		c.store.SetMeeting(snap.MeetID, snap.MeetName)
		for _, u := range snap.Users {
			c.store.AddOrUpdatePeer(u)
			// The joiner initiates toward everyone already present.
			if err := c.peers.CreatePeer(u.ID, true, c.store.LocalStream()); err != nil {
				logutil.LogWarning("peer %s: %v", u.ID, err)
				c.emitPeerError(u.ID, err)
			}
		}
		c.setPhase(PhaseJoined)
		logutil.LogInfo("joined meet %s (%q) with %d existing peers", snap.MeetID, snap.MeetName, len(snap.Users))
		return nil

	case <-ctx.Done():
		c.abort()
		return ctx.Err()
	}
}

// AcceptMeetRequest is the host approving a join prompt. Admission already
// happened relay-side, so accepting only confirms the participant stays.
func (c *Controller) AcceptMeetRequest(u protocol.User) error {
	if !c.store.LocalUser().IsHost {
		return ErrNotHost
	}
	if _, ok := c.store.Peer(u.ID); !ok {
		return fmt.Errorf("accept request: unknown peer %s", u.ID)
	}
	return nil
}

// RejectMeetRequest is the host declining a join prompt: the joiner is told
// and evicted from local state.
func (c *Controller) RejectMeetRequest(u protocol.User) error {
	if !c.store.LocalUser().IsHost {
		return ErrNotHost
	}

	env := protocol.New(protocol.TypeRejectCall, nil)
	env.To = u.ID
	if err := c.conn.Send(env); err != nil {
		return fmt.Errorf("reject request: %w", err)
	}

	c.removePeerLocal(u.ID)
	return nil
}

// RenameMeet changes the meeting display name and propagates it to every
// peer. Host-only; a non-host call sends nothing.
func (c *Controller) RenameMeet(newName string) error {
	if !c.store.LocalUser().IsHost {
		return ErrNotHost
	}

	meetID, _ := c.store.Meeting()
	c.store.SetMeetingName(newName)

	for _, peerID := range c.store.PeerIDs() {
		env := protocol.New(protocol.TypeMeetNewName, protocol.Rename{NewMeetName: newName})
		env.To = peerID
		env.MeetID = meetID
		if err := c.conn.Send(env); err != nil {
			logutil.LogWarning("rename to %s: %v", peerID, err)
		}
	}
	return nil
}

// RemovePeerFromMeet evicts a participant. Host-only. The removed peer
// clears all of its own state on receipt; locally only that peer's link and
// entries go away.
func (c *Controller) RemovePeerFromMeet(peerID string) error {
	if !c.store.LocalUser().IsHost {
		return ErrNotHost
	}

	env := protocol.New(protocol.TypeRemoveFromMeet, nil)
	env.To = peerID
	if err := c.conn.Send(env); err != nil {
		return fmt.Errorf("remove peer: %w", err)
	}

	c.removePeerLocal(peerID)
	return nil
}

// LeaveMeet is the voluntary exit: notify every peer, clear all local state,
// return to idle.
func (c *Controller) LeaveMeet() error {
	if !c.inMeeting() {
		return ErrBadState
	}

	me := c.store.LocalUser()
	meetID, _ := c.store.Meeting()

	for _, peerID := range c.store.PeerIDs() {
		env := protocol.New(protocol.TypeLeftMeet, protocol.Left{UserID: me.ID, MeetID: meetID})
		env.To = peerID
		env.MeetID = meetID
		if err := c.conn.Send(env); err != nil {
			logutil.LogWarning("left notice to %s: %v", peerID, err)
		}
	}

	c.teardown()
	c.setPhase(PhaseIdle)
	return nil
}

// CancelMeetRequest aborts a pending join as if it had never been attempted:
// partially-established links and acquired media are torn down.
func (c *Controller) CancelMeetRequest() error {
	phase := c.Phase()
	if phase != PhaseRequesting && phase != PhaseJoined {
		return ErrBadState
	}

	meetID, _ := c.store.Meeting()
	if err := c.conn.Send(protocol.New(protocol.TypeCancelMeetRequest, protocol.Cancel{MeetID: meetID})); err != nil {
		logutil.LogWarning("cancel request: %v", err)
	}

	c.teardown()
	c.setPhase(PhaseIdle)
	return nil
}

// SetAudioEnabled toggles the local mic and tells every peer, one direct
// message each; there is no meeting-wide multicast for state updates.
func (c *Controller) SetAudioEnabled(enabled bool) error {
	if !c.inMeeting() {
		return ErrBadState
	}

	if stream := c.store.LocalStream(); stream != nil {
		for _, t := range stream.AudioTracks() {
			t.SetEnabled(enabled)
		}
	}
	c.store.SetMicOn(enabled)

	c.broadcastToggle(protocol.TypeUpdateUserAudio, protocol.AudioToggle{ShouldMute: !enabled})
	return nil
}

// SetVideoEnabled toggles the local camera and tells every peer.
func (c *Controller) SetVideoEnabled(enabled bool) error {
	if !c.inMeeting() {
		return ErrBadState
	}

	if stream := c.store.LocalStream(); stream != nil {
		for _, t := range stream.VideoTracks() {
			t.SetEnabled(enabled)
		}
	}
	c.store.SetCamOn(enabled)

	c.broadcastToggle(protocol.TypeUpdateUserVideo, protocol.VideoToggle{ShouldStop: !enabled})
	return nil
}

// StartScreenShare acquires a display capture, swaps it in as the outbound
// video track on every link and announces the share. When the capture track
// ends outside the app (native browser UI), the share auto-reverts.
func (c *Controller) StartScreenShare(ctx context.Context) error {
	if !c.inMeeting() {
		return ErrBadState
	}
	if _, _, sharing := c.store.Capabilities(); sharing {
		return ErrBadState
	}

	display, err := c.media.GetDisplayMedia(ctx)
	if err != nil {
		return fmt.Errorf("screen share: %w", err)
	}

	shareTrack := firstVideoTrack(display)
	if shareTrack == nil {
		display.Close()
		return fmt.Errorf("screen share: capture has no video track")
	}

	camTrack := firstVideoTrack(c.store.LocalStream())
	if err := c.peers.ReplaceVideoTrack(camTrack, shareTrack); err != nil {
		// Per-link failures don't stop the share for the links that took it.
		logutil.LogWarning("screen share: %v", err)
	}

	c.store.SetDisplayStream(display)
	c.broadcastToggle(protocol.TypeUpdateScreenShare, protocol.ShareToggle{IsSharing: true})

	shareTrack.OnEnded(func() {
		if err := c.StopScreenShare(); err != nil {
			logutil.LogWarning("share auto-revert: %v", err)
		}
	})
	return nil
}

// StopScreenShare reverts to the camera track and announces the end of the
// share. Idempotent: the app button and the track-ended callback may race.
func (c *Controller) StopScreenShare() error {
	if _, _, sharing := c.store.Capabilities(); !sharing {
		return nil
	}

	// Clear the sharing flag first so the track-ended callback fired by
	// display.Close cannot re-enter.
	display := c.store.DisplayStream()
	c.store.SetDisplayStream(nil)

	shareTrack := firstVideoTrack(display)
	camTrack := firstVideoTrack(c.store.LocalStream())

	if err := c.peers.ReplaceVideoTrack(shareTrack, camTrack); err != nil {
		logutil.LogWarning("share revert: %v", err)
	}

	if display != nil {
		display.Close()
	}
	c.broadcastToggle(protocol.TypeUpdateScreenShare, protocol.ShareToggle{IsSharing: false})
	return nil
}

// LocalSignal implements LinkEvents: negotiation output flows back out
// through the relay, addressed to the peer.
func (c *Controller) LocalSignal(peerID string, data json.RawMessage) {
	meetID, _ := c.store.Meeting()
	env := protocol.New(protocol.TypeSignal, protocol.Signal{Signal: data})
	env.To = peerID
	env.MeetID = meetID
	if err := c.conn.Send(env); err != nil {
		logutil.LogWarning("signal to %s: %v", peerID, err)
	}
}

// RemoteStream implements LinkEvents.
func (c *Controller) RemoteStream(peerID string, stream MediaStream) {
	c.store.SetPeerStream(peerID, stream)
	if c.events.OnPeerStream != nil {
		c.events.OnPeerStream(peerID)
	}
}

// LinkClosed implements LinkEvents: one peer's negotiation failure tears
// down that peer only.
func (c *Controller) LinkClosed(peerID string, reason error) {
	c.store.RemovePeer(peerID)
	logutil.LogWarning("link to %s closed: %v", peerID, reason)
	c.emitPeerError(peerID, reason)
}

func (c *Controller) dispatch(env protocol.Envelope) {
	// Reply types first: a lifecycle operation may be blocked on this.
	c.mu.Lock()
	if ch, ok := c.waiters[env.Type]; ok {
		delete(c.waiters, env.Type)
		c.mu.Unlock()
		select {
		case ch <- env:
		default:
		}
		return
	}
	c.mu.Unlock()

	switch env.Type {
	case protocol.TypeSignal:
		c.handleSignal(env)

	case protocol.TypeNewUserJoined:
		var note protocol.NewUserJoined
		if err := env.Decode(&note); err != nil {
			return
		}
		c.store.AddOrUpdatePeer(note.User)
		if c.events.OnPeerJoined != nil {
			c.events.OnPeerJoined(note.User)
		}
		// Existing members wait for the joiner to initiate; the host
		// additionally gets the moderation prompt.
		if c.store.LocalUser().IsHost && c.events.OnJoinRequest != nil {
			c.events.OnJoinRequest(note.User)
		}

	case protocol.TypeMeetNameUpdated:
		var r protocol.Rename
		if err := env.Decode(&r); err != nil {
			return
		}
		c.store.SetMeetingName(r.NewMeetName)
		if c.events.OnMeetRenamed != nil {
			c.events.OnMeetRenamed(r.NewMeetName)
		}

	case protocol.TypeUserAudioUpdate:
		var upd protocol.StateUpdate
		if err := env.Decode(&upd); err != nil {
			return
		}
		c.store.SetPeerMuted(upd.UserID, upd.Status)
		c.emitPeerState(upd.UserID)

	case protocol.TypeUserVideoUpdate:
		var upd protocol.StateUpdate
		if err := env.Decode(&upd); err != nil {
			return
		}
		c.store.SetPeerVideoStopped(upd.UserID, upd.Status)
		c.emitPeerState(upd.UserID)

	case protocol.TypeScreenShareUpdate:
		var upd protocol.StateUpdate
		if err := env.Decode(&upd); err != nil {
			return
		}
		c.store.SetPeerSharingScreen(upd.UserID, upd.Status)
		c.emitPeerState(upd.UserID)

	case protocol.TypeRemovedFromMeet:
		// Eviction clears everything, not just the remover.
		c.teardown()
		c.setPhase(PhaseIdle)
		if c.events.OnRemoved != nil {
			c.events.OnRemoved()
		}

	case protocol.TypeCallRejected:
		c.teardown()
		c.setPhase(PhaseIdle)
		if c.events.OnRejected != nil {
			c.events.OnRejected()
		}

	case protocol.TypeOtherUserLeftMeet:
		var left protocol.Left
		if err := env.Decode(&left); err != nil {
			return
		}
		c.removePeerLocal(left.UserID)
		if c.events.OnPeerLeft != nil {
			c.events.OnPeerLeft(left.UserID)
		}

	case protocol.TypeCallCanceled:
		var note protocol.NewUserJoined
		if err := env.Decode(&note); err != nil {
			return
		}
		c.removePeerLocal(note.User.ID)
		if c.events.OnPeerLeft != nil {
			c.events.OnPeerLeft(note.User.ID)
		}

	case protocol.TypeMeetNotFound:
		// Only meaningful as a join reply; stale otherwise.

	default:
		logutil.LogDebug("unhandled message type: %s", env.Type)
	}
}

func (c *Controller) handleSignal(env protocol.Envelope) {
	meetID, _ := c.store.Meeting()
	if env.MeetID != "" && env.MeetID != meetID {
		// Stale signal from a meeting this client already left.
		logutil.LogDebug("discarding stale signal for meet %s", env.MeetID)
		return
	}

	var sig protocol.Signal
	if err := env.Decode(&sig); err != nil {
		return
	}

	// A signal may arrive before new-user-joined for the same peer; that is
	// the normal responder path, so learn the identity here too.
	c.store.AddOrUpdatePeer(env.From)

	if err := c.peers.Signal(env.From.ID, sig.Signal, c.store.LocalStream()); err != nil {
		logutil.LogWarning("signal from %s: %v", env.From.ID, err)
		c.emitPeerError(env.From.ID, err)
	}
}

func (c *Controller) register(ctx context.Context, name, email string) (protocol.User, error) {
	reply, cancel := c.await(protocol.TypeUserRegistered)
	defer cancel()

	if err := c.conn.Send(protocol.New(protocol.TypeSaveUserData, protocol.User{
		Name:  name,
		Email: email,
	})); err != nil {
		return protocol.User{}, err
	}

	select {
	case env := <-reply:
		var me protocol.User
		if err := env.Decode(&me); err != nil {
			return protocol.User{}, fmt.Errorf("bad registration ack: %w", err)
		}
		c.store.SetLocalUser(me)
		return me, nil

	case <-ctx.Done():
		return protocol.User{}, ctx.Err()
	}
}

// acquireMedia grabs the camera/mic bundle. Denied permission degrades to
// audio/video-less participation rather than failing the flow.
func (c *Controller) acquireMedia(ctx context.Context) {
	stream, err := c.media.GetUserMedia(ctx)
	if err != nil {
		logutil.LogWarning("media unavailable, continuing without: %v", err)
		return
	}
	c.store.SetLocalStream(stream)
}

// await registers a one-shot waiter for any of the given reply types. The
// cancel func must be called to drop leftover registrations.
func (c *Controller) await(types ...protocol.Type) (<-chan protocol.Envelope, func()) {
	ch := make(chan protocol.Envelope, 1)

	c.mu.Lock()
	for _, t := range types {
		c.waiters[t] = ch
	}
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		for _, t := range types {
			if c.waiters[t] == ch {
				delete(c.waiters, t)
			}
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

func (c *Controller) broadcastToggle(t protocol.Type, payload any) {
	meetID, _ := c.store.Meeting()
	for _, peerID := range c.store.PeerIDs() {
		env := protocol.New(t, payload)
		env.To = peerID
		env.MeetID = meetID
		if err := c.conn.Send(env); err != nil {
			logutil.LogWarning("%s to %s: %v", t, peerID, err)
		}
	}
}

func (c *Controller) removePeerLocal(peerID string) {
	c.peers.RemovePeer(peerID)
	c.store.RemovePeer(peerID)
}

func (c *Controller) teardown() {
	c.peers.Clear()
	c.store.ClearAll()
}

// abort reverts a failed lifecycle operation back to idle.
func (c *Controller) abort() {
	c.teardown()
	c.setPhase(PhaseIdle)
}

func (c *Controller) inMeeting() bool {
	phase := c.Phase()
	return phase == PhaseHosting || phase == PhaseJoined
}

func (c *Controller) transition(from, to Phase) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != from {
		return fmt.Errorf("%w: %s", ErrBadState, c.phase)
	}
	c.phase = to
	return nil
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

func (c *Controller) emitPeerState(peerID string) {
	if c.events.OnPeerState != nil {
		c.events.OnPeerState(peerID)
	}
}

func (c *Controller) emitPeerError(peerID string, err error) {
	if c.events.OnPeerError != nil {
		c.events.OnPeerError(peerID, err)
	}
}
