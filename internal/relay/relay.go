// Package relay implements the server-side signal broker: an in-memory
// directory of connected participants and meeting membership, forwarding
// typed envelopes to a named target or broadcasting to a meeting. It never
// inspects negotiation payloads beyond the routing fields.
package relay

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/meetlite/meetlite/internal/protocol"
)

// Presence mirrors membership bookkeeping into an external store for the
// read-only ops surface. The in-memory directory stays authoritative.
type Presence interface {
	MeetingCreated(meetID, name, hostID string)
	MemberJoined(meetID, userID string)
	MemberLeft(meetID, userID string)
	MeetingEnded(meetID string)
}

// Relay holds the connection directory and the live meetings.
type Relay struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	meetings map[string]*Meeting

	presence Presence
}

// New creates an empty relay. presence may be nil.
func New(presence Presence) *Relay {
	return &Relay{
		clients:  make(map[string]*Client),
		meetings: make(map[string]*Meeting),
		presence: presence,
	}
}

// NewClient mints a connection-scoped identity and registers it in the
// directory. The caller wires the transport pumps afterwards.
func (r *Relay) NewClient() *Client {
	c := &Client{
		ID:   uuid.New().String(),
		send: make(chan protocol.Envelope, sendBuffer),
	}
	c.user = protocol.User{ID: c.ID}

	r.mu.Lock()
	r.clients[c.ID] = c
	r.mu.Unlock()
	return c
}

// Detach removes the client from the directory and from its meeting,
// broadcasting the departure to remaining members.
func (r *Relay) Detach(c *Client) {
	r.mu.Lock()
	delete(r.clients, c.ID)
	r.mu.Unlock()

	r.leaveMeeting(c, true)
	log.Printf("peer %s disconnected", c.ID)
}

func (r *Relay) client(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

func (r *Relay) meeting(id string) (*Meeting, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.meetings[id]
	return m, ok
}

// Dispatch routes one inbound envelope. From is always overwritten with the
// sender's registered identity before any forwarding.
func (r *Relay) Dispatch(c *Client, env protocol.Envelope) {
	env.From = c.User()

	switch env.Type {
	case protocol.TypeSaveUserData:
		r.handleRegister(c, env)
	case protocol.TypeCreateMeet:
		r.handleCreateMeet(c, env)
	case protocol.TypeJoinMeet:
		r.handleJoinMeet(c, env)
	case protocol.TypeSignal:
		r.forward(c, env, protocol.TypeSignal)
	case protocol.TypeMeetNewName:
		r.forward(c, env, protocol.TypeMeetNameUpdated)
	case protocol.TypeUpdateUserAudio:
		r.forwardState(c, env, protocol.TypeUserAudioUpdate, audioStatus)
	case protocol.TypeUpdateUserVideo:
		r.forwardState(c, env, protocol.TypeUserVideoUpdate, videoStatus)
	case protocol.TypeUpdateScreenShare:
		r.forwardState(c, env, protocol.TypeScreenShareUpdate, shareStatus)
	case protocol.TypeRemoveFromMeet:
		r.handleRemove(c, env)
	case protocol.TypeLeftMeet:
		r.handleLeft(c, env)
	case protocol.TypeRejectCall:
		r.handleReject(c, env)
	case protocol.TypeCancelMeetRequest:
		r.handleCancel(c, env)
	default:
		log.Printf("unknown message type: %s", env.Type)
	}
}

func (r *Relay) handleRegister(c *Client, env protocol.Envelope) {
	var u protocol.User
	if err := env.Decode(&u); err != nil {
		log.Printf("bad save-user-data from %s: %v", c.ID, err)
		return
	}
	c.setUser(u)

	ack := protocol.New(protocol.TypeUserRegistered, c.User())
	ack.From = c.User()
	c.enqueue(ack)
}

func (r *Relay) handleCreateMeet(c *Client, env protocol.Envelope) {
	var req protocol.CreateMeet
	if err := env.Decode(&req); err != nil || req.MeetID == "" {
		log.Printf("bad create-meet from %s", c.ID)
		return
	}

	r.mu.Lock()
	if _, exists := r.meetings[req.MeetID]; exists {
		// Token collision. The creator generates random tokens, so this is
		// negligible rather than handled; fail silently per protocol.
		r.mu.Unlock()
		log.Printf("create-meet collision on %s", req.MeetID)
		return
	}
	m := newMeeting(req.MeetID, req.MeetName, c.ID)
	r.meetings[req.MeetID] = m
	r.mu.Unlock()

	c.setHost(true)
	c.setMeet(req.MeetID)
	m.addMember(c)

	if r.presence != nil {
		r.presence.MeetingCreated(m.ID, m.Name, c.ID)
		r.presence.MemberJoined(m.ID, c.ID)
	}

	log.Printf("meet %s (%q) created by %s", m.ID, m.Name, c.ID)
	c.enqueue(protocol.New(protocol.TypeMeetCreated, protocol.MeetCreated{
		MeetID:   m.ID,
		MeetName: m.Name,
	}))
}

func (r *Relay) handleJoinMeet(c *Client, env protocol.Envelope) {
	var req protocol.JoinMeet
	if err := env.Decode(&req); err != nil {
		log.Printf("bad join-meet from %s: %v", c.ID, err)
		return
	}

	m, ok := r.meeting(req.MeetID)
	if !ok {
		c.enqueue(protocol.Envelope{Type: protocol.TypeMeetNotFound, Error: "meet not found"})
		return
	}

	if req.User.Name != "" {
		c.setUser(req.User)
	}

	// Snapshot before admitting so the joiner's own entry is excluded.
	existing := m.memberUsers(c.ID)

	c.setMeet(m.ID)
	m.addMember(c)
	if r.presence != nil {
		r.presence.MemberJoined(m.ID, c.ID)
	}

	c.enqueue(protocol.New(protocol.TypeMeetJoined, protocol.MeetJoined{
		MeetID:   m.ID,
		MeetName: m.Name,
		Users:    existing,
	}))

	joined := protocol.New(protocol.TypeNewUserJoined, protocol.NewUserJoined{User: c.User()})
	joined.From = c.User()
	m.broadcast(joined, c.ID)

	log.Printf("peer %s joined meet %s", c.ID, m.ID)
}

// forward relays env to the connection named by To, rewriting the type for
// the receiving side. Vanished targets drop the message.
func (r *Relay) forward(c *Client, env protocol.Envelope, out protocol.Type) {
	if env.To == "" {
		return
	}
	target, ok := r.client(env.To)
	if !ok {
		log.Printf("target peer %s gone, dropping %s", env.To, env.Type)
		return
	}
	env.Type = out
	target.enqueue(env)
}

type stateKind int

const (
	audioStatus stateKind = iota
	videoStatus
	shareStatus
)

// forwardState converts a toggle request into a status notification tagged
// with the sender's id and forwards it to the named target.
func (r *Relay) forwardState(c *Client, env protocol.Envelope, out protocol.Type, kind stateKind) {
	var status bool
	switch kind {
	case audioStatus:
		var t protocol.AudioToggle
		if err := env.Decode(&t); err != nil {
			return
		}
		status = t.ShouldMute
	case videoStatus:
		var t protocol.VideoToggle
		if err := env.Decode(&t); err != nil {
			return
		}
		status = t.ShouldStop
	case shareStatus:
		var t protocol.ShareToggle
		if err := env.Decode(&t); err != nil {
			return
		}
		status = t.IsSharing
	}

	note := protocol.New(out, protocol.StateUpdate{UserID: c.ID, Status: status})
	note.From = c.User()
	r.deliver(env.To, note)
}

func (r *Relay) deliver(targetID string, env protocol.Envelope) {
	if targetID == "" {
		return
	}
	target, ok := r.client(targetID)
	if !ok {
		log.Printf("target peer %s gone, dropping %s", targetID, env.Type)
		return
	}
	target.enqueue(env)
}

func (r *Relay) handleRemove(c *Client, env protocol.Envelope) {
	target, ok := r.client(env.To)
	if !ok {
		return
	}

	note := protocol.New(protocol.TypeRemovedFromMeet, nil)
	note.From = c.User()
	target.enqueue(note)

	r.removeMembership(target)
}

func (r *Relay) handleLeft(c *Client, env protocol.Envelope) {
	var left protocol.Left
	if err := env.Decode(&left); err != nil {
		return
	}
	left.UserID = c.ID

	note := protocol.New(protocol.TypeOtherUserLeftMeet, left)
	note.From = c.User()
	r.deliver(env.To, note)

	// Membership bookkeeping once; repeated per-peer notices are idempotent.
	r.removeMembership(c)
}

func (r *Relay) handleReject(c *Client, env protocol.Envelope) {
	target, ok := r.client(env.To)
	if !ok {
		return
	}

	note := protocol.New(protocol.TypeCallRejected, nil)
	note.From = c.User()
	target.enqueue(note)

	r.removeMembership(target)
}

func (r *Relay) handleCancel(c *Client, env protocol.Envelope) {
	var req protocol.Cancel
	if err := env.Decode(&req); err != nil {
		return
	}

	m, ok := r.meeting(req.MeetID)
	if ok {
		note := protocol.New(protocol.TypeCallCanceled, protocol.NewUserJoined{User: c.User()})
		note.From = c.User()
		m.sendTo(m.HostID, note)
	}
	r.removeMembership(c)
}

// removeMembership takes the client out of its meeting without notifying
// anyone. Callers that owe a departure broadcast use leaveMeeting.
func (r *Relay) removeMembership(c *Client) {
	meetID := c.meet()
	if meetID == "" {
		return
	}
	m, ok := r.meeting(meetID)
	if !ok {
		return
	}

	c.setMeet("")
	if r.presence != nil {
		r.presence.MemberLeft(meetID, c.ID)
	}
	if m.removeMember(c.ID) {
		r.dropMeeting(meetID)
	}
}

// leaveMeeting removes the client and, when broadcast is set, tells the
// remaining members the participant is gone.
func (r *Relay) leaveMeeting(c *Client, broadcast bool) {
	meetID := c.meet()
	if meetID == "" {
		return
	}
	m, ok := r.meeting(meetID)
	if !ok {
		return
	}

	c.setMeet("")
	if r.presence != nil {
		r.presence.MemberLeft(meetID, c.ID)
	}
	empty := m.removeMember(c.ID)

	if broadcast {
		note := protocol.New(protocol.TypeOtherUserLeftMeet, protocol.Left{
			UserID: c.ID,
			MeetID: meetID,
		})
		note.From = c.User()
		m.broadcast(note, c.ID)
	}

	if empty {
		r.dropMeeting(meetID)
	}
}

func (r *Relay) dropMeeting(meetID string) {
	r.mu.Lock()
	delete(r.meetings, meetID)
	r.mu.Unlock()

	if r.presence != nil {
		r.presence.MeetingEnded(meetID)
	}
	log.Printf("meet %s ended, all participants gone", meetID)
}
