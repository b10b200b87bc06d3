// Package protocol defines the signaling wire format exchanged between
// meeting clients and the relay over a persistent WebSocket connection.
package protocol

import "encoding/json"

// Type identifies the kind of signaling message.
type Type string

const (
	// Client -> server requests.
	TypeSaveUserData       Type = "save-user-data"
	TypeCreateMeet         Type = "create-meet"
	TypeJoinMeet           Type = "join-meet"
	TypeSignal             Type = "signal"
	TypeMeetNewName        Type = "meet-new-name"
	TypeUpdateUserAudio    Type = "update-user-audio"
	TypeUpdateUserVideo    Type = "update-user-video"
	TypeUpdateScreenShare  Type = "update-screen-sharing"
	TypeRemoveFromMeet     Type = "remove-from-meet"
	TypeLeftMeet           Type = "left-meet"
	TypeRejectCall         Type = "reject-call"
	TypeCancelMeetRequest  Type = "cancel-meet-request"

	// Server -> client replies and notifications.
	TypeUserRegistered     Type = "user-registered"
	TypeMeetCreated        Type = "meet-created"
	TypeMeetJoined         Type = "meet-joined"
	TypeMeetNotFound       Type = "meet-not-found"
	TypeNewUserJoined      Type = "new-user-joined"
	TypeMeetNameUpdated    Type = "meet-name-updated"
	TypeUserAudioUpdate    Type = "user-audio-update"
	TypeUserVideoUpdate    Type = "user-video-update"
	TypeScreenShareUpdate  Type = "screen-sharing-update"
	TypeRemovedFromMeet    Type = "removed-from-meet"
	TypeOtherUserLeftMeet  Type = "other-user-left-meet"
	TypeCallRejected       Type = "call-rejected"
	TypeCallCanceled       Type = "call-canceled"
)

// User identifies one participant. The ID is assigned by the relay when the
// connection registers and is only valid for that connection's lifetime.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	IsHost bool   `json:"isHost"`
}

// Envelope is the frame carried on the wire. To addresses a single
// connection; From is filled in by the relay on forwarded messages so a
// receiver can never be spoofed by the payload.
type Envelope struct {
	Type    Type            `json:"type"`
	To      string          `json:"to,omitempty"`
	From    User            `json:"from,omitempty"`
	MeetID  string          `json:"meetId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// New builds an envelope of the given type with payload marshaled in place.
// Marshal errors are impossible for the payload structs in this package, so
// they are folded into an empty payload rather than returned.
func New(t Type, payload any) Envelope {
	env := Envelope{Type: t}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err == nil {
			env.Payload = data
		}
	}
	return env
}

// CreateMeet asks the relay to register a new meeting with the caller as host.
type CreateMeet struct {
	MeetID   string `json:"meetId"`
	MeetName string `json:"meetName"`
}

// MeetCreated acknowledges a successful create-meet.
type MeetCreated struct {
	MeetID   string `json:"meetId"`
	MeetName string `json:"meetName"`
}

// JoinMeet asks the relay to add the caller to an existing meeting.
type JoinMeet struct {
	MeetID string `json:"meetId"`
	User   User   `json:"user"`
}

// MeetJoined is the snapshot reply to a joiner: the meeting plus every
// member that was present before the join.
type MeetJoined struct {
	MeetID   string `json:"meetId"`
	MeetName string `json:"meetName"`
	Users    []User `json:"users"`
}

// NewUserJoined notifies existing members of a joiner.
type NewUserJoined struct {
	User User `json:"user"`
}

// Signal carries an opaque negotiation blob between two peers. The routing
// fields live on the envelope; the relay never inspects the blob.
type Signal struct {
	Signal json.RawMessage `json:"signal"`
}

// Rename propagates a meeting display-name change.
type Rename struct {
	NewMeetName string `json:"newMeetName"`
}

// AudioToggle is the client->server request payload for a mic state change.
type AudioToggle struct {
	ShouldMute bool `json:"shouldMute"`
}

// VideoToggle is the client->server request payload for a camera state change.
type VideoToggle struct {
	ShouldStop bool `json:"shouldStop"`
}

// ShareToggle is the client->server request payload for a screen-share change.
type ShareToggle struct {
	IsSharing bool `json:"isSharing"`
}

// StateUpdate is the server->client notification for any of the three
// presence flags. UserID is the participant the flag belongs to.
type StateUpdate struct {
	UserID string `json:"userId"`
	Status bool   `json:"status"`
}

// Left announces a voluntary departure.
type Left struct {
	UserID string `json:"userId"`
	MeetID string `json:"meetId"`
}

// Cancel aborts a pending join request.
type Cancel struct {
	MeetID string `json:"meetId"`
}
