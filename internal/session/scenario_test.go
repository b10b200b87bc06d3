package session

import (
	"context"
	"errors"
	"testing"

	"github.com/meetlite/meetlite/internal/protocol"
	"github.com/meetlite/meetlite/internal/relay"
)

// harnessConn wires a controller to an in-process relay: sends dispatch
// straight into the relay, and a forwarder pumps the relay-side outbox into
// the controller's receive channel.
type harnessConn struct {
	r    *relay.Relay
	c    *relay.Client
	recv chan protocol.Envelope
	done chan struct{}
}

func newHarnessConn(r *relay.Relay) *harnessConn {
	hc := &harnessConn{
		r:    r,
		c:    r.NewClient(),
		recv: make(chan protocol.Envelope, 256),
		done: make(chan struct{}),
	}
	go func() {
		defer close(hc.recv)
		for {
			select {
			case env := <-hc.c.Outbox():
				hc.recv <- env
			case <-hc.done:
				return
			}
		}
	}()
	return hc
}

func (hc *harnessConn) Send(env protocol.Envelope) error {
	hc.r.Dispatch(hc.c, env)
	return nil
}

func (hc *harnessConn) Receive() <-chan protocol.Envelope { return hc.recv }

func (hc *harnessConn) Close() error {
	hc.r.Detach(hc.c)
	close(hc.done)
	return nil
}

type party struct {
	ctrl    *Controller
	conn    *harnessConn
	media   *fakeMedia
	factory *fakeFactory
}

func newParty(t *testing.T, r *relay.Relay, events Events) *party {
	t.Helper()
	p := &party{
		conn:    newHarnessConn(r),
		media:   &fakeMedia{},
		factory: &fakeFactory{},
	}
	p.ctrl = NewController(p.conn, p.media, p.factory.factory(), events)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go p.ctrl.Run(ctx)
	return p
}

// twoParty stands up host A ("Standup") and participant B fully negotiated.
func twoParty(t *testing.T) (host, guest *party) {
	t.Helper()
	r := relay.New(nil)
	host = newParty(t, r, Events{})
	guest = newParty(t, r, Events{})

	if err := host.ctrl.StartNewMeet(context.Background(), "Alice", "alice@example.com", "Standup"); err != nil {
		t.Fatalf("host start: %v", err)
	}
	meetID, _ := host.ctrl.Store().Meeting()

	if err := guest.ctrl.JoinMeet(context.Background(), "Bob", "bob@example.com", meetID); err != nil {
		t.Fatalf("guest join: %v", err)
	}
	return host, guest
}

func hostID(p *party) string { return p.ctrl.Store().LocalUser().ID }
func linkActive(p *party, peer string) func() bool {
	return func() bool {
		state, ok := p.ctrl.PeerManager().State(peer)
		return ok && state == LinkActive
	}
}

func TestScenarioTwoPartySession(t *testing.T) {
	host, guest := twoParty(t)
	aID, bID := hostID(host), hostID(guest)

	// The joiner initiates toward the one existing member.
	if !guest.ctrl.PeerManager().Initiator(aID) {
		t.Error("guest link is not initiator")
	}

	waitFor(t, linkActive(guest, aID), "guest link active")
	waitFor(t, linkActive(host, bID), "host link active")

	waitFor(t, func() bool {
		_, ok := host.ctrl.Store().Peer(bID)
		return ok
	}, "host knows guest")
	if _, ok := guest.ctrl.Store().Peer(aID); !ok {
		t.Error("guest does not know host")
	}

	if u, _ := guest.ctrl.Store().Peer(aID); !u.IsHost {
		t.Error("host not flagged isHost on the guest side")
	}
	if host.ctrl.Store().LocalUser().IsHost != true {
		t.Error("host lost isHost")
	}
	if guest.ctrl.Store().LocalUser().IsHost {
		t.Error("guest flagged as host")
	}

	if _, name := guest.ctrl.Store().Meeting(); name != "Standup" {
		t.Errorf("guest meeting name = %q", name)
	}
}

func TestScenarioMutePropagation(t *testing.T) {
	host, guest := twoParty(t)
	aID, bID := hostID(host), hostID(guest)
	waitFor(t, linkActive(host, bID), "host link active")

	if err := guest.ctrl.SetAudioEnabled(false); err != nil {
		t.Fatalf("mute: %v", err)
	}

	waitFor(t, func() bool {
		return host.ctrl.Store().PeerMuted(bID)
	}, "host records guest muted")

	// No other peer state changes.
	if host.ctrl.Store().PeerVideoStopped(bID) || host.ctrl.Store().PeerSharingScreen(bID) {
		t.Error("unrelated flags changed")
	}
	if guest.ctrl.Store().PeerMuted(aID) {
		t.Error("host marked muted on the guest side")
	}

	// Unmute flows back.
	if err := guest.ctrl.SetAudioEnabled(true); err != nil {
		t.Fatalf("unmute: %v", err)
	}
	waitFor(t, func() bool {
		return !host.ctrl.Store().PeerMuted(bID)
	}, "host records guest unmuted")
}

func TestScenarioHostEviction(t *testing.T) {
	removed := make(chan struct{}, 1)
	r := relay.New(nil)
	host := newParty(t, r, Events{})
	guest := newParty(t, r, Events{OnRemoved: func() { removed <- struct{}{} }})

	if err := host.ctrl.StartNewMeet(context.Background(), "Alice", "alice@example.com", "Standup"); err != nil {
		t.Fatalf("host start: %v", err)
	}
	meetID, _ := host.ctrl.Store().Meeting()
	if err := guest.ctrl.JoinMeet(context.Background(), "Bob", "bob@example.com", meetID); err != nil {
		t.Fatalf("guest join: %v", err)
	}
	bID := hostID(guest)
	waitFor(t, linkActive(host, bID), "host link active")

	if err := host.ctrl.RemovePeerFromMeet(bID); err != nil {
		t.Fatalf("evict: %v", err)
	}

	<-removed
	waitFor(t, func() bool { return guest.ctrl.Phase() == PhaseIdle }, "guest back to idle")

	// The removed peer clears everything, not just the remover.
	if guest.ctrl.PeerManager().Count() != 0 {
		t.Error("guest links survived eviction")
	}
	if len(guest.ctrl.Store().Peers()) != 0 {
		t.Error("guest peer set survived eviction")
	}
	if guest.media.lastUser != nil && !guest.media.lastUser.isClosed() {
		t.Error("guest media not released")
	}

	if _, ok := host.ctrl.Store().Peer(bID); ok {
		t.Error("host still lists the evicted peer")
	}
	if host.ctrl.PeerManager().Count() != 0 {
		t.Error("host still holds a link to the evicted peer")
	}
}

func TestScenarioRenamePropagation(t *testing.T) {
	host, guest := twoParty(t)
	bID := hostID(guest)
	waitFor(t, func() bool {
		_, ok := host.ctrl.Store().Peer(bID)
		return ok
	}, "host knows guest")

	if err := host.ctrl.RenameMeet("Retro"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	waitFor(t, func() bool {
		_, name := guest.ctrl.Store().Meeting()
		return name == "Retro"
	}, "guest sees new name")
}

func TestScenarioVoluntaryLeave(t *testing.T) {
	host, guest := twoParty(t)
	bID := hostID(guest)
	waitFor(t, linkActive(host, bID), "host link active")

	if err := guest.ctrl.LeaveMeet(); err != nil {
		t.Fatalf("leave: %v", err)
	}

	if guest.ctrl.Phase() != PhaseIdle {
		t.Error("guest not idle after leaving")
	}
	waitFor(t, func() bool {
		_, ok := host.ctrl.Store().Peer(bID)
		return !ok
	}, "host drops the departed peer")
	waitFor(t, func() bool { return host.ctrl.PeerManager().Count() == 0 }, "host link torn down")
}

func TestScenarioJoinNonexistentMeeting(t *testing.T) {
	r := relay.New(nil)
	p := newParty(t, r, Events{})

	err := p.ctrl.JoinMeet(context.Background(), "Carol", "carol@example.com", "never-created")
	if !errors.Is(err, ErrMeetNotFound) {
		t.Fatalf("got %v, want ErrMeetNotFound", err)
	}
	if p.ctrl.PeerManager().Count() != 0 {
		t.Error("lingering peer connections")
	}
	if p.media.lastUser == nil || !p.media.lastUser.isClosed() {
		t.Error("acquired media not released")
	}
	if p.ctrl.Phase() != PhaseIdle {
		t.Error("phase not reverted to idle")
	}
}

func TestScenarioHostRejectsJoiner(t *testing.T) {
	rejected := make(chan struct{}, 1)
	requests := make(chan protocol.User, 1)
	r := relay.New(nil)
	host := newParty(t, r, Events{OnJoinRequest: func(u protocol.User) { requests <- u }})
	guest := newParty(t, r, Events{OnRejected: func() { rejected <- struct{}{} }})

	if err := host.ctrl.StartNewMeet(context.Background(), "Alice", "alice@example.com", "Standup"); err != nil {
		t.Fatalf("host start: %v", err)
	}
	meetID, _ := host.ctrl.Store().Meeting()
	if err := guest.ctrl.JoinMeet(context.Background(), "Bob", "bob@example.com", meetID); err != nil {
		t.Fatalf("guest join: %v", err)
	}

	u := <-requests
	// Let the joiner's offer land first; rejecting mid-negotiation would
	// leave the responder link racing the eviction.
	waitFor(t, linkActive(host, u.ID), "host link active")
	if err := host.ctrl.RejectMeetRequest(u); err != nil {
		t.Fatalf("reject: %v", err)
	}

	<-rejected
	waitFor(t, func() bool { return guest.ctrl.Phase() == PhaseIdle }, "guest idle after rejection")
	if len(guest.ctrl.Store().Peers()) != 0 {
		t.Error("guest state survived rejection")
	}
	if _, ok := host.ctrl.Store().Peer(u.ID); ok {
		t.Error("host still lists the rejected joiner")
	}
}

func TestScenarioCancelMeetRequest(t *testing.T) {
	left := make(chan string, 1)
	r := relay.New(nil)
	host := newParty(t, r, Events{OnPeerLeft: func(id string) { left <- id }})
	guest := newParty(t, r, Events{})

	if err := host.ctrl.StartNewMeet(context.Background(), "Alice", "alice@example.com", "Standup"); err != nil {
		t.Fatalf("host start: %v", err)
	}
	meetID, _ := host.ctrl.Store().Meeting()
	if err := guest.ctrl.JoinMeet(context.Background(), "Bob", "bob@example.com", meetID); err != nil {
		t.Fatalf("guest join: %v", err)
	}
	bID := hostID(guest)

	if err := guest.ctrl.CancelMeetRequest(); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if guest.ctrl.Phase() != PhaseIdle {
		t.Error("guest not idle after cancel")
	}
	if guest.media.lastUser != nil && !guest.media.lastUser.isClosed() {
		t.Error("guest media survived cancel")
	}

	if got := <-left; got != bID {
		t.Errorf("host saw %s leave, want %s", got, bID)
	}
	waitFor(t, func() bool {
		_, ok := host.ctrl.Store().Peer(bID)
		return !ok
	}, "host drops the canceled joiner")
}
