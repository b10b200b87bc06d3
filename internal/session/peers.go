package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// LinkEvents receives the per-peer callbacks of every managed link, tagged
// with the peer id. The lifecycle controller implements it.
type LinkEvents interface {
	// LocalSignal carries negotiation data that must be relayed to peerID.
	LocalSignal(peerID string, data json.RawMessage)
	// RemoteStream reports that peerID's media bundle is live.
	RemoteStream(peerID string, stream MediaStream)
	// LinkClosed reports that the link to peerID terminated. The manager has
	// already dropped it when this fires.
	LinkClosed(peerID string, reason error)
}

// PeerManager owns the set of active point-to-point links, one per remote
// participant id. At most one live link exists per id at any time; a new one
// can only be created after the previous one is torn down.
type PeerManager struct {
	factory LinkFactory
	events  LinkEvents

	mu    sync.Mutex
	links map[string]*managedLink
}

type managedLink struct {
	link      PeerLink
	state     LinkState
	initiator bool
}

func NewPeerManager(factory LinkFactory, events LinkEvents) *PeerManager {
	return &PeerManager{
		factory: factory,
		events:  events,
		links:   make(map[string]*managedLink),
	}
}

// CreatePeer constructs a link to peerID bound to the local stream's tracks.
// The initiator side generates the first offer. Fails with ErrNoLocalStream
// when no local media exists rather than building a trackless connection.
func (pm *PeerManager) CreatePeer(peerID string, initiator bool, local MediaStream) error {
	if local == nil {
		return ErrNoLocalStream
	}

	pm.mu.Lock()
	if _, exists := pm.links[peerID]; exists {
		pm.mu.Unlock()
		return fmt.Errorf("peer %s: %w", peerID, ErrPeerExists)
	}
	ml := &managedLink{state: LinkNegotiating, initiator: initiator}
	pm.links[peerID] = ml
	pm.mu.Unlock()

	cb := LinkCallbacks{
		OnLocalSignal: func(data json.RawMessage) {
			pm.events.LocalSignal(peerID, data)
		},
		OnRemoteStream: func(stream MediaStream) {
			pm.markActive(peerID)
			pm.events.RemoteStream(peerID, stream)
		},
		OnTerminate: func(reason error) {
			if pm.drop(peerID, ml) {
				pm.events.LinkClosed(peerID, reason)
			}
		},
	}

	link, err := pm.factory(initiator, local, cb)
	if err != nil {
		pm.drop(peerID, ml)
		return fmt.Errorf("create peer %s: %w", peerID, err)
	}

	pm.mu.Lock()
	if pm.links[peerID] != ml {
		// Terminated during construction; don't resurrect it.
		pm.mu.Unlock()
		link.Close()
		return nil
	}
	ml.link = link
	pm.mu.Unlock()
	return nil
}

// Signal feeds received negotiation data to peerID's link. When no link
// exists yet this client is the responder: the link is created first, bound
// to local, then fed. A signal arriving before the peer is otherwise known
// is the normal responder path, not an error.
func (pm *PeerManager) Signal(peerID string, data json.RawMessage, local MediaStream) error {
	link, ok := pm.linkFor(peerID)
	if !ok {
		if err := pm.CreatePeer(peerID, false, local); err != nil {
			return err
		}
		link, ok = pm.linkFor(peerID)
		if !ok {
			// Terminated immediately after creation.
			return nil
		}
	}

	if link == nil {
		return fmt.Errorf("peer %s: link not ready", peerID)
	}
	if err := link.Signal(data); err != nil {
		return fmt.Errorf("signal peer %s: %w", peerID, err)
	}
	return nil
}

// ReplaceVideoTrack swaps the outbound video track on every active link.
// A failure on one link does not block updating the others; the joined
// error reports every link that failed.
func (pm *PeerManager) ReplaceVideoTrack(oldTrack, newTrack MediaTrack) error {
	pm.mu.Lock()
	targets := make(map[string]PeerLink, len(pm.links))
	for id, ml := range pm.links {
		if ml.link != nil {
			targets[id] = ml.link
		}
	}
	pm.mu.Unlock()

	var errs []error
	for id, link := range targets {
		if err := link.ReplaceVideoTrack(oldTrack, newTrack); err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// RemovePeer destroys the link to peerID and forgets it. Removing an absent
// peer is a no-op.
func (pm *PeerManager) RemovePeer(peerID string) {
	pm.mu.Lock()
	ml, ok := pm.links[peerID]
	if ok {
		delete(pm.links, peerID)
	}
	pm.mu.Unlock()

	if ok && ml.link != nil {
		ml.link.Close()
	}
}

// Clear tears down every link.
func (pm *PeerManager) Clear() {
	pm.mu.Lock()
	links := pm.links
	pm.links = make(map[string]*managedLink)
	pm.mu.Unlock()

	for _, ml := range links {
		if ml.link != nil {
			ml.link.Close()
		}
	}
}

// State reports the link state for peerID.
func (pm *PeerManager) State(peerID string) (LinkState, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	ml, ok := pm.links[peerID]
	if !ok {
		return LinkClosed, false
	}
	return ml.state, true
}

// Initiator reports whether this side initiated the link to peerID.
func (pm *PeerManager) Initiator(peerID string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	ml, ok := pm.links[peerID]
	return ok && ml.initiator
}

// Count reports the number of managed links.
func (pm *PeerManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.links)
}

// IDs snapshots the managed peer ids.
func (pm *PeerManager) IDs() []string {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make([]string, 0, len(pm.links))
	for id := range pm.links {
		out = append(out, id)
	}
	return out
}

func (pm *PeerManager) linkFor(peerID string) (PeerLink, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	ml, ok := pm.links[peerID]
	if !ok {
		return nil, false
	}
	return ml.link, true
}

func (pm *PeerManager) markActive(peerID string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if ml, ok := pm.links[peerID]; ok {
		ml.state = LinkActive
	}
}

// drop removes the entry only if it still is the same link generation,
// guarding against a stale terminate racing a fresh CreatePeer.
func (pm *PeerManager) drop(peerID string, ml *managedLink) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if cur, ok := pm.links[peerID]; ok && cur == ml {
		cur.state = LinkClosed
		delete(pm.links, peerID)
		return true
	}
	return false
}
