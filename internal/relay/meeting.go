package relay

import (
	"log"
	"sync"

	"github.com/meetlite/meetlite/internal/protocol"
)

// Meeting tracks the live membership of one meeting on this relay. The relay
// holds no durable record: when the last member leaves, the meeting is gone.
type Meeting struct {
	ID     string
	Name   string
	HostID string

	mu      sync.RWMutex
	members map[string]*Client
}

func newMeeting(id, name, hostID string) *Meeting {
	return &Meeting{
		ID:      id,
		Name:    name,
		HostID:  hostID,
		members: make(map[string]*Client),
	}
}

func (m *Meeting) addMember(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[c.ID] = c
}

func (m *Meeting) removeMember(id string) (empty bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members, id)
	return len(m.members) == 0
}

func (m *Meeting) member(id string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.members[id]
	return c, ok
}

// memberUsers snapshots the identities of every member except excludeID.
func (m *Meeting) memberUsers(excludeID string) []protocol.User {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]protocol.User, 0, len(m.members))
	for id, c := range m.members {
		if id != excludeID {
			users = append(users, c.User())
		}
	}
	return users
}

// broadcast sends env to every member except excludeID.
func (m *Meeting) broadcast(env protocol.Envelope, excludeID string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, c := range m.members {
		if id != excludeID {
			if !c.enqueue(env) {
				log.Printf("dropping %s to peer %s, buffer full", env.Type, id)
			}
		}
	}
}

// sendTo delivers env to a single member. Vanished targets are dropped
// silently; forwarding is fire-and-forget.
func (m *Meeting) sendTo(targetID string, env protocol.Envelope) {
	c, ok := m.member(targetID)
	if !ok {
		log.Printf("target peer %s not found in meet %s", targetID, m.ID)
		return
	}
	if !c.enqueue(env) {
		log.Printf("dropping %s to peer %s, buffer full", env.Type, targetID)
	}
}
