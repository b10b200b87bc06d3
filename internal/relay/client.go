package relay

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meetlite/meetlite/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Client is one signaling connection. Identity is connection-scoped: the ID
// is minted when the client attaches and dies with the socket.
type Client struct {
	ID string

	mu     sync.RWMutex
	user   protocol.User
	meetID string

	conn *websocket.Conn
	send chan protocol.Envelope
}

// User returns the registered identity. Before save-user-data arrives this
// is a User with only the ID set.
func (c *Client) User() protocol.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

func (c *Client) setUser(u protocol.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u.ID = c.ID
	u.IsHost = c.user.IsHost
	c.user = u
}

func (c *Client) setHost(isHost bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user.IsHost = isHost
}

func (c *Client) setMeet(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meetID = id
}

func (c *Client) meet() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meetID
}

// Outbox exposes the send queue, for transports and tests that pump it.
func (c *Client) Outbox() <-chan protocol.Envelope {
	return c.send
}

// enqueue queues env for delivery, returning false when the buffer is full.
func (c *Client) enqueue(env protocol.Envelope) bool {
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// Bind attaches a WebSocket connection so the pumps can run.
func (c *Client) Bind(conn *websocket.Conn) {
	c.conn = conn
}

// ReadPump reads envelopes off the socket and dispatches them into the relay
// until the connection dies, then detaches the client.
func (c *Client) ReadPump(r *Relay) {
	defer func() {
		r.Detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			break
		}

		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("failed to parse envelope: %v", err)
			continue
		}

		r.Dispatch(c, env)
	}
}

// WritePump drains the send queue onto the socket and keeps the connection
// alive with periodic pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(env); err != nil {
				log.Printf("failed to write envelope: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
