package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/meetlite/meetlite/internal/logutil"
	"github.com/meetlite/meetlite/internal/protocol"
)

// WSConn is the gorilla-websocket implementation of Conn.
type WSConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	recv    chan protocol.Envelope

	closeOnce sync.Once
}

// Dial connects to the relay's signaling endpoint, e.g.
//
//	ws://localhost:8080/ws/signal
func Dial(ctx context.Context, url string) (*WSConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	ws := &WSConn{
		conn: conn,
		recv: make(chan protocol.Envelope, 64),
	}
	go ws.readLoop()
	return ws, nil
}

func (ws *WSConn) readLoop() {
	defer close(ws.recv)
	for {
		var env protocol.Envelope
		if err := ws.conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logutil.LogDebug("relay read loop ended: %v", err)
			}
			return
		}
		ws.recv <- env
	}
}

func (ws *WSConn) Send(env protocol.Envelope) error {
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	if err := ws.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	return nil
}

func (ws *WSConn) Receive() <-chan protocol.Envelope {
	return ws.recv
}

func (ws *WSConn) Close() error {
	var err error
	ws.closeOnce.Do(func() {
		ws.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = ws.conn.Close()
	})
	return err
}
