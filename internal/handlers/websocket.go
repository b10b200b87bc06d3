package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/meetlite/meetlite/internal/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// HandleSignaling upgrades the connection and attaches it to the relay.
// Participants are not authenticated here: identity is connection-scoped and
// assigned by the relay itself.
func HandleSignaling(rly *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("failed to upgrade connection: %v", err)
			return
		}

		client := rly.NewClient()
		client.Bind(conn)
		log.Printf("peer %s connected", client.ID)

		go client.WritePump()
		go client.ReadPump(rly)
	}
}
