package websocket

import (
	"github.com/gofiber/websocket/v2"
)

// ServeWs handles websocket requests from the operator UI.
func ServeWs(hub *Hub, c *websocket.Conn, contextID string) {
	client := &Client{Hub: hub, Conn: c, ContextID: contextID, Send: make(chan []byte, 256)}
	client.Hub.register <- client

	go client.writePump()
	client.readPump() // Run readPump in current goroutine (handler)
}
