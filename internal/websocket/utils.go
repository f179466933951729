package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// PongWait is how long a connection may stay silent before it is dropped.
	PongWait = 5 * time.Minute
)

// WriteJSON sends one event. Only a single goroutine may write to conn.
func WriteJSON(conn *websocket.Conn, event Event, data interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ResponsePayload{Event: event, Data: data})
}

// WriteError sends an error event.
func WriteError(conn *websocket.Conn, code, msg string) error {
	return WriteJSON(conn, EventError, ErrorData{Code: code, Message: msg})
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func ReadJSON(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetReadDeadline(time.Now().Add(PongWait))
	return conn.ReadJSON(v)
}
