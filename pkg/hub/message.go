// Package hub fans dashboard events out to websocket subscribers. Each
// subscriber has a bounded queue and is dropped when it falls behind.
package hub

import "github.com/gofiber/websocket/v2"

// MessageType selects the websocket frame an event is sent as.
type MessageType int

const (
	// JSONMessage is sent as a text frame.
	JSONMessage MessageType = iota
	// BinaryMessage is sent as a binary frame.
	BinaryMessage
)

// Message is one queued event.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage wraps an encoded JSON event.
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

func (m Message) wsType() int {
	if m.Type == BinaryMessage {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
