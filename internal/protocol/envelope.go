package protocol

import (
	"encoding/json"
	"time"
)

// Type discriminates the payload carried by an Envelope.
type Type string

// Client to server types.
const (
	TypeHello         Type = "hello"
	TypeReceiveStatus Type = "receive_status"
	TypeSendMessage   Type = "send_message"
)

// Server to client types.
const (
	TypeChatStatus       Type = "chat_status"
	TypeReceiveMessage   Type = "receive_message"
	TypeError            Type = "error"
	TypeUserConnected    Type = "user_connected"
	TypeUserDisconnected Type = "user_disconnected"
)

// Envelope is an outbound frame. Data holds one of the payload structs below.
type Envelope struct {
	Type Type `json:"type"`
	Data any  `json:"data"`
}

// Hello is the handshake payload announcing the client's identity.
type Hello struct {
	User string `json:"user" validate:"required"`
}

// SendMessage asks the relay to deliver Text. An empty Receivers list means
// everyone currently connected.
type SendMessage struct {
	Text      string   `json:"text"`
	Receivers []string `json:"receivers,omitempty"`
}

// ChatStatus carries the roster snapshot.
type ChatStatus struct {
	ActiveClients []string `json:"active_clients"`
}

// ReceiveMessage is a delivered chat message. Timestamp is in unix seconds.
type ReceiveMessage struct {
	Sender    string `json:"sender"`
	Timestamp int64  `json:"timestamp"`
	Text      string `json:"text"`
}

// ErrorNotice is a non-fatal application error sent back to a client.
type ErrorNotice struct {
	Message string `json:"message"`
}

// Presence announces a join or leave of ClientID.
type Presence struct {
	ClientID string `json:"client_id"`
}

// NewChatStatus builds a chat_status envelope. A nil roster is sent as an
// empty list.
func NewChatStatus(activeClients []string) Envelope {
	if activeClients == nil {
		activeClients = []string{}
	}
	return Envelope{Type: TypeChatStatus, Data: ChatStatus{ActiveClients: activeClients}}
}

// NewReceiveMessage builds a receive_message envelope stamped with at.
func NewReceiveMessage(sender string, at time.Time, text string) Envelope {
	return Envelope{
		Type: TypeReceiveMessage,
		Data: ReceiveMessage{Sender: sender, Timestamp: at.Unix(), Text: text},
	}
}

// NewError builds an error envelope.
func NewError(message string) Envelope {
	return Envelope{Type: TypeError, Data: ErrorNotice{Message: message}}
}

// NewUserConnected builds a user_connected presence envelope.
func NewUserConnected(clientID string) Envelope {
	return Envelope{Type: TypeUserConnected, Data: Presence{ClientID: clientID}}
}

// NewUserDisconnected builds a user_disconnected presence envelope.
func NewUserDisconnected(clientID string) Envelope {
	return Envelope{Type: TypeUserDisconnected, Data: Presence{ClientID: clientID}}
}

// Encode serializes env for the wire.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}
