package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"fanchat/internal/app/user"
	"fanchat/internal/pkg/randx"
)

// MessageType identifies the payload of a WebSocket message.
type MessageType string

const (
	// TypeText is a chat line from a fan. The only type clients may send.
	TypeText MessageType = "TEXT"

	// TypeInitData is sent once to a client after it joined, with the room state.
	TypeInitData MessageType = "INIT_DATA"

	TypeUserJoined  MessageType = "USER_JOINED"
	TypeUserLeft    MessageType = "USER_LEFT"
	TypeTokenUpdate MessageType = "TOKEN_UPDATE"
	TypeConfirm     MessageType = "CONFIRM"
	TypeError       MessageType = "ERROR"
)

// SystemUser is the sender of server-generated messages.
var SystemUser = user.User{ID: "system", Nickname: "System", Role: user.RoleSystem}

// Message is the envelope of every server-to-client WebSocket message.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	RoomID    string      `json:"roomId"`
	Sender    user.User   `json:"sender"`
	Payload   any         `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewMessage builds a message with a fresh id and the current time in milliseconds.
func NewMessage(msgType MessageType, roomID string, sender user.User, payload any) (Message, error) {
	if msgType == "" {
		return Message{}, fmt.Errorf("message type is required")
	}

	return Message{
		ID:        randx.MessageID(),
		Type:      msgType,
		RoomID:    roomID,
		Sender:    sender,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// inboundMessage is what clients send.
type inboundMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	TempID  string          `json:"tempId,omitempty"`
}

type TextPayload struct {
	Content string `json:"content"`
}

// InitDataPayload describes the room to a client that just joined.
type InitDataPayload struct {
	CurrentUser user.User   `json:"currentUser"`
	OnlineUsers []user.User `json:"onlineUsers"`
	MaxUsers    int         `json:"maxUsers"`
	ChatKind    string      `json:"chatKind"`
}

type UserEventPayload struct {
	User user.User `json:"user"`
}

type TokenUpdatePayload struct {
	Token string `json:"token"`
}

type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type confirmPayload struct {
	TempID    string `json:"tempId"`
	MessageID string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}
