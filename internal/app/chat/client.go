package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"fanchat/internal/app/user"
	"fanchat/internal/pkg/auth/jwt"
	"fanchat/internal/pkg/errs"
	"fanchat/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a message sent by the client.
	maxMessageSize = 8192

	sendBuffer = 256

	// MaxContentBytes is the longest chat line accepted.
	MaxContentBytes = 2000

	// WsCloseCodeSessionKicked is sent when a newer connection of the same fan replaced this one.
	WsCloseCodeSessionKicked = 4001

	// TokenRefreshWindow defines how much time before the token expires we should attempt to refresh it.
	TokenRefreshWindow = 2 * time.Minute
)

// Client is one fan's WebSocket connection to a room.
type Client struct {
	room *Room
	conn *websocket.Conn
	user user.User

	// tokenExpiry is only touched by the WritePump goroutine.
	tokenExpiry time.Time

	// send queues serialized messages for WritePump. sendMu guards closed and the close of send.
	send   chan []byte
	sendMu sync.Mutex
	closed bool

	// kickReason is set before send is closed; WritePump reads it after observing the close.
	kickReason string

	logger zerolog.Logger
}

// NewClient constructs a client. Start ReadPump and WritePump after RegisterClient succeeds.
func NewClient(room *Room, wsConn *websocket.Conn, u user.User, expiry time.Time) *Client {
	return &Client{
		room:        room,
		conn:        wsConn,
		user:        u,
		tokenExpiry: expiry,
		send:        make(chan []byte, sendBuffer),
		logger: logx.Logger().With().
			Str("client_id", u.ID).
			Str("room_id", room.ID).
			Logger(),
	}
}

// User returns the participant this connection belongs to.
func (c *Client) User() user.User {
	return c.user
}

func (c *Client) closeSend() {
	c.closeWith("")
}

func (c *Client) closeWith(kickReason string) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.kickReason = kickReason
	close(c.send)
}

// ReadPump reads client messages until the connection fails, then unregisters the client.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			break
		}

		c.processInboundMessage(messageBytes)
	}
}

func (c *Client) cleanupOnDisconnect() {
	c.logger.Info().Msg("Client connection cleanup starting.")

	c.room.Unregister(c)

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}
}

func (c *Client) processInboundMessage(messageBytes []byte) {
	var inbound inboundMessage
	if err := json.Unmarshal(messageBytes, &inbound); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid JSON")
		return
	}

	switch inbound.Type {
	case TypeText:
		c.handleText(inbound.Payload, inbound.TempID)
	default:
		c.logger.Warn().Str("msg_type", string(inbound.Type)).Msg("Client sent unsupported message type")
	}
}

func (c *Client) handleText(payloadBytes json.RawMessage, tempID string) {
	var textPayload TextPayload
	if err := json.Unmarshal(payloadBytes, &textPayload); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid TEXT payload")
		return
	}

	textPayload.Content = strings.TrimSpace(textPayload.Content)
	if textPayload.Content == "" {
		return
	}
	if len(textPayload.Content) > MaxContentBytes {
		c.SendError(errs.NewError(errs.ErrMessageContentTooLong))
		return
	}

	broadcastMsg, err := NewMessage(TypeText, c.room.ID, c.user, textPayload)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to create new text message for broadcast")
		return
	}

	c.sendConfirmation(tempID, broadcastMsg)
	if !c.room.Broadcast(broadcastMsg) {
		c.logger.Debug().Msg("Room closed before broadcast.")
	}
}

// WritePump drains the send queue onto the connection and keeps it alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.writeQueuedMessage(message, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}

			c.checkAndRefreshToken()
		}
	}
}

// writeQueuedMessage returns false when WritePump should stop.
func (c *Client) writeQueuedMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		closeMessage := []byte{}
		if c.kickReason != "" {
			c.logger.Warn().
				Int("close_code", WsCloseCodeSessionKicked).
				Str("reason", c.kickReason).
				Msg("Sending WS Kick message and closing connection.")
			closeMessage = websocket.FormatCloseMessage(WsCloseCodeSessionKicked, c.kickReason)
		}
		if err := c.conn.WriteMessage(websocket.CloseMessage, closeMessage); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Error().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Error().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// checkAndRefreshToken mints a new room token when the current one is about to expire.
// The fan stays authorized for the room they already entered; no new decision is requested.
func (c *Client) checkAndRefreshToken() {
	if time.Now().Before(c.tokenExpiry.Add(-TokenRefreshWindow)) {
		return
	}

	c.logger.Info().
		Time("current_expiry", c.tokenExpiry).
		Dur("refresh_window", TokenRefreshWindow).
		Msg("Room token is nearing expiry, attempting refresh.")

	payload := &jwt.RoomPayload{
		ID:       c.user.ID,
		RoomID:   c.room.ID,
		ChatKind: c.room.ChatKind,
		TeamID:   c.user.TeamID,
		Nickname: c.user.Nickname,
		Role:     c.user.Role,
	}

	tokenString, err := jwt.GenerateRoomToken(payload, c.room.jwtSecret, jwt.RoomAccessExpiration)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to generate new token. Aborting refresh.")
		return
	}

	if err := c.SendTokenUpdateMessage(tokenString); err != nil {
		return
	}

	c.tokenExpiry = time.Now().Add(jwt.RoomAccessExpiration)
}

// SendTokenUpdateMessage queues a TOKEN_UPDATE carrying newToken.
func (c *Client) SendTokenUpdateMessage(newToken string) error {
	updateMsg, err := NewMessage(TypeTokenUpdate, c.room.ID, SystemUser, TokenUpdatePayload{Token: newToken})
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to build TOKEN_UPDATE message.")
		return err
	}

	if err := c.sendMessage(updateMsg); err != nil {
		c.logger.Error().Err(err).Msg("Failed to send TOKEN_UPDATE message.")
		return err
	}
	return nil
}

var (
	errSendQueueFull = errors.New("client send queue full")
	errClientClosed  = errors.New("client closed")
)

func (c *Client) sendMessage(data any) error {
	messageBytes, err := json.Marshal(data)
	if err != nil {
		c.logger.Error().Err(err).Msg("Error marshaling data for client")
		return err
	}

	return c.enqueue(messageBytes)
}

// enqueue never blocks. It fails when the queue is full or the client was closed.
func (c *Client) enqueue(messageBytes []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return errClientClosed
	}

	select {
	case c.send <- messageBytes:
		return nil
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send channel full, dropping message")
		return errSendQueueFull
	}
}

// SendError queues an ERROR message. Errors that are not *errs.CustomError are reported as ErrUnknown.
func (c *Client) SendError(err error) {
	payload := ErrorPayload{Code: errs.ErrUnknown, Message: fmt.Sprintf("Internal server error: %v", err)}

	var customErr *errs.CustomError
	if errors.As(err, &customErr) {
		payload = ErrorPayload{Code: customErr.Code, Message: customErr.Message}
	}

	errorMsg, msgErr := NewMessage(TypeError, c.room.ID, SystemUser, payload)
	if msgErr != nil {
		c.logger.Error().Err(msgErr).Msg("Failed to build error message in SendError")
		return
	}

	if err := c.sendMessage(errorMsg); err != nil {
		c.logger.Error().Err(err).Msg("Failed to queue error message")
	}
}

// SendInitData queues the INIT_DATA message.
func (c *Client) SendInitData(payload InitDataPayload) error {
	initMsg, err := NewMessage(TypeInitData, c.room.ID, SystemUser, payload)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to build INIT_DATA message.")
		return err
	}

	if err := c.sendMessage(initMsg); err != nil {
		c.logger.Error().Err(err).Msg("Failed to send INIT_DATA message.")
		return err
	}

	return nil
}

// sendConfirmation acknowledges a client message identified by its temporary id.
func (c *Client) sendConfirmation(tempID string, authoritativeMsg Message) {
	if tempID == "" {
		return
	}

	ackMsg, err := NewMessage(TypeConfirm, c.room.ID, c.user, confirmPayload{
		TempID:    tempID,
		MessageID: authoritativeMsg.ID,
		Timestamp: authoritativeMsg.Timestamp,
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to build ACK message in sendConfirmation")
		return
	}

	if err := c.sendMessage(ackMsg); err != nil {
		c.logger.Error().Err(err).Msg("Failed to queue ACK message")
	}
}

// Kick ends the connection with close code 4001. WritePump writes the close frame so that
// the connection keeps a single writer.
func (c *Client) Kick(reason string) {
	c.closeWith(reason)
}
