package chat

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fanchat/internal/app/user"
	"fanchat/internal/pkg/errs"
	"fanchat/internal/pkg/logx"
)

const (
	broadcastChannelBuffer = 1024
	registerChannelBuffer  = 16
	unregisterBuffer       = 64

	// WatchMaxClients is the capacity of a watch-along room.
	WatchMaxClients = 500

	// MatchMaxClients is the capacity of a fan-hosted match room.
	MatchMaxClients = 20

	// RoomInactivityTimeout is how long a room stays alive without clients.
	RoomInactivityTimeout = 5 * time.Minute
)

// MaxClientsFor returns the capacity of rooms of the given chat kind.
func MaxClientsFor(chatKind string) int {
	if chatKind == "WATCH" {
		return WatchMaxClients
	}
	return MatchMaxClients
}

// RoomCleanupMsg asks the Manager to forget a room whose Run loop ended.
type RoomCleanupMsg struct {
	Room *Room
}

// Room is the live side of a registered room: the set of connected clients and the loop
// that fans messages out to them. Only the Run goroutine mutates clients.
type Room struct {
	ID         string
	ChatKind   string
	MaxClients int

	jwtSecret string

	// clients is keyed by subject id; one connection per fan.
	clients map[string]*Client

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client

	cleanupChan chan<- RoomCleanupMsg

	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	inactivityTimeout time.Duration

	// mu guards clients for readers outside the Run loop.
	mu sync.RWMutex

	// regMu orders RegisterClient against the final drain of register.
	regMu sync.RWMutex

	logger zerolog.Logger
}

// NewRoom creates a room. It does nothing until Run is started.
func NewRoom(roomID, chatKind string, maxClients int, cleanupChan chan<- RoomCleanupMsg, jwtSecret string, inactivityTimeout time.Duration) *Room {
	return &Room{
		ID:                roomID,
		ChatKind:          chatKind,
		MaxClients:        maxClients,
		jwtSecret:         jwtSecret,
		clients:           make(map[string]*Client),
		broadcast:         make(chan Message, broadcastChannelBuffer),
		register:          make(chan *Client, registerChannelBuffer),
		unregister:        make(chan *Client, unregisterBuffer),
		cleanupChan:       cleanupChan,
		stopChan:          make(chan struct{}),
		done:              make(chan struct{}),
		inactivityTimeout: inactivityTimeout,
		logger:            logx.Logger().With().Str("room_id", roomID).Str("chat_kind", chatKind).Logger(),
	}
}

// Stop ends the Run loop. Safe to call more than once.
func (r *Room) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info().Msg("Received stop signal. Stopping room.")
		close(r.stopChan)
	})
}

// Done is closed when the Run loop has exited.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// Stopped reports whether the room stopped or was asked to.
func (r *Room) Stopped() bool {
	select {
	case <-r.stopChan:
		return true
	case <-r.done:
		return true
	default:
		return false
	}
}

// Run is the room's event loop. It exits on Stop or after the room stayed empty for the
// inactivity timeout.
func (r *Room) Run() {
	shutdownTimer := time.NewTimer(r.inactivityTimeout)

	defer func() {
		shutdownTimer.Stop()
		r.Stop()

		r.mu.Lock()
		for id, client := range r.clients {
			client.closeSend()
			delete(r.clients, id)
		}
		r.mu.Unlock()

		r.regMu.Lock()
		r.drainRegistrations()
		r.regMu.Unlock()

		// Done must not be observed before the manager has been told.
		r.notifyCleanup()
		close(r.done)
		r.logger.Info().Msg("Room Run loop finished.")
	}()

	for {
		select {
		case client := <-r.register:
			r.handleRegister(client, shutdownTimer)

		case client := <-r.unregister:
			if r.removeClient(client) && r.Count() == 0 {
				r.logger.Info().Dur("timeout", r.inactivityTimeout).Msg("Room is empty. Starting inactivity timer.")
				shutdownTimer.Reset(r.inactivityTimeout)
			}

		case message := <-r.broadcast:
			r.fanout(message)

		case <-shutdownTimer.C:
			if r.Count() == 0 {
				r.logger.Info().Msg("Room inactivity timeout reached.")
				return
			}

		case <-r.stopChan:
			return
		}
	}
}

// drainRegistrations closes clients queued after the loop exited. Caller holds regMu.
func (r *Room) drainRegistrations() {
	for {
		select {
		case client := <-r.register:
			client.closeSend()
		default:
			return
		}
	}
}

func (r *Room) notifyCleanup() {
	select {
	case r.cleanupChan <- RoomCleanupMsg{Room: r}:
	default:
		r.logger.Warn().Msg("Manager cleanup channel full. Skipping cleanup notification.")
	}
}

func (r *Room) handleRegister(client *Client, shutdownTimer *time.Timer) {
	r.mu.Lock()

	if existing, ok := r.clients[client.user.ID]; ok {
		r.logger.Warn().Str("client_id", client.user.ID).Msg("Client already connected. Replacing old connection.")
		delete(r.clients, client.user.ID)
		existing.Kick("Session replaced by new connection.")
	}

	if r.MaxClients > 0 && len(r.clients) >= r.MaxClients {
		r.mu.Unlock()
		r.logger.Warn().Int("max_clients", r.MaxClients).Str("client_id", client.user.ID).Msg("Room is full. Client rejected.")
		client.SendError(errs.NewError(errs.ErrRoomIsFull))
		client.closeSend()
		return
	}

	shutdownTimer.Stop()

	r.clients[client.user.ID] = client
	init := InitDataPayload{
		CurrentUser: client.user,
		OnlineUsers: r.onlineUsersLocked(),
		MaxUsers:    r.MaxClients,
		ChatKind:    r.ChatKind,
	}
	total := len(r.clients)
	r.mu.Unlock()

	r.logger.Info().Str("client_id", client.user.ID).Int("total_users", total).Msg("Client joined room.")

	if err := client.SendInitData(init); err != nil {
		r.removeClient(client)
		return
	}

	msg, err := NewMessage(TypeUserJoined, r.ID, SystemUser, UserEventPayload{User: client.user})
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to build USER_JOINED message.")
		return
	}
	r.deliver(msg, client.user.ID)
}

// removeClient drops client if it is still the current connection of its user.
func (r *Room) removeClient(client *Client) bool {
	r.mu.Lock()
	current, ok := r.clients[client.user.ID]
	if !ok || current != client {
		r.mu.Unlock()
		r.logger.Debug().Str("client_id", client.user.ID).Msg("Ignoring unregister for stale connection.")
		return false
	}
	delete(r.clients, client.user.ID)
	total := len(r.clients)
	r.mu.Unlock()

	client.closeSend()
	r.logger.Info().Str("client_id", client.user.ID).Int("total_users", total).Msg("Client left room.")

	msg, err := NewMessage(TypeUserLeft, r.ID, SystemUser, UserEventPayload{User: client.user})
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to build USER_LEFT message.")
		return true
	}
	r.fanout(msg)
	return true
}

// fanout delivers message to every client except its sender.
func (r *Room) fanout(message Message) {
	r.deliver(message, message.Sender.ID)
}

// deliver sends message to every client but skipID. Clients whose queue is full are disconnected.
func (r *Room) deliver(message Message, skipID string) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		r.logger.Error().Err(err).Str("message_id", message.ID).Msg("Error marshaling message for broadcast.")
		return
	}

	var slow []*Client

	r.mu.RLock()
	for id, client := range r.clients {
		if id == skipID {
			continue
		}
		if err := client.enqueue(messageBytes); errors.Is(err, errSendQueueFull) {
			slow = append(slow, client)
		}
	}
	r.mu.RUnlock()

	for _, client := range slow {
		r.logger.Warn().Str("client_id", client.user.ID).Msg("Client send queue full. Disconnecting.")
		r.removeClient(client)
	}
}

func (r *Room) onlineUsersLocked() []user.User {
	users := make([]user.User, 0, len(r.clients))
	for _, c := range r.clients {
		users = append(users, c.user)
	}
	return users
}

// RegisterClient queues client for joining. It returns false if the room has stopped.
func (r *Room) RegisterClient(client *Client) bool {
	r.regMu.RLock()
	defer r.regMu.RUnlock()

	if r.Stopped() {
		return false
	}

	select {
	case r.register <- client:
		return true
	case <-r.stopChan:
		return false
	}
}

// Unregister queues client for removal without blocking.
func (r *Room) Unregister(client *Client) {
	select {
	case r.unregister <- client:
	case <-r.done:
	default:
		r.logger.Warn().Str("client_id", client.user.ID).Msg("Room unregister channel full.")
	}
}

// Broadcast queues message for every client but its sender.
func (r *Room) Broadcast(message Message) bool {
	select {
	case r.broadcast <- message:
		return true
	case <-r.done:
		return false
	}
}

// IsFull reports whether a new fan (one not already connected) would be rejected.
func (r *Room) IsFull(subjectID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, connected := r.clients[subjectID]; connected {
		return false
	}
	return r.MaxClients > 0 && len(r.clients) >= r.MaxClients
}

// Count returns the number of connected clients.
func (r *Room) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
