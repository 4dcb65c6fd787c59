/*
Package chat serves authorized fans over WebSocket: rooms, their connections and message fan-out.

Rooms here are the live, in-process half of a room; the durable half lives in the room registry
of the decision engine. A room is started on the first connection carrying a valid room token and
stops after it stayed empty for a while.
*/
package chat

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fanchat/internal/pkg/logx"
	"fanchat/internal/pkg/metrics"
)

// Manager tracks the running rooms of this process.
type Manager struct {
	// rooms is keyed by room id.
	rooms map[string]*Room

	jwtSecret         string
	inactivityTimeout time.Duration

	// mu protects rooms and closed.
	mu     sync.RWMutex
	closed bool

	// cleanup receives rooms whose Run loop ended. It is never closed: a replaced room may
	// still be finishing when the manager shuts down.
	cleanup chan RoomCleanupMsg

	// quit stops runCleanupLoop.
	quit chan struct{}

	// wg waits for runCleanupLoop during shutdown.
	wg sync.WaitGroup

	logger zerolog.Logger
}

// NewManager starts a manager. jwtSecret signs refreshed room tokens.
func NewManager(jwtSecret string) *Manager {
	m := &Manager{
		rooms:             make(map[string]*Room),
		jwtSecret:         jwtSecret,
		inactivityTimeout: RoomInactivityTimeout,
		cleanup:           make(chan RoomCleanupMsg, 64),
		quit:              make(chan struct{}),
		logger:            logx.Logger().With().Str("component", "Manager").Logger(),
	}

	m.wg.Add(1)
	go m.runCleanupLoop()

	return m
}

// WithInactivityTimeout changes how long new rooms survive without clients.
func (m *Manager) WithInactivityTimeout(d time.Duration) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inactivityTimeout = d
	return m
}

func (m *Manager) runCleanupLoop() {
	defer m.wg.Done()

	m.logger.Info().Msg("Cleanup loop started.")

	for {
		select {
		case msg := <-m.cleanup:
			m.deleteRoom(msg.Room)
		case <-m.quit:
			m.logger.Info().Msg("Cleanup loop stopped.")
			return
		}
	}
}

// deleteRoom forgets room unless it was already replaced by a newer instance with the same id.
func (m *Manager) deleteRoom(room *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.rooms[room.ID]; ok && current == room {
		delete(m.rooms, room.ID)
		metrics.SetActiveRooms(len(m.rooms))
		m.logger.Info().Str("room_id", room.ID).Msg("Room successfully removed.")
	}
}

// EnsureRoom returns the running room with roomID, starting one if none is running.
// It returns nil after Shutdown.
func (m *Manager) EnsureRoom(roomID, chatKind string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	if room, ok := m.rooms[roomID]; ok && !room.Stopped() {
		return room
	}

	room := NewRoom(roomID, chatKind, MaxClientsFor(chatKind), m.cleanup, m.jwtSecret, m.inactivityTimeout)
	m.rooms[roomID] = room
	metrics.SetActiveRooms(len(m.rooms))

	go room.Run()

	m.logger.Info().Str("room_id", roomID).Str("chat_kind", chatKind).Int("max_clients", room.MaxClients).Msg("Room started.")
	return room
}

// GetRoom returns the running room with roomID, or nil.
func (m *Manager) GetRoom(roomID string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[roomID]
	if !ok || room.Stopped() {
		return nil
	}
	return room
}

// Count returns the number of tracked rooms.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Shutdown stops every room and the cleanup loop.
func (m *Manager) Shutdown() {
	m.logger.Info().Msg("Shutting down Manager...")

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	rooms := m.rooms
	m.rooms = make(map[string]*Room)
	m.mu.Unlock()

	for _, room := range rooms {
		room.Stop()
	}
	for _, room := range rooms {
		<-room.Done()
	}
	metrics.SetActiveRooms(0)

	close(m.quit)
	m.wg.Wait()

	m.logger.Info().Msg("Manager shutdown complete.")
}
