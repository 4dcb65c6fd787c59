package handler

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"fanchat/internal/app/chat"
	"fanchat/internal/app/user"
	"fanchat/internal/pkg/auth/jwt"
	"fanchat/internal/pkg/errs"
	"fanchat/internal/pkg/limiter"
	"fanchat/internal/pkg/logx"
	"fanchat/internal/pkg/resp"
)

// HandleWebSocket upgrades a connection holding a room access token and attaches it to the room.
// The token is the only proof of authorization; the room is started on first use.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if ip == "" {
			ip = "unknown_ip"
		}

		if !rateLimiter.GetLimiter(ip).Allow() {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", ip)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		roomID := chi.URLParam(r, "roomId")

		claims, err := jwt.ParseRoomToken(r.URL.Query().Get("token"), deps.Config.JWTSecret)
		if err != nil || claims.RoomID != roomID {
			logx.Warn("WebSocket connection rejected: Invalid room token.", "room_id", roomID)
			resp.RespondError(w, r, errs.NewError(errs.ErrRoomAccessDenied))
			return
		}

		room := deps.Manager.EnsureRoom(roomID, claims.ChatKind)
		if room == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrServiceUnavailable))
			return
		}
		if room.IsFull(claims.ID) {
			logx.Info("WebSocket connection rejected: Room is full.", "room_id", roomID)
			resp.RespondError(w, r, errs.NewError(errs.ErrRoomIsFull))
			return
		}

		currentUser := user.User{
			ID:       claims.ID,
			Nickname: claims.Nickname,
			TeamID:   claims.TeamID,
			Role:     claims.Role,
		}
		if currentUser.Role == "" {
			currentUser.Role = user.RoleFan
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := chat.NewClient(room, conn, currentUser, time.Unix(claims.ExpiresAt, 0))

		if !room.RegisterClient(client) {
			logx.Info("WebSocket connection dropped: Room stopped during upgrade.", "room_id", roomID)
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "room closed"))
			_ = conn.Close()
			return
		}

		logx.Info("WebSocket connection established and client registered", "client_id", currentUser.ID, "room_id", roomID)

		go client.WritePump()
		client.ReadPump()
	}
}
