/*
Package handler provides the HTTP surface of the chat-serving process: authorization of room
CREATE and JOIN requests through the bridge, and the WebSocket endpoint of the rooms.
*/
package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"fanchat/internal/app/bridge"
	"fanchat/internal/pkg/auth/jwt"
	"fanchat/internal/pkg/errs"
	"fanchat/internal/pkg/randx"
	"fanchat/internal/pkg/req"
	"fanchat/internal/pkg/resp"
)

// RoomInput is the body of the room CREATE and JOIN endpoints.
type RoomInput struct {
	// TeamID defaults to the team of the identity token and must match it when given.
	TeamID string `json:"teamId,omitempty"`

	// GameID is required for WATCH rooms.
	GameID string `json:"gameId,omitempty"`

	// RoomMeta carries client hints such as latitude/longitude for the watch-along geofence.
	RoomMeta map[string]string `json:"roomMeta,omitempty"`
}

// HandleCreateRoom asks the decision engine for a room of the kind in the URL and waits for the answer.
func HandleCreateRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handleRoomAction(w, r, deps, bridge.ActionCreate, "")
	}
}

// HandleJoinRoom asks the decision engine to let the caller into an existing room.
func HandleJoinRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")
		if !randx.IsValidRoomID(roomID) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}
		handleRoomAction(w, r, deps, bridge.ActionJoin, roomID)
	}
}

func handleRoomAction(w http.ResponseWriter, r *http.Request, deps *AppDeps, action bridge.Action, roomID string) {
	identity := jwt.GetIdentityFromContext(r)

	kind, err := bridge.ParseChatKind(chi.URLParam(r, "kind"))
	if err != nil {
		resp.RespondError(w, r, errs.NewError(errs.ErrChatKindInvalid))
		return
	}

	var input RoomInput
	if customErr := req.BindJSON(w, r, &input); customErr != nil {
		resp.RespondError(w, r, customErr)
		return
	}

	request, customErr := buildRequest(identity, kind, action, roomID, input)
	if customErr != nil {
		resp.RespondError(w, r, customErr)
		return
	}

	out, err := deps.Authorizer.Authorize(r.Context(), request)
	respondOutcome(w, r, deps, identity, out, err)
}

// buildRequest turns caller input into an authorization request for identity.
func buildRequest(identity *jwt.IdentityPayload, kind bridge.ChatKind, action bridge.Action, roomID string, input RoomInput) (*bridge.AuthorizationRequest, *errs.CustomError) {
	teamID := strings.TrimSpace(input.TeamID)
	if teamID == "" {
		teamID = identity.TeamID
	}
	if teamID != identity.TeamID {
		return nil, errs.NewError(errs.ErrInvalidParams)
	}

	return &bridge.AuthorizationRequest{
		ChatKind:  kind,
		Action:    action,
		RoomID:    roomID,
		SubjectID: identity.SubjectID(),
		TeamID:    teamID,
		GameID:    strings.TrimSpace(input.GameID),
		RoomMeta:  input.RoomMeta,
	}, nil
}
