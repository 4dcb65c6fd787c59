package handler

import (
	"context"
	"errors"
	"net/http"

	"fanchat/internal/app/bridge"
	"fanchat/internal/app/user"
	"fanchat/internal/pkg/auth/jwt"
	"fanchat/internal/pkg/errs"
	"fanchat/internal/pkg/logx"
	"fanchat/internal/pkg/randx"
	"fanchat/internal/pkg/resp"
)

// AuthorizedRoom is the response to an authorized CREATE or JOIN.
type AuthorizedRoom struct {
	CorrelationID string          `json:"correlationId"`
	Token         string          `json:"token"`
	User          user.User       `json:"user"`
	Room          bridge.RoomInfo `json:"room"`
}

type outcomeData struct {
	CorrelationID string           `json:"correlationId,omitempty"`
	ErrorKind     bridge.ErrorKind `json:"errorKind,omitempty"`
}

// respondOutcome writes the HTTP form of an authorization outcome. An authorized outcome is
// exchanged for a room access token bound to identity.
func respondOutcome(w http.ResponseWriter, r *http.Request, deps *AppDeps, identity *jwt.IdentityPayload, out bridge.Outcome, err error) {
	log := logx.FromContext(r.Context()).With().Str("correlation_id", out.CorrelationID).Logger()

	switch {
	case errors.Is(err, bridge.ErrInvalidChatKind):
		resp.RespondError(w, r, errs.NewError(errs.ErrChatKindInvalid))
		return

	case errors.Is(err, bridge.ErrNotOwner):
		resp.RespondError(w, r, errs.NewError(errs.ErrAuthorizationNotFound))
		return

	case errors.Is(err, bridge.ErrInfrastructure):
		log.Warn().Err(err).Msg("Chat authorization failed on infrastructure.")
		resp.RespondErrorData(w, r, errs.NewError(errs.ErrServiceUnavailable), outcomeData{CorrelationID: out.CorrelationID})
		return

	case errors.Is(err, context.Canceled):
		log.Info().Msg("Client went away while waiting for authorization.")
		return

	case err != nil:
		resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
		return
	}

	switch out.Status {
	case bridge.StatusTimedOut:
		resp.RespondErrorData(w, r, errs.NewError(errs.ErrAuthorizationTimeout), outcomeData{CorrelationID: out.CorrelationID})

	case bridge.StatusDenied:
		data := outcomeData{CorrelationID: out.CorrelationID, ErrorKind: out.ErrorKind}
		if out.ErrorKind == bridge.ErrorKindNotFound {
			resp.RespondErrorData(w, r, errs.NewError(errs.ErrRoomNotFound), data)
			return
		}
		log.Info().Str("error_kind", string(out.ErrorKind)).Str("reason", out.Reason).Msg("Chat authorization denied.")
		resp.RespondErrorData(w, r, errs.NewError(errs.ErrAuthorizationDenied, out.Reason), data)

	case bridge.StatusAuthorized:
		respondAuthorized(w, r, deps, identity, out)

	default:
		resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
	}
}

func respondAuthorized(w http.ResponseWriter, r *http.Request, deps *AppDeps, identity *jwt.IdentityPayload, out bridge.Outcome) {
	res := out.Result
	if res == nil || res.UserInfo == nil || res.RoomInfo == nil {
		resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
		return
	}

	// The result belongs to whoever the engine authorized, not to whoever holds the id.
	if res.UserInfo.SubjectID != identity.SubjectID() {
		logx.FromContext(r.Context()).Warn().
			Str("correlation_id", out.CorrelationID).
			Msg("Authorization result polled by a different subject.")
		resp.RespondError(w, r, errs.NewError(errs.ErrAuthorizationNotFound))
		return
	}

	nickname := res.UserInfo.Nickname
	if nickname == "" {
		nickname = identity.Nickname
	}
	if nickname == "" {
		generated, err := randx.FanNickname()
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}
		nickname = generated
	}

	role := user.RoleFan
	if res.RoomInfo.ChatKind == bridge.ChatKindMatch && res.RoomInfo.HostID == res.UserInfo.SubjectID {
		role = user.RoleHost
	}

	u := user.User{
		ID:       res.UserInfo.SubjectID,
		Nickname: nickname,
		TeamID:   res.UserInfo.TeamID,
		Role:     role,
	}

	token, err := jwt.GenerateRoomToken(&jwt.RoomPayload{
		ID:       u.ID,
		RoomID:   res.RoomInfo.RoomID,
		ChatKind: string(res.RoomInfo.ChatKind),
		TeamID:   u.TeamID,
		Nickname: u.Nickname,
		Role:     u.Role,
	}, deps.Config.JWTSecret, jwt.RoomAccessExpiration)
	if err != nil {
		resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
		return
	}

	resp.RespondSuccess(w, r, AuthorizedRoom{
		CorrelationID: out.CorrelationID,
		Token:         token,
		User:          u,
		Room:          *res.RoomInfo,
	})
}
