package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"fanchat/internal/app/bridge"
	"fanchat/internal/pkg/auth/jwt"
	"fanchat/internal/pkg/errs"
	"fanchat/internal/pkg/logx"
	"fanchat/internal/pkg/req"
	"fanchat/internal/pkg/resp"
)

// AuthorizationInput is the body of the dispatch-only endpoint.
type AuthorizationInput struct {
	ChatKind string `json:"chatKind"`
	Action   string `json:"action"`
	RoomID   string `json:"roomId,omitempty"`
	RoomInput
}

// HandleDispatchAuthorization publishes an authorization request and returns its correlation id
// without waiting. The caller collects the answer with HandleAwaitAuthorization.
func HandleDispatchAuthorization(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetIdentityFromContext(r)

		var input AuthorizationInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		kind, err := bridge.ParseChatKind(input.ChatKind)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrChatKindInvalid))
			return
		}

		action := bridge.Action(input.Action)
		if action != bridge.ActionCreate && action != bridge.ActionJoin {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		request, customErr := buildRequest(identity, kind, action, input.RoomID, input.RoomInput)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		correlationID, err := deps.Dispatcher.Dispatch(r.Context(), request)
		if err != nil {
			respondOutcome(w, r, deps, identity, bridge.Outcome{}, err)
			return
		}

		resp.RespondAccepted(w, r, map[string]string{"correlationId": correlationID})
	}
}

// HandleAwaitAuthorization waits, for up to the configured timeout, for the result of a
// request dispatched earlier.
func HandleAwaitAuthorization(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetIdentityFromContext(r)

		correlationID := chi.URLParam(r, "correlationId")
		if err := uuid.Validate(correlationID); err != nil {
			logx.FromContext(r.Context()).Debug().Str("correlation_id", correlationID).Msg("Malformed correlation id.")
			resp.RespondError(w, r, errs.NewError(errs.ErrAuthorizationNotFound))
			return
		}

		out, err := deps.Authorizer.AwaitFor(r.Context(), correlationID, identity.SubjectID(), deps.Config.TotalTimeout())
		respondOutcome(w, r, deps, identity, out, err)
	}
}
