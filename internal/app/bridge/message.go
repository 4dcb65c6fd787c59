/*
Package bridge implements the chat-serving side of the asynchronous chat authorization protocol
and the message schemas both sides share.

A chat room may only be created or joined after the decision engine, running in another process,
has approved the request. The Dispatcher publishes a correlated AuthorizationRequest onto the bus;
the Poller waits for the AuthorizationResult the engine leaves in the result store under the same
correlation id. The Authorizer chains the two for callers that want a single answer.
*/
package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ChatKind selects the topic and the eligibility rules of a request.
type ChatKind string

const (
	// ChatKindWatch is the watch-along room of a single game.
	ChatKindWatch ChatKind = "WATCH"

	// ChatKindMatch is a fan-hosted matching room.
	ChatKindMatch ChatKind = "MATCH"
)

// ParseChatKind accepts either case ("watch", "WATCH").
func ParseChatKind(s string) (ChatKind, error) {
	switch kind := ChatKind(strings.ToUpper(strings.TrimSpace(s))); kind {
	case ChatKindWatch, ChatKindMatch:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidChatKind, s)
	}
}

// Action is what the requester wants to do with a room.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionJoin   Action = "JOIN"
)

// ErrorKind classifies a failed result.
type ErrorKind string

const (
	// ErrorKindValidation marks a malformed request.
	ErrorKindValidation ErrorKind = "validation"

	// ErrorKindEligibility marks an expected "no" from the eligibility oracle.
	ErrorKindEligibility ErrorKind = "eligibility"

	// ErrorKindNotFound marks a JOIN for a room that does not exist.
	ErrorKindNotFound ErrorKind = "not_found"

	// ErrorKindInfrastructure marks a failure of a dependency of the engine. Retryable.
	ErrorKindInfrastructure ErrorKind = "infrastructure"
)

// Reason strings the engine produces itself. Eligibility reasons come from the oracle.
const (
	ReasonRoomNotFound       = "room not found"
	ReasonEligibilityOffline = "eligibility check unavailable"
	ReasonRegistryOffline    = "room registry unavailable"
	ReasonInternal           = "internal error"
)

// AuthorizationRequest asks the decision engine to let a user create or join a room.
type AuthorizationRequest struct {
	CorrelationID string            `json:"correlationId"`
	ChatKind      ChatKind          `json:"chatKind"`
	Action        Action            `json:"action"`
	RoomID        string            `json:"roomId,omitempty"`
	SubjectID     string            `json:"subjectId"`
	TeamID        string            `json:"teamId"`
	GameID        string            `json:"gameId,omitempty"`
	RoomMeta      map[string]string `json:"roomMeta,omitempty"`
	RequestedAt   time.Time         `json:"requestedAt"`
	TraceContext  map[string]string `json:"traceContext,omitempty"`
}

// Validate checks the fields required for the request's (chatKind, action) pair.
// The error message is what the requester sees.
func (r *AuthorizationRequest) Validate() error {
	var missing []string

	if r.CorrelationID == "" {
		missing = append(missing, "correlationId")
	}
	if r.SubjectID == "" {
		missing = append(missing, "subjectId")
	}
	if r.TeamID == "" {
		missing = append(missing, "teamId")
	}

	switch r.ChatKind {
	case ChatKindWatch:
		if r.GameID == "" {
			missing = append(missing, "gameId")
		}
	case ChatKindMatch:
	default:
		return fmt.Errorf("invalid request: unknown chatKind %q", r.ChatKind)
	}

	switch r.Action {
	case ActionCreate:
		if r.RoomID != "" {
			return fmt.Errorf("invalid request: roomId must be empty for CREATE")
		}
	case ActionJoin:
		if r.RoomID == "" {
			missing = append(missing, "roomId")
		}
	default:
		return fmt.Errorf("invalid request: unknown action %q", r.Action)
	}

	if len(missing) > 0 {
		return fmt.Errorf("invalid request: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// NaturalKey identifies the logical room a CREATE targets. Two CREATEs with the same key
// must end up in the same room.
func (r *AuthorizationRequest) NaturalKey() string {
	if r.ChatKind == ChatKindWatch {
		return fmt.Sprintf("%s:game:%s", ChatKindWatch, r.GameID)
	}

	key := fmt.Sprintf("%s:team:%s:host:%s", ChatKindMatch, r.TeamID, r.SubjectID)
	if r.GameID != "" {
		key += ":game:" + r.GameID
	}
	return key
}

// UserInfo is the identity the engine vouches for.
type UserInfo struct {
	SubjectID string `json:"subjectId"`
	TeamID    string `json:"teamId"`
	Nickname  string `json:"nickname,omitempty"`
}

// RoomInfo describes the room a successful authorization grants access to.
type RoomInfo struct {
	RoomID     string            `json:"roomId"`
	ChatKind   ChatKind          `json:"chatKind"`
	NaturalKey string            `json:"naturalKey"`
	GameID     string            `json:"gameId,omitempty"`
	TeamID     string            `json:"teamId,omitempty"`
	HostID     string            `json:"hostId,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
	IsNewRoom  bool              `json:"isNewRoom"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// AuthorizationResult is the engine's single answer to one request.
// UserInfo and RoomInfo are set iff Success; ErrorMessage and ErrorKind iff !Success.
type AuthorizationResult struct {
	CorrelationID string `json:"correlationId"`

	// SubjectID is the requester the result belongs to. Empty only when the request was
	// too malformed to name one.
	SubjectID string `json:"subjectId,omitempty"`

	Success       bool      `json:"success"`
	UserInfo      *UserInfo `json:"userInfo,omitempty"`
	RoomInfo      *RoomInfo `json:"roomInfo,omitempty"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	ErrorKind     ErrorKind `json:"errorKind,omitempty"`
	DecidedAt     time.Time `json:"decidedAt"`
}

// Succeeded builds a success result.
func Succeeded(correlationID string, user UserInfo, room RoomInfo) *AuthorizationResult {
	return &AuthorizationResult{
		CorrelationID: correlationID,
		Success:       true,
		UserInfo:      &user,
		RoomInfo:      &room,
		DecidedAt:     time.Now().UTC(),
	}
}

// Failed builds a failure result.
func Failed(correlationID string, kind ErrorKind, message string) *AuthorizationResult {
	return &AuthorizationResult{
		CorrelationID: correlationID,
		Success:       false,
		ErrorMessage:  message,
		ErrorKind:     kind,
		DecidedAt:     time.Now().UTC(),
	}
}

// OwnedBy reports whether subjectID may consume the result.
func (r *AuthorizationResult) OwnedBy(subjectID string) bool {
	return r.SubjectID == "" || r.SubjectID == subjectID
}

// Retryable reports whether the failure came from infrastructure rather than a decision.
func (r *AuthorizationResult) Retryable() bool {
	return !r.Success && r.ErrorKind == ErrorKindInfrastructure
}

// EncodeRequest serializes a request for the bus.
func EncodeRequest(req *AuthorizationRequest) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeRequest parses a request taken off the bus.
func DecodeRequest(payload []byte) (*AuthorizationRequest, error) {
	var req AuthorizationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode authorization request: %w", err)
	}
	return &req, nil
}

// EncodeResult serializes a result for the store.
func EncodeResult(res *AuthorizationResult) ([]byte, error) {
	return json.Marshal(res)
}

// DecodeResult parses a stored result.
func DecodeResult(payload []byte) (*AuthorizationResult, error) {
	var res AuthorizationResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode authorization result: %w", err)
	}
	return &res, nil
}
