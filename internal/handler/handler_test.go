package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fanchat/internal/app/bridge"
	"fanchat/internal/app/bus"
	"fanchat/internal/app/chat"
	"fanchat/internal/app/eligibility"
	"fanchat/internal/app/engine"
	"fanchat/internal/app/registry"
	"fanchat/internal/app/resultstore"
	"fanchat/internal/configs"
	"fanchat/internal/pkg/auth/jwt"
	"fanchat/internal/pkg/errs"
)

const testSecret = "test-secret"

var testTopics = bridge.Topics{Watch: "chat.authz.watch", Match: "chat.authz.match"}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type env struct {
	server *httptest.Server
	oracle *eligibility.StaticOracle
}

// newEnv serves the router over an in-memory bridge. With runEngine false nobody answers.
func newEnv(t *testing.T, runEngine bool) *env {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	b := bus.NewMemoryBus(bus.MemoryConfig{RedeliveryDelay: 10 * time.Millisecond})
	store := resultstore.NewMemoryStore()

	oracle := eligibility.NewStaticOracle(eligibility.Rules{
		GeofenceRadiusMeters: 500,
		OpensBefore:          time.Hour,
		ClosesAfter:          4 * time.Hour,
	})
	oracle.PutProfile(eligibility.Profile{SubjectID: "fan-1", TeamID: "lions", Nickname: "Roary"})
	oracle.PutProfile(eligibility.Profile{SubjectID: "fan-2", TeamID: "lions"})
	oracle.PutProfile(eligibility.Profile{SubjectID: "troll", TeamID: "lions", Banned: true})
	oracle.PutGame(eligibility.Game{
		ID:         "42",
		HomeTeamID: "lions",
		AwayTeamID: "bears",
		StartsAt:   time.Now(),
		Venue:      eligibility.Position{Lat: 37.5665, Lng: 126.9780},
	})

	engineDone := make(chan struct{})
	if runEngine {
		e := engine.New(engine.Config{Topics: testTopics, Group: "engine", Instance: "test", Concurrency: 2, ResultTTL: time.Minute},
			b, store, oracle, registry.NewMemoryRegistry())
		go func() {
			defer close(engineDone)
			_ = e.Run(ctx)
		}()
	} else {
		close(engineDone)
	}

	cfg := &configs.AppConfig{Environment: "development", JWTSecret: testSecret, PollIntervalMs: 10, TotalTimeoutMs: 2000}
	dispatcher := bridge.NewDispatcher(b, testTopics)
	manager := chat.NewManager(testSecret)

	deps := &AppDeps{
		Config:     cfg,
		Manager:    manager,
		Dispatcher: dispatcher,
		Authorizer: bridge.NewAuthorizer(dispatcher, bridge.NewPoller(store, cfg.PollInterval(), cfg.TotalTimeout())),
	}

	server := httptest.NewServer(Router(ctx, deps))
	t.Cleanup(func() {
		server.Close()
		manager.Shutdown()
		cancel()
		<-engineDone
		_ = b.Close()
	})

	return &env{server: server, oracle: oracle}
}

func identityToken(t *testing.T, subject, team string) string {
	t.Helper()
	token, err := jwt.GenerateIdentityToken(&jwt.IdentityPayload{
		StandardClaims: gojwt.StandardClaims{Subject: subject},
		TeamID:         team,
	}, testSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *env) do(t *testing.T, method, path, token string, body any) (int, apiResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var out apiResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return res.StatusCode, out
}

func atVenue() map[string]string {
	return map[string]string{"latitude": "37.5666", "longitude": "126.9781"}
}

func TestCreateWatchRoom_ThenConnect(t *testing.T) {
	e := newEnv(t, true)
	token := identityToken(t, "fan-1", "lions")

	status, body := e.do(t, http.MethodPost, "/api/chat/watch/rooms", token, RoomInput{GameID: "42", RoomMeta: atVenue()})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 0, body.Code, body.Message)

	var granted AuthorizedRoom
	require.NoError(t, json.Unmarshal(body.Data, &granted))
	assert.NotEmpty(t, granted.CorrelationID)
	assert.True(t, granted.Room.IsNewRoom)
	assert.Equal(t, bridge.ChatKindWatch, granted.Room.ChatKind)
	assert.Equal(t, "Roary", granted.User.Nickname)
	assert.Equal(t, "fan", granted.User.Role)

	// A second fan asking for the same game lands in the same room.
	_, second := e.do(t, http.MethodPost, "/api/chat/watch/rooms", identityToken(t, "fan-2", "lions"), RoomInput{GameID: "42", RoomMeta: atVenue()})
	require.Equal(t, 0, second.Code, second.Message)
	var other AuthorizedRoom
	require.NoError(t, json.Unmarshal(second.Data, &other))
	assert.Equal(t, granted.Room.RoomID, other.Room.RoomID)
	assert.False(t, other.Room.IsNewRoom)
	assert.True(t, strings.HasPrefix(other.User.Nickname, "Fan_"))

	wsURL := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws/" + granted.Room.RoomID + "?token=" + granted.Token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var init struct {
		Type    chat.MessageType     `json:"type"`
		Payload chat.InitDataPayload `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&init))
	assert.Equal(t, chat.TypeInitData, init.Type)
	assert.Equal(t, "fan-1", init.Payload.CurrentUser.ID)
	assert.Equal(t, "WATCH", init.Payload.ChatKind)
	assert.Equal(t, chat.WatchMaxClients, init.Payload.MaxUsers)
}

func TestCreateMatchRoom_HostRole(t *testing.T) {
	e := newEnv(t, true)

	_, body := e.do(t, http.MethodPost, "/api/chat/match/rooms", identityToken(t, "fan-1", "lions"), RoomInput{})
	require.Equal(t, 0, body.Code, body.Message)

	var granted AuthorizedRoom
	require.NoError(t, json.Unmarshal(body.Data, &granted))
	assert.Equal(t, "host", granted.User.Role)

	claims, err := jwt.ParseRoomToken(granted.Token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, granted.Room.RoomID, claims.RoomID)
	assert.Equal(t, "host", claims.Role)
}

func TestRoomEndpoints_RequireIdentity(t *testing.T) {
	e := newEnv(t, true)

	status, body := e.do(t, http.MethodPost, "/api/chat/watch/rooms", "", RoomInput{GameID: "42"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, errs.ErrUnauthorized, body.Code)
}

func TestCreateRoom_InvalidKind(t *testing.T) {
	e := newEnv(t, true)

	_, body := e.do(t, http.MethodPost, "/api/chat/party/rooms", identityToken(t, "fan-1", "lions"), RoomInput{})
	assert.Equal(t, errs.ErrChatKindInvalid, body.Code)
}

func TestCreateRoom_TeamMismatch(t *testing.T) {
	e := newEnv(t, true)

	_, body := e.do(t, http.MethodPost, "/api/chat/match/rooms", identityToken(t, "fan-1", "lions"), RoomInput{TeamID: "bears"})
	assert.Equal(t, errs.ErrInvalidParams, body.Code)
}

func TestJoinGhostRoom(t *testing.T) {
	e := newEnv(t, true)

	_, body := e.do(t, http.MethodPost, "/api/chat/match/rooms/Zz9Yy8Xx7W/join", identityToken(t, "fan-1", "lions"), RoomInput{})
	assert.Equal(t, errs.ErrRoomNotFound, body.Code)
}

func TestJoinRoom_MalformedRoomID(t *testing.T) {
	e := newEnv(t, true)

	_, body := e.do(t, http.MethodPost, "/api/chat/match/rooms/short/join", identityToken(t, "fan-1", "lions"), RoomInput{})
	assert.Equal(t, errs.ErrInvalidParams, body.Code)
}

func TestCreateRoom_Denied(t *testing.T) {
	e := newEnv(t, true)

	_, body := e.do(t, http.MethodPost, "/api/chat/watch/rooms", identityToken(t, "troll", "lions"), RoomInput{GameID: "42", RoomMeta: atVenue()})
	assert.Equal(t, errs.ErrAuthorizationDenied, body.Code)
	assert.Contains(t, body.Message, eligibility.ReasonBanned)

	_, body = e.do(t, http.MethodPost, "/api/chat/watch/rooms", identityToken(t, "fan-1", "lions"),
		RoomInput{GameID: "42", RoomMeta: map[string]string{"latitude": "35.1796", "longitude": "129.0756"}})
	assert.Equal(t, errs.ErrAuthorizationDenied, body.Code)
	assert.Contains(t, body.Message, eligibility.ReasonOutsideGeofence)
}

func TestCreateRoom_EngineDown(t *testing.T) {
	e := newEnv(t, false)

	status, body := e.do(t, http.MethodPost, "/api/chat/match/rooms", identityToken(t, "fan-1", "lions"), RoomInput{})
	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.Equal(t, errs.ErrAuthorizationTimeout, body.Code)
	assert.Contains(t, string(body.Data), "correlationId")
}

func TestDispatchThenAwait(t *testing.T) {
	e := newEnv(t, true)
	token := identityToken(t, "fan-1", "lions")

	status, body := e.do(t, http.MethodPost, "/api/chat/authorizations", token, AuthorizationInput{ChatKind: "MATCH", Action: "CREATE"})
	require.Equal(t, http.StatusAccepted, status)

	var accepted struct {
		CorrelationID string `json:"correlationId"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &accepted))
	require.NotEmpty(t, accepted.CorrelationID)

	// Someone else cannot collect the room token, and trying does not spend it.
	status, body = e.do(t, http.MethodGet, "/api/chat/authorizations/"+accepted.CorrelationID, identityToken(t, "fan-2", "lions"), nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, errs.ErrAuthorizationNotFound, body.Code)

	status, body = e.do(t, http.MethodGet, "/api/chat/authorizations/"+accepted.CorrelationID, token, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 0, body.Code, body.Message)

	var granted AuthorizedRoom
	require.NoError(t, json.Unmarshal(body.Data, &granted))
	assert.Equal(t, accepted.CorrelationID, granted.CorrelationID)
	assert.NotEmpty(t, granted.Token)
}

func TestDispatchThenAwait_Owner(t *testing.T) {
	e := newEnv(t, true)
	token := identityToken(t, "fan-1", "lions")

	_, body := e.do(t, http.MethodPost, "/api/chat/authorizations", token, AuthorizationInput{ChatKind: "match", Action: "CREATE"})
	var accepted struct {
		CorrelationID string `json:"correlationId"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &accepted))

	status, body := e.do(t, http.MethodGet, "/api/chat/authorizations/"+accepted.CorrelationID, token, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 0, body.Code, body.Message)

	var granted AuthorizedRoom
	require.NoError(t, json.Unmarshal(body.Data, &granted))
	assert.Equal(t, accepted.CorrelationID, granted.CorrelationID)
	assert.NotEmpty(t, granted.Token)
}

func TestDispatch_InvalidAction(t *testing.T) {
	e := newEnv(t, true)

	_, body := e.do(t, http.MethodPost, "/api/chat/authorizations", identityToken(t, "fan-1", "lions"), AuthorizationInput{ChatKind: "MATCH", Action: "DELETE"})
	assert.Equal(t, errs.ErrInvalidParams, body.Code)
}

func TestAwait_MalformedCorrelationID(t *testing.T) {
	e := newEnv(t, true)

	status, body := e.do(t, http.MethodGet, "/api/chat/authorizations/not-a-uuid", identityToken(t, "fan-1", "lions"), nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, errs.ErrAuthorizationNotFound, body.Code)
}

func TestWebSocket_RejectsBadToken(t *testing.T) {
	e := newEnv(t, true)

	roomToken, err := jwt.GenerateRoomToken(&jwt.RoomPayload{ID: "fan-1", RoomID: "Ab3dE5gH7j", ChatKind: "MATCH", TeamID: "lions"}, testSecret, time.Minute)
	require.NoError(t, err)

	// Valid token for another room.
	status, body := e.do(t, http.MethodGet, "/ws/Zz9Yy8Xx7W?token="+roomToken, "", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, errs.ErrRoomAccessDenied, body.Code)

	status, _ = e.do(t, http.MethodGet, "/ws/Ab3dE5gH7j?token=garbage", "", nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t, true)

	status, body := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body.Data), `"status":"ok"`)

	res, err := e.server.Client().Get(e.server.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}
