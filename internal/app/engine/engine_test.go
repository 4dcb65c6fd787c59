package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fanchat/internal/app/bridge"
	"fanchat/internal/app/bus"
	"fanchat/internal/app/eligibility"
	"fanchat/internal/app/registry"
	"fanchat/internal/app/resultstore"
)

var testTopics = bridge.Topics{Watch: "chat.authz.watch", Match: "chat.authz.match"}

func allowAll() eligibility.Oracle {
	return eligibility.OracleFunc(func(_ context.Context, q eligibility.Query) (eligibility.Verdict, error) {
		return eligibility.Eligible(bridge.UserInfo{SubjectID: q.SubjectID, TeamID: q.TeamID, Nickname: "nick-" + q.SubjectID}), nil
	})
}

// flakyStore fails the first failPuts Put calls.
type flakyStore struct {
	*resultstore.MemoryStore
	failPuts      atomic.Int32
	failProcessed bool
}

func (s *flakyStore) Put(ctx context.Context, cid string, payload []byte, ttl time.Duration) error {
	if s.failPuts.Add(-1) >= 0 {
		return errors.New("store unavailable")
	}
	return s.MemoryStore.Put(ctx, cid, payload, ttl)
}

func (s *flakyStore) Processed(ctx context.Context, cid string) (bool, error) {
	if s.failProcessed {
		return false, errors.New("store unavailable")
	}
	return s.MemoryStore.Processed(ctx, cid)
}

type fixture struct {
	engine   *Engine
	store    resultstore.Store
	registry *registry.MemoryRegistry
}

func newFixture(t *testing.T, oracle eligibility.Oracle, store resultstore.Store) *fixture {
	t.Helper()
	if store == nil {
		store = resultstore.NewMemoryStore()
	}
	reg := registry.NewMemoryRegistry()
	e := New(Config{
		Topics:      testTopics,
		Group:       "chat-authz-engine",
		Concurrency: 4,
		ResultTTL:   time.Minute,
	}, bus.NewMemoryBus(bus.MemoryConfig{}), store, oracle, reg)

	return &fixture{engine: e, store: store, registry: reg}
}

func message(t *testing.T, req *bridge.AuthorizationRequest) bus.Message {
	t.Helper()
	payload, err := bridge.EncodeRequest(req)
	require.NoError(t, err)
	return bus.Message{ID: "m-" + req.CorrelationID, Topic: testTopics.Watch, Key: req.CorrelationID, Payload: payload, Delivery: 1}
}

func (f *fixture) handle(t *testing.T, req *bridge.AuthorizationRequest) *bridge.AuthorizationResult {
	t.Helper()
	require.NoError(t, f.engine.HandleMessage(context.Background(), message(t, req)))
	return f.take(t, req.CorrelationID)
}

func (f *fixture) take(t *testing.T, cid string) *bridge.AuthorizationResult {
	t.Helper()
	payload, err := f.store.Take(context.Background(), cid)
	require.NoError(t, err)
	res, err := bridge.DecodeResult(payload)
	require.NoError(t, err)
	return res
}

func watchCreate(cid, subject string) *bridge.AuthorizationRequest {
	return &bridge.AuthorizationRequest{
		CorrelationID: cid,
		ChatKind:      bridge.ChatKindWatch,
		Action:        bridge.ActionCreate,
		SubjectID:     subject,
		TeamID:        "7",
		GameID:        "42",
		RoomMeta:      map[string]string{"title": "north stand", "latitude": "37.5", "longitude": "127.0"},
	}
}

func TestEngine_WatchCreateTwiceSameGame(t *testing.T) {
	f := newFixture(t, allowAll(), nil)

	first := f.handle(t, watchCreate("c1", "fan-1"))
	require.True(t, first.Success)
	assert.True(t, first.RoomInfo.IsNewRoom)
	assert.Equal(t, "WATCH:game:42", first.RoomInfo.NaturalKey)
	assert.Equal(t, "nick-fan-1", first.UserInfo.Nickname)
	assert.Equal(t, map[string]string{"title": "north stand"}, first.RoomInfo.Meta)
	assert.Equal(t, "fan-1", first.SubjectID, "result is bound to the requester")

	second := f.handle(t, watchCreate("c2", "fan-2"))
	require.True(t, second.Success)
	assert.False(t, second.RoomInfo.IsNewRoom)
	assert.Equal(t, first.RoomInfo.RoomID, second.RoomInfo.RoomID)
}

func TestEngine_ConcurrentCreatesOneRoom(t *testing.T) {
	f := newFixture(t, allowAll(), nil)

	const n = 40
	msgs := make([]bus.Message, n)
	for i := range msgs {
		msgs[i] = message(t, watchCreate(fmt.Sprintf("c%d", i), fmt.Sprintf("fan-%d", i)))
	}

	var wg sync.WaitGroup
	for _, msg := range msgs {
		wg.Add(1)
		go func(msg bus.Message) {
			defer wg.Done()
			assert.NoError(t, f.engine.HandleMessage(context.Background(), msg))
		}(msg)
	}
	wg.Wait()

	rooms := make(map[string]bool)
	newRooms := 0
	for i := 0; i < n; i++ {
		res := f.take(t, fmt.Sprintf("c%d", i))
		require.True(t, res.Success)
		rooms[res.RoomInfo.RoomID] = true
		if res.RoomInfo.IsNewRoom {
			newRooms++
		}
	}
	assert.Len(t, rooms, 1)
	assert.Equal(t, 1, newRooms)
	assert.Equal(t, 1, f.registry.Len())
}

func TestEngine_DuplicateDeliveryProducesOneResult(t *testing.T) {
	f := newFixture(t, allowAll(), nil)
	msg := message(t, watchCreate("c1", "fan-1"))

	require.NoError(t, f.engine.HandleMessage(context.Background(), msg))
	require.NoError(t, f.engine.HandleMessage(context.Background(), msg))

	res := f.take(t, "c1")
	assert.True(t, res.RoomInfo.IsNewRoom)

	// Redelivered after the result was consumed: nothing new is stored.
	msg.Delivery = 2
	require.NoError(t, f.engine.HandleMessage(context.Background(), msg))
	_, err := f.store.Take(context.Background(), "c1")
	assert.ErrorIs(t, err, resultstore.ErrNotFound)
}

func TestEngine_StoreFailureRequestsRedelivery(t *testing.T) {
	store := &flakyStore{MemoryStore: resultstore.NewMemoryStore()}
	store.failPuts.Store(1)
	f := newFixture(t, allowAll(), store)
	msg := message(t, watchCreate("c1", "fan-1"))

	err := f.engine.HandleMessage(context.Background(), msg)
	require.Error(t, err)

	msg.Delivery = 2
	require.NoError(t, f.engine.HandleMessage(context.Background(), msg))

	res := f.take(t, "c1")
	require.True(t, res.Success)
	assert.True(t, res.RoomInfo.IsNewRoom, "the creating request keeps its claim on redelivery")
	assert.Equal(t, 1, f.registry.Len())
}

func TestEngine_ProcessedCheckFailureRequestsRedelivery(t *testing.T) {
	store := &flakyStore{MemoryStore: resultstore.NewMemoryStore(), failProcessed: true}
	f := newFixture(t, allowAll(), store)

	err := f.engine.HandleMessage(context.Background(), message(t, watchCreate("c1", "fan-1")))
	assert.Error(t, err)
	assert.Equal(t, 0, f.registry.Len())
}

func TestEngine_JoinGhostRoom(t *testing.T) {
	f := newFixture(t, allowAll(), nil)

	res := f.handle(t, &bridge.AuthorizationRequest{
		CorrelationID: "c1",
		ChatKind:      bridge.ChatKindMatch,
		Action:        bridge.ActionJoin,
		RoomID:        "ghost",
		SubjectID:     "fan-1",
		TeamID:        "7",
	})

	assert.False(t, res.Success)
	assert.Equal(t, bridge.ReasonRoomNotFound, res.ErrorMessage)
	assert.Equal(t, bridge.ErrorKindNotFound, res.ErrorKind)
	assert.Nil(t, res.RoomInfo)
}

func TestEngine_JoinChecksKindAndGame(t *testing.T) {
	f := newFixture(t, allowAll(), nil)
	created := f.handle(t, watchCreate("c1", "fan-1"))
	roomID := created.RoomInfo.RoomID

	join := func(cid string, kind bridge.ChatKind, gameID string) *bridge.AuthorizationResult {
		return f.handle(t, &bridge.AuthorizationRequest{
			CorrelationID: cid,
			ChatKind:      kind,
			Action:        bridge.ActionJoin,
			RoomID:        roomID,
			SubjectID:     "fan-2",
			TeamID:        "7",
			GameID:        gameID,
		})
	}

	ok := join("c2", bridge.ChatKindWatch, "42")
	require.True(t, ok.Success)
	assert.Equal(t, roomID, ok.RoomInfo.RoomID)
	assert.False(t, ok.RoomInfo.IsNewRoom)

	wrongGame := join("c3", bridge.ChatKindWatch, "43")
	assert.Equal(t, bridge.ReasonRoomNotFound, wrongGame.ErrorMessage)

	wrongKind := join("c4", bridge.ChatKindMatch, "42")
	assert.Equal(t, bridge.ReasonRoomNotFound, wrongKind.ErrorMessage)
}

func TestEngine_OutsideGeofence(t *testing.T) {
	oracle := eligibility.OracleFunc(func(context.Context, eligibility.Query) (eligibility.Verdict, error) {
		return eligibility.Ineligible("outside geofence"), nil
	})
	f := newFixture(t, oracle, nil)

	res := f.handle(t, watchCreate("c1", "fan-1"))
	assert.False(t, res.Success)
	assert.Equal(t, "outside geofence", res.ErrorMessage)
	assert.Equal(t, bridge.ErrorKindEligibility, res.ErrorKind)
	assert.Equal(t, 0, f.registry.Len())
}

func TestEngine_OracleFailure(t *testing.T) {
	oracle := eligibility.OracleFunc(func(context.Context, eligibility.Query) (eligibility.Verdict, error) {
		return eligibility.Verdict{}, errors.New("read model down")
	})
	f := newFixture(t, oracle, nil)

	res := f.handle(t, watchCreate("c1", "fan-1"))
	assert.Equal(t, bridge.ErrorKindInfrastructure, res.ErrorKind)
	assert.Equal(t, bridge.ReasonEligibilityOffline, res.ErrorMessage)
}

func TestEngine_OraclePanicIsRecovered(t *testing.T) {
	oracle := eligibility.OracleFunc(func(context.Context, eligibility.Query) (eligibility.Verdict, error) {
		panic("nil profile")
	})
	f := newFixture(t, oracle, nil)

	res := f.handle(t, watchCreate("c1", "fan-1"))
	assert.Equal(t, bridge.ErrorKindInfrastructure, res.ErrorKind)
	assert.Equal(t, bridge.ReasonInternal, res.ErrorMessage)
}

func TestEngine_ValidationFailure(t *testing.T) {
	var calls atomic.Int32
	oracle := eligibility.OracleFunc(func(context.Context, eligibility.Query) (eligibility.Verdict, error) {
		calls.Add(1)
		return eligibility.Eligible(bridge.UserInfo{}), nil
	})
	f := newFixture(t, oracle, nil)

	req := watchCreate("c1", "fan-1")
	req.GameID = ""
	res := f.handle(t, req)

	assert.Equal(t, bridge.ErrorKindValidation, res.ErrorKind)
	assert.Equal(t, "invalid request: missing gameId", res.ErrorMessage)
	assert.Zero(t, calls.Load())
}

func TestEngine_MalformedPayload(t *testing.T) {
	f := newFixture(t, allowAll(), nil)

	msg := bus.Message{ID: "m1", Topic: testTopics.Match, Payload: []byte(`{"correlationId":"c1","chatKind":`)}
	require.NoError(t, f.engine.HandleMessage(context.Background(), msg))

	res := f.take(t, "c1")
	assert.Equal(t, bridge.ErrorKindValidation, res.ErrorKind)
	assert.Equal(t, "c1", res.CorrelationID)

	wrongType := bus.Message{ID: "m2", Topic: testTopics.Match, Payload: []byte(`{"correlationId":"c2","action":7}`)}
	require.NoError(t, f.engine.HandleMessage(context.Background(), wrongType))
	assert.Equal(t, bridge.ErrorKindValidation, f.take(t, "c2").ErrorKind)

	named := bus.Message{ID: "m3", Topic: testTopics.Match, Payload: []byte(`{"correlationId":"c3","subjectId":"fan-9","action":7}`)}
	require.NoError(t, f.engine.HandleMessage(context.Background(), named))
	assert.Equal(t, "fan-9", f.take(t, "c3").SubjectID)
}

func TestEngine_UncorrelatableMessageIsDropped(t *testing.T) {
	store := resultstore.NewMemoryStore()
	f := newFixture(t, allowAll(), store)

	err := f.engine.HandleMessage(context.Background(), bus.Message{ID: "m1", Payload: []byte("garbage")})
	assert.NoError(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestEngine_RunServesAuthorizer(t *testing.T) {
	b := bus.NewMemoryBus(bus.MemoryConfig{RedeliveryDelay: 10 * time.Millisecond})
	store := resultstore.NewMemoryStore()
	e := New(Config{
		Topics:      testTopics,
		Group:       "chat-authz-engine",
		Instance:    "test",
		Concurrency: 2,
		ResultTTL:   time.Minute,
	}, b, store, allowAll(), registry.NewMemoryRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	authorizer := bridge.NewAuthorizer(
		bridge.NewDispatcher(b, testTopics),
		bridge.NewPoller(store, 10*time.Millisecond, 2*time.Second),
	)

	out, err := authorizer.Authorize(context.Background(), &bridge.AuthorizationRequest{
		ChatKind:  bridge.ChatKindMatch,
		Action:    bridge.ActionCreate,
		SubjectID: "fan-1",
		TeamID:    "7",
	})
	require.NoError(t, err)
	require.Equal(t, bridge.StatusAuthorized, out.Status)
	assert.True(t, out.Result.RoomInfo.IsNewRoom)
	assert.Equal(t, "MATCH:team:7:host:fan-1", out.Result.RoomInfo.NaturalKey)
}
