/*
Package engine is the decision side of the chat authorization bridge.

The Engine consumes authorization requests from the bus, asks the eligibility oracle, assigns
or looks up the room and stores exactly one result per correlation id. Delivery is
at-least-once, so every step is safe to repeat: a stored processed marker short-circuits
redeliveries, and room creation recognises the request that created a room.
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"fanchat/internal/app/bridge"
	"fanchat/internal/app/bus"
	"fanchat/internal/app/eligibility"
	"fanchat/internal/app/registry"
	"fanchat/internal/app/resultstore"
	"fanchat/internal/pkg/keylock"
	"fanchat/internal/pkg/logx"
	"fanchat/internal/pkg/metrics"
)

// Config tunes the consumer pool.
type Config struct {
	Topics bridge.Topics

	// Group is the consumer group shared by every engine instance.
	Group string

	// Instance prefixes the consumer names of this process's workers.
	Instance string

	// Concurrency is the number of workers.
	Concurrency int

	// ResultTTL is how long a stored result stays retrievable.
	ResultTTL time.Duration
}

// Engine decides authorization requests.
type Engine struct {
	cfg      Config
	sub      bus.Subscriber
	store    resultstore.Store
	oracle   eligibility.Oracle
	registry registry.Registry
	locks    *keylock.Locker

	tracer trace.Tracer
	logger zerolog.Logger
}

func New(cfg Config, sub bus.Subscriber, store resultstore.Store, oracle eligibility.Oracle, reg registry.Registry) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Instance == "" {
		cfg.Instance = "engine"
	}

	return &Engine{
		cfg:      cfg,
		sub:      sub,
		store:    store,
		oracle:   oracle,
		registry: reg,
		locks:    keylock.New(),
		tracer:   otel.Tracer("fanchat/engine"),
		logger:   logx.Component("Engine"),
	}
}

// Run starts the workers and blocks until ctx is done or a subscription fails.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < e.cfg.Concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", e.cfg.Instance, i)
		g.Go(func() error {
			err := e.sub.Subscribe(ctx, e.cfg.Group, consumer, e.cfg.Topics.All(), e.HandleMessage)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("consumer %s: %w", consumer, err)
			}
			return nil
		})
	}

	e.logger.Info().
		Str("group", e.cfg.Group).
		Int("workers", e.cfg.Concurrency).
		Strs("topics", e.cfg.Topics.All()).
		Msg("Decision engine started.")

	err := g.Wait()

	e.logger.Info().Msg("Decision engine stopped.")
	return err
}

// HandleMessage processes one delivery. A nil return acknowledges the message; an error
// leaves it for redelivery and is only returned when the result could not be stored.
func (e *Engine) HandleMessage(ctx context.Context, msg bus.Message) error {
	start := time.Now()

	req, decodeErr := bridge.DecodeRequest(msg.Payload)

	correlationID := salvageCorrelationID(req, msg)
	if correlationID == "" {
		e.logger.Error().Err(decodeErr).
			Str("message_id", msg.ID).
			Str("topic", msg.Topic).
			Msg("Dropping request without a correlation id.")
		metrics.RecordDecision("", "dropped", time.Since(start))
		return nil
	}

	logger := e.logger.With().
		Str("correlation_id", correlationID).
		Int("delivery", msg.Delivery).
		Logger()

	processed, err := e.store.Processed(ctx, correlationID)
	if err != nil {
		logger.Warn().Err(err).Msg("Processed check failed. Leaving request for redelivery.")
		return fmt.Errorf("check processed %s: %w", correlationID, err)
	}
	if processed {
		logger.Debug().Msg("Request already decided. Acknowledging duplicate.")
		metrics.RecordDuplicate()
		return nil
	}

	var res *bridge.AuthorizationResult
	chatKind := ""
	if decodeErr != nil {
		logger.Warn().Err(decodeErr).Msg("Malformed authorization request.")
		res = bridge.Failed(correlationID, bridge.ErrorKindValidation, "invalid request: malformed payload")
		if subject := gjson.GetBytes(msg.Payload, "subjectId"); subject.Type == gjson.String {
			res.SubjectID = subject.Str
		}
	} else {
		req.CorrelationID = correlationID
		chatKind = string(req.ChatKind)
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(req.TraceContext))

		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "engine.decide",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("chat.correlation_id", correlationID),
				attribute.String("chat.kind", chatKind),
				attribute.String("chat.action", string(req.Action)),
			),
		)
		res = e.decide(ctx, req, logger)
		res.SubjectID = req.SubjectID
		span.SetAttributes(attribute.Bool("chat.authorized", res.Success))
		span.End()
	}

	payload, err := bridge.EncodeResult(res)
	if err != nil {
		return fmt.Errorf("encode result %s: %w", correlationID, err)
	}

	if err := e.store.Put(ctx, correlationID, payload, e.cfg.ResultTTL); err != nil {
		logger.Error().Err(err).Msg("Failed to store result. Leaving request for redelivery.")
		return fmt.Errorf("store result %s: %w", correlationID, err)
	}

	outcome := "authorized"
	if !res.Success {
		outcome = string(res.ErrorKind)
	}
	metrics.RecordDecision(chatKind, outcome, time.Since(start))

	logger.Info().
		Str("outcome", outcome).
		Str("reason", res.ErrorMessage).
		Dur("took", time.Since(start)).
		Msg("Authorization decided.")

	return nil
}

// salvageCorrelationID finds the correlation id of a request that may not have decoded.
func salvageCorrelationID(req *bridge.AuthorizationRequest, msg bus.Message) string {
	if req != nil && req.CorrelationID != "" {
		return req.CorrelationID
	}
	if id := gjson.GetBytes(msg.Payload, "correlationId"); id.Type == gjson.String && id.Str != "" {
		return id.Str
	}
	return msg.Key
}

func (e *Engine) decide(ctx context.Context, req *bridge.AuthorizationRequest, logger zerolog.Logger) (res *bridge.AuthorizationResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Recovered panic while deciding.")
			res = bridge.Failed(req.CorrelationID, bridge.ErrorKindInfrastructure, bridge.ReasonInternal)
		}
	}()

	cid := req.CorrelationID

	if err := req.Validate(); err != nil {
		return bridge.Failed(cid, bridge.ErrorKindValidation, err.Error())
	}

	verdict, err := e.oracle.CheckEligibility(ctx, eligibility.QueryFor(req))
	if err != nil {
		logger.Error().Err(err).Msg("Eligibility oracle failed.")
		return bridge.Failed(cid, bridge.ErrorKindInfrastructure, bridge.ReasonEligibilityOffline)
	}
	if !verdict.Eligible {
		return bridge.Failed(cid, bridge.ErrorKindEligibility, verdict.Reason)
	}

	user := verdict.User
	if user.SubjectID == "" {
		user.SubjectID = req.SubjectID
	}
	if user.TeamID == "" {
		user.TeamID = req.TeamID
	}

	var room registry.Room
	switch req.Action {
	case bridge.ActionCreate:
		room, err = e.assignRoom(ctx, req)
	case bridge.ActionJoin:
		room, err = e.findRoom(ctx, req)
	}

	switch {
	case errors.Is(err, registry.ErrRoomNotFound):
		return bridge.Failed(cid, bridge.ErrorKindNotFound, bridge.ReasonRoomNotFound)
	case err != nil:
		logger.Error().Err(err).Msg("Room registry failed.")
		return bridge.Failed(cid, bridge.ErrorKindInfrastructure, bridge.ReasonRegistryOffline)
	}

	return bridge.Succeeded(cid, user, room.Info(cid))
}

// assignRoom serializes CREATEs per natural key within this process; the registry keeps
// them atomic across processes.
func (e *Engine) assignRoom(ctx context.Context, req *bridge.AuthorizationRequest) (registry.Room, error) {
	key := req.NaturalKey()

	unlock := e.locks.Lock(key)
	defer unlock()

	return e.registry.GetOrCreateRoom(ctx, registry.RoomSpec{
		NaturalKey:    key,
		ChatKind:      req.ChatKind,
		GameID:        req.GameID,
		TeamID:        req.TeamID,
		HostID:        req.SubjectID,
		Meta:          roomMeta(req.RoomMeta),
		CorrelationID: req.CorrelationID,
	})
}

// findRoom resolves a JOIN. A room of another kind, or a watch room of another game, is
// reported as not found.
func (e *Engine) findRoom(ctx context.Context, req *bridge.AuthorizationRequest) (registry.Room, error) {
	room, err := e.registry.GetRoom(ctx, req.RoomID)
	if err != nil {
		return registry.Room{}, err
	}
	if room.ChatKind != req.ChatKind {
		return registry.Room{}, registry.ErrRoomNotFound
	}
	if room.ChatKind == bridge.ChatKindWatch && room.GameID != req.GameID {
		return registry.Room{}, registry.ErrRoomNotFound
	}
	return room, nil
}

// roomMeta strips the caller's position, which is an input to the decision and not a
// property of the room.
func roomMeta(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}

	out := make(map[string]string, len(meta))
	for k, v := range meta {
		if k == "latitude" || k == "longitude" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
