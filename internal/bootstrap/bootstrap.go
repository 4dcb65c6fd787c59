/*
Package bootstrap assembles the infrastructure shared by the chat and decision processes:
the message bus, the result store and the HTTP server lifecycle.
*/
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"fanchat/internal/app/bridge"
	"fanchat/internal/app/bus"
	"fanchat/internal/app/resultstore"
	"fanchat/internal/configs"
	"fanchat/internal/pkg/logx"
)

// Transport is the bus and result store of one process.
type Transport struct {
	Bus   bus.Bus
	Store resultstore.Store

	closers []func() error
}

// Close releases the connections in reverse order of opening.
func (t *Transport) Close() error {
	var errs []error
	for i := len(t.closers) - 1; i >= 0; i-- {
		if err := t.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Topics returns the topic pair from cfg.
func Topics(cfg *configs.AppConfig) bridge.Topics {
	return bridge.Topics{Watch: cfg.WatchTopic, Match: cfg.MatchTopic}
}

// OpenTransport connects the bus selected by BUS_DRIVER. Results are kept in Redis for the
// redis and nats drivers and in memory for the memory driver.
func OpenTransport(ctx context.Context, cfg *configs.AppConfig) (*Transport, error) {
	if cfg.BusDriver == configs.BusDriverMemory {
		logx.Warn("Using the in-process bus. Both sides of the bridge must run in this process.")
		b := bus.NewMemoryBus(bus.MemoryConfig{
			RedeliveryDelay: cfg.RedeliveryDelay(),
			MaxDeliveries:   cfg.MaxDeliveries,
		})
		return &Transport{Bus: b, Store: resultstore.NewMemoryStore(), closers: []func() error{b.Close}}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	t := &Transport{Store: resultstore.NewRedisStore(rdb)}

	switch cfg.BusDriver {
	case configs.BusDriverRedis:
		t.Bus = bus.NewRedisStreams(rdb, bus.RedisStreamsConfig{
			MaxLen:        100_000,
			Block:         2 * time.Second,
			ReclaimIdle:   cfg.ReclaimIdle(),
			MaxDeliveries: cfg.MaxDeliveries,
		})
		// RedisStreams owns rdb.
		t.closers = append(t.closers, t.Bus.Close)

	case configs.BusDriverNATS:
		t.closers = append(t.closers, rdb.Close)

		nc, err := nats.Connect(cfg.NatsURL, nats.Name(cfg.ServiceName))
		if err != nil {
			_ = t.Close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}

		js, err := bus.NewJetStream(nc, bus.JetStreamConfig{
			Stream:          cfg.NatsStream,
			Topics:          Topics(cfg).All(),
			AckWait:         cfg.ReclaimIdle(),
			RedeliveryDelay: cfg.RedeliveryDelay(),
			MaxDeliveries:   cfg.MaxDeliveries,
			DuplicateWindow: 2 * time.Minute,
		})
		if err != nil {
			nc.Close()
			_ = t.Close()
			return nil, fmt.Errorf("open jetstream: %w", err)
		}
		t.Bus = js
		t.closers = append(t.closers, js.Close)
	}

	logx.Info("Bridge transport connected", "bus_driver", cfg.BusDriver)
	return t, nil
}

// Serve runs srv until ctx is done, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		logx.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// NewServer applies the server timeouts used by both processes.
func NewServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
