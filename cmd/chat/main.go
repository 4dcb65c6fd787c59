/*
Package main is the entry point of the chat-serving process.

It serves the chat API and the WebSocket rooms. Room CREATE and JOIN requests are handed to the
decision process over the bus; the answer is collected from the result store.
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fanchat/internal/app/bridge"
	"fanchat/internal/app/chat"
	"fanchat/internal/bootstrap"
	"fanchat/internal/configs"
	"fanchat/internal/handler"
	"fanchat/internal/pkg/logx"
	"fanchat/internal/pkg/telemetry"
)

func main() {
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "fanchat-chat"
	}

	logx.InitGlobalLogger(cfg.IsDevelopment(), cfg.ServiceName)
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Str("bus_driver", cfg.BusDriver).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Dur("total_timeout", cfg.TotalTimeout()).
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		logx.Fatal(err, "Failed to set up tracing")
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	transport, err := bootstrap.OpenTransport(ctx, cfg)
	if err != nil {
		logx.Fatal(err, "Failed to open bridge transport")
	}
	defer func() {
		if err := transport.Close(); err != nil {
			logx.Error(err, "Failed to close bridge transport")
		}
	}()

	dispatcher := bridge.NewDispatcher(transport.Bus, bootstrap.Topics(cfg))
	poller := bridge.NewPoller(transport.Store, cfg.PollInterval(), cfg.TotalTimeout())

	manager := chat.NewManager(cfg.JWTSecret)
	defer manager.Shutdown()

	deps := &handler.AppDeps{
		Config:     cfg,
		Manager:    manager,
		Dispatcher: dispatcher,
		Authorizer: bridge.NewAuthorizer(dispatcher, poller),
	}

	server := bootstrap.NewServer(cfg.Port, handler.Router(ctx, deps))
	if err := bootstrap.Serve(ctx, server); err != nil {
		logx.Error(err, "HTTP server stopped with error")
		return
	}

	logx.Info("Chat server gracefully stopped.")
}
