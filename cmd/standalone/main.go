/*
Package main runs both sides of the chat authorization bridge in one process over the in-memory
bus, result store and room registry, for local development.

Every fan is treated as a member of the team named in their identity token. Games are read from
nothing, so WATCH requests are denied with "game not found" unless STANDALONE_GAMES seeds them.
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"fanchat/internal/app/bridge"
	"fanchat/internal/app/chat"
	"fanchat/internal/app/eligibility"
	"fanchat/internal/app/engine"
	"fanchat/internal/app/registry"
	"fanchat/internal/bootstrap"
	"fanchat/internal/configs"
	"fanchat/internal/handler"
	"fanchat/internal/pkg/auth/jwt"
	"fanchat/internal/pkg/logx"
)

func main() {
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg.BusDriver = configs.BusDriverMemory
	if cfg.ServiceName == "" {
		cfg.ServiceName = "fanchat-standalone"
	}

	logx.InitGlobalLogger(cfg.IsDevelopment(), cfg.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport, err := bootstrap.OpenTransport(ctx, cfg)
	if err != nil {
		logx.Fatal(err, "Failed to open bridge transport")
	}
	defer func() { _ = transport.Close() }()

	oracle := eligibility.NewStaticOracle(eligibility.Rules{
		GeofenceRadiusMeters: float64(cfg.GeofenceRadiusM),
		OpensBefore:          time.Duration(cfg.WatchOpensBeforeMin) * time.Minute,
		ClosesAfter:          time.Duration(cfg.WatchClosesAfterMin) * time.Minute,
	})
	oracle.AutoEnroll = true
	for _, g := range seedGames(os.Getenv("STANDALONE_GAMES")) {
		oracle.PutGame(g)
	}

	topics := bootstrap.Topics(cfg)
	e := engine.New(engine.Config{
		Topics:      topics,
		Group:       cfg.ConsumerGroup,
		Instance:    "standalone",
		Concurrency: cfg.EngineConcurrency,
		ResultTTL:   cfg.ResultTTL(),
	}, transport.Bus, transport.Store, oracle, registry.NewMemoryRegistry())

	dispatcher := bridge.NewDispatcher(transport.Bus, topics)
	manager := chat.NewManager(cfg.JWTSecret)
	defer manager.Shutdown()

	deps := &handler.AppDeps{
		Config:     cfg,
		Manager:    manager,
		Dispatcher: dispatcher,
		Authorizer: bridge.NewAuthorizer(dispatcher, bridge.NewPoller(transport.Store, cfg.PollInterval(), cfg.TotalTimeout())),
	}

	if cfg.IsDevelopment() {
		logDevIdentity(cfg.JWTSecret)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.Run(gctx)
	})
	g.Go(func() error {
		return bootstrap.Serve(gctx, bootstrap.NewServer(cfg.Port, handler.Router(gctx, deps)))
	})

	if err := g.Wait(); err != nil {
		logx.Error(err, "Standalone server stopped with error")
		return
	}

	logx.Info("Standalone server gracefully stopped.")
}

// seedGames parses "id:home:away:lat:lng,..." into games starting now.
func seedGames(raw string) []eligibility.Game {
	var games []eligibility.Game
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 5 {
			continue
		}

		var lat, lng float64
		if _, err := fmt.Sscanf(parts[3]+" "+parts[4], "%g %g", &lat, &lng); err != nil {
			logx.Warn("Skipping malformed game seed", "entry", entry)
			continue
		}

		games = append(games, eligibility.Game{
			ID:         parts[0],
			HomeTeamID: parts[1],
			AwayTeamID: parts[2],
			StartsAt:   time.Now(),
			Venue:      eligibility.Position{Lat: lat, Lng: lng},
		})
	}
	return games
}

func logDevIdentity(secret string) {
	payload := &jwt.IdentityPayload{TeamID: "dev-team", Nickname: "DevFan"}
	payload.Subject = "dev-fan"

	token, err := jwt.GenerateIdentityToken(payload, secret, jwt.IdentityExpiration)
	if err != nil {
		logx.Error(err, "Failed to mint development identity token")
		return
	}
	logx.Info("Development identity token", "subject", payload.Subject, "team", payload.TeamID, "token", token)
}
