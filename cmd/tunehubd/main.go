package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/julienschmidt/httprouter"
	"github.com/spf13/cobra"

	"github.com/tunehub/tunehub/internal/config"
	"github.com/tunehub/tunehub/internal/gateway"
	"github.com/tunehub/tunehub/internal/playback"
	"github.com/tunehub/tunehub/internal/room"
	"github.com/tunehub/tunehub/internal/server"
	"github.com/tunehub/tunehub/internal/store/memcatalog"
	"github.com/tunehub/tunehub/internal/store/memstore"
	"github.com/tunehub/tunehub/internal/store/memverify"
)

const releaseVersion = "0.1.0"

func main() {
	log.SetFlags(0)
	cfg := &config.Config{}
	cobra.CheckErr(config.NewCommand(cfg, releaseVersion, run).Execute())
}

func run(cmd *cobra.Command, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The core never implements a real catalog/identity/storage
	// integration; these reference implementations are what
	// cmd/tunehubd runs against when no external backend is configured,
	// per SPEC_FULL.md §1.
	backing := memstore.New()
	verifier := memverify.New()
	catalog := memcatalog.New()

	breaker := playback.NewBreaker(0)
	resolver := playback.New(catalog, breaker, cfg.Logf)

	registry := room.NewRegistry(resolver, backing, nil, verifier, cfg.MinRoundTracks, cfg.Logf)
	gw := gateway.New(cfg, registry, backing, catalog, verifier)
	registry.SetBroadcaster(gw)

	go registry.ReapLoop(ctx, cfg.RoomTimeout)

	return server.Serve(ctx, cfg, releaseVersion, registry, func(mux *httprouter.Router) {
		gw.Register(mux)
	})
}
