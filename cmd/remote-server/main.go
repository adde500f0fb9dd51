package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/remotecast/remotecast-server/internal/api"
	"github.com/remotecast/remotecast-server/internal/audit"
	"github.com/remotecast/remotecast-server/internal/breaker"
	"github.com/remotecast/remotecast-server/internal/config"
	"github.com/remotecast/remotecast-server/internal/gateway"
	"github.com/remotecast/remotecast-server/internal/integration"
	"github.com/remotecast/remotecast-server/internal/maintenance"
	"github.com/remotecast/remotecast-server/internal/pairing"
	"github.com/remotecast/remotecast-server/internal/session"
	"github.com/remotecast/remotecast-server/internal/storage"
)

func main() {
	// Command line flags
	var configFile string
	flag.StringVar(&configFile, "config", "config/remote-server.yml", "Configuration file path")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Connect to database. Without a DSN the server runs on the in-memory
	// store, for single-node dev setups.
	var store storage.Store
	if cfg.Database.DSN != "" {
		pgStore, err := storage.NewPostgresStore(cfg.Database.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		store = pgStore
		log.Info().Msg("Connected to database")
	} else {
		store = storage.NewMemoryStore()
		log.Warn().Msg("No database configured, using in-memory store")
	}
	defer store.Close()

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// WaitGroup for services
	var wg sync.WaitGroup

	// Optional NATS connection
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")

		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.Server.Name),
			nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
			nats.ReconnectWait(cfg.NATS.ReconnectInterval),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info().Msg("Reconnected to NATS")
			}),
			nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
				log.Error().
					Err(err).
					Str("subject", sub.Subject).
					Msg("NATS error")
			}),
		)

		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without NATS support")
			nc = nil
		} else {
			defer nc.Close()
			log.Info().Msg("Connected to NATS")
		}
	} else {
		log.Info().Msg("NATS not configured, running in standalone mode")
	}

	// Audit sink: always the store, plus NATS mirroring when available
	var sink audit.Sink = audit.NewStoreSink(store)
	if nc != nil {
		sink = audit.MultiSink{sink, integration.NewEventPublisher(nc)}
	}

	// The breaker guards the store for both pairing and sessions
	br := breaker.New(cfg.Session.BreakerThreshold, cfg.Session.BreakerCooldown)

	pairingSvc := pairing.NewService(cfg.Pairing, store, sink, br, pairing.NewPNGEncoder(), cfg.Server.Name)
	sessions := session.NewManager(cfg.Session, store, sink, br)

	hub := gateway.NewHub()
	gw := gateway.NewGateway(cfg.Gateway, hub, sessions, store, sink, nil)

	var bridge *gateway.Bridge
	if nc != nil {
		bridge = gateway.NewBridge(nc, hub)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bridge.Start(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Gateway NATS bridge stopped")
			}
		}()

		forwarder := integration.NewForwarderService(cfg.Integration, nc)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := forwarder.Start(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Integration forwarder stopped")
			}
		}()
	}

	// Maintenance sweeper
	sweeper := maintenance.NewSweeper(cfg.Session, store, sink)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sweeper.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Maintenance sweeper stopped")
		}
	}()

	// Start REST API server
	apiServer := api.NewRESTServer(cfg, store, pairingSvc, sessions, gw, bridge)

	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil && ctx.Err() == nil {
			log.Fatal().Err(err).Msg("REST API server failed")
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	// Cancel context
	cancel()

	// Shutdown API server
	if err := apiServer.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	// Wait for all services
	wg.Wait()

	log.Info().Msg("Remote server stopped")
}
