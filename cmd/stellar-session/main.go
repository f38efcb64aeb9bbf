// Package main is the entry point for the Stellar MPD session bridge.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/edumarques81/stellar-mpdsession/internal/domain/player"
	"github.com/edumarques81/stellar-mpdsession/internal/infra/mpd"
	"github.com/edumarques81/stellar-mpdsession/internal/transport/socketio"
	"github.com/edumarques81/stellar-mpdsession/internal/version"
)

func main() {
	// Command line flags
	port := flag.String("port", "3001", "HTTP server port")
	mpdHost := flag.String("mpd-host", mpd.DefaultHost, "MPD host")
	mpdPort := flag.Int("mpd-port", mpd.DefaultPort, "MPD port")
	mpdPassword := flag.String("mpd-password", "", "MPD password")
	timeout := flag.Duration("timeout", mpd.DefaultTimeout, "MPD connect/read/write timeout")
	coolOff := flag.Duration("cool-off", mpd.DefaultCoolOff, "Delay between MPD reconnect attempts")
	poll := flag.Duration("poll", time.Second, "Status poll interval (0 disables polling)")
	noWatch := flag.Bool("no-watch", false, "Disable the MPD idle watcher")
	maxRemote := flag.Int("max-remote-clients", socketio.DefaultMaxRemoteClients, "Concurrent non-local UI clients (0 = unlimited)")
	corsOrigin := flag.String("cors-origin", "*", "Access-Control-Allow-Origin for the HTTP API")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Print startup banner
	versionInfo := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", versionInfo.String())
	log.Info().Msg("  MPD Session Bridge")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Str("port", *port).
		Str("mpd_host", *mpdHost).
		Int("mpd_port", *mpdPort).
		Dur("timeout", *timeout).
		Dur("cool_off", *coolOff).
		Dur("poll", *poll).
		Int("max_remote_clients", *maxRemote).
		Bool("password_set", *mpdPassword != "").
		Msg("Configuration")

	cfg := mpd.DefaultConfig()
	cfg.Host = *mpdHost
	cfg.Port = *mpdPort
	cfg.Password = *mpdPassword
	cfg.Timeout = *timeout
	cfg.CoolOff = *coolOff

	// Session engine and its consumer side
	engine := mpd.NewEngine(cfg)
	dispatcher := mpd.NewDispatcher()

	playerService := player.NewService(engine)
	playerService.Register(dispatcher)

	dispatcher.OnActivity(func(text string) {
		log.Debug().Str("activity", text).Msg("MPD activity")
	})
	dispatcher.OnFault(func(text string) {
		log.Error().Str("fault", text).Msg("MPD session failed, restart required")
	})

	// Create Socket.io server
	socketServer, err := socketio.NewServer(playerService)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Socket.io server")
	}
	socketServer.LimitRemoteClients(*maxRemote)
	defer socketServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := dispatcher.Run(ctx, engine.Messages()); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("Dispatcher stopped")
		}
	}()

	if err := engine.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start MPD session")
	}
	defer engine.Close()

	// Start MPD watcher
	if !*noWatch {
		events, err := mpd.Watch(ctx, cfg, mpd.DefaultWatchSubsystems...)
		if err != nil {
			log.Warn().Err(err).Msg("MPD watcher unavailable, relying on polling")
		} else {
			socketServer.StartMPDWatcher(ctx, events)
		}
	}
	playerService.StartPolling(ctx, *poll)

	// Start HTTP server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      newRouter(engine, playerService, socketServer, *corsOrigin),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("Shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", ":"+*port).Msg("HTTP server listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("HTTP server error")
	}

	log.Info().Msg("Server stopped")
}
