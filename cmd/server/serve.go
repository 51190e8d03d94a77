package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Rover/internal/adapters/http"
	"github.com/dkeye/Rover/internal/adapters/mqtt"
	"github.com/dkeye/Rover/internal/adapters/rtc"
	wssignal "github.com/dkeye/Rover/internal/adapters/signal"
	"github.com/dkeye/Rover/internal/app"
	"github.com/dkeye/Rover/internal/app/broker"
	"github.com/dkeye/Rover/internal/app/control"
	"github.com/dkeye/Rover/internal/app/sfu"
	"github.com/dkeye/Rover/internal/config"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rover",
		Short:         "Relay the rover camera to browsers and forward gamepad drive commands",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd)
		},
	}
	config.RegisterFlags(cmd.Flags())
	cmd.AddCommand(newProbeCmd())
	return cmd
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		log.Warn().Str("level", level).Msg("unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func runServer(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setLogLevel(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine, err := rtc.NewEngine(rtc.Config{ICEServers: cfg.ICEServers})
	if err != nil {
		return fmt.Errorf("media engine: %w", err)
	}

	var publisher control.Publisher
	if cfg.Control.Broker != "" {
		client, err := mqtt.Dial(mqtt.Options{
			Broker:         cfg.Control.Broker,
			ClientID:       cfg.Control.ClientID,
			ConnectTimeout: cfg.Control.ProbeTimeout,
			Retry:          true,
		})
		if err != nil {
			return fmt.Errorf("control bus: %w", err)
		}
		defer client.Close()
		publisher = client
	} else {
		log.Warn().Msg("no control broker configured, drive commands are not published")
	}

	mux := control.New(control.Config{
		Topic:         cfg.Control.Topic,
		PublishPeriod: cfg.Control.PublishPeriod,
		StaleAfter:    cfg.Control.StaleAfter,
		ProbeTimeout:  cfg.Control.ProbeTimeout,
		ProbeLimit:    cfg.Control.ProbeLimit,
		ProbeWindow:   cfg.Control.ProbeWindow,
	}, publisher, mqtt.Prober{ClientID: cfg.Control.ClientID + "-probe"}, nil)

	b := broker.New(engine, app.NewRegistry(), mux, app.KickOnFailure{})
	ctl := wssignal.NewSignalWSController(b, wssignal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
	})

	var relay *sfu.Relay
	if cfg.Media.RTPListen != "" {
		src, err := sfu.ListenUDP(cfg.Media.RTPListen)
		if err != nil {
			return err
		}
		video := sfu.NewOutTrack(engine.Track())
		video.MarkMuted()
		b.OnPeerState(video.FollowPeer)
		relay = sfu.NewRelay(src)
		relay.AddOutTrack("video", video)
	}

	r := router.SetupRouter(ctx, cfg, b, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Rover server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if relay != nil {
		g.Go(func() error {
			// Signaling and control keep running without video.
			if err := relay.Run(gctx); err != nil {
				log.Error().Err(err).Msg("rtp ingest stopped")
			}
			return nil
		})
	}

	mux.Start(gctx)

	if cfg.Media.Autostart {
		if err := b.Start(gctx); err != nil {
			log.Error().Err(err).Msg("initial negotiation failed, use POST /api/session/restart")
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		if err := b.Close(); err != nil {
			log.Error().Err(err).Msg("broker close")
		}
		if err := mux.Stop(cfg.ShutdownTimeout); err != nil {
			log.Error().Err(err).Msg("control loop stop")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
