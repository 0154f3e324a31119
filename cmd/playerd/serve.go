// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ManuGH/playerstate/internal/api"
	"github.com/ManuGH/playerstate/internal/cache"
	"github.com/ManuGH/playerstate/internal/captions"
	"github.com/ManuGH/playerstate/internal/captions/fetch"
	"github.com/ManuGH/playerstate/internal/config"
	xglog "github.com/ManuGH/playerstate/internal/log"
	"github.com/ManuGH/playerstate/internal/media"
	"github.com/ManuGH/playerstate/internal/platform/httpx"
	"github.com/ManuGH/playerstate/internal/player"
	"github.com/ManuGH/playerstate/internal/resilience"
	"github.com/ManuGH/playerstate/internal/resume"
	"github.com/ManuGH/playerstate/internal/telemetry"
	"github.com/ManuGH/playerstate/internal/version"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the player state daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			xglog.Configure(xglog.Config{Level: "info", Version: version.Version})

			path := flags.resolveConfigPath()
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			xglog.Configure(xglog.Config{Level: cfg.LogLevel, Version: version.Version})

			lis, err := net.Listen("tcp", cfg.Listen)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.Listen, err)
			}
			a, err := newApp(ctx, cfg, path)
			if err != nil {
				_ = lis.Close()
				return err
			}
			return a.run(ctx, lis)
		},
	}
}

// app owns every long-lived component of a running daemon.
type app struct {
	logger  zerolog.Logger
	holder  *config.Holder
	tracing *telemetry.Provider
	cache   cache.Cache
	resume  resume.Store
	player  *player.Player
	api     *api.Server

	reloadSignal os.Signal
}

func newApp(ctx context.Context, cfg config.Config, path string) (*app, error) {
	a := &app{
		logger:       xglog.WithComponent("daemon"),
		holder:       config.NewHolder(cfg, path),
		reloadSignal: syscall.SIGHUP,
	}
	built := false
	defer func() {
		if !built {
			_ = a.close(context.Background())
		}
	}()

	var err error

	tcfg := cfg.Telemetry
	tcfg.ServiceVersion = version.Version
	if a.tracing, err = telemetry.NewProvider(ctx, tcfg); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	if a.cache, err = cache.New(cfg.CacheConfig(), xglog.WithComponent("cache")); err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}

	if cfg.Resume.Backend != resume.BackendMemory && cfg.DataDir != "" {
		if err = os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	if a.resume, err = resume.NewStore(ctx, cfg.Resume.Backend, cfg.DataDir); err != nil {
		return nil, fmt.Errorf("init resume store: %w", err)
	}

	catalog, err := loadCatalog(cfg.Catalog)
	if err != nil {
		return nil, err
	}
	a.logger.Info().
		Str(xglog.FieldEvent, "catalog.loaded").
		Str(xglog.FieldPath, cfg.Catalog).
		Int("items", catalog.Len()).
		Msg("media catalog loaded")

	fcfg := cfg.FetchConfig()
	fetcher := fetch.New(fcfg,
		fetch.WithCache(a.cache),
		fetch.WithClient(httpx.NewClient(fcfg.Timeout)),
		fetch.WithBreakers(resilience.NewGroup("captions:", fcfg.BreakerThreshold, fcfg.BreakerReset)),
	)

	a.player = player.New(player.Deps{
		Fetcher: fetcher,
		Parser:  captions.DefaultParser,
		Meta:    catalog,
		Sources: catalog,
		Resume:  a.resume,
	},
		player.WithPolicy(cfg.CaptionPolicy()),
		player.WithSaveInterval(cfg.Resume.SaveInterval.Std()),
	)

	a.api = api.New(a.player, cfg.APIConfig())
	if rc, ok := a.cache.(*cache.RedisCache); ok {
		a.api.AddHealthCheck("cache", rc.HealthCheck)
	}
	built = true
	return a, nil
}

func loadCatalog(path string) (*media.Catalog, error) {
	if path == "" {
		return media.NewCatalog(nil)
	}
	c, err := media.LoadCatalog(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return c, nil
}

// run serves on lis until ctx is done or the server fails, then shuts the
// daemon down.
func (a *app) run(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	if err := a.holder.StartWatcher(ctx); err != nil {
		a.logger.Warn().Err(err).Str(xglog.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
	}
	applyCh := make(chan config.Config, 1)
	a.holder.RegisterListener(applyCh)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case cfg := <-applyCh:
				a.apply(cfg)
			}
		}
	})

	if a.reloadSignal != nil {
		g.Go(func() error {
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, a.reloadSignal)
			defer signal.Stop(hup)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hup:
					a.logger.Info().Str(xglog.FieldEvent, "config.reload_signal").Msg("received reload signal, reloading config")
					if err := a.holder.Reload(ctx); err != nil {
						a.logger.Warn().Err(err).Str(xglog.FieldEvent, "config.reload_failed").Msg("config reload failed")
					}
				}
			}
		})
	}

	g.Go(func() error {
		a.logger.Info().
			Str(xglog.FieldEvent, "api.listening").
			Str(xglog.FieldListen, lis.Addr().String()).
			Msg("API server listening")
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Unmounting first ends open event streams so Shutdown can drain.
		perr := a.player.Shutdown(sctx)
		serr := srv.Shutdown(sctx)
		cerr := a.close(sctx)
		a.logger.Info().Str(xglog.FieldEvent, "daemon.stopped").Msg("daemon stopped")
		return errors.Join(perr, serr, cerr)
	})

	return g.Wait()
}

// apply pushes the hot-reloadable parts of cfg into the running daemon.
func (a *app) apply(cfg config.Config) {
	if a.player != nil {
		a.player.Coordinator().SetPolicy(cfg.CaptionPolicy())
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(lvl)
	}
}

// close releases the stores and exporters newApp acquired. It tolerates a
// partially built app. The player is shut down separately by run.
func (a *app) close(ctx context.Context) error {
	var errs []error
	a.holder.Stop()
	if a.resume != nil {
		errs = append(errs, a.resume.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.tracing != nil {
		errs = append(errs, a.tracing.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
