// Package app wires configuration, the scene and its transports into a
// running server.
package app

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"holding-parade/server/internal/assets"
	"holding-parade/server/internal/config"
	"holding-parade/server/internal/feed/mqtt"
	"holding-parade/server/internal/metrics/influx"
	servernet "holding-parade/server/internal/net"
	"holding-parade/server/internal/net/ws"
	"holding-parade/server/internal/render/headless"
	"holding-parade/server/internal/scene"
	"holding-parade/server/internal/sim"
	"holding-parade/server/internal/telemetry"
	"holding-parade/server/logging"
)

// Run serves until ctx is done or a component fails.
func Run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	telemetryLogger := telemetry.WrapLogrus(log)

	named, closeSinkFiles, err := buildSinks(cfg.Logging, log)
	if err != nil {
		return err
	}
	defer closeSinkFiles()

	router := logging.NewRouter(cfg.Logging, logging.SystemClock{}, telemetryLogger, named)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	metrics := &logging.Metrics{}
	telemetryMetrics := telemetry.WrapMetrics(metrics)

	renderer := headless.New(headless.Options{Resolver: modelResolver(cfg.Assets.ModelRoot)})
	cache := assets.NewCache(renderer, cfg.Assets.Retry, telemetryLogger)

	store := assets.NewManifestStore(nil)
	manifest, err := assets.LoadManifest(cfg.Assets.ManifestPath)
	switch {
	case err == nil:
		store.Store(manifest)
		for _, problem := range manifest.Problems() {
			log.Warnf("manifest %s: %s", cfg.Assets.ManifestPath, problem)
		}
	case errors.Is(err, assets.ErrManifestMissing):
		log.Warnf("no asset manifest at %s, holdings render as placeholders", cfg.Assets.ManifestPath)
	default:
		log.Errorf("failed to load asset manifest: %v", err)
	}

	tag, err := language.Parse(cfg.Locale)
	if err != nil {
		log.Warnf("invalid locale %q, using English: %v", cfg.Locale, err)
		tag = language.English
	}

	var hub *ws.Hub
	manager, err := scene.NewManager(cfg.Scene, scene.Deps{
		Renderer:  renderer,
		Cache:     cache,
		Manifests: store,
		Publisher: router,
		Logger:    telemetryLogger,
		Metrics:   telemetryMetrics,
		Messages:  scene.LocalizedMessages(tag),
		Hooks: scene.Hooks{
			OnEntityPicked: func(id string) {
				hub.NotifyPicked(id)
			},
			OnLoadingProgress: func(label string, complete bool) {
				hub.NotifyLoading(label, complete)
			},
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		manager.Dispose()
		manager.Wait()
	}()

	hub = ws.NewHub(manager, ws.HandlerConfig{
		Logger:       telemetryLogger,
		Metrics:      telemetryMetrics,
		InboundRate:  cfg.Stream.InboundRate,
		InboundBurst: cfg.Stream.InboundBurst,
		WriteTimeout: cfg.Stream.WriteTimeout,
	})
	defer hub.Close()

	handler := servernet.NewHTTPHandler(manager, hub, servernet.HTTPHandlerConfig{
		ClientDir:       cfg.HTTP.ClientDir,
		Logger:          telemetryLogger,
		Metrics:         metrics,
		MaxSnapshotSize: cfg.HTTP.MaxSnapshotSize,
		TickRate:        cfg.Sim.TickRate,
		EnablePprof:     cfg.HTTP.EnablePprof,
	})
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	loop := sim.NewLoop(manager, sim.LoopConfig{
		TickRate:        cfg.Sim.TickRate,
		CatchupMaxTicks: cfg.Sim.CatchupMaxTicks,
	}, sim.LoopHooks{}, logging.SystemClock{}, telemetryLogger, telemetryMetrics)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		placed := manager.SetupEnvironment(gctx)
		log.Infof("environment ready with %d decorations", placed)
		return nil
	})
	g.Go(func() error {
		loop.Run(gctx)
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx, cfg.Stream.FrameInterval)
		return nil
	})

	if cfg.Assets.Watch {
		watcher, err := assets.NewWatcher(cfg.Assets.ManifestPath, store, telemetryLogger)
		if err != nil {
			log.Warnf("manifest hot reload disabled: %v", err)
		} else {
			watcher.OnReload(func(*assets.Manifest) {
				telemetryMetrics.Add("manifest_reloads", 1)
			})
			g.Go(func() error {
				return watcher.Run(gctx)
			})
		}
	}

	if cfg.Feed.MQTT.Enabled() {
		feed := mqtt.New(mqtt.Options{
			Broker:         cfg.Feed.MQTT.Broker,
			Topic:          cfg.Feed.MQTT.Topic,
			ClientID:       cfg.Feed.MQTT.ClientID,
			Username:       cfg.Feed.MQTT.Username,
			Password:       cfg.Feed.MQTT.Password,
			QoS:            cfg.Feed.MQTT.QoS,
			ConnectTimeout: cfg.Feed.MQTT.ConnectTimeout,
		}, manager.Apply, telemetryLogger)
		g.Go(func() error {
			if err := feed.Run(gctx); err != nil {
				log.Errorf("snapshot feed stopped: %v", err)
			}
			return nil
		})
	}

	if cfg.Metrics.Influx.Enabled() {
		exporter, err := influx.Connect(gctx, influx.Options{
			URL:      cfg.Metrics.Influx.URL,
			Token:    cfg.Metrics.Influx.Token,
			Org:      cfg.Metrics.Influx.Org,
			Bucket:   cfg.Metrics.Influx.Bucket,
			Interval: cfg.Metrics.Influx.Interval,
			Tags:     cfg.Metrics.Influx.Tags,
		}, metrics, telemetryLogger)
		if err != nil {
			log.Warnf("metrics export disabled: %v", err)
		} else {
			g.Go(func() error {
				exporter.Run(gctx)
				return nil
			})
		}
	}

	g.Go(func() error {
		log.Infof("server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server failed")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown http server")
		}
		return nil
	})

	return g.Wait()
}

// modelResolver resolves manifest locators relative to root.
func modelResolver(root string) headless.Resolver {
	if root == "" {
		return headless.FileResolver
	}
	return func(locator string) (headless.ModelSpec, error) {
		if !filepath.IsAbs(locator) {
			locator = filepath.Join(root, locator)
		}
		return headless.FileResolver(locator)
	}
}
