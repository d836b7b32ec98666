/*
 * Copyright 2025 The OverlayBridge Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command bridged runs the overlay signal bridge: an OSC UDP listener, a
// MIDI device poller and an HTTP control API feeding browser-rendered
// overlays through a shared capability registry.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/overlaybridge/overlaybridge/pkg/api"
	"github.com/overlaybridge/overlaybridge/pkg/config"
	"github.com/overlaybridge/overlaybridge/pkg/dispatch"
	"github.com/overlaybridge/overlaybridge/pkg/logger"
	"github.com/overlaybridge/overlaybridge/pkg/midi"
	"github.com/overlaybridge/overlaybridge/pkg/models"
	"github.com/overlaybridge/overlaybridge/pkg/osc"
	"github.com/overlaybridge/overlaybridge/pkg/registry"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/overlaybridge/bridged.json", "Path to bridge config file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.LoadBridgeConfig(ctx, *configPath)
	if err != nil {
		return err
	}

	logg, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}

	reg := registry.New()
	hub := dispatch.NewHub(logg)

	oscSvc := osc.NewService(reg, hub, logg)
	oscSvc.UpdateClients(cfg.OSC.Clients)

	if startErr := oscSvc.Start(cfg.OSC.ListenIP, cfg.OSC.ListenPort); startErr != nil {
		// Bind failures leave the service stopped; the rest of the bridge
		// keeps running.
		logg.Error().Err(startErr).Msg("OSC service not started")
	}

	var midiSvc *midi.Service

	drv, err := midi.NewRTMIDIDriver()
	if err != nil {
		logg.Error().Err(err).Msg("MIDI driver unavailable; MIDI bridge disabled")
	} else {
		midiSvc = midi.NewService(drv, reg, hub, logg)
		midiSvc.Load(cfg.MIDI.Devices)
	}

	wss := config.NewWSSStore()

	if cfg.HTTP.WSSConfigPath != "" {
		if loadErr := wss.Load(cfg.HTTP.WSSConfigPath); loadErr != nil {
			logg.Warn().Err(loadErr).Msg("websocket credentials not loaded")
		}
	}

	files, err := api.NewFileStore(cfg.HTTP.RootDir)
	if err != nil {
		return err
	}

	var (
		reloadMu  sync.Mutex
		apiServer *api.Server
	)

	current := cfg

	reload := func() error {
		reloadMu.Lock()
		defer reloadMu.Unlock()

		next, loadErr := config.LoadBridgeConfig(ctx, *configPath)
		if loadErr != nil {
			// Invalid config is reported, not fatal; the running state is
			// retained.
			logg.Error().Err(loadErr).Msg("config reload rejected")
			return loadErr
		}

		applyConfig(logg, current, next, oscSvc, midiSvc, wss, apiServer)
		current = next

		return nil
	}

	apiServer = api.NewServer(files, reg, logg,
		api.WithWSSProvider(wss),
		api.WithSurfaceAttacher(hub),
		api.WithReloadFunc(reload),
		api.WithHealthProvider(func() map[string]string {
			services := map[string]string{"osc": oscSvc.State().String()}

			if midiSvc != nil {
				services["midi"] = "loaded"
			} else {
				services["midi"] = "unavailable"
			}

			return services
		}),
	)

	if startErr := apiServer.Start(cfg.HTTP.ListenPort); startErr != nil {
		logg.Error().Err(startErr).Msg("HTTP control service not started")
	}

	waitForShutdown(logg, reload)

	logg.Info().Msg("shutting down")

	apiServer.Stop()
	oscSvc.Stop()

	if midiSvc != nil {
		midiSvc.Close()
	}

	hub.Close()

	return nil
}

// applyConfig pushes a freshly loaded configuration into the running
// services. Tables are rebuilt wholesale; a listener is restarted only when
// its bind address actually changed, and always by a full stop before the
// new start.
func applyConfig(logg logger.Logger, current, next *models.BridgeConfig,
	oscSvc *osc.Service, midiSvc *midi.Service, wss *config.WSSStore, apiServer *api.Server) {
	oscSvc.UpdateClients(next.OSC.Clients)

	if next.OSC.ListenIP != current.OSC.ListenIP || next.OSC.ListenPort != current.OSC.ListenPort {
		if err := oscSvc.Start(next.OSC.ListenIP, next.OSC.ListenPort); err != nil {
			logg.Error().Err(err).Msg("OSC service not restarted")
		}
	}

	if midiSvc != nil {
		midiSvc.Load(next.MIDI.Devices)
	}

	if next.HTTP.WSSConfigPath != "" {
		if err := wss.Load(next.HTTP.WSSConfigPath); err != nil {
			logg.Warn().Err(err).Msg("websocket credentials not reloaded")
		}
	}

	if next.HTTP.RootDir != current.HTTP.RootDir {
		logg.Warn().Msg("file root changes require a process restart; keeping previous root")
	}

	if next.HTTP.ListenPort != current.HTTP.ListenPort {
		// Restart off the request goroutine: the reload may itself arrive
		// over the control API, and Stop would wait on that connection.
		go func() {
			if err := apiServer.Start(next.HTTP.ListenPort); err != nil {
				logg.Error().Err(err).Msg("HTTP control service not restarted")
			}
		}()
	}
}

// waitForShutdown blocks on termination signals, applying a configuration
// reload on SIGHUP.
func waitForShutdown(logg logger.Logger, reload func() error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			logg.Info().Msg("SIGHUP received; reloading configuration")

			if err := reload(); err != nil {
				logg.Error().Err(err).Msg("reload failed")
			}

			continue
		}

		logg.Info().Str("signal", sig.String()).Msg("signal received")

		return
	}
}
