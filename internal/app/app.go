// Package app wires the gateway's components together and owns their
// lifecycle.
package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pajenicko/explora-gateway/internal/clock"
	"github.com/pajenicko/explora-gateway/internal/forwarder"
	"github.com/pajenicko/explora-gateway/internal/gateway"
	"github.com/pajenicko/explora-gateway/internal/log"
	"github.com/pajenicko/explora-gateway/internal/management"
	"github.com/pajenicko/explora-gateway/internal/managers"
	"github.com/pajenicko/explora-gateway/internal/mqttpub"
	"github.com/pajenicko/explora-gateway/internal/radio"
	"github.com/pajenicko/explora-gateway/internal/registry"
	"github.com/pajenicko/explora-gateway/internal/storage"
	"github.com/pajenicko/explora-gateway/pkg/config"
)

// Options carries the paths and listener settings not part of the persisted
// configuration document.
type Options struct {
	DevicesFile     string
	AdminListenAddr string
	AdminPort       int
	AdminToken      string
}

// App represents the main application
type App struct {
	settings *config.Settings
	opts     Options
}

// New creates a new application instance
func New(settings *config.Settings, opts Options) *App {
	return &App{settings: settings, opts: opts}
}

// Run starts the application and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.SetLevel(a.settings.LogLevel)

	// Device registry, restored from its persisted document.
	clk := clock.NewSystem(a.settings.Location())
	reg := registry.New(a.opts.DevicesFile, clk)
	if err := reg.Load(); err != nil {
		return err
	}

	// Radio driver over the serial register bridge.
	bus, err := radio.OpenSerialBus(a.settings.RadioDevice, a.settings.RadioBaud)
	if err != nil {
		return err
	}
	driver := radio.NewSX127x(bus)
	if err := driver.Init(); err != nil {
		bus.Close()
		return err
	}

	// Fan-out sinks.
	fwd := forwarder.New(a.settings.HTTPVerifyTLS)
	pub := mqttpub.New(mqttpub.Config{
		Host:      a.settings.MQTT.Host,
		Port:      a.settings.MQTT.Port,
		User:      a.settings.MQTT.User,
		Password:  a.settings.MQTT.Password,
		TLS:       a.settings.MQTT.TLS,
		Enabled:   a.settings.MQTT.Enabled,
		TopicRoot: a.settings.MQTT.Prefix,
		HAEnabled: a.settings.MQTT.HAEnabled,
		HARoot:    a.settings.MQTT.HAPrefix,
	}, reg.SnapshotActive)

	// Optional readings archive.
	storageManager, err := managers.NewStorageManager(ctx, &wg, a.settings)
	if err != nil {
		return err
	}
	var archive chan<- storage.ArchiveEntry
	if len(storageManager.Engines) > 0 {
		archive = storageManager.ReadingDistributor
	}

	// Ingestion coordinator.
	coordinator := gateway.New(driver, reg, fwd, pub, archive)
	go coordinator.Run(ctx, &wg)

	// Admin API.
	admin := management.NewController(management.Config{
		ListenAddr: a.opts.AdminListenAddr,
		Port:       a.opts.AdminPort,
		AuthToken:  a.opts.AdminToken,
	}, reg, coordinator)
	if err := admin.StartController(ctx, &wg); err != nil {
		return err
	}

	log.Info("gateway started successfully")

	// Set up signal handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	select {
	case <-sigs:
		log.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		log.Info("context cancelled, shutting down...")
	}

	// Cancel context to signal all goroutines to stop
	cancel()

	// Wait for all workers to terminate
	log.Info("waiting for all workers to terminate...")
	wg.Wait()

	if err := reg.Persist(); err != nil {
		log.Errorf("final registry persist failed: %v", err)
	}
	if err := driver.Close(); err != nil {
		log.Errorf("radio shutdown failed: %v", err)
	}

	log.Info("shutdown complete")
	return nil
}
