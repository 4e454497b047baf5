package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pajenicko/explora-gateway/internal/app"
	"github.com/pajenicko/explora-gateway/internal/log"
	"github.com/pajenicko/explora-gateway/pkg/config"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

func main() {
	cfgFile := flag.String("config", "config.json", "Path to configuration source:\n\t\t\t  JSON: config.json\n\t\t\t  SQLite: config.db")
	cfgBackend := flag.String("config-backend", "json", "Configuration backend type: 'json' for JSON files, 'sqlite' for SQLite databases")
	devicesFile := flag.String("devices", "sensors.json", "Path to the device registry document")
	adminAddr := flag.String("admin-listen", "", "Admin API listen address (default 127.0.0.1)")
	adminPort := flag.Int("admin-port", 0, "Admin API port (default 8081)")
	adminToken := flag.String("admin-token", "", "Admin API bearer token (generated when empty)")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("explora-gateway %s\n", version)
		os.Exit(0)
	}

	// Set up logging
	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Load configuration
	settings, err := loadConfig(*cfgFile, *cfgBackend)
	if err != nil {
		log.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	// Create and run the application
	application := app.New(settings, app.Options{
		DevicesFile:     *devicesFile,
		AdminListenAddr: *adminAddr,
		AdminPort:       *adminPort,
		AdminToken:      *adminToken,
	})
	if err := application.Run(context.Background()); err != nil {
		log.Errorf("Application error: %v", err)
		os.Exit(1)
	}
}

func loadConfig(cfgFile, cfgBackend string) (*config.Settings, error) {
	filename, _ := filepath.Abs(cfgFile)

	var provider config.Provider
	var err error

	switch cfgBackend {
	case "json":
		provider = config.NewJSONProvider(filename)
	case "sqlite":
		provider, err = config.NewSQLiteProvider(filename)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown config backend %q", cfgBackend)
	}
	defer provider.Close()

	return provider.Load()
}
