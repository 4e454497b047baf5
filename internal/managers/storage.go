package managers

import (
	"context"
	"fmt"
	"sync"

	"github.com/pajenicko/explora-gateway/internal/storage"
	"github.com/pajenicko/explora-gateway/internal/storage/timescaledb"
	"github.com/pajenicko/explora-gateway/pkg/config"
)

// StorageManager holds our active storage backends
type StorageManager struct {
	Engines            []StorageEngine
	ReadingDistributor chan storage.ArchiveEntry
}

// StorageEngine holds a backend storage engine's interface as well as
// a channel for passing readings to the engine
type StorageEngine struct {
	Engine storage.StorageEngineInterface
	C      chan<- storage.ArchiveEntry
}

// NewStorageManager creates a StorageManager object, populated with all
// configured archive engines. With nothing configured the distributor still
// runs and readings are discarded.
func NewStorageManager(ctx context.Context, wg *sync.WaitGroup, settings *config.Settings) (*StorageManager, error) {
	s := StorageManager{}

	// Initialize our channel for passing readings to the distributor
	s.ReadingDistributor = make(chan storage.ArchiveEntry, 20)

	// Start our reading distributor to distribute received readings to
	// storage backends
	go s.startReadingDistributor(ctx, wg)

	if settings.ArchiveDSN != "" {
		if err := s.AddEngine(ctx, wg, "timescaledb", settings); err != nil {
			return &s, fmt.Errorf("could not add TimescaleDB storage backend: %v", err)
		}
	}

	return &s, nil
}

// AddEngine adds a new StorageEngine of name engineName to our Storage object
func (s *StorageManager) AddEngine(ctx context.Context, wg *sync.WaitGroup, engineName string, settings *config.Settings) error {
	switch engineName {
	case "timescaledb":
		se := StorageEngine{}
		engine, err := timescaledb.New(settings.ArchiveDSN)
		if err != nil {
			return err
		}
		se.Engine = engine
		se.C = se.Engine.StartStorageEngine(ctx, wg)
		s.Engines = append(s.Engines, se)
	}

	return nil
}

// startReadingDistributor receives readings from the ingestion coordinator
// and fans them out to the various storage backends
func (s *StorageManager) startReadingDistributor(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	defer wg.Done()

	for {
		select {
		case r := <-s.ReadingDistributor:
			for _, e := range s.Engines {
				e.C <- r
			}
		case <-ctx.Done():
			return
		}
	}
}
