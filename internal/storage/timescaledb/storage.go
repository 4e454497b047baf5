// Package timescaledb persists archived readings to a TimescaleDB (or plain
// PostgreSQL) database.
package timescaledb

import (
	"context"
	"sync"

	"github.com/pajenicko/explora-gateway/internal/database"
	"github.com/pajenicko/explora-gateway/internal/log"
	"github.com/pajenicko/explora-gateway/internal/storage"
)

// Storage implements a TimescaleDB archive backend.
type Storage struct {
	client *database.Client
}

// New connects to the database and prepares the readings table.
func New(dsn string) (*Storage, error) {
	client := database.NewClient(dsn)
	if err := client.Connect(); err != nil {
		return nil, err
	}
	return &Storage{client: client}, nil
}

// StartStorageEngine creates a goroutine loop to receive readings and send
// them off to the database.
func (s *Storage) StartStorageEngine(ctx context.Context, wg *sync.WaitGroup) chan<- storage.ArchiveEntry {
	log.Info("starting TimescaleDB archive engine...")
	readingChan := make(chan storage.ArchiveEntry, 10)

	wg.Add(1)
	go s.processMetrics(ctx, wg, readingChan)

	return readingChan
}

func (s *Storage) processMetrics(ctx context.Context, wg *sync.WaitGroup, rchan <-chan storage.ArchiveEntry) {
	defer wg.Done()

	for {
		select {
		case entry := <-rchan:
			if err := s.storeReading(&entry); err != nil {
				log.Errorf("could not archive reading: %v", err)
			}
		case <-ctx.Done():
			log.Info("cancellation request received, cancelling archive engine")
			s.client.Close()
			return
		}
	}
}

func (s *Storage) storeReading(entry *storage.ArchiveEntry) error {
	row := database.FromDevice(&entry.Device, &entry.Measurement, entry.At)
	return s.client.SaveReading(row)
}
