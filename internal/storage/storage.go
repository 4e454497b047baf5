// Package storage defines the archive engine contract. Engines receive
// calibrated readings over a channel and persist them; failures are logged,
// never propagated back into the ingestion loop.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/pajenicko/explora-gateway/internal/registry"
	"github.com/pajenicko/explora-gateway/internal/types"
)

// ArchiveEntry is one calibrated reading headed for the archive, snapshotted
// so engines never touch live registry state.
type ArchiveEntry struct {
	Device      registry.Device
	Measurement types.Measurement
	At          time.Time
}

// StorageEngineInterface is the interface for a storage backend
type StorageEngineInterface interface {
	StartStorageEngine(context.Context, *sync.WaitGroup) chan<- ArchiveEntry
}
