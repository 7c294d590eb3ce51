package recordstore

import (
	"context"
	"fmt"
	"time"

	"github.com/anthanhphan/go-file-ingest/internal/ingest/config"
	"github.com/anthanhphan/go-file-ingest/internal/ingest/domain"
	"github.com/anthanhphan/go-file-ingest/internal/ingest/port"
)

// Finder reads records back. Both drivers implement it.
type Finder interface {
	Find(ctx context.Context, id domain.RecordID) (*domain.FileRecord, error)
}

// Store is a record store that can also read records back.
type Store interface {
	port.RecordStore
	Finder
}

// Open connects the configured driver. When the initial connection check
// fails, the adapter is still returned alongside the error so the caller can
// decide whether to keep serving.
func Open(ctx context.Context, cfg config.RecordStoreConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		a, err := OpenMongo(ctx, cfg)
		if a == nil {
			return nil, err
		}
		return a, err
	case config.DriverPostgres:
		a, err := OpenPostgres(ctx, cfg)
		if a == nil {
			return nil, err
		}
		return a, err
	default:
		return nil, fmt.Errorf("unknown record store driver: %q", cfg.Driver)
	}
}

func connectTimeout(cfg config.RecordStoreConfig) time.Duration {
	if cfg.ConnectTimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond
}
