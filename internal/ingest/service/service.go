package service

import (
	"time"

	"github.com/anthanhphan/go-file-ingest/internal/ingest/config"
	"github.com/anthanhphan/go-file-ingest/internal/ingest/port"
	"github.com/anthanhphan/go-file-ingest/pkg/resilience"
)

// Dependencies are the adapters the ingest service drives. A nil
// ObjectStore or RecordStore disables that backend.
type Dependencies struct {
	ObjectStore port.ObjectStore
	RecordStore port.RecordStore
	Staging     port.Staging
	IDGen       port.IDGenerator
}

// IngestService replicates staged uploads into the enabled backends.
type IngestService struct {
	cfg *config.Config

	objects port.ObjectStore
	records port.RecordStore
	staging port.Staging
	idGen   port.IDGenerator

	objectBreaker *resilience.CircuitBreaker
	recordBreaker *resilience.CircuitBreaker
	pool          *resilience.WorkerPool
}

// Ensure IngestService implements port.UploadService.
var _ port.UploadService = (*IngestService)(nil)

// NewIngestService builds the service and starts its replication workers.
// Call Close to stop them.
func NewIngestService(cfg *config.Config, deps Dependencies) *IngestService {
	openTimeout := time.Duration(cfg.Resilience.OpenTimeoutMS) * time.Millisecond

	return &IngestService{
		cfg:     cfg,
		objects: deps.ObjectStore,
		records: deps.RecordStore,
		staging: deps.Staging,
		idGen:   deps.IDGen,
		objectBreaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             port.BackendObjectStore,
			FailureThreshold: cfg.Resilience.FailureThreshold,
			OpenTimeout:      openTimeout,
		}),
		recordBreaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             port.BackendRecordStore,
			FailureThreshold: cfg.Resilience.FailureThreshold,
			OpenTimeout:      openTimeout,
		}),
		pool: resilience.NewWorkerPool(cfg.Upload.MaxConcurrent, cfg.Upload.MaxConcurrent),
	}
}

// LocalOnly reports whether no durable backend is enabled.
func (s *IngestService) LocalOnly() bool {
	return s.objects == nil && s.records == nil
}

// Close stops accepting uploads and waits for in-flight replication.
func (s *IngestService) Close() {
	s.pool.Close()
	s.pool.Wait()
}

func (s *IngestService) uploadTimeout() time.Duration {
	if s.cfg.Upload.TimeoutMS <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(s.cfg.Upload.TimeoutMS) * time.Millisecond
}
