package service

import (
	"context"
	"time"

	"github.com/anthanhphan/go-file-ingest/internal/ingest/port"
)

const pingTimeout = 3 * time.Second

// Health pings each backend. Disabled backends report port.ErrBackendDisabled.
func (s *IngestService) Health(ctx context.Context) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	report := map[string]error{
		port.BackendObjectStore: port.ErrBackendDisabled,
		port.BackendRecordStore: port.ErrBackendDisabled,
	}
	if s.objects != nil {
		report[port.BackendObjectStore] = s.objects.Ping(ctx)
	}
	if s.records != nil {
		report[port.BackendRecordStore] = s.records.Ping(ctx)
	}
	return report
}
