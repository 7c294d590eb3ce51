package port

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthanhphan/go-file-ingest/internal/ingest/domain"
)

//go:generate mockgen -destination=../service/mocks/upload_service_mock.go -package=mocks -source=service.go

var (
	// ErrNoFile is returned when a request carries no file part.
	ErrNoFile = errors.New("no file uploaded")

	// ErrBackendDisabled is returned by health checks for backends that are not configured.
	ErrBackendDisabled = errors.New("backend disabled")
)

// Backend names used in StoreError and health reports.
const (
	BackendObjectStore = "object_store"
	BackendRecordStore = "record_store"
)

// StoreError wraps a failure from one durable backend.
type StoreError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError builds a StoreError, returning nil when err is nil.
func NewStoreError(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Backend: backend, Op: op, Err: err}
}

// UploadService replicates staged uploads into the configured backends.
type UploadService interface {
	// Upload replicates a staged file and releases the staging copy.
	Upload(ctx context.Context, file *domain.UploadedFile) (*domain.UploadResult, error)

	// Health pings every backend; disabled backends report ErrBackendDisabled.
	Health(ctx context.Context) map[string]error
}
