package port

import (
	"context"

	"github.com/anthanhphan/go-file-ingest/internal/ingest/domain"
)

//go:generate mockgen -destination=../service/mocks/ports_mock.go -package=mocks -source=repository.go

// ObjectStore writes staged files into an S3-compatible bucket.
type ObjectStore interface {
	// Put uploads the file at localPath under key and reports the write path used.
	Put(ctx context.Context, key string, localPath string) (domain.PutStrategy, error)

	// Delete removes an object. Used to compensate a failed replication.
	Delete(ctx context.Context, key string) error

	// Ping checks that the bucket is reachable.
	Ping(ctx context.Context) error
}

// RecordStore persists FileRecords in a database.
type RecordStore interface {
	// Save inserts a new record and returns its identifier.
	Save(ctx context.Context, record *domain.FileRecord) (domain.RecordID, error)

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close releases the connection pool.
	Close(ctx context.Context) error
}

// Staging owns the local copies of uploaded files.
type Staging interface {
	// Release removes the staged copy of file.
	Release(file *domain.UploadedFile) error

	// Retain keeps file as the only copy and returns it at its new location.
	Retain(file *domain.UploadedFile) (*domain.UploadedFile, error)
}

// IDGenerator allocates record identifiers.
type IDGenerator interface {
	// NextString returns a new unique id in decimal form.
	NextString() (string, error)
}
