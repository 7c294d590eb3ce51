package domain

import "time"

// DefaultContentType is stored on records when the declared type is not trusted.
const DefaultContentType = "application/octet-stream"

// RecordID identifies a persisted FileRecord.
type RecordID string

// UploadedFile is a multipart file part staged on local disk.
type UploadedFile struct {
	OriginalName        string `json:"original_name"`
	StagedPath          string `json:"staged_path"`
	SizeBytes           uint64 `json:"size_bytes"`
	DeclaredContentType string `json:"declared_content_type"`
}

// FileRecord is the immutable document written to the record store.
type FileRecord struct {
	ID              RecordID  `json:"id" db:"id"`
	Filename        string    `json:"filename" db:"filename"`
	ContentType     string    `json:"content_type" db:"content_type"`
	FileBytes       []byte    `json:"-" db:"file_bytes"`
	Checksum        string    `json:"checksum" db:"checksum"`
	SizeBytes       int64     `json:"size_bytes" db:"size_bytes"`
	UploadTimestamp time.Time `json:"upload_timestamp" db:"upload_timestamp"`
}

// PutStrategy tells which object-store write path handled a file.
type PutStrategy string

const (
	PutSingleShot PutStrategy = "single_shot"
	PutStreamed   PutStrategy = "streamed"
)

// UploadResult summarises one replicated upload.
type UploadResult struct {
	ObjectKey   string      `json:"object_key,omitempty"`
	PutStrategy PutStrategy `json:"put_strategy,omitempty"`
	RecordID    RecordID    `json:"record_id,omitempty"`
	Retained    bool        `json:"retained,omitempty"`
}

// UploadState tracks an upload through the orchestrator.
type UploadState string

const (
	StateReceived    UploadState = "received"
	StateStaged      UploadState = "staged"
	StateReplicating UploadState = "replicating"
	StateCleanedUp   UploadState = "cleaned_up"
	StateRespondedOK UploadState = "responded_ok"
	StateRespondedKO UploadState = "responded_error"
)
