package service

import (
	"fmt"
	"os"
	"time"

	"github.com/anthanhphan/go-file-ingest/internal/ingest/domain"
	"github.com/anthanhphan/go-file-ingest/internal/ingest/port"
	"github.com/spaolacci/murmur3"
)

// buildRecord reads the staged file into memory and assembles the record to persist.
func (s *IngestService) buildRecord(file *domain.UploadedFile) (*domain.FileRecord, error) {
	data, err := os.ReadFile(file.StagedPath)
	if err != nil {
		return nil, port.NewStoreError(port.BackendRecordStore, "read_staged", err)
	}

	id, err := s.nextRecordID()
	if err != nil {
		return nil, err
	}

	return &domain.FileRecord{
		ID:              id,
		Filename:        file.OriginalName,
		ContentType:     s.contentType(file),
		FileBytes:       data,
		Checksum:        checksum(data),
		SizeBytes:       int64(len(data)),
		UploadTimestamp: time.Now().UTC(),
	}, nil
}

// nextRecordID allocates a snowflake id for a new record.
func (s *IngestService) nextRecordID() (domain.RecordID, error) {
	id, err := s.idGen.NextString()
	if err != nil {
		return "", fmt.Errorf("failed to generate record id: %w", err)
	}
	return domain.RecordID(id), nil
}

func (s *IngestService) contentType(file *domain.UploadedFile) string {
	if s.cfg.RecordStore.UseDeclaredContentType && file.DeclaredContentType != "" {
		return file.DeclaredContentType
	}
	if s.cfg.RecordStore.ContentType != "" {
		return s.cfg.RecordStore.ContentType
	}
	return domain.DefaultContentType
}

// checksum is the hex murmur3 128-bit fingerprint of data.
func checksum(data []byte) string {
	h1, h2 := murmur3.Sum128(data)
	return fmt.Sprintf("%016x%016x", h1, h2)
}
