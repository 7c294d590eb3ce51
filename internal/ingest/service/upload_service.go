package service

import (
	"context"
	"errors"
	"time"

	"github.com/anthanhphan/go-file-ingest/internal/ingest/config"
	"github.com/anthanhphan/go-file-ingest/internal/ingest/domain"
	"github.com/anthanhphan/go-file-ingest/internal/ingest/port"
	"github.com/anthanhphan/go-file-ingest/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
)

const compensateTimeout = 10 * time.Second

// Upload replicates a staged file into the enabled backends, object store
// first, then record store. The staged copy is released on every path
// except local-only mode, where it is the only copy and is kept.
func (s *IngestService) Upload(ctx context.Context, file *domain.UploadedFile) (*domain.UploadResult, error) {
	if file == nil {
		return nil, port.ErrNoFile
	}

	logState(file, domain.StateStaged)

	if s.LocalOnly() {
		retained, err := s.staging.Retain(file)
		if err != nil {
			logger.Warnw("Failed to move retained file out of the sweep path",
				"file_name", file.OriginalName,
				"staged_path", file.StagedPath,
				"error", err.Error(),
			)
			retained = file
		}
		logger.Infow("No backend enabled, keeping staged file",
			"file_name", retained.OriginalName,
			"staged_path", retained.StagedPath,
		)
		logState(retained, domain.StateRespondedOK)
		return &domain.UploadResult{Retained: true}, nil
	}

	defer s.release(file)

	ctx, cancel := context.WithTimeout(ctx, s.uploadTimeout())
	defer cancel()

	var result *domain.UploadResult
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		logState(file, domain.StateReplicating)
		var replicateErr error
		result, replicateErr = s.replicate(ctx, file)
		return replicateErr
	})
	if err != nil {
		logger.Errorw("Upload failed",
			"file_name", file.OriginalName,
			"size_bytes", file.SizeBytes,
			"policy", s.cfg.Upload.Policy,
			"error", err.Error(),
		)
		logState(file, domain.StateRespondedKO)
		return nil, err
	}

	logger.Infow("Upload completed",
		"file_name", file.OriginalName,
		"size_bytes", file.SizeBytes,
		"object_key", result.ObjectKey,
		"put_strategy", string(result.PutStrategy),
		"record_id", string(result.RecordID),
	)
	logState(file, domain.StateRespondedOK)
	return result, nil
}

// replicate writes file to each enabled backend according to the policy.
func (s *IngestService) replicate(ctx context.Context, file *domain.UploadedFile) (*domain.UploadResult, error) {
	saga := s.cfg.Upload.Policy != config.PolicyBestEffort
	result := &domain.UploadResult{}

	var errs []error
	objectWritten := false

	if s.objects != nil {
		key := domain.ObjectKey(s.cfg.ObjectStore.KeyPrefix, file.OriginalName)
		strategy, err := s.putObject(ctx, key, file.StagedPath)
		if err != nil {
			if saga {
				return nil, err
			}
			logger.Warnw("Object store write failed, continuing with record store",
				"file_name", file.OriginalName,
				"error", err.Error(),
			)
			errs = append(errs, err)
		} else {
			objectWritten = true
			result.ObjectKey = key
			result.PutStrategy = strategy
		}
	}

	if s.records != nil {
		id, err := s.saveRecord(ctx, file)
		if err != nil {
			if saga && objectWritten {
				s.compensate(ctx, result.ObjectKey)
			}
			errs = append(errs, err)
		} else {
			result.RecordID = id
		}
	}

	if len(errs) > 0 {
		if !saga && (objectWritten || result.RecordID != "") {
			logger.Warnw("Partial replication kept",
				"file_name", file.OriginalName,
				"object_key", result.ObjectKey,
				"record_id", string(result.RecordID),
			)
		}
		return nil, errors.Join(errs...)
	}
	return result, nil
}

func (s *IngestService) putObject(ctx context.Context, key, localPath string) (domain.PutStrategy, error) {
	var strategy domain.PutStrategy
	err := s.objectBreaker.Execute(ctx, func(ctx context.Context) error {
		var putErr error
		strategy, putErr = s.objects.Put(ctx, key, localPath)
		return putErr
	})
	return strategy, asStoreError(port.BackendObjectStore, "put", err)
}

func (s *IngestService) saveRecord(ctx context.Context, file *domain.UploadedFile) (domain.RecordID, error) {
	record, err := s.buildRecord(file)
	if err != nil {
		return "", err
	}

	var id domain.RecordID
	err = s.recordBreaker.Execute(ctx, func(ctx context.Context) error {
		var saveErr error
		id, saveErr = s.records.Save(ctx, record)
		return saveErr
	})
	return id, asStoreError(port.BackendRecordStore, "save", err)
}

// compensate removes an object whose record write failed. It runs on a
// fresh deadline so an expired upload context still gets cleaned up.
func (s *IngestService) compensate(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()

	err := s.objectBreaker.Execute(ctx, func(ctx context.Context) error {
		return s.objects.Delete(ctx, key)
	})
	if err != nil {
		logger.Errorw("Compensating object delete failed, object is orphaned",
			"object_key", key,
			"error", err.Error(),
		)
		return
	}
	logger.Infow("Compensated object write", "object_key", key)
}

func (s *IngestService) release(file *domain.UploadedFile) {
	if err := s.staging.Release(file); err != nil {
		logger.Warnw("Failed to release staged file",
			"staged_path", file.StagedPath,
			"error", err.Error(),
		)
		return
	}
	logState(file, domain.StateCleanedUp)
}

// asStoreError keeps adapter errors as they are and tags the rest
// (breaker open, deadline) with the backend they came from.
func asStoreError(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	var storeErr *port.StoreError
	if errors.As(err, &storeErr) {
		return err
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		logger.Warnw("Backend short-circuited", "backend", backend, "op", op)
	}
	return port.NewStoreError(backend, op, err)
}

func logState(file *domain.UploadedFile, state domain.UploadState) {
	logger.Debugw("Upload state", "file_name", file.OriginalName, "state", string(state))
}
