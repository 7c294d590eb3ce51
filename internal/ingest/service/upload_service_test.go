package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anthanhphan/go-file-ingest/internal/ingest/adapter/outbound/staging"
	"github.com/anthanhphan/go-file-ingest/internal/ingest/config"
	"github.com/anthanhphan/go-file-ingest/internal/ingest/domain"
	"github.com/anthanhphan/go-file-ingest/internal/ingest/port"
	"github.com/anthanhphan/go-file-ingest/internal/ingest/service/mocks"
	"github.com/anthanhphan/go-file-ingest/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var (
	errBucketDown = errors.New("bucket unreachable")
	errDBDown     = errors.New("database unreachable")
)

type testEnv struct {
	svc     *IngestService
	staging *staging.Store
	objects *mocks.MockObjectStore
	records *mocks.MockRecordStore
	idGen   *mocks.MockIDGenerator
}

type envOption func(cfg *config.Config, deps *Dependencies)

func withPolicy(policy string) envOption {
	return func(cfg *config.Config, _ *Dependencies) { cfg.Upload.Policy = policy }
}

func withoutObjectStore() envOption {
	return func(_ *config.Config, deps *Dependencies) { deps.ObjectStore = nil }
}

func withoutRecordStore() envOption {
	return func(_ *config.Config, deps *Dependencies) { deps.RecordStore = nil }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	ctrl := gomock.NewController(t)
	env := &testEnv{
		staging: staging.New(t.TempDir()),
		objects: mocks.NewMockObjectStore(ctrl),
		records: mocks.NewMockRecordStore(ctrl),
		idGen:   mocks.NewMockIDGenerator(ctrl),
	}

	cfg := config.DefaultConfig()
	cfg.Upload.MaxConcurrent = 2
	deps := Dependencies{
		ObjectStore: env.objects,
		RecordStore: env.records,
		Staging:     env.staging,
		IDGen:       env.idGen,
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}

	env.svc = NewIngestService(cfg, deps)
	t.Cleanup(env.svc.Close)
	return env
}

func (e *testEnv) stage(t *testing.T, name string, content []byte) *domain.UploadedFile {
	t.Helper()
	file := e.staging.Reserve(name, int64(len(content)), "text/plain")
	require.NoError(t, os.WriteFile(file.StagedPath, content, 0o600))
	return file
}

func assertReleased(t *testing.T, file *domain.UploadedFile) {
	t.Helper()
	_, err := os.Stat(file.StagedPath)
	assert.True(t, os.IsNotExist(err), "staged file %s should be removed", file.StagedPath)
}

func assertStoreError(t *testing.T, err error, backend string) {
	t.Helper()
	var storeErr *port.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, backend, storeErr.Backend)
}

func TestUploadReplicatesToBothBackends(t *testing.T) {
	env := newTestEnv(t)
	content := []byte("hello world")
	file := env.stage(t, "report.pdf", content)

	gomock.InOrder(
		env.objects.EXPECT().
			Put(gomock.Any(), "report.pdf", file.StagedPath).
			Return(domain.PutSingleShot, nil),
		env.idGen.EXPECT().NextString().Return("12345", nil),
		env.records.EXPECT().
			Save(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, record *domain.FileRecord) (domain.RecordID, error) {
				assert.Equal(t, domain.RecordID("12345"), record.ID)
				assert.Equal(t, "report.pdf", record.Filename)
				assert.Equal(t, domain.DefaultContentType, record.ContentType)
				assert.Equal(t, content, record.FileBytes)
				assert.Equal(t, int64(len(content)), record.SizeBytes)
				assert.Equal(t, checksum(content), record.Checksum)
				assert.False(t, record.UploadTimestamp.IsZero())
				return record.ID, nil
			}),
	)

	result, err := env.svc.Upload(context.Background(), file)
	require.NoError(t, err)

	assert.Equal(t, &domain.UploadResult{
		ObjectKey:   "report.pdf",
		PutStrategy: domain.PutSingleShot,
		RecordID:    "12345",
	}, result)
	assertReleased(t, file)
}

func TestUploadSagaPolicy(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(env *testEnv, file *domain.UploadedFile)
		wantBackend string
	}{
		{
			name: "object failure skips record store",
			setup: func(env *testEnv, file *domain.UploadedFile) {
				env.objects.EXPECT().Put(gomock.Any(), "a.txt", file.StagedPath).
					Return(domain.PutStrategy(""), port.NewStoreError(port.BackendObjectStore, "put", errBucketDown))
				env.records.EXPECT().Save(gomock.Any(), gomock.Any()).Times(0)
			},
			wantBackend: port.BackendObjectStore,
		},
		{
			name: "record failure deletes written object",
			setup: func(env *testEnv, file *domain.UploadedFile) {
				env.objects.EXPECT().Put(gomock.Any(), "a.txt", file.StagedPath).Return(domain.PutSingleShot, nil)
				env.idGen.EXPECT().NextString().Return("1", nil)
				env.records.EXPECT().Save(gomock.Any(), gomock.Any()).
					Return(domain.RecordID(""), port.NewStoreError(port.BackendRecordStore, "insert", errDBDown))
				env.objects.EXPECT().Delete(gomock.Any(), "a.txt").Return(nil)
			},
			wantBackend: port.BackendRecordStore,
		},
		{
			name: "failed compensation still reports record error",
			setup: func(env *testEnv, file *domain.UploadedFile) {
				env.objects.EXPECT().Put(gomock.Any(), "a.txt", file.StagedPath).Return(domain.PutSingleShot, nil)
				env.idGen.EXPECT().NextString().Return("1", nil)
				env.records.EXPECT().Save(gomock.Any(), gomock.Any()).Return(domain.RecordID(""), errDBDown)
				env.objects.EXPECT().Delete(gomock.Any(), "a.txt").Return(errBucketDown)
			},
			wantBackend: port.BackendRecordStore,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, withPolicy(config.PolicySaga))
			file := env.stage(t, "a.txt", []byte("payload"))
			tt.setup(env, file)

			result, err := env.svc.Upload(context.Background(), file)
			assert.Nil(t, result)
			assertStoreError(t, err, tt.wantBackend)
			assertReleased(t, file)
		})
	}
}

func TestUploadBestEffortPolicy(t *testing.T) {
	t.Run("object failure still persists record", func(t *testing.T) {
		env := newTestEnv(t, withPolicy(config.PolicyBestEffort))
		file := env.stage(t, "a.txt", []byte("payload"))

		env.objects.EXPECT().Put(gomock.Any(), "a.txt", file.StagedPath).Return(domain.PutStrategy(""), errBucketDown)
		env.idGen.EXPECT().NextString().Return("7", nil)
		env.records.EXPECT().Save(gomock.Any(), gomock.Any()).Return(domain.RecordID("7"), nil)
		env.objects.EXPECT().Delete(gomock.Any(), gomock.Any()).Times(0)

		_, err := env.svc.Upload(context.Background(), file)
		require.ErrorIs(t, err, errBucketDown)
		assertStoreError(t, err, port.BackendObjectStore)
		assertReleased(t, file)
	})

	t.Run("record failure keeps object", func(t *testing.T) {
		env := newTestEnv(t, withPolicy(config.PolicyBestEffort))
		file := env.stage(t, "a.txt", []byte("payload"))

		env.objects.EXPECT().Put(gomock.Any(), "a.txt", file.StagedPath).Return(domain.PutSingleShot, nil)
		env.idGen.EXPECT().NextString().Return("7", nil)
		env.records.EXPECT().Save(gomock.Any(), gomock.Any()).Return(domain.RecordID(""), errDBDown)
		env.objects.EXPECT().Delete(gomock.Any(), gomock.Any()).Times(0)

		_, err := env.svc.Upload(context.Background(), file)
		require.ErrorIs(t, err, errDBDown)
		assertReleased(t, file)
	})

	t.Run("both failures are joined", func(t *testing.T) {
		env := newTestEnv(t, withPolicy(config.PolicyBestEffort))
		file := env.stage(t, "a.txt", []byte("payload"))

		env.objects.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any()).Return(domain.PutStrategy(""), errBucketDown)
		env.idGen.EXPECT().NextString().Return("7", nil)
		env.records.EXPECT().Save(gomock.Any(), gomock.Any()).Return(domain.RecordID(""), errDBDown)

		_, err := env.svc.Upload(context.Background(), file)
		assert.ErrorIs(t, err, errBucketDown)
		assert.ErrorIs(t, err, errDBDown)
		assertReleased(t, file)
	})
}

func TestUploadSingleBackend(t *testing.T) {
	t.Run("object store only", func(t *testing.T) {
		env := newTestEnv(t, withoutRecordStore())
		file := env.stage(t, "big.bin", []byte("data"))

		env.objects.EXPECT().Put(gomock.Any(), "big.bin", file.StagedPath).Return(domain.PutStreamed, nil)

		result, err := env.svc.Upload(context.Background(), file)
		require.NoError(t, err)
		assert.Equal(t, domain.PutStreamed, result.PutStrategy)
		assert.Empty(t, result.RecordID)
		assertReleased(t, file)
	})

	t.Run("record store only", func(t *testing.T) {
		env := newTestEnv(t, withoutObjectStore())
		file := env.stage(t, "notes.txt", []byte("data"))

		env.idGen.EXPECT().NextString().Return("99", nil)
		env.records.EXPECT().Save(gomock.Any(), gomock.Any()).Return(domain.RecordID("99"), nil)

		result, err := env.svc.Upload(context.Background(), file)
		require.NoError(t, err)
		assert.Equal(t, domain.RecordID("99"), result.RecordID)
		assert.Empty(t, result.ObjectKey)
		assertReleased(t, file)
	})
}

func TestUploadLocalOnlyRetainsStagedFile(t *testing.T) {
	env := newTestEnv(t, withoutObjectStore(), withoutRecordStore())
	file := env.stage(t, "keep.txt", []byte("only copy"))

	result, err := env.svc.Upload(context.Background(), file)
	require.NoError(t, err)
	assert.True(t, result.Retained)
	assert.True(t, env.svc.LocalOnly())
	assert.NoFileExists(t, file.StagedPath)

	retainedPath := filepath.Join(env.staging.Dir(), "retained", filepath.Base(file.StagedPath))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(retainedPath, old, old))
	_, err = env.staging.Sweep(0)
	require.NoError(t, err)

	data, err := os.ReadFile(retainedPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("only copy"), data)
}

func TestUploadLocalOnlyRetainFailureStillSucceeds(t *testing.T) {
	ctrl := gomock.NewController(t)
	stagingMock := mocks.NewMockStaging(ctrl)

	svc := NewIngestService(config.DefaultConfig(), Dependencies{Staging: stagingMock})
	defer svc.Close()

	file := &domain.UploadedFile{OriginalName: "a.txt", StagedPath: "/tmp/does-not-matter"}
	stagingMock.EXPECT().Retain(file).Return(file, errors.New("read-only file system"))
	stagingMock.EXPECT().Release(gomock.Any()).Times(0)

	result, err := svc.Upload(context.Background(), file)
	require.NoError(t, err)
	assert.True(t, result.Retained)
}

func TestUploadNilFile(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Upload(context.Background(), nil)
	assert.ErrorIs(t, err, port.ErrNoFile)
}

func TestUploadSameNameOverwritesObjectKey(t *testing.T) {
	env := newTestEnv(t)

	env.objects.EXPECT().Put(gomock.Any(), "photo.png", gomock.Any()).Return(domain.PutSingleShot, nil).Times(2)
	env.idGen.EXPECT().NextString().Return("1", nil)
	env.idGen.EXPECT().NextString().Return("2", nil)
	env.records.EXPECT().Save(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, record *domain.FileRecord) (domain.RecordID, error) {
			return record.ID, nil
		}).Times(2)

	first, err := env.svc.Upload(context.Background(), env.stage(t, "photo.png", []byte("v1")))
	require.NoError(t, err)
	second, err := env.svc.Upload(context.Background(), env.stage(t, "photo.png", []byte("v2")))
	require.NoError(t, err)

	assert.Equal(t, first.ObjectKey, second.ObjectKey)
	assert.NotEqual(t, first.RecordID, second.RecordID)
}

func TestUploadSanitisesObjectKey(t *testing.T) {
	env := newTestEnv(t, withoutRecordStore(), func(cfg *config.Config, _ *Dependencies) {
		cfg.ObjectStore.KeyPrefix = "incoming/"
	})
	file := env.stage(t, "../../etc/passwd", []byte("x"))

	env.objects.EXPECT().Put(gomock.Any(), "incoming/passwd", file.StagedPath).Return(domain.PutSingleShot, nil)

	result, err := env.svc.Upload(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, "incoming/passwd", result.ObjectKey)
}

func TestUploadCircuitBreakerShortCircuitsDeadBackend(t *testing.T) {
	env := newTestEnv(t, withoutRecordStore(), func(cfg *config.Config, _ *Dependencies) {
		cfg.Resilience.FailureThreshold = 2
		cfg.Resilience.OpenTimeoutMS = 60000
	})

	env.objects.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(domain.PutStrategy(""), errBucketDown).Times(2)

	for range 2 {
		_, err := env.svc.Upload(context.Background(), env.stage(t, "a.txt", []byte("x")))
		require.ErrorIs(t, err, errBucketDown)
	}

	file := env.stage(t, "a.txt", []byte("x"))
	_, err := env.svc.Upload(context.Background(), file)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assertStoreError(t, err, port.BackendObjectStore)
	assertReleased(t, file)
}

func TestUploadTimeout(t *testing.T) {
	env := newTestEnv(t, withoutRecordStore(), func(cfg *config.Config, _ *Dependencies) {
		cfg.Upload.TimeoutMS = 50
	})
	file := env.stage(t, "slow.bin", []byte("x"))

	env.objects.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _, _ string) (domain.PutStrategy, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})

	start := time.Now()
	_, err := env.svc.Upload(context.Background(), file)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assertReleased(t, file)
}

func TestUploadIDGenerationFailure(t *testing.T) {
	env := newTestEnv(t, withoutObjectStore())
	file := env.stage(t, "a.txt", []byte("x"))

	env.idGen.EXPECT().NextString().Return("", errors.New("clock moved backwards"))
	env.records.EXPECT().Save(gomock.Any(), gomock.Any()).Times(0)

	_, err := env.svc.Upload(context.Background(), file)
	assert.ErrorContains(t, err, "failed to generate record id")
	assertReleased(t, file)
}

func TestUploadUsesDeclaredContentType(t *testing.T) {
	env := newTestEnv(t, withoutObjectStore(), func(cfg *config.Config, _ *Dependencies) {
		cfg.RecordStore.UseDeclaredContentType = true
	})
	file := env.stage(t, "a.txt", []byte("x"))

	env.idGen.EXPECT().NextString().Return("3", nil)
	env.records.EXPECT().Save(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, record *domain.FileRecord) (domain.RecordID, error) {
			assert.Equal(t, "text/plain", record.ContentType)
			return record.ID, nil
		})

	_, err := env.svc.Upload(context.Background(), file)
	require.NoError(t, err)
}

func TestUploadReleaseFailureDoesNotFailUpload(t *testing.T) {
	ctrl := gomock.NewController(t)
	objects := mocks.NewMockObjectStore(ctrl)
	stagingMock := mocks.NewMockStaging(ctrl)

	svc := NewIngestService(config.DefaultConfig(), Dependencies{
		ObjectStore: objects,
		Staging:     stagingMock,
	})
	defer svc.Close()

	file := &domain.UploadedFile{OriginalName: "a.txt", StagedPath: "/tmp/does-not-matter"}
	objects.EXPECT().Put(gomock.Any(), "a.txt", file.StagedPath).Return(domain.PutSingleShot, nil)
	stagingMock.EXPECT().Release(file).Return(errors.New("permission denied"))

	_, err := svc.Upload(context.Background(), file)
	assert.NoError(t, err)
}

func TestHealth(t *testing.T) {
	t.Run("all enabled", func(t *testing.T) {
		env := newTestEnv(t)
		env.objects.EXPECT().Ping(gomock.Any()).Return(nil)
		env.records.EXPECT().Ping(gomock.Any()).Return(errDBDown)

		report := env.svc.Health(context.Background())
		assert.NoError(t, report[port.BackendObjectStore])
		assert.ErrorIs(t, report[port.BackendRecordStore], errDBDown)
	})

	t.Run("disabled backends", func(t *testing.T) {
		env := newTestEnv(t, withoutObjectStore(), withoutRecordStore())

		report := env.svc.Health(context.Background())
		assert.ErrorIs(t, report[port.BackendObjectStore], port.ErrBackendDisabled)
		assert.ErrorIs(t, report[port.BackendRecordStore], port.ErrBackendDisabled)
	})
}

func TestChecksumIsStable(t *testing.T) {
	assert.Equal(t, checksum([]byte("abc")), checksum([]byte("abc")))
	assert.NotEqual(t, checksum([]byte("abc")), checksum([]byte("abd")))
	assert.Len(t, checksum(nil), 32)
}
