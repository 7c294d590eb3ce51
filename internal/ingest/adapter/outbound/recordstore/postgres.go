package recordstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/anthanhphan/go-file-ingest/internal/ingest/config"
	"github.com/anthanhphan/go-file-ingest/internal/ingest/domain"
	"github.com/anthanhphan/go-file-ingest/internal/ingest/port"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const insertRecordSQL = `
	INSERT INTO file_records (id, filename, content_type, file_bytes, checksum, size_bytes, upload_timestamp)
	VALUES (:id, :filename, :content_type, :file_bytes, :checksum, :size_bytes, :upload_timestamp)`

const selectRecordSQL = `
	SELECT id, filename, content_type, file_bytes, checksum, size_bytes, upload_timestamp
	FROM file_records WHERE id = $1`

// PostgresAdapter stores records as rows in the file_records table.
type PostgresAdapter struct {
	db               *sqlx.DB
	statementTimeout time.Duration

	// migrateLock is a one-slot semaphore; waiters give up when ctx ends.
	migrateLock chan struct{}
	migrated    atomic.Bool
}

// Ensure PostgresAdapter implements port.RecordStore.
var _ port.RecordStore = (*PostgresAdapter)(nil)

// OpenPostgres opens a connection pool and applies pending migrations.
// A failed ping is returned together with a usable adapter, matching OpenMongo.
func OpenPostgres(ctx context.Context, cfg config.RecordStoreConfig) (*PostgresAdapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgres url is empty")
	}

	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	adapter := &PostgresAdapter{
		db:               db,
		statementTimeout: connectTimeout(cfg),
		migrateLock:      make(chan struct{}, 1),
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout(cfg))
	defer cancel()
	if err := adapter.Ping(pingCtx); err != nil {
		return adapter, err
	}

	if err := adapter.ensureSchema(ctx); err != nil {
		return adapter, err
	}

	logger.Infow("Connected to PostgreSQL", "table", "file_records")
	return adapter, nil
}

// ensureSchema applies migrations once, on the first write when the database
// was unreachable at startup. The ping and the wait for a concurrent
// migration are bounded by ctx.
func (a *PostgresAdapter) ensureSchema(ctx context.Context) error {
	if a.migrated.Load() {
		return nil
	}
	if err := a.Ping(ctx); err != nil {
		return err
	}

	if err := a.waitMigrateSlot(ctx); err != nil {
		return err
	}
	defer func() { <-a.migrateLock }()

	if a.migrated.Load() {
		return nil
	}
	if err := a.migrate(); err != nil {
		return port.NewStoreError(port.BackendRecordStore, "migrate", err)
	}
	a.migrated.Store(true)
	return nil
}

func (a *PostgresAdapter) waitMigrateSlot(ctx context.Context) error {
	select {
	case a.migrateLock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return port.NewStoreError(port.BackendRecordStore, "migrate", ctx.Err())
	}
}

func (a *PostgresAdapter) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	driver, err := migratepgx.WithInstance(a.db.DB, &migratepgx.Config{
		StatementTimeout: a.statementTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to init migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Save inserts record as a new row.
func (a *PostgresAdapter) Save(ctx context.Context, record *domain.FileRecord) (domain.RecordID, error) {
	if err := a.ensureSchema(ctx); err != nil {
		return "", err
	}

	row := *record
	if row.UploadTimestamp.IsZero() {
		row.UploadTimestamp = time.Now()
	}
	row.UploadTimestamp = row.UploadTimestamp.UTC()

	if _, err := a.db.NamedExecContext(ctx, insertRecordSQL, &row); err != nil {
		return "", port.NewStoreError(port.BackendRecordStore, "insert", err)
	}
	return row.ID, nil
}

// Find loads a record by id.
func (a *PostgresAdapter) Find(ctx context.Context, id domain.RecordID) (*domain.FileRecord, error) {
	var record domain.FileRecord
	if err := a.db.GetContext(ctx, &record, selectRecordSQL, string(id)); err != nil {
		return nil, port.NewStoreError(port.BackendRecordStore, "find", err)
	}
	return &record, nil
}

// Ping checks database connectivity.
func (a *PostgresAdapter) Ping(ctx context.Context) error {
	return port.NewStoreError(port.BackendRecordStore, "ping", a.db.PingContext(ctx))
}

// Close closes the pool.
func (a *PostgresAdapter) Close(ctx context.Context) error {
	return a.db.Close()
}
