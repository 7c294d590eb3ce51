package recordstore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/anthanhphan/go-file-ingest/internal/ingest/config"
	"github.com/anthanhphan/go-file-ingest/internal/ingest/domain"
	"github.com/anthanhphan/go-file-ingest/internal/ingest/port"
	"github.com/anthanhphan/gosdk/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// maxInlinePayload is the largest file kept inside the record document.
// MongoDB caps a document at 16MiB; bigger payloads go to GridFS.
const maxInlinePayload = 15 * 1024 * 1024

// fileDocument is the BSON shape of a stored record.
type fileDocument struct {
	ID              string    `bson:"_id"`
	Filename        string    `bson:"filename"`
	ContentType     string    `bson:"contentType"`
	FileBytes       []byte    `bson:"fileBytes,omitempty"`
	GridFS          bool      `bson:"gridfs,omitempty"`
	Checksum        string    `bson:"checksum"`
	Size            int64     `bson:"size"`
	UploadTimestamp time.Time `bson:"uploadTimestamp"`
}

func toDocument(record *domain.FileRecord) fileDocument {
	ts := record.UploadTimestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	doc := fileDocument{
		ID:              string(record.ID),
		Filename:        record.Filename,
		ContentType:     record.ContentType,
		Checksum:        record.Checksum,
		Size:            record.SizeBytes,
		UploadTimestamp: ts.UTC(),
	}
	if len(record.FileBytes) > maxInlinePayload {
		doc.GridFS = true
	} else {
		doc.FileBytes = record.FileBytes
	}
	return doc
}

// MongoAdapter stores records as documents in one MongoDB collection.
// Payloads above maxInlinePayload live in a GridFS bucket under the record id.
type MongoAdapter struct {
	client     *mongo.Client
	database   *mongo.Database
	collection *mongo.Collection
	bucketName string
}

// Ensure MongoAdapter implements port.RecordStore.
var _ port.RecordStore = (*MongoAdapter)(nil)

// OpenMongo connects to MongoDB. The driver connects lazily, so a reachable
// server is only confirmed by the initial ping; a failed ping is returned
// together with a usable adapter so callers may choose to keep running.
func OpenMongo(ctx context.Context, cfg config.RecordStoreConfig) (*MongoAdapter, error) {
	timeout := connectTimeout(cfg)
	opts := options.Client().
		ApplyURI(cfg.URL).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo client: %w", err)
	}

	db := client.Database(cfg.Database)
	adapter := &MongoAdapter{
		client:     client,
		database:   db,
		collection: db.Collection(cfg.Collection),
		bucketName: cfg.Collection + "_payloads",
	}

	if err := adapter.Ping(ctx); err != nil {
		return adapter, err
	}

	logger.Infow("Connected to MongoDB", "database", cfg.Database, "collection", cfg.Collection)
	return adapter, nil
}

// Save inserts record as a new document. The document goes in first so a
// duplicate id is rejected before any GridFS chunk is written.
func (a *MongoAdapter) Save(ctx context.Context, record *domain.FileRecord) (domain.RecordID, error) {
	doc := toDocument(record)
	res, err := a.collection.InsertOne(ctx, doc)
	if err != nil {
		return "", port.NewStoreError(port.BackendRecordStore, "insert", err)
	}

	if doc.GridFS {
		if err := a.uploadPayload(ctx, doc, record.FileBytes); err != nil {
			if _, delErr := a.collection.DeleteOne(context.WithoutCancel(ctx), bson.M{"_id": doc.ID}); delErr != nil {
				logger.Warnw("Failed to remove record after payload upload failed",
					"record_id", doc.ID,
					"error", delErr.Error(),
				)
			}
			return "", port.NewStoreError(port.BackendRecordStore, "gridfs_upload", err)
		}
	}

	id, ok := res.InsertedID.(string)
	if !ok {
		id = fmt.Sprint(res.InsertedID)
	}
	return domain.RecordID(id), nil
}

// bucket opens the payload bucket bound to ctx's deadline. GridFS buckets
// carry their deadline as state, so each call gets its own.
func (a *MongoAdapter) bucket(ctx context.Context) (*gridfs.Bucket, error) {
	b, err := gridfs.NewBucket(a.database, options.GridFSBucket().SetName(a.bucketName))
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := b.SetWriteDeadline(deadline); err != nil {
			return nil, err
		}
		if err := b.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (a *MongoAdapter) uploadPayload(ctx context.Context, doc fileDocument, data []byte) error {
	b, err := a.bucket(ctx)
	if err != nil {
		return err
	}
	return b.UploadFromStreamWithID(doc.ID, doc.Filename, bytes.NewReader(data))
}

func (a *MongoAdapter) downloadPayload(ctx context.Context, id string) ([]byte, error) {
	b, err := a.bucket(ctx)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := b.DownloadToStream(id, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Find loads a record by id.
func (a *MongoAdapter) Find(ctx context.Context, id domain.RecordID) (*domain.FileRecord, error) {
	var doc fileDocument
	if err := a.collection.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		return nil, port.NewStoreError(port.BackendRecordStore, "find", err)
	}
	if doc.GridFS {
		data, err := a.downloadPayload(ctx, doc.ID)
		if err != nil {
			return nil, port.NewStoreError(port.BackendRecordStore, "gridfs_download", err)
		}
		doc.FileBytes = data
	}
	return &domain.FileRecord{
		ID:              domain.RecordID(doc.ID),
		Filename:        doc.Filename,
		ContentType:     doc.ContentType,
		FileBytes:       doc.FileBytes,
		Checksum:        doc.Checksum,
		SizeBytes:       doc.Size,
		UploadTimestamp: doc.UploadTimestamp,
	}, nil
}

// Ping checks that the primary is reachable.
func (a *MongoAdapter) Ping(ctx context.Context) error {
	return port.NewStoreError(port.BackendRecordStore, "ping", a.client.Ping(ctx, readpref.Primary()))
}

// Close disconnects the client.
func (a *MongoAdapter) Close(ctx context.Context) error {
	return a.client.Disconnect(ctx)
}
