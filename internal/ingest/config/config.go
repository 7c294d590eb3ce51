package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/anthanhphan/gosdk/conflux"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/joho/godotenv"
)

// Replication policies accepted by upload.policy.
const (
	PolicySaga       = "saga"
	PolicyBestEffort = "best_effort"
)

// Record store drivers accepted by record_store.driver.
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

// Config holds ingest service configuration
type Config struct {
	Server      ServerConfig      `json:"server" yaml:"server"`
	Staging     StagingConfig     `json:"staging" yaml:"staging"`
	Upload      UploadConfig      `json:"upload" yaml:"upload"`
	ObjectStore ObjectStoreConfig `json:"object_store" yaml:"object_store"`
	RecordStore RecordStoreConfig `json:"record_store" yaml:"record_store"`
	IDGen       IDGenConfig       `json:"idgen" yaml:"idgen"`
	Redis       RedisConfig       `json:"redis" yaml:"redis"`
	Resilience  ResilienceConfig  `json:"resilience" yaml:"resilience"`
	Startup     StartupConfig     `json:"startup" yaml:"startup"`
	Logger      logger.Config     `json:"logger" yaml:"logger"`
}

type ServerConfig struct {
	Port              int      `json:"port" yaml:"port"`
	CORSAllowOrigins  []string `json:"cors_allow_origins" yaml:"cors_allow_origins"`
	ShutdownTimeoutMS int      `json:"shutdown_timeout_ms" yaml:"shutdown_timeout_ms"`
}

type StagingConfig struct {
	Dir            string `json:"dir" yaml:"dir"`
	SweepOnStart   bool   `json:"sweep_on_start" yaml:"sweep_on_start"`
	SweepMaxAgeSec int    `json:"sweep_max_age_sec" yaml:"sweep_max_age_sec"`
}

type UploadConfig struct {
	FieldName     string `json:"field_name" yaml:"field_name"`
	MaxFileSize   int64  `json:"max_file_size" yaml:"max_file_size"`
	Policy        string `json:"policy" yaml:"policy"` // "saga", "best_effort"
	MaxConcurrent int    `json:"max_concurrent" yaml:"max_concurrent"`
	TimeoutMS     int    `json:"timeout_ms" yaml:"timeout_ms"`
}

type ObjectStoreConfig struct {
	Endpoint           string `json:"endpoint" yaml:"endpoint"`
	AccessKeyID        string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey    string `json:"secret_access_key" yaml:"secret_access_key"`
	Region             string `json:"region" yaml:"region"`
	Bucket             string `json:"bucket" yaml:"bucket"`
	KeyPrefix          string `json:"key_prefix" yaml:"key_prefix"`
	MultipartThreshold int64  `json:"multipart_threshold" yaml:"multipart_threshold"`
	PartSize           uint64 `json:"part_size" yaml:"part_size"`
	CACertFile         string `json:"ca_cert_file" yaml:"ca_cert_file"`
}

// Enabled reports whether an object store endpoint is configured.
func (c ObjectStoreConfig) Enabled() bool {
	return c.Endpoint != ""
}

type RecordStoreConfig struct {
	Driver                 string `json:"driver" yaml:"driver"` // "mongo", "postgres"
	URL                    string `json:"url" yaml:"url"`
	Database               string `json:"database" yaml:"database"`
	Collection             string `json:"collection" yaml:"collection"`
	ContentType            string `json:"content_type" yaml:"content_type"`
	UseDeclaredContentType bool   `json:"use_declared_content_type" yaml:"use_declared_content_type"`
	ConnectTimeoutMS       int    `json:"connect_timeout_ms" yaml:"connect_timeout_ms"`
}

// Enabled reports whether a record store URL is configured.
func (c RecordStoreConfig) Enabled() bool {
	return c.URL != ""
}

type IDGenConfig struct {
	NodeID int64 `json:"node_id" yaml:"node_id"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type ResilienceConfig struct {
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	OpenTimeoutMS    int `json:"open_timeout_ms" yaml:"open_timeout_ms"`
}

type StartupConfig struct {
	FailFast bool `json:"fail_fast" yaml:"fail_fast"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              3000,
			CORSAllowOrigins:  []string{"*"},
			ShutdownTimeoutMS: 5000,
		},
		Staging: StagingConfig{
			Dir:            "uploads",
			SweepOnStart:   true,
			SweepMaxAgeSec: 3600,
		},
		Upload: UploadConfig{
			FieldName:     "file",
			MaxFileSize:   100 * 1024 * 1024, // 100MB
			Policy:        PolicySaga,
			MaxConcurrent: 8,
			TimeoutMS:     120000,
		},
		ObjectStore: ObjectStoreConfig{
			Region:             "auto",
			Bucket:             "uploads",
			MultipartThreshold: 5 * 1024 * 1024,  // 5MB
			PartSize:           16 * 1024 * 1024, // 16MB
		},
		RecordStore: RecordStoreConfig{
			Driver:           DriverMongo,
			Database:         "ingest",
			Collection:       "files",
			ContentType:      "application/octet-stream",
			ConnectTimeoutMS: 5000,
		},
		IDGen: IDGenConfig{
			NodeID: 1,
		},
		Resilience: ResilienceConfig{
			FailureThreshold: 5,
			OpenTimeoutMS:    10000,
		},
		Logger: logger.Config{
			LogLevel:    logger.LevelInfo,
			LogEncoding: logger.EncodingJSON,
		},
	}
}

// Load loads configuration from file, then applies .env and environment overrides
func Load(path string) (*Config, error) {
	configPath := path
	if configPath == "" {
		env := os.Getenv("ENV")
		if env == "" {
			env = "local"
		}
		configPath = filepath.Join("internal", "ingest", "config", env+".yaml")
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to read .env file: %v", err)
	}

	cfg := DefaultConfig()

	parsedCfg, err := conflux.ParseConfig(configPath, cfg)
	if err != nil {
		log.Printf("Config file not found or failed to parse, using defaults if file not specified. Path: %s, Error: %v", configPath, err)
		if path != "" {
			return nil, err
		}
		parsedCfg = cfg
	}

	if err := parsedCfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := parsedCfg.Validate(); err != nil {
		return nil, err
	}
	return parsedCfg, nil
}

// applyEnv overrides file values with the deployment environment variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT must be a number: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("UPLOAD_DIR"); ok && v != "" {
		c.Staging.Dir = v
	}
	mongoURL, _ := lookup("MONGODB_URL")
	databaseURL, _ := lookup("DATABASE_URL")
	switch {
	case mongoURL != "" && databaseURL != "":
		return errors.New("MONGODB_URL and DATABASE_URL are mutually exclusive, set only one")
	case mongoURL != "":
		c.RecordStore.Driver = DriverMongo
		c.RecordStore.URL = mongoURL
	case databaseURL != "":
		c.RecordStore.Driver = DriverPostgres
		c.RecordStore.URL = databaseURL
	}
	if v, ok := lookup("R2_ENDPOINT"); ok && v != "" {
		c.ObjectStore.Endpoint = v
	}
	if v, ok := lookup("R2_ACCESS_KEY_ID"); ok && v != "" {
		c.ObjectStore.AccessKeyID = v
	}
	if v, ok := lookup("R2_SECRET_ACCESS_KEY"); ok && v != "" {
		c.ObjectStore.SecretAccessKey = v
	}
	if v, ok := lookup("R2_BUCKET"); ok && v != "" {
		c.ObjectStore.Bucket = v
	}
	if v, ok := lookup("R2_CA_CERT_FILE"); ok && v != "" {
		c.ObjectStore.CACertFile = v
	}
	if v, ok := lookup("REDIS_ADDR"); ok && v != "" {
		c.Redis.Addr = v
	}
	return nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, msg string) {
		errs = append(errs, fmt.Errorf("config validation failed for %s: %s", field, msg))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "must be between 1 and 65535")
	}
	if strings.TrimSpace(c.Staging.Dir) == "" {
		add("staging.dir", "required")
	}
	if c.Upload.FieldName == "" {
		add("upload.field_name", "required")
	}
	if c.Upload.MaxFileSize <= 0 {
		add("upload.max_file_size", "must be a positive integer")
	}
	if c.Upload.Policy != PolicySaga && c.Upload.Policy != PolicyBestEffort {
		add("upload.policy", fmt.Sprintf("must be one of: %s, %s (got: %s)", PolicySaga, PolicyBestEffort, c.Upload.Policy))
	}
	if c.Upload.MaxConcurrent <= 0 {
		add("upload.max_concurrent", "must be a positive integer")
	}
	if c.Upload.TimeoutMS <= 0 {
		add("upload.timeout_ms", "must be a positive integer")
	}
	// Snowflake ids reserve 10 bits for the node.
	if c.IDGen.NodeID < 0 || c.IDGen.NodeID > 1023 {
		add("idgen.node_id", "must be between 0 and 1023")
	}

	if c.ObjectStore.Enabled() {
		if c.ObjectStore.AccessKeyID == "" || c.ObjectStore.SecretAccessKey == "" {
			add("object_store", "access_key_id and secret_access_key are required when endpoint is set")
		}
		if c.ObjectStore.Bucket == "" {
			add("object_store.bucket", "required when endpoint is set")
		}
		if c.ObjectStore.MultipartThreshold <= 0 {
			add("object_store.multipart_threshold", "must be a positive integer")
		}
		// S3 rejects multipart parts below 5MiB except the last one.
		if c.ObjectStore.PartSize < 5*1024*1024 {
			add("object_store.part_size", "must be at least 5MiB")
		}
	}

	if c.RecordStore.Enabled() {
		switch c.RecordStore.Driver {
		case DriverMongo:
			if !strings.HasPrefix(c.RecordStore.URL, "mongodb://") && !strings.HasPrefix(c.RecordStore.URL, "mongodb+srv://") {
				add("record_store.url", "must be a MongoDB connection string")
			}
			if c.RecordStore.Database == "" || c.RecordStore.Collection == "" {
				add("record_store", "database and collection are required for the mongo driver")
			}
		case DriverPostgres:
			if !strings.HasPrefix(c.RecordStore.URL, "postgres://") && !strings.HasPrefix(c.RecordStore.URL, "postgresql://") {
				add("record_store.url", "must be a PostgreSQL connection string")
			}
		default:
			add("record_store.driver", fmt.Sprintf("must be one of: %s, %s (got: %s)", DriverMongo, DriverPostgres, c.RecordStore.Driver))
		}
	}

	return errors.Join(errs...)
}
