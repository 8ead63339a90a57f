// Package config decodes clockpipe's JSON configuration document and
// fills in defaults, in the same spirit as // serde-derived Configuraion struct (src/config.rs), translated to Go's
// encoding/json plus manual default-filling since Go has no derive macros.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Defaults mirror `default` module,
// which is authoritative over spec.md's prose where the two disagree
// (e.g. the replication slot name).
const (
	DefaultPublicationName      = "clockpipe_publication"
	DefaultReplicationSlotName  = "clockpipe_replication_slot"
	DefaultIndexGranularity     = 8192
	DefaultMinAgeToForceMergeS  = 60
	DefaultPeekChangesLimit     = 65536
	DefaultCopyBatchSizePG      = 100000
	DefaultCopyBatchSizeMongo   = 1000
	DefaultSleepPeekFailedMS    = 5000
	DefaultSleepPeekEmptyMS     = 5000
	DefaultSleepWriteFailedMS   = 5000
	DefaultSleepAfterIterMS     = 100
	DefaultSleepAfterWriteMS    = 100
	DefaultResumeTokenPath      = "./resume_token.json"
)

// Config is the top-level configuration document.
type Config struct {
	Source Source `json:"source"`
	Target Target `json:"target"`

	SleepMillisWhenPeekFailed    int64 `json:"sleep_millis_when_peek_failed"`
	SleepMillisWhenPeekIsEmpty   int64 `json:"sleep_millis_when_peek_is_empty"`
	SleepMillisWhenWriteFailed   int64 `json:"sleep_millis_when_write_failed"`
	SleepMillisAfterSyncIteration int64 `json:"sleep_millis_after_sync_iteration"`
	SleepMillisAfterSyncWrite    int64 `json:"sleep_millis_after_sync_write"`
	PeekChangesLimit             int64 `json:"peek_changes_limit"`
	CopyBatchSize                int64 `json:"copy_batch_size"`
}

type Source struct {
	SourceType string           `json:"source_type"`
	Postgres   *PostgresConfig  `json:"postgres,omitempty"`
	MongoDB    *MongoDBConfig   `json:"mongodb,omitempty"`
}

type PostgresConnection struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Database string `json:"database"`
}

// ConnString builds the libpq-style connection URL pgx expects.
func (c PostgresConnection) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}

type TableOptions struct {
	StoragePolicy             string `json:"storage_policy,omitempty"`
	Granularity               int64  `json:"granularity,omitempty"`
	MinAgeToForceMergeSeconds int64  `json:"min_age_to_force_merge_seconds,omitempty"`
}

type PostgresTable struct {
	SchemaName   string        `json:"schema_name"`
	TableName    string        `json:"table_name"`
	MaskColumns  []string      `json:"mask_columns,omitempty"`
	SkipCopy     bool          `json:"skip_copy,omitempty"`
	TableOptions *TableOptions `json:"table_options,omitempty"`
}

type PostgresConfig struct {
	PublicationName     string             `json:"publication_name,omitempty"`
	ReplicationSlotName string             `json:"replication_slot_name,omitempty"`
	Connection          PostgresConnection `json:"connection"`
	Tables              []PostgresTable    `json:"tables"`
}

type MongoConnection struct {
	URI      string `json:"uri"`
	Database string `json:"database"`
}

type MongoCollection struct {
	CollectionName string   `json:"collection_name"`
	MaskFields     []string `json:"mask_fields,omitempty"`
	SkipCopy       bool     `json:"skip_copy,omitempty"`
}

type MongoDBConfig struct {
	Connection          MongoConnection   `json:"connection"`
	Collections         []MongoCollection `json:"collections"`
	CopyBatchSize       int64             `json:"copy_batch_size,omitempty"`
	ResumeTokenStorage  string            `json:"resume_token_storage,omitempty"`
	ResumeTokenPath     string            `json:"resume_token_path,omitempty"`
}

type ClickHouseConnection struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Database string `json:"database"`
}

type ClickHouseConfig struct {
	Connection        ClickHouseConnection `json:"connection"`
	TableOptions      *TableOptions        `json:"table_options,omitempty"`
	DisableSyncLoop   bool                 `json:"disable_sync_loop,omitempty"`
}

type Target struct {
	TargetType string            `json:"target_type"`
	ClickHouse *ClickHouseConfig `json:"clickhouse,omitempty"`
}

// Load reads and validates the configuration document at path, applying
// every default from / `default` module.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	var cfg Config
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.SleepMillisWhenPeekFailed == 0 {
		c.SleepMillisWhenPeekFailed = DefaultSleepPeekFailedMS
	}
	if c.SleepMillisWhenPeekIsEmpty == 0 {
		c.SleepMillisWhenPeekIsEmpty = DefaultSleepPeekEmptyMS
	}
	if c.SleepMillisWhenWriteFailed == 0 {
		c.SleepMillisWhenWriteFailed = DefaultSleepWriteFailedMS
	}
	if c.SleepMillisAfterSyncIteration == 0 {
		c.SleepMillisAfterSyncIteration = DefaultSleepAfterIterMS
	}
	if c.SleepMillisAfterSyncWrite == 0 {
		c.SleepMillisAfterSyncWrite = DefaultSleepAfterWriteMS
	}
	if c.PeekChangesLimit == 0 {
		c.PeekChangesLimit = DefaultPeekChangesLimit
	}

	if c.Source.Postgres != nil {
		p := c.Source.Postgres
		if p.PublicationName == "" {
			p.PublicationName = DefaultPublicationName
		}
		if p.ReplicationSlotName == "" {
			p.ReplicationSlotName = DefaultReplicationSlotName
		}
		if c.CopyBatchSize == 0 {
			c.CopyBatchSize = DefaultCopyBatchSizePG
		}
		for i := range p.Tables {
			applyTableOptionDefaults(p.Tables[i].TableOptions)
		}
	}

	if c.Source.MongoDB != nil {
		m := c.Source.MongoDB
		if m.CopyBatchSize == 0 {
			m.CopyBatchSize = DefaultCopyBatchSizeMongo
		}
		if m.ResumeTokenStorage == "" {
			m.ResumeTokenStorage = "file"
		}
		if m.ResumeTokenPath == "" {
			m.ResumeTokenPath = DefaultResumeTokenPath
		}
	}

	if c.Target.ClickHouse != nil {
		applyTableOptionDefaults(c.Target.ClickHouse.TableOptions)
	}
}

func applyTableOptionDefaults(opts *TableOptions) {
	if opts == nil {
		return
	}
	if opts.Granularity == 0 {
		opts.Granularity = DefaultIndexGranularity
	}
	if opts.MinAgeToForceMergeSeconds == 0 {
		opts.MinAgeToForceMergeSeconds = DefaultMinAgeToForceMergeS
	}
}

// MergeTableOptions combines the global clickhouse.table_options with a
// per-table override. Fields set on perTable win; everything else
// falls back to global, then to the package defaults.
func MergeTableOptions(global, perTable *TableOptions) TableOptions {
	merged := TableOptions{
		Granularity:               DefaultIndexGranularity,
		MinAgeToForceMergeSeconds: DefaultMinAgeToForceMergeS,
	}
	if global != nil {
		if global.StoragePolicy != "" {
			merged.StoragePolicy = global.StoragePolicy
		}
		if global.Granularity != 0 {
			merged.Granularity = global.Granularity
		}
		if global.MinAgeToForceMergeSeconds != 0 {
			merged.MinAgeToForceMergeSeconds = global.MinAgeToForceMergeSeconds
		}
	}
	if perTable != nil {
		if perTable.StoragePolicy != "" {
			merged.StoragePolicy = perTable.StoragePolicy
		}
		if perTable.Granularity != 0 {
			merged.Granularity = perTable.Granularity
		}
		if perTable.MinAgeToForceMergeSeconds != 0 {
			merged.MinAgeToForceMergeSeconds = perTable.MinAgeToForceMergeSeconds
		}
	}
	return merged
}

// Validate checks configuration-class error conditions that must fail
// fast at startup: unknown source_type
// and duplicate (schema, table) / (collection) entries. Whether a masked
// column collides with a primary key can only be decided once the source
// schema is known, so that check lives in internal/reconcile (the second
// Open Question, resolved as "configuration error").
func (c *Config) Validate() error {
	switch c.Source.SourceType {
	case "postgres":
		if c.Source.Postgres == nil {
			return fmt.Errorf("config: source_type is postgres but postgres block is missing")
		}
		if err := validatePostgresTables(c.Source.Postgres.Tables); err != nil {
			return err
		}
	case "mongodb":
		if c.Source.MongoDB == nil {
			return fmt.Errorf("config: source_type is mongodb but mongodb block is missing")
		}
		if err := validateMongoCollections(c.Source.MongoDB.Collections); err != nil {
			return err
		}
	default:
		return fmt.Errorf("config: unknown source_type %q", c.Source.SourceType)
	}

	if c.Target.TargetType != "clickhouse" {
		return fmt.Errorf("config: unknown target_type %q", c.Target.TargetType)
	}
	if c.Target.ClickHouse == nil {
		return fmt.Errorf("config: target_type is clickhouse but clickhouse block is missing")
	}

	return nil
}

func validatePostgresTables(tables []PostgresTable) error {
	seen := make(map[string]bool, len(tables))
	for _, t := range tables {
		key := t.SchemaName + "." + t.TableName
		if seen[key] {
			return fmt.Errorf("config: duplicate table %q in postgres.tables", key)
		}
		seen[key] = true

		for _, m := range t.MaskColumns {
			if m == "" {
				return fmt.Errorf("config: empty mask_columns entry for table %q", key)
			}
		}
	}
	return nil
}

func validateMongoCollections(collections []MongoCollection) error {
	seen := make(map[string]bool, len(collections))
	for _, c := range collections {
		if seen[c.CollectionName] {
			return fmt.Errorf("config: duplicate collection %q in mongodb.collections", c.CollectionName)
		}
		seen[c.CollectionName] = true
	}
	return nil
}
