// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Input table
	Dataset DatasetConfig `yaml:"dataset"`

	// Fold and gallery/query split parameters
	Split SplitConfig `yaml:"split"`

	// Scoring parameters
	Eval EvalConfig `yaml:"eval"`

	// Embedding model
	Embed EmbedConfig `yaml:"embed"`

	// Qdrant configuration (eval.backend = qdrant)
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Bus configuration
	Bus BusConfig `yaml:"bus"`

	// Report persistence
	Results ResultsConfig `yaml:"results"`

	// Logging configuration
	Log LogConfig `yaml:"log"`

	// HTTP server configuration
	Server ServerConfig `yaml:"server"`
}

// DatasetConfig describes the labeled record table.
type DatasetConfig struct {
	Path     string `envconfig:"RECO_DATA" yaml:"path"`
	LabelKey string `envconfig:"RECO_LABEL_KEY" yaml:"label_key"`
	ItemKey  string `envconfig:"RECO_ITEM_KEY" yaml:"item_key"`
	// ItemRoot is joined in front of every item reference by the validation transform.
	ItemRoot string `envconfig:"RECO_ITEM_ROOT" yaml:"item_root"`
}

// SplitConfig holds the k-fold and gallery/query split settings.
type SplitConfig struct {
	NumFolds    int   `envconfig:"RECO_NUM_FOLDS" yaml:"num_folds"`
	ValFold     int   `envconfig:"RECO_VAL_FOLD" yaml:"val_fold"`
	KFoldSeed   int64 `envconfig:"RECO_K_FOLD_SEED" yaml:"k_fold_seed"`
	NRefs       int   `envconfig:"RECO_N_REFS" yaml:"n_refs"`
	RandRefSeed int64 `envconfig:"RECO_RAND_REF_SEED" yaml:"rand_ref_seed"`
	// DegeneratePolicy is "error" (alias "strict") or "warn" for labels with
	// no query records. Matching is case-insensitive.
	DegeneratePolicy string `envconfig:"RECO_DEGENERATE_POLICY" yaml:"degenerate_policy"`
}

// EvalConfig holds scoring settings.
type EvalConfig struct {
	Ks        []int  `envconfig:"RECO_TOP_K" yaml:"ks"`
	BatchSize int    `envconfig:"RECO_BATCH_SIZE" yaml:"batch_size"`
	Workers   int    `envconfig:"RECO_LOADER_WORKERS" yaml:"workers"`
	Prefetch  int    `envconfig:"RECO_LOADER_PREFETCH" yaml:"prefetch"`
	Aggregate string `envconfig:"RECO_AGGREGATE" yaml:"aggregate"` // none | mean
	Normalize bool   `envconfig:"RECO_NORMALIZE" yaml:"normalize"`
	Backend   string `envconfig:"RECO_BACKEND" yaml:"backend"` // exact | qdrant
	// FoldConcurrency bounds how many folds crossval runs at once.
	FoldConcurrency int `envconfig:"RECO_FOLD_CONCURRENCY" yaml:"fold_concurrency"`
}

// EmbedConfig selects and configures the embedding model.
type EmbedConfig struct {
	Source            string        `envconfig:"RECO_EMBED_SOURCE" yaml:"source"` // table | remote
	TablePath         string        `envconfig:"RECO_EMBED_TABLE" yaml:"table_path"`
	URL               string        `envconfig:"RECO_EMBED_URL" yaml:"url"`
	APIKey            string        `envconfig:"RECO_EMBED_API_KEY" yaml:"api_key"`
	RequestsPerSecond float64       `envconfig:"RECO_EMBED_RPS" yaml:"requests_per_second"`
	Burst             int           `envconfig:"RECO_EMBED_BURST" yaml:"burst"`
	CacheSize         int           `envconfig:"RECO_EMBED_CACHE_SIZE" yaml:"cache_size"`
	Timeout           time.Duration `envconfig:"RECO_EMBED_TIMEOUT" yaml:"timeout"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	URL              string `envconfig:"QDRANT_URL" yaml:"url"`
	APIKey           string `envconfig:"QDRANT_API_KEY" yaml:"api_key"`
	CollectionPrefix string `envconfig:"QDRANT_COLLECTION_PREFIX" yaml:"collection_prefix"`
	UpsertBatchSize  int    `envconfig:"QDRANT_UPSERT_BATCH" yaml:"upsert_batch_size"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"RECO_BUS_TYPE" yaml:"type"`
	KafkaBrokers string `envconfig:"RECO_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaGroup   string `envconfig:"RECO_KAFKA_GROUP" yaml:"kafka_group"`
}

// ResultsConfig holds report storage settings.
type ResultsConfig struct {
	Type     string `envconfig:"RECO_RESULTS_TYPE" yaml:"type"` // memory | file | redis
	Dir      string `envconfig:"RECO_RESULTS_DIR" yaml:"dir"`
	RedisURL string `envconfig:"RECO_REDIS_URL" yaml:"redis_url"`
	TTLHours int    `envconfig:"RECO_RESULTS_TTL_HOURS" yaml:"ttl_hours"` // 0 = no expiry
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"RECO_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"RECO_LOG_FORMAT" yaml:"format"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host      string `envconfig:"RECO_HOST" yaml:"host"`
	Port      int    `envconfig:"RECO_PORT" yaml:"port"`
	RateLimit int    `envconfig:"RECO_RATE_LIMIT" yaml:"rate_limit"` // 0 = disabled
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Set defaults first
	setDefaults(cfg)

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

// Default returns a configuration holding only the built-in defaults.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Dataset = DatasetConfig{
		LabelKey: "label",
		ItemKey:  "image",
	}

	cfg.Split = SplitConfig{
		NumFolds:         5,
		ValFold:          0,
		KFoldSeed:        0,
		NRefs:            1,
		RandRefSeed:      0,
		DegeneratePolicy: "error",
	}

	cfg.Eval = EvalConfig{
		Ks:              []int{1, 5},
		BatchSize:       64,
		Workers:         4,
		Prefetch:        8,
		Aggregate:       "none",
		Normalize:       false,
		Backend:         "exact",
		FoldConcurrency: 1,
	}

	cfg.Embed = EmbedConfig{
		Source:            "table",
		RequestsPerSecond: 50,
		Burst:             10,
		CacheSize:         10000,
		Timeout:           30 * time.Second,
	}

	cfg.Qdrant = QdrantConfig{
		URL:              "http://localhost:6334",
		CollectionPrefix: "reco_",
		UpsertBatchSize:  256,
	}

	cfg.Bus = BusConfig{
		Type: "memory",
	}

	cfg.Results = ResultsConfig{
		Type:     "memory",
		Dir:      "./reports",
		RedisURL: "redis://localhost:6379",
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}

	cfg.Server = ServerConfig{
		Host:      "0.0.0.0",
		Port:      8090,
		RateLimit: 0,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Dataset.LabelKey == "" {
		errs = append(errs, "dataset.label_key is required")
	}
	if c.Dataset.ItemKey == "" {
		errs = append(errs, "dataset.item_key is required")
	}
	if c.Dataset.LabelKey != "" && c.Dataset.LabelKey == c.Dataset.ItemKey {
		errs = append(errs, "dataset.label_key and dataset.item_key must differ")
	}

	// Split validation
	if c.Split.NumFolds < 2 {
		errs = append(errs, "split.num_folds must be at least 2")
	}
	if c.Split.ValFold < 0 || c.Split.ValFold >= c.Split.NumFolds {
		errs = append(errs, fmt.Sprintf("split.val_fold must be in [0, %d)", c.Split.NumFolds))
	}
	if c.Split.NRefs < 1 {
		errs = append(errs, "split.n_refs must be at least 1")
	}
	switch strings.ToLower(c.Split.DegeneratePolicy) {
	case "", "error", "strict", "warn":
	default:
		errs = append(errs, fmt.Sprintf("invalid degenerate policy: %s (must be error, strict or warn)", c.Split.DegeneratePolicy))
	}

	// Eval validation
	if len(c.Eval.Ks) == 0 {
		errs = append(errs, "eval.ks must list at least one k")
	}
	for _, k := range c.Eval.Ks {
		if k < 1 {
			errs = append(errs, fmt.Sprintf("eval.ks entries must be positive, got %d", k))
		}
	}
	if c.Eval.BatchSize < 1 {
		errs = append(errs, "eval.batch_size must be positive")
	}
	if c.Eval.Workers < 1 {
		errs = append(errs, "eval.workers must be positive")
	}
	if c.Eval.Prefetch < 1 {
		errs = append(errs, "eval.prefetch must be positive")
	}
	if c.Eval.FoldConcurrency < 1 {
		errs = append(errs, "eval.fold_concurrency must be positive")
	}
	validAggregates := map[string]bool{"none": true, "mean": true}
	if !validAggregates[c.Eval.Aggregate] {
		errs = append(errs, fmt.Sprintf("invalid aggregate: %s (must be none or mean)", c.Eval.Aggregate))
	}
	validBackends := map[string]bool{"exact": true, "qdrant": true}
	if !validBackends[c.Eval.Backend] {
		errs = append(errs, fmt.Sprintf("invalid backend: %s (must be exact or qdrant)", c.Eval.Backend))
	}

	// Embed validation
	validSources := map[string]bool{"table": true, "remote": true}
	if !validSources[c.Embed.Source] {
		errs = append(errs, fmt.Sprintf("invalid embed source: %s (must be table or remote)", c.Embed.Source))
	}
	if c.Embed.Source == "remote" && c.Embed.URL == "" {
		errs = append(errs, "embed.url is required for the remote source")
	}
	if c.Embed.RequestsPerSecond <= 0 {
		errs = append(errs, "embed.requests_per_second must be positive")
	}

	// Bus validation
	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory or kafka)", c.Bus.Type))
	}

	// Results validation
	validResultTypes := map[string]bool{"memory": true, "file": true, "redis": true}
	if !validResultTypes[c.Results.Type] {
		errs = append(errs, fmt.Sprintf("invalid results type: %s (must be memory, file, or redis)", c.Results.Type))
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
