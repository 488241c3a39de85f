// Package qdrant stores gallery embeddings in Qdrant and answers top-k
// candidate queries against them.
package qdrant

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/recoeval/reco-eval/internal/config"
)

const (
	// DefaultHost is the default Qdrant host.
	DefaultHost = "localhost"

	// DefaultPort is the default Qdrant gRPC port.
	DefaultPort = 6334

	// DefaultTimeout is the default operation timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultUpsertBatchSize bounds the points sent in one upsert.
	DefaultUpsertBatchSize = 256

	// DefaultQueryConcurrency bounds concurrent per-query searches.
	DefaultQueryConcurrency = 8

	// LabelField is the payload key holding a point's gallery label.
	LabelField = "label"
)

// ClientConfig holds configuration for the Qdrant client.
type ClientConfig struct {
	// Host is the Qdrant server host.
	Host string

	// Port is the Qdrant gRPC port.
	Port int

	// APIKey for authentication (optional).
	APIKey string

	// UseTLS enables TLS connection.
	UseTLS bool

	// Timeout for operations.
	Timeout time.Duration

	// CollectionPrefix is prepended to every collection name.
	CollectionPrefix string

	// UpsertBatchSize is the number of points per upsert request.
	UpsertBatchSize int

	// QueryConcurrency bounds how many query rows are searched at once.
	QueryConcurrency int

	// MaxRetries is how often a transient failure is retried.
	MaxRetries int
}

// DefaultClientConfig returns sensible defaults for local development.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Host:             DefaultHost,
		Port:             DefaultPort,
		Timeout:          DefaultTimeout,
		CollectionPrefix: "reco_",
		UpsertBatchSize:  DefaultUpsertBatchSize,
		QueryConcurrency: DefaultQueryConcurrency,
		MaxRetries:       3,
	}
}

// ConfigFrom builds a client config from the application's Qdrant
// settings. The URL scheme selects TLS; a missing port means 6334.
func ConfigFrom(cfg config.QdrantConfig) (ClientConfig, error) {
	out := DefaultClientConfig()
	out.APIKey = cfg.APIKey
	if cfg.CollectionPrefix != "" {
		out.CollectionPrefix = cfg.CollectionPrefix
	}
	if cfg.UpsertBatchSize > 0 {
		out.UpsertBatchSize = cfg.UpsertBatchSize
	}
	if cfg.URL == "" {
		return out, nil
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return out, fmt.Errorf("parsing qdrant url: %w", err)
	}
	switch u.Scheme {
	case "http", "grpc":
	case "https", "grpcs":
		out.UseTLS = true
	default:
		return out, fmt.Errorf("unsupported qdrant url scheme %q", u.Scheme)
	}
	if h := u.Hostname(); h != "" {
		out.Host = h
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return out, fmt.Errorf("invalid qdrant port %q", p)
		}
		out.Port = port
	}
	return out, nil
}

func (c *ClientConfig) setDefaults() {
	def := DefaultClientConfig()
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.Timeout == 0 {
		c.Timeout = def.Timeout
	}
	if c.UpsertBatchSize <= 0 {
		c.UpsertBatchSize = def.UpsertBatchSize
	}
	if c.QueryConcurrency <= 0 {
		c.QueryConcurrency = def.QueryConcurrency
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
}

// GalleryPoint is one gallery embedding with its label.
type GalleryPoint struct {
	// ID is the point UUID.
	ID string

	// Vector is the gallery embedding.
	Vector []float32

	// Label is the dense label index of the gallery entry.
	Label int
}
