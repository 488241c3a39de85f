package qdrant

import (
	"context"
	"sync"

	"github.com/qdrant/go-client/qdrant"

	"github.com/recoeval/reco-eval/internal/evaluation"
	"github.com/recoeval/reco-eval/internal/pkg/errors"
	"github.com/recoeval/reco-eval/internal/pkg/logger"
)

// api is the subset of the Qdrant client used here.
type api interface {
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, collectionName string) error
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Close() error
}

var _ evaluation.GalleryIndex = (*Client)(nil)

// Client wraps the Qdrant Go client with gallery operations.
type Client struct {
	api    api
	config ClientConfig
	log    *logger.Logger
	mu     sync.RWMutex
	closed bool
}

// NewClient creates a new Qdrant client wrapper.
func NewClient(cfg ClientConfig, log *logger.Logger) (*Client, error) {
	cfg.setDefaults()

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, errors.QdrantError("failed to create qdrant client", err)
	}
	return newClient(client, cfg, log), nil
}

func newClient(a api, cfg ClientConfig, log *logger.Logger) *Client {
	cfg.setDefaults()
	if log == nil {
		log = logger.Discard()
	}
	return &Client{api: a, config: cfg, log: log}
}

// Name implements evaluation.GalleryIndex.
func (c *Client) Name() string { return "qdrant" }

// Close closes the client connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	return c.api.Close()
}

// HealthCheck verifies the Qdrant server is reachable and returns its version.
func (c *Client) HealthCheck(ctx context.Context) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return "", errClosed
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	reply, err := c.api.HealthCheck(ctx)
	if err != nil {
		return "", mapError("health check", err)
	}
	if reply.GetTitle() == "" {
		return "", errors.QdrantError("unexpected health check response", nil)
	}
	return reply.GetVersion(), nil
}

// collectionName returns the full collection name with prefix.
func (c *Client) collectionName(name string) string {
	return c.config.CollectionPrefix + name
}

func (c *Client) retryConfig() retryConfig {
	return retryConfig{
		maxRetries:     c.config.MaxRetries,
		baseRetryDelay: defaultBaseRetryDelay,
		maxRetryDelay:  defaultMaxRetryDelay,
	}
}

var errClosed = errors.New(errors.CodeUnavailable, "qdrant client is closed")
