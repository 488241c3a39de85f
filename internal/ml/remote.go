package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/recoeval/reco-eval/internal/inference"
	"github.com/recoeval/reco-eval/internal/pkg/errors"
	"github.com/recoeval/reco-eval/internal/tensor"
)

// RemoteConfig configures a RemoteModel.
type RemoteConfig struct {
	// URL is the embedding endpoint. Items are POSTed as {"items": [...]}.
	URL    string
	APIKey string

	Timeout time.Duration

	// RequestsPerSecond and Burst throttle outgoing requests.
	RequestsPerSecond float64
	Burst             int

	// CacheSize bounds the embedding cache. Zero disables caching.
	CacheSize int
}

// DefaultRemoteConfig returns sensible defaults.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		Timeout:           30 * time.Second,
		RequestsPerSecond: 50,
		Burst:             10,
		CacheSize:         10000,
	}
}

type embedRequest struct {
	Items []string `json:"items"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// RemoteModel embeds items through an HTTP embedding service.
// It is safe for concurrent use.
type RemoteModel struct {
	cfg        RemoteConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *EmbeddingCache
	training   atomic.Bool
	requests   atomic.Int64
}

var _ inference.Model[string] = (*RemoteModel)(nil)

// NewRemoteModel creates a remote model.
func NewRemoteModel(cfg RemoteConfig) (*RemoteModel, error) {
	if cfg.URL == "" {
		return nil, errors.ValidationError("embedding service url is required")
	}

	def := DefaultRemoteConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}

	m := &RemoteModel{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
	if cfg.CacheSize > 0 {
		m.cache = NewEmbeddingCache(cfg.CacheSize)
	}
	return m, nil
}

// Cache returns the embedding cache, or nil when caching is disabled.
func (m *RemoteModel) Cache() *EmbeddingCache {
	return m.cache
}

// Requests returns how many HTTP requests the model has sent.
func (m *RemoteModel) Requests() int64 {
	return m.requests.Load()
}

// SetTraining switches the model between training and inference mode.
func (m *RemoteModel) SetTraining(training bool) {
	m.training.Store(training)
}

// Training implements inference.Model.
func (m *RemoteModel) Training() bool {
	return m.training.Load()
}

// Embed implements inference.Model. Cached items are not re-requested.
func (m *RemoteModel) Embed(ctx context.Context, items []string) (*tensor.Matrix, error) {
	rows := make([][]float32, len(items))

	var missing []string
	var missingAt []int
	for i, item := range items {
		if m.cache != nil {
			if v, ok := m.cache.Get(item); ok {
				rows[i] = v
				continue
			}
		}
		missing = append(missing, item)
		missingAt = append(missingAt, i)
	}

	if len(missing) > 0 {
		fetched, err := m.fetch(ctx, missing)
		if err != nil {
			return nil, err
		}
		for j, v := range fetched {
			rows[missingAt[j]] = v
			if m.cache != nil {
				m.cache.Set(missing[j], v)
			}
		}
	}

	return tensor.FromRows(rows)
}

func (m *RemoteModel) fetch(ctx context.Context, items []string) ([][]float32, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	data, err := json.Marshal(embedRequest{Items: items})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if m.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	}

	m.requests.Add(1)
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, errors.ModelError("embedding request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.ModelError("failed to read embedding response", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retry, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return nil, errors.RateLimitedError(retry)
	case resp.StatusCode >= 500:
		return nil, errors.ServiceUnavailableError("embedding service").
			WithDetail("status", strconv.Itoa(resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, errors.Newf(errors.CodeModelError, "embedding service returned HTTP %d: %s",
			resp.StatusCode, bytes.TrimSpace(body))
	}

	var out embedResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.ModelError("failed to decode embedding response", err)
	}
	if len(out.Embeddings) != len(items) {
		return nil, errors.ShapeMismatchError(fmt.Sprintf(
			"embedding service returned %d vectors for %d items", len(out.Embeddings), len(items)))
	}

	return out.Embeddings, nil
}
