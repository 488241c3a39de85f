package ml

import (
	"fmt"

	"github.com/recoeval/reco-eval/internal/config"
	"github.com/recoeval/reco-eval/internal/inference"
	"github.com/recoeval/reco-eval/internal/pkg/errors"
)

// Embedding sources.
const (
	SourceTable  = "table"
	SourceRemote = "remote"
)

// NewModel builds the embedding model selected by cfg.Source. Cache
// measurements of a remote model go to m when it is not nil.
func NewModel(cfg config.EmbedConfig, m CacheMetrics) (inference.Model[string], error) {
	switch cfg.Source {
	case SourceTable, "":
		if cfg.TablePath == "" {
			return nil, errors.ValidationError("embed.table_path is required for the table source")
		}
		return LoadTable(cfg.TablePath)

	case SourceRemote:
		rm, err := NewRemoteModel(RemoteConfig{
			URL:               cfg.URL,
			APIKey:            cfg.APIKey,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
			CacheSize:         cfg.CacheSize,
		})
		if err != nil {
			return nil, err
		}
		if m != nil && rm.Cache() != nil {
			rm.Cache().SetMetrics(m)
		}
		return rm, nil

	default:
		return nil, errors.ValidationError(fmt.Sprintf("unknown embed source: %s", cfg.Source))
	}
}
