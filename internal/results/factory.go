package results

import (
	"fmt"
	"time"

	"github.com/recoeval/reco-eval/internal/config"
)

// New creates the store selected by cfg.Type.
func New(cfg config.ResultsConfig) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Dir), nil
	case "redis":
		rs, err := NewRedisStore(cfg.RedisURL, time.Duration(cfg.TTLHours)*time.Hour)
		if err != nil {
			return nil, err
		}
		return rs, nil
	default:
		return nil, fmt.Errorf("unknown results store type: %s", cfg.Type)
	}
}
