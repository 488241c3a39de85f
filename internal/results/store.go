package results

import (
	"context"
	"encoding/json"
	"regexp"
	"sync"

	"github.com/recoeval/reco-eval/internal/pkg/errors"
)

// Store is the interface for report persistence.
type Store interface {
	// Save stores a report, replacing any report with the same ID.
	Save(ctx context.Context, report *Report) error

	// Get loads a report by ID.
	Get(ctx context.Context, id string) (*Report, error)

	// List returns all reports, newest first.
	List(ctx context.Context) ([]*Report, error)

	// Delete removes a report. Deleting a missing report is not an error.
	Delete(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// ValidateID checks that id is safe to use as a file name or key suffix.
func ValidateID(id string) error {
	if !validID.MatchString(id) {
		return errors.ValidationError("report id must be 1-128 characters of letters, digits, '-' or '_'")
	}
	return nil
}

// clone deep-copies a report through JSON so callers cannot mutate stored state.
func clone(r *Report) (*Report, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.InternalError("encoding report", err)
	}
	var out Report
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.InternalError("decoding report", err)
	}
	return &out, nil
}

// MemoryStore keeps reports in memory.
type MemoryStore struct {
	reports map[string]*Report
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[string]*Report)}
}

func (m *MemoryStore) Save(ctx context.Context, report *Report) error {
	if err := ValidateID(report.ID); err != nil {
		return err
	}
	c, err := clone(report)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[report.ID] = c
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Report, error) {
	m.mu.RLock()
	r, ok := m.reports[id]
	m.mu.RUnlock()

	if !ok {
		return nil, errors.NotFoundError("report")
	}
	return clone(r)
}

func (m *MemoryStore) List(ctx context.Context) ([]*Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Report, 0, len(m.reports))
	for _, r := range m.reports {
		c, err := clone(r)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reports, id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
