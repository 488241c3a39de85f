package results

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/recoeval/reco-eval/internal/pkg/errors"
)

// FileStore keeps one JSON file per report in a directory.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore creates a file store rooted at dir. The directory is
// created on first save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, id+".json")
}

func (f *FileStore) Save(ctx context.Context, report *Report) error {
	if err := ValidateID(report.ID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errors.InternalError("encoding report", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return errors.InternalError("creating results directory", err)
	}

	// Write then rename so readers never see a partial file.
	tmp, err := os.CreateTemp(f.dir, report.ID+".*.tmp")
	if err != nil {
		return errors.InternalError("creating report file", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.InternalError("writing report file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.InternalError("writing report file", err)
	}
	if err := os.Rename(tmp.Name(), f.path(report.ID)); err != nil {
		os.Remove(tmp.Name())
		return errors.InternalError("replacing report file", err)
	}
	return nil
}

func (f *FileStore) Get(ctx context.Context, id string) (*Report, error) {
	if ValidateID(id) != nil {
		return nil, errors.NotFoundError("report")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundError("report")
		}
		return nil, errors.InternalError("reading report file", err)
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.InternalError("decoding report file", err)
	}
	return &r, nil
}

func (f *FileStore) List(ctx context.Context) ([]*Report, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Report{}, nil
		}
		return nil, errors.InternalError("reading results directory", err)
	}

	reports := make([]*Report, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(f.dir, entry.Name()))
		if err != nil {
			continue // Skip files we can't read
		}

		var r Report
		if err := json.Unmarshal(data, &r); err != nil {
			continue // Skip invalid files
		}
		reports = append(reports, &r)
	}

	sortNewestFirst(reports)
	return reports, nil
}

func (f *FileStore) Delete(ctx context.Context, id string) error {
	if ValidateID(id) != nil {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path(id)); err != nil && !os.IsNotExist(err) {
		return errors.InternalError("deleting report file", err)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }
