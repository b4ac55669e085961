package profilestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/foxseedlab/kikitori/internal/diarizer"
)

// FileStore keeps one JSON document per session under dir.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("session_%s.json", sessionID))
}

func (s *FileStore) Load(_ context.Context, sessionID string) (*diarizer.ProfileSet, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read speaker profiles: %w", err)
	}
	var set diarizer.ProfileSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("decode speaker profiles: %w", err)
	}
	return &set, nil
}

// Save writes through a temp file and rename so readers never see a
// partially written document.
func (s *FileStore) Save(_ context.Context, sessionID string, set *diarizer.ProfileSet) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create speaker profile dir: %w", err)
	}
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encode speaker profiles: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, "session_*.json.tmp")
	if err != nil {
		return fmt.Errorf("create speaker profile temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write speaker profiles: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write speaker profiles: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(sessionID)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace speaker profiles: %w", err)
	}
	return nil
}
