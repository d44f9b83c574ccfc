package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// FileStore persists the collection as a single indented JSON document.
type FileStore struct {
	fs     afero.Fs
	path   string
	logger zerolog.Logger
}

func NewFileStore(fs afero.Fs, path string, logger zerolog.Logger) *FileStore {
	return &FileStore{fs: fs, path: path, logger: logger}
}

func (s *FileStore) Path() string {
	return s.path
}

// Load reads the document. A missing or unparseable document yields an empty
// collection; other read failures are returned.
func (s *FileStore) Load(ctx context.Context) (*Collection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewCollection(), nil
		}
		return nil, fmt.Errorf("read patient store %s: %w", s.path, err)
	}

	c := NewCollection()
	if err := json.Unmarshal(data, c); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("patient store is not a valid JSON object, treating as empty")
		return NewCollection(), nil
	}
	return c, nil
}

// Save writes the document to a temporary file next to the target and
// renames it into place, so a concurrent Load sees either the old or the new
// document.
func (s *FileStore) Save(ctx context.Context, c *Collection) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return fmt.Errorf("encode patient store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create patient store directory %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for patient store: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("write patient store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("sync patient store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("close patient store: %w", err)
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("replace patient store %s: %w", s.path, err)
	}
	return nil
}
