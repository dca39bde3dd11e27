package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lowkaihon/unai/internal/fsutil"
)

// FileStore keeps one JSON file per session in a directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir. The directory is created on
// the first save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// DefaultDir returns the sessions directory for a project:
// ~/.unai/projects/<hash of workDir>/sessions.
func DefaultDir(workDir string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".unai", "projects", projectHash(workDir), "sessions"), nil
}

// projectHash returns a 16-char hex hash of the absolute workDir path.
func projectHash(workDir string) string {
	absPath, err := filepath.Abs(workDir)
	if err != nil {
		absPath = workDir
	}
	h := sha256.Sum256([]byte(filepath.Clean(absPath)))
	return hex.EncodeToString(h[:])[:16]
}

func (f *FileStore) path(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("invalid session id %q", id)
	}
	return filepath.Join(f.dir, id+".json"), nil
}

// Save writes the session atomically. Empty sessions are not written.
func (f *FileStore) Save(ctx context.Context, s *Session) error {
	if len(s.Messages) == 0 {
		return nil
	}
	path, err := f.path(s.Meta.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}

	s.touch()
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := fsutil.AtomicWrite(path, data, 0o644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	zerolog.Ctx(ctx).Debug().Str("session", s.Meta.ID).Int("messages", s.Meta.MsgCount).Msg("session saved")
	return nil
}

func (f *FileStore) Load(_ context.Context, id string) (*Session, error) {
	path, err := f.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	return &s, nil
}

// List reads session metadata from the directory. Unreadable files are
// skipped.
func (f *FileStore) List(ctx context.Context, max int) ([]Meta, error) {
	entries, err := os.ReadDir(f.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var metas []Meta
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.dir, e.Name()))
		if err != nil {
			continue
		}
		var s struct {
			Meta Meta `json:"meta"`
		}
		if err := json.Unmarshal(data, &s); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("file", e.Name()).Msg("skipping unreadable session")
			continue
		}
		metas = append(metas, s.Meta)
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	if max > 0 && len(metas) > max {
		metas = metas[:max]
	}
	return metas, nil
}

func (f *FileStore) Delete(_ context.Context, id string) error {
	path, err := f.path(id)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}
