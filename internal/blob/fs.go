package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tubevault/backend/internal/pkg/errkind"
	"github.com/tubevault/backend/internal/pkg/logger"
)

// fsStore is the local-filesystem Store used in development and tests.
// Keys map to paths below the root; path separators in keys become
// directories, other characters (including ':') are kept verbatim.
type fsStore struct {
	log  *logger.Logger
	root string
}

func NewFS(log *logger.Logger, root string) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("blob: logger required")
	}
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("blob: root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create root: %w", err)
	}
	return &fsStore{
		log:  log.With("service", "BlobStore", "backend", "fs"),
		root: root,
	}, nil
}

func (s *fsStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *fsStore) PutBytes(_ context.Context, key string, data []byte) error {
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("blob: mkdir for %s: %w", key, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("blob: write %s: %w", key, err)
	}
	return nil
}

func (s *fsStore) GetBytes(_ context.Context, key string) ([]byte, error) {
	b, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob: %s: %w", key, errkind.ErrNotFound)
		}
		return nil, fmt.Errorf("blob: read %s: %w", key, err)
	}
	return b, nil
}

func (s *fsStore) PutJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("blob: encode %s: %w", key, err)
	}
	return s.PutBytes(ctx, key, b)
}

func (s *fsStore) GetJSON(ctx context.Context, key string, out any) error {
	b, err := s.GetBytes(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("blob: decode %s: %w", key, err)
	}
	return nil
}

func (s *fsStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("blob: stat %s: %w", key, err)
	}
	return true, nil
}

func (s *fsStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blob: delete %s: %w", key, err)
	}
	return nil
}

func (s *fsStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.Walk(s.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("blob: list %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}
