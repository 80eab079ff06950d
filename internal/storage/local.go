package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/tphakala/pendant-go/internal/errors"
)

// LocalStore keeps objects below a base directory. All access goes through
// an os.Root so keys cannot escape it, including through symlinks.
type LocalStore struct {
	root *os.Root
}

// NewLocalStore opens (and creates) baseDir.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	absPath, err := filepath.Abs(os.ExpandEnv(baseDir))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o750); err != nil {
		return nil, storageError(err, "create_base_dir", absPath)
	}
	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, storageError(err, "open_root", absPath)
	}
	return &LocalStore{root: root}, nil
}

// Close releases the root handle.
func (s *LocalStore) Close() error {
	return s.root.Close()
}

// Write stores data through a temp file and rename, so readers never see a
// partial object.
func (s *LocalStore) Write(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	if dir := path.Dir(key); dir != "." {
		if err := s.root.MkdirAll(dir, 0o750); err != nil {
			return storageError(err, "mkdir", key)
		}
	}

	tmp := key + ".tmp-" + uuid.NewString()
	if err := s.root.WriteFile(tmp, data, 0o640); err != nil {
		_ = s.root.Remove(tmp)
		return storageError(err, "write", key)
	}
	if err := s.root.Rename(tmp, key); err != nil {
		_ = s.root.Remove(tmp)
		return storageError(err, "rename", key)
	}
	return nil
}

func (s *LocalStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	data, err := s.root.ReadFile(key)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, storageError(err, "read", key)
	}
	return data, nil
}

func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key, err := cleanKey(key)
	if err != nil {
		return false, err
	}
	info, err := s.root.Stat(key)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, storageError(err, "stat", key)
	}
	return info.Mode().IsRegular(), nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := s.root.Remove(key); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storageError(err, "delete", key)
	}
	return nil
}

// List walks the directory holding prefix. Temp files of in-flight writes
// are not reported.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]Object, error) {
	dir := "."
	if prefix != "" {
		cleaned, err := cleanKey(prefix)
		if err != nil {
			return nil, err
		}
		if strings.HasSuffix(prefix, "/") {
			dir = cleaned
		} else {
			dir = path.Dir(cleaned)
		}
	}

	var objects []Object
	err := fs.WalkDir(s.root.FS(), dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipDir
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasPrefix(p, prefix) || strings.Contains(path.Base(p), ".tmp-") {
			return nil
		}
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		objects = append(objects, Object{Key: p, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, storageError(err, "list", prefix)
	}
	return objects, nil
}
