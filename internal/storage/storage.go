// Package storage keeps raw audio and clips under per-user key prefixes,
// either on the local filesystem or in a MinIO bucket.
package storage

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/tphakala/pendant-go/internal/conf"
	"github.com/tphakala/pendant-go/internal/errors"
)

var (
	// ErrNotExist is returned by Read for a missing key.
	ErrNotExist = errors.NewStd("object does not exist")

	// ErrInvalidKey is returned for absolute keys or keys escaping the root.
	ErrInvalidKey = errors.NewStd("invalid storage key")

	// ErrInvalidUserID is returned for user IDs that cannot name a key prefix.
	ErrInvalidUserID = errors.NewStd("invalid user id")
)

// Object describes one stored object.
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store is the blob collaborator shared by the scheduler, the dedup engine
// and the reconciler. Keys are slash-separated and relative.
type Store interface {
	// Write stores data at key, replacing any existing object.
	Write(ctx context.Context, key string, data []byte) error

	// Read returns ErrNotExist if key is missing.
	Read(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]Object, error)
}

// New creates the store selected by settings.Storage.Type.
func New(ctx context.Context, settings *conf.StorageSettings) (Store, error) {
	switch settings.Type {
	case "minio":
		return NewMinIOStore(ctx, settings)
	case "local", "":
		return NewLocalStore(settings.Local.Path)
	default:
		return nil, errors.Newf("unsupported storage type %q", settings.Type).
			Component("storage").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// ValidateUserID rejects IDs that would not map one-to-one onto a single
// key segment.
func ValidateUserID(userID string) error {
	if userID == "" || userID == "." || userID == ".." || strings.ContainsAny(userID, "/\\:") {
		return errors.New(ErrInvalidUserID).
			Component("storage").
			Category(errors.CategoryValidation).
			Context("user_id", userID).
			Build()
	}
	return nil
}

// UserPrefix is the root of all objects owned by userID.
func UserPrefix(userID string) string {
	return path.Join("users", sanitizeSegment(userID)) + "/"
}

// ClipPrefix is the prefix under which userID's clips are stored.
func ClipPrefix(userID string) string {
	return UserPrefix(userID) + "clips/"
}

// RawPrefix is the prefix under which userID's transient raw audio is stored.
func RawPrefix(userID string) string {
	return UserPrefix(userID) + "raw/"
}

// RawAudioKey returns the key of the raw audio for one fetched window.
func RawAudioKey(userID string, start, end time.Time) string {
	const layout = "20060102T150405Z"
	return RawPrefix(userID) + start.UTC().Format(layout) + "_" + end.UTC().Format(layout) + ".wav"
}

// sanitizeSegment keeps a single path segment free of separators and dots.
// IDs accepted by ValidateUserID pass through unchanged.
func sanitizeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// cleanKey validates a relative slash key.
func cleanKey(key string) (string, error) {
	cleaned := path.Clean(strings.ReplaceAll(key, "\\", "/"))
	if key == "" || path.IsAbs(cleaned) || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New(ErrInvalidKey).
			Component("storage").
			Category(errors.CategoryValidation).
			Context("key", key).
			Build()
	}
	return cleaned, nil
}

func storageError(err error, operation, key string) error {
	return errors.New(err).
		Component("storage").
		Category(errors.CategoryStorage).
		Context("operation", operation).
		Context("key", key).
		Build()
}
