package storage

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/tphakala/pendant-go/internal/conf"
	"github.com/tphakala/pendant-go/internal/errors"
)

const noSuchKey = "NoSuchKey"

// MinIOStore keeps objects in an S3-compatible bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOStore connects to the configured endpoint and creates the bucket
// if it does not exist.
func NewMinIOStore(ctx context.Context, settings *conf.StorageSettings) (*MinIOStore, error) {
	m := settings.MinIO
	client, err := minio.New(m.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(m.AccessKey, m.SecretKey, ""),
		Secure: m.UseSSL,
		Region: m.Region,
	})
	if err != nil {
		return nil, errors.New(err).
			Component("storage").
			Category(errors.CategoryConfiguration).
			Context("endpoint", m.Endpoint).
			Build()
	}

	exists, err := client.BucketExists(ctx, m.Bucket)
	if err != nil {
		return nil, storageError(err, "bucket_exists", m.Bucket)
	}
	if !exists {
		if err := client.MakeBucket(ctx, m.Bucket, minio.MakeBucketOptions{Region: m.Region}); err != nil {
			return nil, storageError(err, "make_bucket", m.Bucket)
		}
	}
	return &MinIOStore{client: client, bucket: m.Bucket}, nil
}

func (s *MinIOStore) Write(ctx context.Context, key string, data []byte) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "audio/wav"})
	if err != nil {
		return storageError(err, "put_object", key)
	}
	return nil
}

func (s *MinIOStore) Read(ctx context.Context, key string) ([]byte, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, storageError(err, "get_object", key)
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == noSuchKey {
			return nil, ErrNotExist
		}
		return nil, storageError(err, "read_object", key)
	}
	return data, nil
}

func (s *MinIOStore) Exists(ctx context.Context, key string) (bool, error) {
	key, err := cleanKey(key)
	if err != nil {
		return false, err
	}
	_, err = s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == noSuchKey {
			return false, nil
		}
		return false, storageError(err, "stat_object", key)
	}
	return true, nil
}

// Delete is idempotent; S3 reports success for missing keys.
func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == noSuchKey {
			return nil
		}
		return storageError(err, "remove_object", key)
	}
	return nil
}

func (s *MinIOStore) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	objectCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for object := range objectCh {
		if object.Err != nil {
			return nil, storageError(object.Err, "list_objects", prefix)
		}
		objects = append(objects, Object{
			Key:     object.Key,
			Size:    object.Size,
			ModTime: object.LastModified,
		})
	}
	return objects, nil
}
