package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"dndj/cache"
	"dndj/config"
	"dndj/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// audioPrefix is where cached assets live inside the bucket.
const audioPrefix = "audio/"

// BucketStats summarizes a listing.
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// Minio wraps a client bound to one bucket.
type Minio struct {
	client *minio.Client
	bucket string
}

// NewMinio connects and makes sure the configured bucket exists.
func NewMinio(ctx context.Context, cfg *config.Config) (*Minio, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.MinioBucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.MinioBucket, err)
		}
		logger.Info("created bucket", logger.String("bucket", cfg.MinioBucket))
	}

	logger.Info("minio connected",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))
	return &Minio{client: client, bucket: cfg.MinioBucket}, nil
}

// Bucket returns the bound bucket name.
func (m *Minio) Bucket() string { return m.bucket }

// List returns the objects under prefix with summary stats.
func (m *Minio) List(ctx context.Context, prefix string) ([]ObjectInfo, *BucketStats, error) {
	stats := &BucketStats{}
	var objects []ObjectInfo

	for object := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, nil, fmt.Errorf("list objects: %w", object.Err)
		}
		stats.TotalObjects++
		stats.TotalSize += object.Size
		if object.LastModified.After(stats.LastModified) {
			stats.LastModified = object.LastModified
		}
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ContentType:  object.ContentType,
		})
	}
	return objects, stats, nil
}

// DeletePrefix removes every object under prefix and returns how many went.
func (m *Minio) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	objects, _, err := m.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	objectsCh := make(chan minio.ObjectInfo, len(objects))
	for _, o := range objects {
		objectsCh <- minio.ObjectInfo{Key: o.Key}
	}
	close(objectsCh)

	failed := 0
	var firstErr error
	for e := range m.client.RemoveObjects(ctx, m.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		failed++
		if firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", e.ObjectName, e.Err)
		}
	}
	return len(objects) - failed, firstErr
}

// MinioMirror is a shared object-store tier in front of another fetcher.
// A miss locally first looks for audio/<id>.* in the bucket; a fresh fetch
// from the inner fetcher is uploaded there so other hosts can reuse it.
type MinioMirror struct {
	store *Minio
	inner cache.Fetcher
}

func NewMinioMirror(store *Minio, inner cache.Fetcher) *MinioMirror {
	return &MinioMirror{store: store, inner: inner}
}

// Fetch implements cache.Fetcher.
func (m *MinioMirror) Fetch(ctx context.Context, id, ref, dir string) (string, error) {
	if name, ok := m.download(ctx, id, dir); ok {
		return name, nil
	}

	name, err := m.inner.Fetch(ctx, id, ref, dir)
	if err != nil {
		return "", err
	}

	key := audioPrefix + name
	if _, err := m.store.client.FPutObject(ctx, m.store.bucket, key, filepath.Join(dir, name), minio.PutObjectOptions{
		ContentType: contentType(name),
	}); err != nil {
		logger.Warn("upload to object store failed", logger.String("key", key), logger.ErrorField(err))
	} else {
		logger.Info("uploaded to object store", logger.String("key", key))
	}
	return name, nil
}

func (m *MinioMirror) download(ctx context.Context, id, dir string) (string, bool) {
	// cancelling stops the listing goroutine when we return early
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for object := range m.store.client.ListObjects(ctx, m.store.bucket, minio.ListObjectsOptions{
		Prefix: audioPrefix + id + ".",
	}) {
		if object.Err != nil {
			logger.Warn("object store lookup failed", logger.String("id", id), logger.ErrorField(object.Err))
			return "", false
		}
		name := path.Base(object.Key)
		if err := m.store.client.FGetObject(ctx, m.store.bucket, object.Key, filepath.Join(dir, name), minio.GetObjectOptions{}); err != nil {
			logger.Warn("object store download failed", logger.String("key", object.Key), logger.ErrorField(err))
			return "", false
		}
		logger.Info("restored from object store", logger.String("key", object.Key))
		return name, true
	}
	return "", false
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3":
		return "audio/mpeg"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}
