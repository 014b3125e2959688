// Package blob archives exported contract files in S3-compatible object
// storage.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"contractflow/api/internal/logging"
)

var ErrInvalidName = errors.New("invalid object name")

// client is the subset of *minio.Client the archive uses.
type client interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// Options configures the MinIO connection.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Archive stores export files under contracts/<collaboration key>/.
type Archive struct {
	client client
	bucket string
	log    logging.Logger
}

// Object describes a stored file.
type Object struct {
	Key      string    `json:"key"`
	Size     int64     `json:"size"`
	ETag     string    `json:"etag"`
	StoredAt time.Time `json:"storedAt"`
}

// New connects to MinIO and makes sure the bucket exists.
func New(ctx context.Context, opts Options, log logging.Logger) (*Archive, error) {
	mc, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	a := newArchive(mc, opts.Bucket, log)
	if err := a.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func newArchive(c client, bucket string, log logging.Logger) *Archive {
	if log == nil {
		log = logging.Nop()
	}
	return &Archive{client: c, bucket: bucket, log: log}
}

func (a *Archive) ensureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	a.log.Info(ctx, "created export bucket", "bucket", a.bucket)
	return nil
}

// ObjectKey is the storage key of filename for a collaboration.
func ObjectKey(collaborationKey, filename string) (string, error) {
	for _, part := range []string{collaborationKey, filename} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", fmt.Errorf("%w: %q", ErrInvalidName, part)
		}
	}
	return path.Join("contracts", collaborationKey, filename), nil
}

// Put uploads data for a collaboration.
func (a *Archive) Put(ctx context.Context, collaborationKey, filename, contentType string, data []byte) (Object, error) {
	key, err := ObjectKey(collaborationKey, filename)
	if err != nil {
		return Object{}, err
	}
	info, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"collaboration-key": collaborationKey,
		},
	})
	if err != nil {
		return Object{}, fmt.Errorf("put object %s: %w", key, err)
	}
	return Object{Key: key, Size: info.Size, ETag: info.ETag, StoredAt: time.Now().UTC()}, nil
}

// URL returns a time-limited download link for an archived object.
func (a *Archive) URL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := a.client.PresignedGetObject(ctx, a.bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}
