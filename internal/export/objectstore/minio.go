package objectstore

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Bucket это минимальный набор операций с бакетом, нужный архиву.
type Bucket interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Exists(ctx context.Context) (bool, error)
}

type minioBucket struct {
	client *minio.Client
	bucket string
	region string
}

// NewMinIOBucket создаёт клиента minio для бакета архива.
func NewMinIOBucket(cfg Config) (Bucket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &minioBucket{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

func (b *minioBucket) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if b == nil || b.client == nil {
		return fmt.Errorf("minio bucket not initialized")
	}
	_, err := b.client.PutObject(ctx, b.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	return err
}

func (b *minioBucket) Exists(ctx context.Context) (bool, error) {
	if b == nil || b.client == nil {
		return false, fmt.Errorf("minio bucket not initialized")
	}
	return b.client.BucketExists(ctx, b.bucket)
}

// EnsureBucket создаёт бакет архива, если его нет.
func EnsureBucket(ctx context.Context, bucket Bucket) error {
	mb, ok := bucket.(*minioBucket)
	if !ok {
		return nil
	}
	exists, err := mb.client.BucketExists(ctx, mb.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := mb.client.MakeBucket(ctx, mb.bucket, minio.MakeBucketOptions{Region: mb.region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", mb.bucket, err)
	}
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
