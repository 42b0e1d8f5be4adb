// Package minio provides a MinIO/S3 implementation of export.Sink.
//
// Usage:
//
//	sink, err := minio.New(ctx, &minio.Config{
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	    Bucket:    "conduit-exports",
//	})
//	if err != nil { ... }
//	exporter := export.NewExporter(sink, log)
package minio

import (
	"bytes"
	"context"

	"github.com/koustreak/conduit/internal/errs"
	"github.com/koustreak/conduit/internal/export"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds the settings needed to reach the object store.
type Config struct {
	// Endpoint is the host:port of the storage server, e.g. "localhost:9000".
	Endpoint string

	// AccessKey and SecretKey are S3-style credentials.
	AccessKey string
	SecretKey string

	// UseSSL controls whether TLS is used for the connection.
	UseSSL bool

	// Bucket is where exported objects land. It must already exist.
	Bucket string
}

// Sink uploads encoded result sets to a MinIO bucket.
// It is safe for concurrent use by multiple goroutines.
type Sink struct {
	client *miniogo.Client
	bucket string
}

var _ export.Sink = (*Sink)(nil)

// New connects to MinIO using cfg and verifies the target bucket exists
// before returning.
func New(ctx context.Context, cfg *Config) (*Sink, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnection, "failed to create minio client", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, mapError(err, "failed to check bucket")
	}
	if !exists {
		return nil, errs.Newf(errs.ErrKindNotFound, "bucket %q does not exist", cfg.Bucket)
	}

	return &Sink{client: client, bucket: cfg.Bucket}, nil
}

// Put stores data under key with the given content type.
func (s *Sink) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		miniogo.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return mapError(err, "failed to store object")
	}
	return nil
}
