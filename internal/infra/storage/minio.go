package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Store struct {
	client     *minio.Client
	bucketName string
	region     string
	prefix     string
}

// New connects to MinIO and makes sure the bucket exists.
func New(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, useSSL bool) (*Store, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", bucket, err)
		}
	}

	return &Store{client: cli, bucketName: bucket, region: region}, nil
}

// WithPrefix returns a store that writes every key under prefix.
func (s *Store) WithPrefix(prefix string) *Store {
	cp := *s
	cp.prefix = strings.Trim(prefix, "/")
	return &cp
}

// Put implements ArtifactStore. The returned URL is only reachable when the
// bucket is public.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	key = s.objectKey(key)
	if contentType == "" {
		contentType = ContentTypeFor(key)
	}
	_, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return s.objectURL(key), nil
}

func (s *Store) objectKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *Store) objectURL(key string) string {
	u := *s.client.EndpointURL()
	u.Path = "/" + s.bucketName + "/" + key
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}).String()
}

// ContentTypeFor guesses the content type of an archived object from its key.
func ContentTypeFor(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"), strings.HasSuffix(key, ".sarif"):
		return "application/json"
	case strings.HasSuffix(key, ".log"), strings.HasSuffix(key, ".txt"):
		return "text/plain; charset=utf-8"
	case strings.HasSuffix(key, ".html"):
		return "text/html"
	}
	return "application/octet-stream"
}
