package storage

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"
)

// s3API is the subset of *s3.Client the store uses
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3BlobStore stores blobs in a public S3 (or S3-compatible) bucket
type S3BlobStore struct {
	client       s3API
	bucket       string
	region       string
	publicDomain string
}

// NewS3BlobStore wraps an S3 client. publicDomain, when set, replaces the bucket URL (e.g. a CDN).
func NewS3BlobStore(client s3API, bucket, region, publicDomain string) *S3BlobStore {
	return &S3BlobStore{
		client:       client,
		bucket:       bucket,
		region:       region,
		publicDomain: publicDomain,
	}
}

func (s *S3BlobStore) Upload(ctx context.Context, data []byte, path string) (string, error) {
	key := filepath.ToSlash(path)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimetype.Detect(data).String()),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return s.PublicURL(key), nil
}

func (s *S3BlobStore) Delete(ctx context.Context, path string) error {
	key := filepath.ToSlash(path)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// PublicURL returns the URL clients use to fetch path
func (s *S3BlobStore) PublicURL(path string) string {
	if s.publicDomain != "" {
		return fmt.Sprintf("%s/%s", s.publicDomain, filepath.ToSlash(path))
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, filepath.ToSlash(path))
}
