package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store implements BlobStore using an S3-compatible backend. Objects are
// stored under {prefix}/{key}; the locator is the full object key.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store creates a new S3Store.
func NewS3Store(client *s3.Client, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

// Put uploads the content. It buffers the reader since S3 PutObject needs a
// seekable body or known content length.
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read backup data: %w", err)
	}

	objectKey := path.Join(s.prefix, key)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &objectKey,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("put backup to S3: %w", err)
	}
	return objectKey, nil
}

// Get retrieves the object at the locator.
func (s *S3Store) Get(ctx context.Context, locator string) (io.ReadCloser, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &locator,
	})
	if err != nil {
		return nil, fmt.Errorf("get backup from S3: %w", err)
	}
	return result.Body, nil
}

// Delete removes the object at the locator.
func (s *S3Store) Delete(ctx context.Context, locator string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &locator,
	})
	if err != nil {
		return fmt.Errorf("delete backup from S3: %w", err)
	}
	return nil
}
