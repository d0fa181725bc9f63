package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of *s3.Client S3Store uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// recordContentType is the content type of stored records.
const recordContentType = "application/vnd.docsync.snapshot"

// S3Store keeps one object per document.
//
// Example usage:
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	s := store.NewS3Store(s3.NewFromConfig(cfg), "my-bucket", "documents/")
type S3Store struct {
	client  S3API
	bucket  string
	prefix  string
	maxSize int64
	closed  atomic.Bool
}

// NewS3Store creates a new S3 snapshot store.
//
// Parameters:
//   - client: AWS S3 client from aws-sdk-go-v2
//   - bucket: S3 bucket name
//   - prefix: Key prefix for documents (e.g., "documents/")
func NewS3Store(client S3API, bucket, prefix string) *S3Store {
	return &S3Store{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		maxSize: 64 << 20,
	}
}

// WithMaxSize caps the size of an object LoadSnapshot will read.
func (s *S3Store) WithMaxSize(n int64) *S3Store {
	s.maxSize = n
	return s
}

func (s *S3Store) key(documentID string) string {
	return s.prefix + documentID
}

// LoadSnapshot downloads and decodes the document object.
func (s *S3Store) LoadSnapshot(ctx context.Context, documentID string) (*Snapshot, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(documentID)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("s3 get %s: %w", s.key(documentID), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("s3 read %s: %w", s.key(documentID), err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, fmt.Errorf("%w: object larger than %d bytes", ErrCorruptRecord, s.maxSize)
	}
	return DecodeRecord(data)
}

// SaveSnapshot uploads the document object.
func (s *S3Store) SaveSnapshot(ctx context.Context, documentID string, snap Snapshot) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(documentID)),
		Body:        bytes.NewReader(EncodeRecord(snap)),
		ContentType: aws.String(recordContentType),
		Metadata: map[string]string{
			"document-id":  documentID,
			"contributors": strconv.Itoa(len(snap.ContributorIDs)),
		},
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", s.key(documentID), err)
	}
	return nil
}

// Close marks the store closed. The S3 client holds no resources to release.
func (s *S3Store) Close() error {
	s.closed.Store(true)
	return nil
}
