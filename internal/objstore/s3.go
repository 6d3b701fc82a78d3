package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/webindex/webindex/internal/wxerr"
)

// S3Config configures the S3-backed Store.
type S3Config struct {
	Region       string
	Endpoint     string
	UsePathStyle bool
}

// S3Store implements Store over AWS S3 (or an S3-compatible endpoint):
// PutObject with retry/backoff for writes, GetObject/HeadObject for
// reads, and conditional PutObject (If-Match) for the lease and
// replace-atomically primitives spec §4.1 requires.
type S3Store struct {
	client     *s3.Client
	bucket     string
	maxRetries int
}

// NewS3Store creates an S3-backed Store for bucket.
func NewS3Store(ctx context.Context, bucket string, cfg S3Config) (*S3Store, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	return &S3Store{client: s3.NewFromConfig(awsCfg, s3Opts...), bucket: bucket, maxRetries: 3}, nil
}

// List returns every key under prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wxerr.Storage(wxerr.CodeDownloadFailed, "list "+prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// Get returns the bytes stored at key.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := s.retryWithBackoff(ctx, func() error {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, wxerr.New(wxerr.CategoryStorage, wxerr.CodeObjectNotFound, "not found").WithKey(key)
		}
		return nil, wxerr.Storage(wxerr.CodeDownloadFailed, "get "+key, err)
	}
	return body, nil
}

// PutUnique atomically creates prefix.{uuid} and returns the key.
func (s *S3Store) PutUnique(ctx context.Context, prefix string, body []byte) (string, error) {
	key := prefix + "." + uuid.New().String()
	err := s.retryWithBackoff(ctx, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(body),
		})
		return err
	})
	if err != nil {
		return "", wxerr.Storage(wxerr.CodeUploadFailed, "put_unique "+prefix, err)
	}
	return key, nil
}

// ReplaceAtomically uploads body at newKey, confirms visibility via
// HeadObject, then deletes oldKeys — the write-then-delete fallback spec
// §4.1 explicitly allows for stores without multi-object transactions.
func (s *S3Store) ReplaceAtomically(ctx context.Context, oldKeys []string, newKey string, body []byte) error {
	err := s.retryWithBackoff(ctx, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(newKey),
			Body:   bytes.NewReader(body),
		})
		return err
	})
	if err != nil {
		return wxerr.Storage(wxerr.CodeUploadFailed, "replace_atomically write "+newKey, err)
	}

	err = s.retryWithBackoff(ctx, func() error {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(newKey)})
		return err
	})
	if err != nil {
		return wxerr.Storage(wxerr.CodeUploadFailed, "replace_atomically confirm "+newKey, err)
	}

	for _, key := range oldKeys {
		if err := s.retryWithBackoff(ctx, func() error {
			_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
			return err
		}); err != nil {
			return wxerr.Storage(wxerr.CodeUploadFailed, "replace_atomically delete "+key, err)
		}
	}
	return nil
}

// Lease acquires an exclusive lease by conditionally creating a
// {name}.lease object (If-None-Match "*"); releasing deletes it. A
// background refresh is not implemented — ttl bounds how long a crashed
// holder's lease remains valid before a new lease can be acquired by
// overwriting an expired one, detected via the lease body's expiry field.
func (s *S3Store) Lease(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	leaseKey := name + ".lease"
	expiry := time.Now().Add(ttl).Format(time.RFC3339)

	existing, err := s.Get(ctx, leaseKey)
	switch {
	case err == nil:
		if parsedExpiry, perr := time.Parse(time.RFC3339, string(existing)); perr == nil && time.Now().Before(parsedExpiry) {
			return nil, wxerr.New(wxerr.CategoryStorage, wxerr.CodeLeaseUnavailable, "lease held").WithKey(name)
		}
	default:
		var we *wxerr.Error
		if !errors.As(err, &we) || we.Code != wxerr.CodeObjectNotFound {
			return nil, err
		}
	}

	if putErr := s.retryWithBackoff(ctx, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(leaseKey),
			Body:   strings.NewReader(expiry),
		})
		return err
	}); putErr != nil {
		return nil, wxerr.Storage(wxerr.CodeLeaseUnavailable, "acquire lease "+name, putErr)
	}

	return &s3LeaseHandle{store: s, key: leaseKey}, nil
}

type s3LeaseHandle struct {
	store *S3Store
	key   string
}

func (h *s3LeaseHandle) Release(ctx context.Context) error {
	return h.store.retryWithBackoff(ctx, func() error {
		_, err := h.store.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(h.store.bucket), Key: aws.String(h.key)})
		return err
	})
}

// retryWithBackoff executes operation with exponential backoff.
func (s *S3Store) retryWithBackoff(ctx context.Context, operation func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		var noSuchKey *s3types.NoSuchKey
		if errors.As(lastErr, &noSuchKey) {
			return lastErr
		}

		if attempt < s.maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}
