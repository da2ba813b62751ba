// Package s3store provides a durable storage medium on an S3 bucket, one
// object per key under a prefix.
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	store := s3store.New(s3.NewFromConfig(cfg), "my-bucket", "prefs/user-42/")
//
// S3 has no change notifications, so events only flow between handles of
// the same Store (see Store.Open). Two processes sharing a prefix see each
// other's values on the next Get but receive no events.
package s3store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/vango-dev/vango-use/pkg/storage"
)

// ObjectAPI is the subset of *s3.Client the store uses.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	s3.ListObjectsV2APIClient
}

var _ ObjectAPI = (*s3.Client)(nil)

// Option configures a Store.
type Option func(*storeConfig)

type storeConfig struct {
	kind     storage.Kind
	maxValue int
	logger   *slog.Logger
}

// WithKind sets the reported kind.
// Default: storage.Durable.
func WithKind(kind storage.Kind) Option {
	return func(c *storeConfig) {
		c.kind = kind
	}
}

// WithMaxValueBytes rejects values longer than n bytes with a quota error
// before any request is made. Zero disables the check. Default: 0.
func WithMaxValueBytes(n int) Option {
	return func(c *storeConfig) {
		c.maxValue = n
	}
}

// WithLogger sets the logger for read failures.
// Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *storeConfig) {
		c.logger = logger
	}
}

// shared is the state common to every handle of one Store.
type shared struct {
	api      ObjectAPI
	bucket   string
	prefix   string
	kind     storage.Kind
	maxValue int
	logger   *slog.Logger

	// writeMu serializes writes from this process so old values in
	// events match the write that replaced them.
	writeMu sync.Mutex
	feed    storage.Feed
}

// Store is one handle on a bucket prefix. It implements storage.Store and
// storage.Lister.
type Store struct {
	*shared
	area string
}

var (
	_ storage.Store  = (*Store)(nil)
	_ storage.Lister = (*Store)(nil)
)

// New creates a Store for the objects under prefix in bucket.
func New(api ObjectAPI, bucket, prefix string, opts ...Option) *Store {
	cfg := &storeConfig{kind: storage.Durable}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	return &Store{
		shared: &shared{
			api:      api,
			bucket:   bucket,
			prefix:   prefix,
			kind:     cfg.kind,
			maxValue: cfg.maxValue,
			logger:   cfg.logger,
		},
		area: uuid.NewString(),
	}
}

// Open returns another handle on the same prefix with its own Area. Writes
// through either handle reach the listeners of both.
func (s *Store) Open() *Store {
	return &Store{shared: s.shared, area: uuid.NewString()}
}

func (s *Store) Kind() storage.Kind { return s.kind }
func (s *Store) Area() string       { return s.area }

func (s *Store) objectKey(key string) *string {
	return aws.String(s.prefix + key)
}

func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	value, ok, err := s.get(ctx, key)
	if err != nil {
		s.logger.Debug("s3store read failed", "bucket", s.bucket, "key", key, "error", err)
		return "", false
	}
	return value, ok
}

func (s *Store) get(ctx context.Context, key string) (string, bool, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.objectKey(key),
	})
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if s.maxValue > 0 && len(value) > s.maxValue {
		return storage.NewQuotaError("set", key, nil)
	}

	s.writeMu.Lock()
	old, had, err := s.get(ctx, key)
	if err != nil {
		s.writeMu.Unlock()
		return mapError("set", key, err)
	}
	if had && old == value {
		s.writeMu.Unlock()
		return nil
	}

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         s.objectKey(key),
		Body:        strings.NewReader(value),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	s.writeMu.Unlock()
	if err != nil {
		return mapError("set", key, err)
	}

	ev := storage.ChangeEvent{Key: key, NewValue: storage.StringPtr(value), Area: s.area, Kind: s.kind}
	if had {
		ev.OldValue = storage.StringPtr(old)
	}
	s.feed.Publish(ev)
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	s.writeMu.Lock()
	old, had, err := s.get(ctx, key)
	if err != nil {
		s.writeMu.Unlock()
		return mapError("remove", key, err)
	}
	if !had {
		s.writeMu.Unlock()
		return nil
	}

	_, err = s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.objectKey(key),
	})
	s.writeMu.Unlock()
	if err != nil {
		return mapError("remove", key, err)
	}

	s.feed.Publish(storage.ChangeEvent{Key: key, OldValue: storage.StringPtr(old), Area: s.area, Kind: s.kind})
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	keys, err := s.list(ctx)
	if err != nil {
		s.writeMu.Unlock()
		return mapError("clear", "", err)
	}
	for _, key := range keys {
		if _, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    s.objectKey(key),
		}); err != nil {
			s.writeMu.Unlock()
			return mapError("clear", key, err)
		}
	}
	s.writeMu.Unlock()

	if len(keys) > 0 {
		s.feed.Publish(storage.ChangeEvent{Area: s.area, Kind: s.kind})
	}
	return nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.list(ctx)
	if err != nil {
		return nil, mapError("keys", "", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) list(ctx context.Context) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			keys = append(keys, strings.TrimPrefix(*obj.Key, s.prefix))
		}
	}
	return keys, nil
}

func (s *Store) Subscribe(fn func(storage.ChangeEvent)) storage.Unsubscribe {
	return s.feed.Subscribe(fn)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// mapError classifies an S3 error. Size and quota rejections map to
// ErrQuotaExceeded; everything else, including network and credential
// failures, maps to ErrUnavailable.
func mapError(op, key string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "EntityTooLarge", "QuotaExceeded", "ServiceQuotaExceededException":
			return storage.NewQuotaError(op, key, err)
		}
	}
	return storage.NewUnavailableError(op, key, err)
}
