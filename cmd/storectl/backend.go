package main

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vango-dev/vango-use/internal/config"
	"github.com/vango-dev/vango-use/internal/errors"
	"github.com/vango-dev/vango-use/pkg/middleware"
	"github.com/vango-dev/vango-use/pkg/storage"
	"github.com/vango-dev/vango-use/pkg/storage/broadcast"
	"github.com/vango-dev/vango-use/pkg/storage/filestore"
	"github.com/vango-dev/vango-use/pkg/storage/memory"
	"github.com/vango-dev/vango-use/pkg/storage/s3store"
	"github.com/vango-dev/vango-use/pkg/storage/sqlitestore"
)

// backend is an open store and the function that releases it.
type backend struct {
	store storage.Store
	close func() error
}

type openOptions struct {
	// watch keeps the file backend's directory watcher running.
	watch bool

	// middleware wraps the raw store, outermost first.
	middleware []middleware.Middleware
}

// open opens the configured backend, wrapped in tracing and logging.
func (a *app) open(opts openOptions) (*backend, error) {
	cfg := a.cfg
	kind := cfg.StorageKind()
	b := &backend{close: func() error { return nil }}

	switch cfg.Backend {
	case config.BackendMemory:
		b.store = memory.NewStore(kind)

	case config.BackendSQLite:
		sqlOpts := []sqlitestore.Option{sqlitestore.WithLogger(a.logger)}
		if cfg.SQLite.Table != "" {
			sqlOpts = append(sqlOpts, sqlitestore.WithTableName(cfg.SQLite.Table))
		}
		if cfg.SQLite.MaxBytes > 0 {
			sqlOpts = append(sqlOpts, sqlitestore.WithMaxBytes(cfg.SQLite.MaxBytes))
		}
		db, err := sqlitestore.Open(cfg.SQLitePath(), sqlOpts...)
		if err != nil {
			return nil, errors.New(errors.CodeStoreOpen).
				WithDetailf("Cannot open sqlite database %s", cfg.SQLitePath()).
				Wrap(err)
		}
		b.store = db.Store(cfg.Scope, kind)
		b.close = db.Close

	case config.BackendFile:
		fileOpts := []filestore.Option{filestore.WithKind(kind), filestore.WithLogger(a.logger)}
		if cfg.File.Quota > 0 {
			fileOpts = append(fileOpts, filestore.WithQuota(cfg.File.Quota))
		}
		if !opts.watch || cfg.File.NoWatch {
			fileOpts = append(fileOpts, filestore.WithoutWatch())
		}
		fs, err := filestore.Open(cfg.FileDir(), fileOpts...)
		if err != nil {
			return nil, errors.New(errors.CodeStoreOpen).
				WithDetailf("Cannot open directory %s", cfg.FileDir()).
				Wrap(err)
		}
		b.store = fs
		b.close = fs.Close

	case config.BackendS3:
		s3Opts := []s3store.Option{s3store.WithKind(kind), s3store.WithLogger(a.logger)}
		if cfg.S3.MaxValueBytes > 0 {
			s3Opts = append(s3Opts, s3store.WithMaxValueBytes(cfg.S3.MaxValueBytes))
		}
		client := s3.New(a.s3Options(cfg.S3))
		b.store = s3store.New(client, cfg.S3.Bucket, cfg.S3.Prefix, s3Opts...)

	default:
		return nil, errors.New(errors.CodeUnknownBackend).
			WithDetailf("Backend %q is not one of memory, sqlite, file or s3", cfg.Backend)
	}

	mws := append([]middleware.Middleware{}, opts.middleware...)
	mws = append(mws,
		middleware.OpenTelemetry(middleware.WithTracerName("storectl")),
		middleware.Logging(a.logger),
	)
	b.store = middleware.Chain(b.store, mws...)
	return b, nil
}

// connect wraps b's store in a hub peer so writes reach other processes.
func (a *app) connect(ctx context.Context, b *backend, peerOpts ...broadcast.PeerOption) (*broadcast.Peer, error) {
	url := a.cfg.SyncURL(a.cfg.Scope)
	peerOpts = append(peerOpts, broadcast.WithPeerLogger(a.logger))
	peer, err := broadcast.Dial(ctx, url, b.store, peerOpts...)
	if err != nil {
		return nil, errors.New(errors.CodeHubDial).
			WithDetailf("Cannot connect to %s", url).
			WithSuggestion("Start a hub with 'storectl hub' or set hub.url").
			Wrap(err)
	}

	closeStore := b.close
	b.store = peer
	b.close = func() error {
		perr := peer.Close()
		if err := closeStore(); err != nil {
			return err
		}
		return perr
	}
	return peer, nil
}

// s3Options builds client options from the config. Credentials fall back
// to the standard AWS variables.
func (a *app) s3Options(c config.S3Config) s3.Options {
	o := s3.Options{
		Region:       c.Region,
		UsePathStyle: c.UsePathStyle,
	}
	if o.Region == "" {
		o.Region = "us-east-1"
	}
	if c.Endpoint != "" {
		o.BaseEndpoint = aws.String(c.Endpoint)
	}

	creds := aws.Credentials{
		AccessKeyID:     firstNonEmpty(c.AccessKeyID, a.getenv("AWS_ACCESS_KEY_ID")),
		SecretAccessKey: firstNonEmpty(c.SecretAccessKey, a.getenv("AWS_SECRET_ACCESS_KEY")),
		SessionToken:    firstNonEmpty(c.SessionToken, a.getenv("AWS_SESSION_TOKEN")),
		Source:          "storectl",
	}
	if creds.AccessKeyID != "" {
		o.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) { return creds, nil },
		))
	}
	return o
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
