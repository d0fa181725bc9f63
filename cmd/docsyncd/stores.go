package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/vango-dev/docsync/internal/config"
	"github.com/vango-dev/docsync/internal/errors"
	"github.com/vango-dev/docsync/pkg/store"
)

// openedStore is a store plus whatever must be closed with it.
type openedStore struct {
	store.Store

	// bolt is set for the bolt driver, which can list its documents.
	bolt *store.BoltStore

	redis *redis.Client
}

// Close closes the store, then the shared Redis client.
func (o *openedStore) Close() error {
	err := o.Store.Close()
	if o.redis != nil {
		if rerr := o.redis.Close(); err == nil {
			err = rerr
		}
	}
	return err
}

// openStore connects the configured backend and, when store.notify is set,
// wraps it so every save is announced on Redis.
func openStore(ctx context.Context, c *config.Config, logger *slog.Logger) (*openedStore, error) {
	o := &openedStore{}
	sc := c.Store

	if sc.Driver == config.DriverRedis || sc.Notify {
		o.redis = redis.NewClient(&redis.Options{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
		})
	}

	var err error
	switch sc.Driver {
	case config.DriverMemory:
		o.Store = store.NewMemoryStore()

	case config.DriverBolt:
		o.bolt, err = store.OpenBoltStore(sc.Bolt.Path, store.WithBoltBucket(sc.Bolt.Bucket))
		o.Store = o.bolt

	case config.DriverPostgres:
		var pg *store.PostgresStore
		pg, err = store.ConnectPostgres(ctx, sc.Postgres.URL, store.WithPostgresTable(sc.Postgres.Table))
		if err == nil {
			if err = pg.EnsureSchema(ctx); err != nil {
				pg.Close()
			}
		}
		o.Store = pg

	case config.DriverRedis:
		o.Store = store.NewRedisStore(o.redis,
			store.WithRedisPrefix(sc.Redis.Prefix),
			store.WithRedisTTL(sc.Redis.TTL))

	case config.DriverS3:
		o.Store = store.NewS3Store(newS3Client(sc.S3), sc.S3.Bucket, sc.S3.Prefix).WithMaxSize(sc.S3.MaxSize)

	default:
		err = errors.New("D103").WithDetailf("store.driver is %q", sc.Driver)
	}
	if err != nil {
		if o.redis != nil {
			o.redis.Close()
		}
		return nil, errors.FromError(err, "D201").WithDetailf("driver %s", sc.Driver)
	}

	if sc.Notify {
		notifier := store.NewRedisNotifier(o.redis).WithChannel(sc.Redis.Channel)
		o.Store = store.NewNotifyingStore(o.Store, notifier, logger)
	}
	return o, nil
}

// newS3Client builds a client from the s3 section, with credentials taken
// from the standard AWS_* environment variables.
func newS3Client(c config.S3Config) *s3.Client {
	opts := s3.Options{
		Region: c.Region,
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
				SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
				SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
				Source:          "environment",
			}, nil
		}),
	}
	if opts.Region == "" {
		opts.Region = os.Getenv("AWS_REGION")
	}
	if c.Endpoint != "" {
		opts.BaseEndpoint = aws.String(c.Endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}
