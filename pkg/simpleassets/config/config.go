package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-assets/pkg/simpleassets"
	redisevents "github.com/tendant/simple-assets/pkg/simpleassets/events/redis"
	"github.com/tendant/simple-assets/pkg/simpleassets/imageurl"
	memorylock "github.com/tendant/simple-assets/pkg/simpleassets/lock/memory"
	redislock "github.com/tendant/simple-assets/pkg/simpleassets/lock/redis"
	"github.com/tendant/simple-assets/pkg/simpleassets/repo/memory"
	repopg "github.com/tendant/simple-assets/pkg/simpleassets/repo/postgres"
	fsstorage "github.com/tendant/simple-assets/pkg/simpleassets/storage/fs"
	gcsstorage "github.com/tendant/simple-assets/pkg/simpleassets/storage/gcs"
	memorystorage "github.com/tendant/simple-assets/pkg/simpleassets/storage/memory"
	s3storage "github.com/tendant/simple-assets/pkg/simpleassets/storage/s3"
	"github.com/tendant/simple-assets/pkg/simpleassets/urlstrategy"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	lock := simpleassets.DefaultLockOptions()
	blob := simpleassets.DefaultBlobRetry()
	return ServerConfig{
		Port:                  "8080",
		Environment:           "development",
		DatabaseType:          "memory",
		DBSchema:              "assets",
		Storage:               StorageConfig{Type: "memory"},
		LockType:              "memory",
		LockTTL:               lock.TTL,
		LockMaxRetries:        lock.MaxRetries,
		LockRetryDelay:        lock.RetryDelay,
		BlobMaxAttempts:       blob.MaxAttempts,
		BlobRetryDelay:        blob.Delay,
		DefaultAssetAllowance: simpleassets.DefaultAssetAllowance,
		ImageCheckTimeout:     10 * time.Second,
		MigrateOnStart:        true,
	}
}

// ServerConfig represents configuration for the asset coordinator and its
// backing services
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL    string
	DatabaseType   string // "memory", "postgres"
	DBSchema       string // Postgres schema to use (default: assets)
	MigrateOnStart bool   // Apply the asset schema when the pool is created

	// Blob storage
	Storage StorageConfig

	// Lock backend
	LockType       string // "memory", "redis"
	LockURL        string // redis://host:port/db when LockType is redis
	LockTTL        time.Duration
	LockMaxRetries int
	LockRetryDelay time.Duration

	// EventsChannel publishes lifecycle events over the lock redis when set
	EventsChannel string

	BlobMaxAttempts int
	BlobRetryDelay  time.Duration

	CDNBaseURL            string
	DefaultAssetAllowance int
	ImageCheckTimeout     time.Duration
}

// StorageConfig selects and configures the blob store
type StorageConfig struct {
	Type string // "memory", "fs", "s3", "gcs"

	BaseDir string // fs

	Bucket          string // s3, gcs
	Prefix          string // gcs
	Region          string // s3
	Endpoint        string // s3, gcs emulator
	AccessKeyID     string // s3
	SecretAccessKey string // s3
	UsePathStyle    bool   // s3
	CreateBucket    bool   // s3
	CredentialsFile string // gcs
	CacheControl    string
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}
	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	switch c.Storage.Type {
	case "memory":
	case "fs":
		if c.Storage.BaseDir == "" {
			return errors.New("storage base_dir is required for fs storage")
		}
	case "s3", "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage bucket is required for %s storage", c.Storage.Type)
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	switch c.LockType {
	case "memory":
		if c.EventsChannel != "" {
			return errors.New("events_channel requires a redis lock_url")
		}
	case "redis":
		if c.LockURL == "" {
			return errors.New("lock_url is required when using redis locks")
		}
	default:
		return fmt.Errorf("unsupported lock type: %s", c.LockType)
	}

	if c.LockTTL <= 0 {
		return errors.New("lock_ttl must be positive")
	}
	if c.LockMaxRetries < 0 {
		return errors.New("lock_max_retries cannot be negative")
	}
	if c.LockRetryDelay < 0 || c.BlobRetryDelay < 0 {
		return errors.New("retry delays cannot be negative")
	}
	if c.BlobMaxAttempts < 1 {
		return errors.New("blob_max_attempts must be at least 1")
	}
	if c.DefaultAssetAllowance < 0 {
		return errors.New("default_asset_allowance cannot be negative")
	}

	return nil
}

// LockOptions returns the lock coordinator settings. Held locks are renewed
// every third of the TTL.
func (c *ServerConfig) LockOptions() simpleassets.LockOptions {
	return simpleassets.LockOptions{
		TTL:        c.LockTTL,
		MaxRetries: c.LockMaxRetries,
		RetryDelay: c.LockRetryDelay,
		Refresh:    c.LockTTL / 3,
	}
}

// Runtime holds a built service together with the resources it owns.
type Runtime struct {
	Service    simpleassets.Service
	Repository simpleassets.Repository

	closers []func()
	checks  map[string]func(context.Context) error
}

// Ping checks every network dependency the runtime holds (database pool and
// redis lock client). The in-memory backends have nothing to check.
func (r *Runtime) Ping(ctx context.Context) error {
	for name, check := range r.checks {
		if err := check(ctx); err != nil {
			return fmt.Errorf("%s unreachable: %w", name, err)
		}
	}
	return nil
}

func (r *Runtime) addCheck(name string, check func(context.Context) error) {
	if r.checks == nil {
		r.checks = make(map[string]func(context.Context) error)
	}
	r.checks[name] = check
}

// Close releases pools and clients in reverse construction order.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// Build constructs every dependency of the service explicitly. Options in
// extra are applied after the configured ones.
func (c *ServerConfig) Build(ctx context.Context, extra ...simpleassets.Option) (*Runtime, error) {
	rt := &Runtime{}
	fail := func(err error) (*Runtime, error) {
		rt.Close()
		return nil, err
	}

	options := []simpleassets.Option{
		simpleassets.WithLockOptions(c.LockOptions()),
		simpleassets.WithBlobRetry(simpleassets.FixedRetry(c.BlobMaxAttempts, c.BlobRetryDelay)),
		simpleassets.WithURLStrategy(urlstrategy.NewCDNStrategy(c.CDNBaseURL)),
		simpleassets.WithImageValidator(imageurl.New(imageurl.WithTimeout(c.ImageCheckTimeout))),
	}

	evaluator := simpleassets.NewQuotaEvaluator()
	evaluator.DefaultAllowance = c.DefaultAssetAllowance
	options = append(options, simpleassets.WithQuotaEvaluator(evaluator))

	// Repository, references and team membership
	switch c.DatabaseType {
	case "memory":
		rt.Repository = memory.New()
		options = append(options,
			simpleassets.WithReferenceChecker(memory.NewReferences()),
			simpleassets.WithMembershipChecker(memory.NewTeams()))
	case "postgres":
		pool, err := c.buildPool(ctx)
		if err != nil {
			return fail(err)
		}
		rt.closers = append(rt.closers, pool.Close)
		rt.addCheck("database", pool.Ping)
		if c.MigrateOnStart {
			if err := repopg.Migrate(ctx, pool); err != nil {
				return fail(err)
			}
		}
		rt.Repository = repopg.NewWithPool(pool)
		options = append(options,
			simpleassets.WithReferenceChecker(repopg.NewScheduleReferences(pool)),
			simpleassets.WithMembershipChecker(repopg.NewTeamMembership(pool)))
	default:
		return fail(fmt.Errorf("unsupported database type: %s", c.DatabaseType))
	}
	options = append(options, simpleassets.WithRepository(rt.Repository))

	store, closeStore, err := c.buildBlobStore(ctx)
	if err != nil {
		return fail(fmt.Errorf("failed to build storage backend %s: %w", c.Storage.Type, err))
	}
	if closeStore != nil {
		rt.closers = append(rt.closers, closeStore)
	}
	options = append(options, simpleassets.WithBlobStore(store))

	// Lock backend, and the event sink sharing its redis client
	switch c.LockType {
	case "memory":
		options = append(options, simpleassets.WithLockBackend(memorylock.New()))
	case "redis":
		backend, err := redislock.NewFromURL(c.LockURL)
		if err != nil {
			return fail(err)
		}
		rt.closers = append(rt.closers, func() { _ = backend.Close() })
		rt.addCheck("redis", backend.Ping)
		options = append(options, simpleassets.WithLockBackend(backend))
		if c.EventsChannel != "" {
			options = append(options, simpleassets.WithEventSink(redisevents.New(backend.Client(), c.EventsChannel)))
		}
	default:
		return fail(fmt.Errorf("unsupported lock type: %s", c.LockType))
	}

	svc, err := simpleassets.New(append(options, extra...)...)
	if err != nil {
		return fail(err)
	}
	rt.Service = svc
	return rt, nil
}

// buildPool creates a pgx pool whose sessions use the configured schema
func (c *ServerConfig) buildPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema := c.DBSchema; schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if _, err := conn.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{schema}.Sanitize())); err != nil {
				return err
			}
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// buildBlobStore creates the BlobStore named by Storage.Type
func (c *ServerConfig) buildBlobStore(ctx context.Context) (simpleassets.BlobStore, func(), error) {
	sc := c.Storage
	switch sc.Type {
	case "memory":
		return memorystorage.New(), nil, nil

	case "fs":
		store, err := fsstorage.New(fsstorage.Config{BaseDir: sc.BaseDir})
		return store, nil, err

	case "s3":
		store, err := s3storage.New(s3storage.Config{
			Region:                 sc.Region,
			Bucket:                 sc.Bucket,
			AccessKeyID:            sc.AccessKeyID,
			SecretAccessKey:        sc.SecretAccessKey,
			Endpoint:               sc.Endpoint,
			UsePathStyle:           sc.UsePathStyle,
			CacheControl:           sc.CacheControl,
			CreateBucketIfNotExist: sc.CreateBucket,
		})
		return store, nil, err

	case "gcs":
		store, err := gcsstorage.New(ctx, gcsstorage.Config{
			Bucket:          sc.Bucket,
			Prefix:          sc.Prefix,
			CredentialsFile: sc.CredentialsFile,
			Endpoint:        sc.Endpoint,
			CacheControl:    sc.CacheControl,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage backend type: %s", sc.Type)
	}
}
