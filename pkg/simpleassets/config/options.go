package config

import (
	"fmt"
	"time"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the database backend
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		if dbType != "memory" && dbType != "postgres" {
			return fmt.Errorf("database type must be 'memory' or 'postgres', got: %s", dbType)
		}
		if dbType == "postgres" && url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithMemoryStorage keeps blobs in process memory
func WithMemoryStorage() Option {
	return func(c *ServerConfig) error {
		c.Storage = StorageConfig{Type: "memory"}
		return nil
	}
}

// WithFilesystemStorage stores blobs under baseDir
func WithFilesystemStorage(baseDir string) Option {
	return func(c *ServerConfig) error {
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.Storage = StorageConfig{Type: "fs", BaseDir: baseDir}
		return nil
	}
}

// WithS3Storage stores blobs in an S3 bucket
func WithS3Storage(bucket, region string) Option {
	return func(c *ServerConfig) error {
		if bucket == "" {
			return fmt.Errorf("S3 bucket name cannot be empty")
		}
		c.Storage = StorageConfig{Type: "s3", Bucket: bucket, Region: region}
		return nil
	}
}

// WithS3Endpoint points S3 storage at a compatible service such as MinIO
func WithS3Endpoint(endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		if c.Storage.Type != "s3" {
			return fmt.Errorf("S3 endpoint requires s3 storage, got: %s", c.Storage.Type)
		}
		c.Storage.Endpoint = endpoint
		c.Storage.UsePathStyle = usePathStyle
		return nil
	}
}

// WithGCSStorage stores blobs in a Google Cloud Storage bucket
func WithGCSStorage(bucket, prefix string) Option {
	return func(c *ServerConfig) error {
		if bucket == "" {
			return fmt.Errorf("GCS bucket name cannot be empty")
		}
		c.Storage = StorageConfig{Type: "gcs", Bucket: bucket, Prefix: prefix}
		return nil
	}
}

// WithRedisLocks coordinates through redis at url
func WithRedisLocks(url string) Option {
	return func(c *ServerConfig) error {
		if url == "" {
			return fmt.Errorf("redis lock URL cannot be empty")
		}
		c.LockType = "redis"
		c.LockURL = url
		return nil
	}
}

// WithEventsChannel publishes lifecycle events on a redis channel
func WithEventsChannel(channel string) Option {
	return func(c *ServerConfig) error {
		c.EventsChannel = channel
		return nil
	}
}

// WithLockTiming overrides the lock TTL and retry schedule
func WithLockTiming(ttl time.Duration, maxRetries int, retryDelay time.Duration) Option {
	return func(c *ServerConfig) error {
		c.LockTTL = ttl
		c.LockMaxRetries = maxRetries
		c.LockRetryDelay = retryDelay
		return nil
	}
}

// WithBlobRetry overrides the storage retry schedule
func WithBlobRetry(maxAttempts int, delay time.Duration) Option {
	return func(c *ServerConfig) error {
		c.BlobMaxAttempts = maxAttempts
		c.BlobRetryDelay = delay
		return nil
	}
}

// WithCDNBaseURL sets the prefix for asset URLs
func WithCDNBaseURL(base string) Option {
	return func(c *ServerConfig) error {
		c.CDNBaseURL = base
		return nil
	}
}

// WithDefaultAssetAllowance sets the counted-type limit used when a plan
// carries no explicit allowance
func WithDefaultAssetAllowance(n int) Option {
	return func(c *ServerConfig) error {
		c.DefaultAssetAllowance = n
		return nil
	}
}
