package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// WithEnv applies environment variable overrides using the provided prefix.
//
// Database:
//
//	DATABASE_URL - "memory" (default) or "postgres://..." / "postgresql://..."
//	DB_SCHEMA    - Postgres schema (default: "assets")
//
// Storage:
//
//	STORAGE_URL - one of
//	              "memory://" (default)
//	              "file:///path/to/data"
//	              "s3://bucket?region=us-east-1&endpoint=http://localhost:9000"
//	              "gs://bucket/prefix"
//
// Locks and events:
//
//	LOCK_URL         - "memory://" (default) or "redis://host:port/db"
//	EVENTS_CHANNEL   - redis channel for lifecycle events (requires redis LOCK_URL)
//	LOCK_TTL         - duration, default 20s
//	LOCK_MAX_RETRIES - default 190
//	LOCK_RETRY_DELAY - duration, default 100ms
//
// Storage retries and quota:
//
//	BLOB_MAX_ATTEMPTS       - default 4
//	BLOB_RETRY_DELAY        - duration, default 100ms
//	CDN_BASE_URL            - prefix for asset URLs
//	DEFAULT_ASSET_ALLOWANCE - counted-type limit when a plan has none, default 3
func WithEnv(prefix string) Option {
	return func(c *ServerConfig) error {
		if v, ok := lookupEnv(prefix, "PORT"); ok && v != "" {
			c.Port = v
		}
		if v, ok := lookupEnv(prefix, "ENVIRONMENT"); ok && v != "" {
			c.Environment = v
		}

		if err := applyDatabaseEnv(prefix, c); err != nil {
			return err
		}
		if err := applyStorageEnv(prefix, c); err != nil {
			return err
		}
		if err := applyLockEnv(prefix, c); err != nil {
			return err
		}

		if v, ok := lookupEnv(prefix, "EVENTS_CHANNEL"); ok {
			c.EventsChannel = v
		}
		if v, ok := lookupEnv(prefix, "CDN_BASE_URL"); ok {
			c.CDNBaseURL = v
		}

		if n, ok, err := parseIntEnv(prefix, "BLOB_MAX_ATTEMPTS"); err != nil {
			return err
		} else if ok {
			c.BlobMaxAttempts = n
		}
		if d, ok, err := parseDurationEnv(prefix, "BLOB_RETRY_DELAY"); err != nil {
			return err
		} else if ok {
			c.BlobRetryDelay = d
		}
		if n, ok, err := parseIntEnv(prefix, "DEFAULT_ASSET_ALLOWANCE"); err != nil {
			return err
		} else if ok {
			c.DefaultAssetAllowance = n
		}
		if b, ok, err := parseBoolEnv(prefix, "MIGRATE_ON_START"); err != nil {
			return err
		} else if ok {
			c.MigrateOnStart = b
		}

		return nil
	}
}

// applyDatabaseEnv applies database configuration from environment
func applyDatabaseEnv(prefix string, c *ServerConfig) error {
	if v, ok := lookupEnv(prefix, "DB_SCHEMA"); ok && v != "" {
		c.DBSchema = v
	}

	dbURL, hasURL := lookupEnv(prefix, "DATABASE_URL")
	if !hasURL || dbURL == "" || dbURL == "memory" {
		c.DatabaseType = "memory"
		c.DatabaseURL = ""
		return nil
	}

	if strings.HasPrefix(dbURL, "postgresql://") || strings.HasPrefix(dbURL, "postgres://") {
		c.DatabaseType = "postgres"
		c.DatabaseURL = dbURL
		return nil
	}

	return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory' or 'postgresql://...')", dbURL)
}

// applyStorageEnv applies storage configuration from environment
func applyStorageEnv(prefix string, c *ServerConfig) error {
	storageURL, hasURL := lookupEnv(prefix, "STORAGE_URL")
	if !hasURL || storageURL == "" || storageURL == "memory" || storageURL == "memory://" {
		c.Storage = StorageConfig{Type: "memory"}
		return nil
	}

	u, err := url.Parse(storageURL)
	if err != nil {
		return fmt.Errorf("invalid STORAGE_URL: %w", err)
	}

	switch u.Scheme {
	case "file":
		if u.Path == "" {
			return fmt.Errorf("filesystem path cannot be empty in STORAGE_URL")
		}
		c.Storage = StorageConfig{Type: "fs", BaseDir: u.Path}

	case "s3":
		if u.Host == "" {
			return fmt.Errorf("S3 bucket name cannot be empty in STORAGE_URL")
		}
		q := u.Query()
		sc := StorageConfig{
			Type:         "s3",
			Bucket:       u.Host,
			Region:       q.Get("region"),
			Endpoint:     q.Get("endpoint"),
			CreateBucket: q.Get("create_bucket") == "true",
		}
		// Custom endpoints are almost always MinIO, which needs path-style
		sc.UsePathStyle = sc.Endpoint != ""
		if v := q.Get("path_style"); v != "" {
			sc.UsePathStyle = v == "true"
		}
		if sc.Region == "" {
			if region, ok := os.LookupEnv("AWS_REGION"); ok && region != "" {
				sc.Region = region
			} else {
				sc.Region = "us-east-1"
			}
		}
		if accessKey, ok := os.LookupEnv("AWS_ACCESS_KEY_ID"); ok && accessKey != "" {
			sc.AccessKeyID = accessKey
		}
		if secretKey, ok := os.LookupEnv("AWS_SECRET_ACCESS_KEY"); ok && secretKey != "" {
			sc.SecretAccessKey = secretKey
		}
		c.Storage = sc

	case "gs", "gcs":
		if u.Host == "" {
			return fmt.Errorf("GCS bucket name cannot be empty in STORAGE_URL")
		}
		sc := StorageConfig{
			Type:     "gcs",
			Bucket:   u.Host,
			Prefix:   strings.TrimPrefix(u.Path, "/"),
			Endpoint: u.Query().Get("endpoint"),
		}
		if creds, ok := os.LookupEnv("GOOGLE_APPLICATION_CREDENTIALS"); ok {
			sc.CredentialsFile = creds
		}
		c.Storage = sc

	default:
		return fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', 's3://...' or 'gs://...')", storageURL)
	}

	if v, ok := lookupEnv(prefix, "STORAGE_CACHE_CONTROL"); ok {
		c.Storage.CacheControl = v
	}
	return nil
}

// applyLockEnv applies lock backend configuration from environment
func applyLockEnv(prefix string, c *ServerConfig) error {
	lockURL, hasURL := lookupEnv(prefix, "LOCK_URL")
	switch {
	case !hasURL || lockURL == "" || lockURL == "memory" || lockURL == "memory://":
		c.LockType = "memory"
		c.LockURL = ""
	case strings.HasPrefix(lockURL, "redis://") || strings.HasPrefix(lockURL, "rediss://"):
		c.LockType = "redis"
		c.LockURL = lockURL
	default:
		return fmt.Errorf("unsupported LOCK_URL format: %s (use 'memory://' or 'redis://...')", lockURL)
	}

	if d, ok, err := parseDurationEnv(prefix, "LOCK_TTL"); err != nil {
		return err
	} else if ok {
		c.LockTTL = d
	}
	if n, ok, err := parseIntEnv(prefix, "LOCK_MAX_RETRIES"); err != nil {
		return err
	} else if ok {
		c.LockMaxRetries = n
	}
	if d, ok, err := parseDurationEnv(prefix, "LOCK_RETRY_DELAY"); err != nil {
		return err
	} else if ok {
		c.LockRetryDelay = d
	}
	return nil
}

func lookupEnv(prefix, key string) (string, bool) {
	return os.LookupEnv(prefix + key)
}

func parseBoolEnv(prefix, key string) (bool, bool, error) {
	raw, ok := lookupEnv(prefix, key)
	if !ok || raw == "" {
		return false, false, nil
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("invalid boolean for %s%s: %w", prefix, key, err)
	}
	return parsed, true, nil
}

func parseIntEnv(prefix, key string) (int, bool, error) {
	raw, ok := lookupEnv(prefix, key)
	if !ok || raw == "" {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid integer for %s%s: %w", prefix, key, err)
	}
	return parsed, true, nil
}

func parseDurationEnv(prefix, key string) (time.Duration, bool, error) {
	raw, ok := lookupEnv(prefix, key)
	if !ok || raw == "" {
		return 0, false, nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid duration for %s%s: %w", prefix, key, err)
	}
	return parsed, true, nil
}
