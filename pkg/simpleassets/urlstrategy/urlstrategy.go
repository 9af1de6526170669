package urlstrategy

import (
	"fmt"
	"strings"
)

// URLStrategy turns a storage key into the externally resolvable URL stored
// on an asset
type URLStrategy interface {
	PublicURL(storageKey string) string
}

// CDNStrategy generates URLs that point directly at a CDN or public bucket
type CDNStrategy struct {
	CDNBaseURL string // e.g., "https://cdn.example.com"
}

// NewCDNStrategy creates a new CDN URL strategy. An empty base yields the
// bare storage key.
func NewCDNStrategy(cdnBaseURL string) *CDNStrategy {
	return &CDNStrategy{CDNBaseURL: strings.TrimSuffix(cdnBaseURL, "/")}
}

func (s *CDNStrategy) PublicURL(storageKey string) string {
	key := strings.TrimPrefix(storageKey, "/")
	if s.CDNBaseURL == "" {
		return key
	}
	return fmt.Sprintf("%s/%s", s.CDNBaseURL, key)
}

// BucketStrategy builds virtual-host style bucket URLs, e.g.
// https://storage.googleapis.com/{bucket}/{key}
type BucketStrategy struct {
	Endpoint string
	Bucket   string
}

func NewBucketStrategy(endpoint, bucket string) *BucketStrategy {
	return &BucketStrategy{Endpoint: strings.TrimSuffix(endpoint, "/"), Bucket: bucket}
}

func (s *BucketStrategy) PublicURL(storageKey string) string {
	return fmt.Sprintf("%s/%s/%s", s.Endpoint, s.Bucket, strings.TrimPrefix(storageKey, "/"))
}

// URLStrategyType represents the type of URL strategy
type URLStrategyType string

const (
	StrategyTypeCDN    URLStrategyType = "cdn"
	StrategyTypeBucket URLStrategyType = "bucket"
)

// Config holds configuration for URL strategy creation
type Config struct {
	Type       URLStrategyType
	CDNBaseURL string
	Endpoint   string
	Bucket     string
}

// NewURLStrategy creates a URL strategy based on the configuration
func NewURLStrategy(config Config) (URLStrategy, error) {
	switch config.Type {
	case StrategyTypeCDN, "":
		return NewCDNStrategy(config.CDNBaseURL), nil
	case StrategyTypeBucket:
		if config.Endpoint == "" || config.Bucket == "" {
			return nil, fmt.Errorf("endpoint and bucket are required for bucket strategy")
		}
		return NewBucketStrategy(config.Endpoint, config.Bucket), nil
	default:
		return nil, fmt.Errorf("unknown URL strategy type: %s", config.Type)
	}
}
