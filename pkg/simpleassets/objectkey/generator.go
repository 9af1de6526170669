package objectkey

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator defines the interface for storage key generation strategies
type Generator interface {
	// GenerateKey creates a storage key for a new asset blob. extension
	// includes the leading dot and may be empty.
	GenerateKey(ownerID, assetType, extension string) string
}

// RandomNameGenerator places blobs under the owner's prefix:
// {ownerID}/asset_{assetType}-{ownerID}__{random}{ext}
type RandomNameGenerator struct {
	// Random returns the unique component. Defaults to a dashless UUID.
	Random func() string
}

func NewRandomNameGenerator() *RandomNameGenerator {
	return &RandomNameGenerator{Random: randomHex}
}

func (g *RandomNameGenerator) GenerateKey(ownerID, assetType, extension string) string {
	owner := sanitizePathComponent(ownerID)
	return fmt.Sprintf("%s/asset_%s-%s__%s%s",
		owner, sanitizePathComponent(assetType), owner, g.Random(), normalizeExtension(extension))
}

// ShardedGenerator spreads blobs over two-level prefixes for stores that
// dislike wide directories:
// assets/{assetType}/{shard}/{random}{ext}
type ShardedGenerator struct {
	// ShardLength controls how many characters to use for sharding (default: 2)
	ShardLength int
}

func NewShardedGenerator() *ShardedGenerator {
	return &ShardedGenerator{ShardLength: 2}
}

func (g *ShardedGenerator) GenerateKey(ownerID, assetType, extension string) string {
	id := randomHex()
	n := g.ShardLength
	if n <= 0 || n > len(id) {
		n = 2
	}
	return fmt.Sprintf("assets/%s/%s/%s%s",
		sanitizePathComponent(assetType), id[:n], id[n:], normalizeExtension(extension))
}

// CustomFuncGenerator allows users to provide their own key generation function
type CustomFuncGenerator struct {
	GenerateFunc func(ownerID, assetType, extension string) string
}

func NewCustomFuncGenerator(fn func(ownerID, assetType, extension string) string) *CustomFuncGenerator {
	return &CustomFuncGenerator{GenerateFunc: fn}
}

func (g *CustomFuncGenerator) GenerateKey(ownerID, assetType, extension string) string {
	return g.GenerateFunc(ownerID, assetType, extension)
}

func randomHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func normalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return sanitizePathComponent(ext)
}

func sanitizePathComponent(component string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	return replacer.Replace(component)
}
