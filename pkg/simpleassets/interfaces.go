package simpleassets

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BlobStore persists asset bytes under opaque keys.
type BlobStore interface {
	// Put writes data under key, overwriting any existing blob
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Delete removes the blob. Deleting an absent key either succeeds or
	// returns ErrBlobNotFound (possibly wrapped); callers treat both as done.
	Delete(ctx context.Context, key string) error
}

// Repository is the durable metadata store for assets.
type Repository interface {
	// Create persists a new asset record
	Create(ctx context.Context, asset *Asset) error

	// CreateIfUnderLimit persists asset only when the owner holds fewer than
	// limit assets of the same type. It returns ErrQuotaExceeded otherwise.
	CreateIfUnderLimit(ctx context.Context, asset *Asset, limit int) error

	CountByOwnerAndType(ctx context.Context, owner OwnerRef, assetType AssetType) (int, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Asset, error)
	FindByOwner(ctx context.Context, owner OwnerRef) ([]*Asset, error)
	ListByOwnerAndType(ctx context.Context, owner OwnerRef, assetType AssetType) ([]*Asset, error)
	UpdateName(ctx context.Context, id uuid.UUID, name string) error

	// DeleteByID removes one record. Deleting an absent record is not an error.
	DeleteByID(ctx context.Context, id uuid.UUID) error

	// DeleteByOwnerAndType removes every record of the type and returns how many went
	DeleteByOwnerAndType(ctx context.Context, owner OwnerRef, assetType AssetType) (int, error)
}

// ReferenceChecker finds entities that still point at an asset.
type ReferenceChecker interface {
	ReferencingEntities(ctx context.Context, assetID uuid.UUID) ([]Reference, error)
}

// MembershipChecker answers whether a user belongs to a team.
type MembershipChecker interface {
	IsMember(ctx context.Context, teamID, userID string) (bool, error)
}

// ImageValidator checks that a caller-supplied link resolves to an image.
type ImageValidator interface {
	ValidateImageURL(ctx context.Context, url string) error
}

// LockBackend is the primitive behind LockCoordinator. Implementations must
// make TryAcquire atomic across processes and Release a compare-and-delete on
// the token.
type LockBackend interface {
	// TryAcquire makes one attempt. It returns false with a nil error when the
	// key is held by another token.
	TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Release removes the key only if it still holds token. A missing key or a
	// different token is not an error.
	Release(ctx context.Context, key, token string) error
}

// LockExtender is implemented by lock backends that can push out the TTL of a
// held key. Extend reports false once token no longer owns key.
type LockExtender interface {
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
}

// EventSink receives best-effort lifecycle notifications.
type EventSink interface {
	// AssetCreated is fired after a create commits
	AssetCreated(ctx context.Context, asset *Asset) error

	// AssetDeleted is fired after an asset's metadata is removed
	AssetDeleted(ctx context.Context, asset *Asset) error
}

// ObjectKeyGenerator derives storage keys for new blobs.
type ObjectKeyGenerator interface {
	GenerateKey(ownerID, assetType, extension string) string
}

// URLStrategy turns a storage key into the public URL of an asset.
type URLStrategy interface {
	PublicURL(storageKey string) string
}
