package simpleassets

import (
	"context"

	"github.com/google/uuid"
)

// Service is the asset lifecycle manager. Mutating operations for one owner
// are serialized by the owner lock; reads take no lock.
type Service interface {
	// CreateAsset validates, takes the owner lock, applies the quota policy
	// and persists metadata then blob. A single-slot create supersedes the
	// prior asset unless something still references it.
	CreateAsset(ctx context.Context, req CreateAssetRequest) (*Asset, error)

	// DeleteAsset removes an unreferenced asset. The metadata row survives a
	// blob delete that keeps failing.
	DeleteAsset(ctx context.Context, assetID uuid.UUID, owner OwnerRef, actingUserID string) error

	// ReplaceAsset deletes the prior asset of the type and creates the new one
	// under a single lock acquisition. Validation, quota and reference checks
	// and the new upload all happen before the prior asset is removed, so a
	// rejected replace leaves it in place.
	ReplaceAsset(ctx context.Context, req ReplaceAssetRequest) (*Asset, error)

	// ListAssets returns the owner's assets ordered by creation time
	ListAssets(ctx context.Context, owner OwnerRef) ([]*Asset, error)

	// ListVisibleAssets merges a user's own assets with those of teamID.
	// An empty teamID lists the user's assets only.
	ListVisibleAssets(ctx context.Context, userID, teamID string) ([]*Asset, error)

	GetAsset(ctx context.Context, assetID uuid.UUID, owner OwnerRef, actingUserID string) (*Asset, error)
	RenameAsset(ctx context.Context, assetID uuid.UUID, owner OwnerRef, actingUserID, name string) (*Asset, error)
}
