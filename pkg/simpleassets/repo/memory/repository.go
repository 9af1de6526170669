package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-assets/pkg/simpleassets"
)

// Repository implements simpleassets.Repository using in-memory storage
type Repository struct {
	mu     sync.RWMutex
	assets map[uuid.UUID]*simpleassets.Asset
	keys   map[string]uuid.UUID // storage_key -> asset_id
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		assets: make(map[uuid.UUID]*simpleassets.Asset),
		keys:   make(map[string]uuid.UUID),
	}
}

func (r *Repository) Create(ctx context.Context, asset *simpleassets.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.insertLocked(asset)
}

// CreateIfUnderLimit counts and inserts under the write lock, so the check
// and the insert cannot interleave with another create.
func (r *Repository) CreateIfUnderLimit(ctx context.Context, asset *simpleassets.Asset, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.countLocked(asset.Owner, asset.Type) >= limit {
		return simpleassets.ErrQuotaExceeded
	}
	return r.insertLocked(asset)
}

func (r *Repository) insertLocked(asset *simpleassets.Asset) error {
	if _, exists := r.assets[asset.ID]; exists {
		return fmt.Errorf("asset %s already exists", asset.ID)
	}
	if asset.StorageKey != "" {
		if _, taken := r.keys[asset.StorageKey]; taken {
			return fmt.Errorf("storage key %s already in use", asset.StorageKey)
		}
		r.keys[asset.StorageKey] = asset.ID
	}

	// Create a copy to avoid external modifications
	assetCopy := *asset
	r.assets[asset.ID] = &assetCopy
	return nil
}

func (r *Repository) CountByOwnerAndType(ctx context.Context, owner simpleassets.OwnerRef, assetType simpleassets.AssetType) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.countLocked(owner, assetType), nil
}

func (r *Repository) countLocked(owner simpleassets.OwnerRef, assetType simpleassets.AssetType) int {
	n := 0
	for _, a := range r.assets {
		if a.Owner == owner && a.Type == assetType {
			n++
		}
	}
	return n
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*simpleassets.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	asset, exists := r.assets[id]
	if !exists {
		return nil, simpleassets.ErrAssetNotFound
	}
	assetCopy := *asset
	return &assetCopy, nil
}

func (r *Repository) FindByOwner(ctx context.Context, owner simpleassets.OwnerRef) ([]*simpleassets.Asset, error) {
	return r.filter(func(a *simpleassets.Asset) bool {
		return a.Owner == owner
	}), nil
}

func (r *Repository) ListByOwnerAndType(ctx context.Context, owner simpleassets.OwnerRef, assetType simpleassets.AssetType) ([]*simpleassets.Asset, error) {
	return r.filter(func(a *simpleassets.Asset) bool {
		return a.Owner == owner && a.Type == assetType
	}), nil
}

func (r *Repository) UpdateName(ctx context.Context, id uuid.UUID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	asset, exists := r.assets[id]
	if !exists {
		return simpleassets.ErrAssetNotFound
	}
	asset.Name = name
	asset.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *Repository) DeleteByID(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deleteLocked(id)
	return nil
}

func (r *Repository) DeleteByOwnerAndType(ctx context.Context, owner simpleassets.OwnerRef, assetType simpleassets.AssetType) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, a := range r.assets {
		if a.Owner == owner && a.Type == assetType {
			r.deleteLocked(id)
			n++
		}
	}
	return n, nil
}

func (r *Repository) deleteLocked(id uuid.UUID) {
	asset, exists := r.assets[id]
	if !exists {
		return
	}
	if asset.StorageKey != "" {
		delete(r.keys, asset.StorageKey)
	}
	delete(r.assets, id)
}

// filter returns copies sorted by created_at ascending, then id
func (r *Repository) filter(match func(*simpleassets.Asset) bool) []*simpleassets.Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*simpleassets.Asset
	for _, a := range r.assets {
		if match(a) {
			assetCopy := *a
			result = append(result, &assetCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result
}
