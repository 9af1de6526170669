package simpleassets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrValidation indicates a malformed request
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized indicates the acting user may not act for the owner
	ErrUnauthorized = errors.New("unauthorized")

	// ErrQuotaExceeded indicates the owner's allowance for an asset type is used up
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrLockAcquisition indicates the owner lock could not be obtained
	ErrLockAcquisition = errors.New("lock acquisition failed")

	// ErrLockRelease indicates the owner lock could not be released
	ErrLockRelease = errors.New("lock release failed")

	// ErrLockHeld is returned by lock backends when the key is owned by someone else
	ErrLockHeld = errors.New("lock held by another holder")

	// ErrBlobOperation indicates a blob store write or delete failed
	ErrBlobOperation = errors.New("blob operation failed")

	// ErrBlobNotFound is returned by blob stores deleting an absent key
	ErrBlobNotFound = errors.New("blob not found")

	// ErrReferenceConflict indicates other entities still reference the asset
	ErrReferenceConflict = errors.New("asset is referenced")

	// ErrAssetNotFound indicates an asset was not found
	ErrAssetNotFound = errors.New("asset not found")
)

// ValidationError describes a malformed field of a request
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// AuthorizationError is returned when the acting user is neither the owning
// user nor a member of the owning team
type AuthorizationError struct {
	Owner        OwnerRef
	ActingUserID string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %s is not allowed to manage assets of %s", e.ActingUserID, e.Owner)
}

func (e *AuthorizationError) Unwrap() error {
	return ErrUnauthorized
}

// QuotaExceededError reports the limit that rejected a create
type QuotaExceededError struct {
	Owner     OwnerRef
	AssetType AssetType
	Limit     int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s reached the limit of %d %s asset(s)", e.Owner, e.Limit, e.AssetType)
}

func (e *QuotaExceededError) Unwrap() error {
	return ErrQuotaExceeded
}

// LockError represents a failed lock acquire or release
type LockError struct {
	Key      string
	Op       string
	Attempts int
	Err      error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("lock %s failed for key %s after %d attempt(s): %v", e.Op, e.Key, e.Attempts, e.Err)
}

// Unwrap exposes both the operation sentinel and the underlying cause.
func (e *LockError) Unwrap() []error {
	sentinel := ErrLockAcquisition
	if e.Op == "release" {
		sentinel = ErrLockRelease
	}
	return []error{sentinel, e.Err}
}

// BlobError represents a blob store operation that failed after retries
type BlobError struct {
	Key      string
	Op       string
	Attempts int
	Err      error
}

func (e *BlobError) Error() string {
	return fmt.Sprintf("blob %s failed for key %s after %d attempt(s): %v", e.Op, e.Key, e.Attempts, e.Err)
}

func (e *BlobError) Unwrap() []error {
	return []error{ErrBlobOperation, e.Err}
}

// ReferenceConflictError lists the entities blocking a delete
type ReferenceConflictError struct {
	AssetID    uuid.UUID
	References []Reference
}

func (e *ReferenceConflictError) Error() string {
	kinds := make(map[string]int)
	var order []string
	for _, r := range e.References {
		if _, ok := kinds[r.Kind]; !ok {
			order = append(order, r.Kind)
		}
		kinds[r.Kind]++
	}
	parts := make([]string, 0, len(order))
	for _, k := range order {
		parts = append(parts, fmt.Sprintf("%d %s(s)", kinds[k], k))
	}
	return fmt.Sprintf("asset %s is associated with %s", e.AssetID, strings.Join(parts, ", "))
}

func (e *ReferenceConflictError) Unwrap() error {
	return ErrReferenceConflict
}

// AssetError represents an error related to a specific asset
type AssetError struct {
	AssetID uuid.UUID
	Op      string
	Err     error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("asset operation %s failed for asset %s: %v", e.Op, e.AssetID, e.Err)
}

func (e *AssetError) Unwrap() error {
	return e.Err
}

// RetryError is returned by RetryPolicy.Do once every attempt failed
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("gave up after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}
