// Package simpleassets manages ownership-scoped binary assets (logos,
// thumbnails, template images) under per-owner quotas.
//
// A single Service coordinates two independently failing backends: an asset
// Repository holding metadata and a BlobStore holding the bytes. Mutating
// operations for one owner are linearized by a LockCoordinator so that quota
// checks and single-slot replacement stay correct under concurrent requests,
// while different owners proceed in parallel.
//
// Quota rules are produced by a QuotaEvaluator as one of four policies
// (Unlimited, Counted, SingleSlot, LinkOnly) and carried through the create
// state machine:
//
//	Validating -> LockAcquired -> PolicyEvaluated -> MetadataPersisted -> BlobUploaded -> Committed
//
// Metadata and blob writes cannot commit atomically together. A failed upload
// is compensated by deleting the freshly created metadata row; a blob delete
// that keeps failing leaves the metadata in place so the asset stays visible
// and can be deleted again later.
//
// Implementations of repositories (memory, Postgres), blob stores (memory,
// filesystem, S3, GCS) and lock backends (memory, Redis) live in subpackages.
package simpleassets
