package simpleassets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/tendant/simple-assets/pkg/simpleassets/objectkey"
	"github.com/tendant/simple-assets/pkg/simpleassets/urlstrategy"
)

// service implements the Service interface
type service struct {
	repository  Repository
	blobStore   BlobStore
	lockBackend LockBackend
	locks       *LockCoordinator
	lockOptions LockOptions
	blobRetry   RetryPolicy
	evaluator   *QuotaEvaluator
	references  ReferenceChecker
	membership  MembershipChecker
	images      ImageValidator
	keys        ObjectKeyGenerator
	urls        URLStrategy
	eventSink   EventSink
	logger      *slog.Logger
	meter       metric.Meter
	metrics     *metrics
	now         func() time.Time
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the metadata repository
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore sets the blob store
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blobStore = store
	}
}

// WithLockBackend sets the distributed lock primitive
func WithLockBackend(backend LockBackend) Option {
	return func(s *service) {
		s.lockBackend = backend
	}
}

// WithLockOptions overrides lock TTL and polling
func WithLockOptions(opts LockOptions) Option {
	return func(s *service) {
		s.lockOptions = opts
	}
}

// WithBlobRetry sets the retry policy applied to blob Put and Delete
func WithBlobRetry(policy RetryPolicy) Option {
	return func(s *service) {
		s.blobRetry = policy
	}
}

func WithQuotaEvaluator(evaluator *QuotaEvaluator) Option {
	return func(s *service) {
		s.evaluator = evaluator
	}
}

func WithReferenceChecker(checker ReferenceChecker) Option {
	return func(s *service) {
		s.references = checker
	}
}

func WithMembershipChecker(checker MembershipChecker) Option {
	return func(s *service) {
		s.membership = checker
	}
}

func WithImageValidator(validator ImageValidator) Option {
	return func(s *service) {
		s.images = validator
	}
}

func WithObjectKeyGenerator(gen ObjectKeyGenerator) Option {
	return func(s *service) {
		s.keys = gen
	}
}

func WithURLStrategy(strategy URLStrategy) Option {
	return func(s *service) {
		s.urls = strategy
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithMeter sets the meter used for lifecycle instruments
func WithMeter(meter metric.Meter) Option {
	return func(s *service) {
		s.meter = meter
	}
}

// WithClock overrides the time source used for CreatedAt/UpdatedAt
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// DefaultBlobRetry returns four attempts 100ms apart.
func DefaultBlobRetry() RetryPolicy {
	return FixedRetry(4, 100*time.Millisecond)
}

// New creates a new asset service with the provided options
func New(options ...Option) (Service, error) {
	s := &service{
		lockOptions: DefaultLockOptions(),
		blobRetry:   DefaultBlobRetry(),
		evaluator:   NewQuotaEvaluator(),
		references:  NoReferences{},
		membership:  DenyAllMembership{},
		images:      RejectLinks{},
		keys:        objectkey.NewRandomNameGenerator(),
		urls:        urlstrategy.NewCDNStrategy(""),
		eventSink:   NewNoopEventSink(),
		logger:      slog.Default(),
		now:         time.Now,
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.blobStore == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if s.lockBackend == nil {
		return nil, fmt.Errorf("lock backend is required")
	}
	s.locks = NewLockCoordinator(s.lockBackend)

	m, err := newMetrics(s.meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	s.metrics = m

	return s, nil
}

// Lifecycle operations

func (s *service) CreateAsset(ctx context.Context, req CreateAssetRequest) (*Asset, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, req.Owner, req.ActingUserID); err != nil {
		return nil, err
	}

	handle, err := s.acquire(ctx, req.Owner)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, handle)

	policy := s.evaluator.Evaluate(req.Features, req.Type)
	return s.createLocked(ctx, req, policy)
}

func (s *service) DeleteAsset(ctx context.Context, assetID uuid.UUID, owner OwnerRef, actingUserID string) error {
	asset, err := s.loadAuthorized(ctx, "delete", assetID, owner, actingUserID)
	if err != nil {
		return err
	}
	if err := s.checkReferences(ctx, asset.ID); err != nil {
		return err
	}

	handle, err := s.acquire(ctx, owner)
	if err != nil {
		return err
	}
	defer s.release(ctx, handle)

	// Another holder of the lock may have removed it while we waited.
	asset, err = s.repository.FindByID(ctx, assetID)
	if err != nil {
		return &AssetError{AssetID: assetID, Op: "delete", Err: err}
	}
	return s.deleteLocked(ctx, asset)
}

func (s *service) ReplaceAsset(ctx context.Context, req ReplaceAssetRequest) (*Asset, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, req.Owner, req.ActingUserID); err != nil {
		return nil, err
	}

	policy := s.evaluator.Evaluate(req.Features, req.Type)
	if policy.Kind == PolicyCounted && policy.Limit <= 0 {
		return nil, s.quotaExceeded(ctx, req.Owner, req.Type, policy.Limit)
	}

	handle, err := s.acquire(ctx, req.Owner)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, handle)

	targets, err := s.replaceTargets(ctx, req, policy)
	if err != nil {
		return nil, err
	}
	for _, target := range targets {
		if err := s.checkReferences(ctx, target.ID); err != nil {
			return nil, err
		}
	}

	// Nothing is deleted until every check that can reject the request passed
	// and the new blob is stored.
	switch policy.Kind {
	case PolicyLinkOnly:
		if err := s.validateLink(ctx, req.LinkURL); err != nil {
			return nil, err
		}
	case PolicyCounted:
		n, err := s.repository.CountByOwnerAndType(ctx, req.Owner, req.Type)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s assets for %s: %w", req.Type, req.Owner, err)
		}
		if n-len(targets) >= policy.Limit {
			return nil, s.quotaExceeded(ctx, req.Owner, req.Type, policy.Limit)
		}
	}

	var asset *Asset
	if policy.UsesBlob() {
		key := s.keys.GenerateKey(req.Owner.ID, string(req.Type), req.Content.Extension)
		asset = s.newAsset(req.CreateAssetRequest, key, s.urls.PublicURL(key))
		if err := s.putBlob(ctx, key, req.Content); err != nil {
			s.logger.Error("Failed to upload replacement, keeping prior assets",
				"owner", req.Owner.String(), "asset_type", req.Type, "storage_key", key, "error", err)
			return nil, err
		}
	} else {
		asset = s.newAsset(req.CreateAssetRequest, "", req.LinkURL)
	}

	for _, target := range targets {
		if err := s.deleteLocked(ctx, target); err != nil {
			s.discardBlob(ctx, asset)
			return nil, err
		}
	}
	if err := s.insert(ctx, asset, policy); err != nil {
		s.discardBlob(ctx, asset)
		return nil, err
	}

	s.committed(ctx, asset)
	s.logger.Info("Asset replaced", "asset_id", asset.ID, "owner", req.Owner.String(), "replaced", len(targets))
	return asset, nil
}

func (s *service) ListAssets(ctx context.Context, owner OwnerRef) ([]*Asset, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	assets, err := s.repository.FindByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets for %s: %w", owner, err)
	}
	sortAssets(assets)
	return assets, nil
}

func (s *service) ListVisibleAssets(ctx context.Context, userID, teamID string) ([]*Asset, error) {
	user := UserOwner(userID)
	if err := user.Validate(); err != nil {
		return nil, err
	}
	if teamID == "" {
		return s.ListAssets(ctx, user)
	}
	team := TeamOwner(teamID)
	if err := s.authorize(ctx, team, userID); err != nil {
		return nil, err
	}

	var userAssets, teamAssets []*Asset
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		userAssets, err = s.repository.FindByOwner(gctx, user)
		return err
	})
	g.Go(func() error {
		var err error
		teamAssets, err = s.repository.FindByOwner(gctx, team)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to list visible assets: %w", err)
	}

	seen := make(map[uuid.UUID]struct{}, len(userAssets)+len(teamAssets))
	merged := make([]*Asset, 0, len(userAssets)+len(teamAssets))
	for _, a := range append(userAssets, teamAssets...) {
		if _, dup := seen[a.ID]; dup {
			continue
		}
		seen[a.ID] = struct{}{}
		merged = append(merged, a)
	}
	sortAssets(merged)
	return merged, nil
}

func (s *service) GetAsset(ctx context.Context, assetID uuid.UUID, owner OwnerRef, actingUserID string) (*Asset, error) {
	return s.loadAuthorized(ctx, "get", assetID, owner, actingUserID)
}

func (s *service) RenameAsset(ctx context.Context, assetID uuid.UUID, owner OwnerRef, actingUserID, name string) (*Asset, error) {
	if name == "" {
		return nil, &ValidationError{Field: "name", Reason: "name is required"}
	}
	if _, err := s.loadAuthorized(ctx, "rename", assetID, owner, actingUserID); err != nil {
		return nil, err
	}
	if err := s.repository.UpdateName(ctx, assetID, name); err != nil {
		return nil, &AssetError{AssetID: assetID, Op: "rename", Err: err}
	}
	asset, err := s.repository.FindByID(ctx, assetID)
	if err != nil {
		return nil, &AssetError{AssetID: assetID, Op: "rename", Err: err}
	}
	return asset, nil
}

// Internal helpers

// createLocked runs the create state machine past LockAcquired. The caller
// holds the owner lock.
func (s *service) createLocked(ctx context.Context, req CreateAssetRequest, policy Policy) (*Asset, error) {
	log := s.logger.With("owner", req.Owner.String(), "asset_type", req.Type, "policy", policy.String())

	switch policy.Kind {
	case PolicyLinkOnly:
		if err := s.validateLink(ctx, req.LinkURL); err != nil {
			return nil, err
		}
	case PolicySingleSlot:
		if err := s.clearSlot(ctx, req.Owner, req.Type); err != nil {
			return nil, err
		}
	case PolicyCounted:
		if policy.Limit <= 0 {
			return nil, s.quotaExceeded(ctx, req.Owner, req.Type, policy.Limit)
		}
	}

	if !policy.UsesBlob() {
		asset := s.newAsset(req, "", req.LinkURL)
		if err := s.insert(ctx, asset, policy); err != nil {
			return nil, err
		}
		s.committed(ctx, asset)
		return asset, nil
	}

	key := s.keys.GenerateKey(req.Owner.ID, string(req.Type), req.Content.Extension)
	asset := s.newAsset(req, key, s.urls.PublicURL(key))
	if err := s.insert(ctx, asset, policy); err != nil {
		return nil, err
	}

	if err := s.putBlob(ctx, key, req.Content); err != nil {
		log.Error("Failed to upload asset, removing metadata", "asset_id", asset.ID, "storage_key", key, "error", err)
		s.compensate(ctx, asset)
		return nil, err
	}

	s.committed(ctx, asset)
	log.Info("Asset created", "asset_id", asset.ID)
	return asset, nil
}

// insert persists metadata. Counted policies go through the repository's
// atomic count-and-insert.
func (s *service) insert(ctx context.Context, asset *Asset, policy Policy) error {
	var err error
	if policy.Kind == PolicyCounted {
		err = s.repository.CreateIfUnderLimit(ctx, asset, policy.Limit)
		if errors.Is(err, ErrQuotaExceeded) {
			return s.quotaExceeded(ctx, asset.Owner, asset.Type, policy.Limit)
		}
	} else {
		err = s.repository.Create(ctx, asset)
	}
	if err != nil {
		return &AssetError{AssetID: asset.ID, Op: "create", Err: err}
	}
	return nil
}

func (s *service) validateLink(ctx context.Context, link string) error {
	if err := s.images.ValidateImageURL(ctx, link); err != nil {
		if errors.Is(err, ErrValidation) {
			return err
		}
		return fmt.Errorf("failed to validate link %s: %w", link, err)
	}
	return nil
}

// putBlob uploads content with the blob retry policy.
func (s *service) putBlob(ctx context.Context, key string, content *Content) error {
	attempts := 0
	err := s.blobRetry.Do(ctx, func(ctx context.Context) error {
		attempts++
		return s.blobStore.Put(ctx, key, content.Data, content.ContentType)
	})
	if err != nil {
		return &BlobError{Key: key, Op: "put", Attempts: attempts, Err: unwrapRetry(err)}
	}
	return nil
}

// discardBlob removes the blob of an asset whose metadata never committed.
func (s *service) discardBlob(ctx context.Context, asset *Asset) {
	if asset.IsLinkBacked() {
		return
	}
	if err := s.deleteBlob(context.WithoutCancel(ctx), asset.StorageKey); err != nil {
		s.logger.Error("Failed to remove blob of uncommitted asset",
			"asset_id", asset.ID, "storage_key", asset.StorageKey, "error", err)
	}
}

// deleteLocked removes the blob then the metadata row. The caller holds the
// owner lock.
func (s *service) deleteLocked(ctx context.Context, asset *Asset) error {
	if !asset.IsLinkBacked() {
		if err := s.deleteBlob(ctx, asset.StorageKey); err != nil {
			s.logger.Error("Failed to delete asset blob, keeping metadata",
				"asset_id", asset.ID, "storage_key", asset.StorageKey, "error", err)
			return &AssetError{AssetID: asset.ID, Op: "delete", Err: err}
		}
	}
	if err := s.repository.DeleteByID(ctx, asset.ID); err != nil {
		return &AssetError{AssetID: asset.ID, Op: "delete", Err: err}
	}

	s.metrics.deleted.Add(ctx, 1, typeAttrs(asset.Owner, asset.Type))
	s.fireDeleted(ctx, asset)
	return nil
}

// deleteBlob retries genuine failures; an absent blob counts as deleted.
func (s *service) deleteBlob(ctx context.Context, key string) error {
	attempts := 0
	err := s.blobRetry.Do(ctx, func(ctx context.Context) error {
		attempts++
		err := s.blobStore.Delete(ctx, key)
		if errors.Is(err, ErrBlobNotFound) {
			s.logger.Debug("Blob already absent", "storage_key", key)
			return nil
		}
		return err
	})
	if err != nil {
		return &BlobError{Key: key, Op: "delete", Attempts: attempts, Err: unwrapRetry(err)}
	}
	return nil
}

// clearSlot removes every asset of a single-slot type. A referenced prior
// asset blocks the create before anything is removed. Blob deletes are best
// effort here: the new asset gets a fresh key, so a leftover blob is only
// wasted space.
func (s *service) clearSlot(ctx context.Context, owner OwnerRef, assetType AssetType) error {
	existing, err := s.repository.ListByOwnerAndType(ctx, owner, assetType)
	if err != nil {
		return fmt.Errorf("failed to list %s assets for %s: %w", assetType, owner, err)
	}
	if len(existing) == 0 {
		return nil
	}
	for _, asset := range existing {
		if err := s.checkReferences(ctx, asset.ID); err != nil {
			return err
		}
	}

	for _, asset := range existing {
		if asset.IsLinkBacked() {
			continue
		}
		if err := s.deleteBlob(ctx, asset.StorageKey); err != nil {
			s.logger.Warn("Failed to delete superseded asset blob",
				"asset_id", asset.ID, "storage_key", asset.StorageKey, "error", err)
		}
	}

	n, err := s.repository.DeleteByOwnerAndType(ctx, owner, assetType)
	if err != nil {
		return fmt.Errorf("failed to delete %s assets for %s: %w", assetType, owner, err)
	}
	s.metrics.deleted.Add(ctx, int64(n), typeAttrs(owner, assetType))
	for _, asset := range existing {
		s.fireDeleted(ctx, asset)
	}
	return nil
}

func (s *service) replaceTargets(ctx context.Context, req ReplaceAssetRequest, policy Policy) ([]*Asset, error) {
	if req.ReplaceAssetID != uuid.Nil {
		asset, err := s.repository.FindByID(ctx, req.ReplaceAssetID)
		if err != nil {
			return nil, &AssetError{AssetID: req.ReplaceAssetID, Op: "replace", Err: err}
		}
		if asset.Owner != req.Owner {
			return nil, &AuthorizationError{Owner: asset.Owner, ActingUserID: req.ActingUserID}
		}
		if asset.Type != req.Type {
			return nil, &ValidationError{
				Field:  "replace_asset_id",
				Reason: fmt.Sprintf("asset %s has type %s, not %s", asset.ID, asset.Type, req.Type),
			}
		}
		return []*Asset{asset}, nil
	}

	existing, err := s.repository.ListByOwnerAndType(ctx, req.Owner, req.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s assets for %s: %w", req.Type, req.Owner, err)
	}
	if len(existing) == 0 || policy.Kind == PolicySingleSlot {
		return existing, nil
	}
	sortAssets(existing)
	return existing[:1], nil
}

func (s *service) loadAuthorized(ctx context.Context, op string, assetID uuid.UUID, owner OwnerRef, actingUserID string) (*Asset, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	asset, err := s.repository.FindByID(ctx, assetID)
	if err != nil {
		return nil, &AssetError{AssetID: assetID, Op: op, Err: err}
	}
	if asset.Owner != owner {
		return nil, &AuthorizationError{Owner: asset.Owner, ActingUserID: actingUserID}
	}
	if err := s.authorize(ctx, owner, actingUserID); err != nil {
		return nil, err
	}
	return asset, nil
}

func (s *service) authorize(ctx context.Context, owner OwnerRef, actingUserID string) error {
	switch owner.Type {
	case OwnerTypeUser:
		if owner.ID == actingUserID {
			return nil
		}
	case OwnerTypeTeam:
		ok, err := s.membership.IsMember(ctx, owner.ID, actingUserID)
		if err != nil {
			return fmt.Errorf("failed to check membership of %s in team %s: %w", actingUserID, owner.ID, err)
		}
		if ok {
			return nil
		}
	}
	return &AuthorizationError{Owner: owner, ActingUserID: actingUserID}
}

func (s *service) checkReferences(ctx context.Context, assetID uuid.UUID) error {
	refs, err := s.references.ReferencingEntities(ctx, assetID)
	if err != nil {
		return &AssetError{AssetID: assetID, Op: "check_references", Err: err}
	}
	if len(refs) > 0 {
		return &ReferenceConflictError{AssetID: assetID, References: refs}
	}
	return nil
}

func (s *service) acquire(ctx context.Context, owner OwnerRef) (*LockHandle, error) {
	handle, err := s.locks.Acquire(ctx, LockKey(owner), s.lockOptions)
	if err != nil {
		s.metrics.lockFailures.Add(ctx, 1, typeAttrs(owner, ""))
		s.logger.Warn("Failed to acquire owner lock", "owner", owner.String(), "error", err)
		return nil, err
	}
	s.metrics.recordLockWait(ctx, owner, handle.Waited)
	return handle, nil
}

// release never fails the operation; an unreleased lock expires with its TTL.
func (s *service) release(ctx context.Context, handle *LockHandle) {
	if err := handle.Release(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("Failed to release owner lock", "key", handle.Key(), "error", err)
	}
}

func (s *service) compensate(ctx context.Context, asset *Asset) {
	s.metrics.compensations.Add(ctx, 1, typeAttrs(asset.Owner, asset.Type))
	if err := s.repository.DeleteByID(context.WithoutCancel(ctx), asset.ID); err != nil {
		s.logger.Error("Failed to remove metadata after failed upload",
			"asset_id", asset.ID, "owner", asset.Owner.String(), "error", err)
	}
}

func (s *service) quotaExceeded(ctx context.Context, owner OwnerRef, assetType AssetType, limit int) error {
	s.metrics.quotaRejections.Add(ctx, 1, typeAttrs(owner, assetType))
	return &QuotaExceededError{Owner: owner, AssetType: assetType, Limit: limit}
}

func (s *service) newAsset(req CreateAssetRequest, key, url string) *Asset {
	now := s.now().UTC()
	return &Asset{
		ID:         uuid.New(),
		Owner:      req.Owner,
		Type:       req.Type,
		Name:       req.Name,
		StorageKey: key,
		URL:        url,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (s *service) committed(ctx context.Context, asset *Asset) {
	s.metrics.created.Add(ctx, 1, typeAttrs(asset.Owner, asset.Type))
	if err := s.eventSink.AssetCreated(ctx, asset); err != nil {
		s.logger.Warn("Failed to publish asset created event", "asset_id", asset.ID, "error", err)
	}
}

func (s *service) fireDeleted(ctx context.Context, asset *Asset) {
	if err := s.eventSink.AssetDeleted(ctx, asset); err != nil {
		s.logger.Warn("Failed to publish asset deleted event", "asset_id", asset.ID, "error", err)
	}
}

func unwrapRetry(err error) error {
	var re *RetryError
	if errors.As(err, &re) {
		return re.Err
	}
	return err
}

func sortAssets(assets []*Asset) {
	sort.SliceStable(assets, func(i, j int) bool {
		if !assets[i].CreatedAt.Equal(assets[j].CreatedAt) {
			return assets[i].CreatedAt.Before(assets[j].CreatedAt)
		}
		return assets[i].ID.String() < assets[j].ID.String()
	})
}
