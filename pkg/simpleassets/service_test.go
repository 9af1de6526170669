package simpleassets_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-assets/pkg/simpleassets"
	lockmemory "github.com/tendant/simple-assets/pkg/simpleassets/lock/memory"
	repomemory "github.com/tendant/simple-assets/pkg/simpleassets/repo/memory"
	storagememory "github.com/tendant/simple-assets/pkg/simpleassets/storage/memory"
	"github.com/tendant/simple-assets/pkg/simpleassets/urlstrategy"
)

type testEnv struct {
	svc    simpleassets.Service
	repo   *repomemory.Repository
	blobs  *storagememory.Backend
	locks  *lockmemory.Backend
	refs   *repomemory.References
	teams  *repomemory.Teams
	events *recordingSink
}

type recordingSink struct {
	mu      sync.Mutex
	created []uuid.UUID
	deleted []uuid.UUID
}

func (r *recordingSink) AssetCreated(ctx context.Context, a *simpleassets.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, a.ID)
	return nil
}

func (r *recordingSink) AssetDeleted(ctx context.Context, a *simpleassets.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, a.ID)
	return errors.New("subscriber offline")
}

type acceptImages struct{ calls int32 }

func (a *acceptImages) ValidateImageURL(ctx context.Context, url string) error {
	atomic.AddInt32(&a.calls, 1)
	if url == "https://example.com/not-an-image" {
		return &simpleassets.ValidationError{Field: "link_url", Reason: "not an image"}
	}
	return nil
}

// tickingClock returns strictly increasing times so creation order is stable
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func setupTestService(t *testing.T, opts ...simpleassets.Option) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:   repomemory.New(),
		blobs:  storagememory.New(),
		locks:  lockmemory.New(),
		refs:   repomemory.NewReferences(),
		teams:  repomemory.NewTeams(),
		events: &recordingSink{},
	}

	base := []simpleassets.Option{
		simpleassets.WithRepository(env.repo),
		simpleassets.WithBlobStore(env.blobs),
		simpleassets.WithLockBackend(env.locks),
		simpleassets.WithLockOptions(simpleassets.LockOptions{TTL: 5 * time.Second, MaxRetries: 5000, RetryDelay: time.Millisecond}),
		simpleassets.WithBlobRetry(simpleassets.FixedRetry(4, time.Millisecond)),
		simpleassets.WithReferenceChecker(env.refs),
		simpleassets.WithMembershipChecker(env.teams),
		simpleassets.WithImageValidator(&acceptImages{}),
		simpleassets.WithURLStrategy(urlstrategy.NewCDNStrategy("https://cdn.example.com")),
		simpleassets.WithEventSink(env.events),
		simpleassets.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		simpleassets.WithClock(tickingClock()),
	}
	svc, err := simpleassets.New(append(base, opts...)...)
	require.NoError(t, err)
	env.svc = svc
	return env
}

var paid = simpleassets.FeatureDescriptor{Subscription: 2, Assets: 3}

func pngContent() *simpleassets.Content {
	return &simpleassets.Content{Data: []byte("\x89PNG-data"), ContentType: "image/png", Extension: ".png"}
}

func createReq(owner simpleassets.OwnerRef, actor string, assetType simpleassets.AssetType) simpleassets.CreateAssetRequest {
	return simpleassets.CreateAssetRequest{
		Owner:        owner,
		ActingUserID: actor,
		Type:         assetType,
		Name:         "asset",
		Content:      pngContent(),
		Features:     paid,
	}
}

func countType(t *testing.T, env *testEnv, owner simpleassets.OwnerRef, assetType simpleassets.AssetType) int {
	t.Helper()
	n, err := env.repo.CountByOwnerAndType(context.Background(), owner, assetType)
	require.NoError(t, err)
	return n
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := simpleassets.New()
	assert.Error(t, err)

	_, err = simpleassets.New(simpleassets.WithRepository(repomemory.New()))
	assert.Error(t, err)

	_, err = simpleassets.New(
		simpleassets.WithRepository(repomemory.New()),
		simpleassets.WithBlobStore(storagememory.New()),
	)
	assert.Error(t, err)
}

func TestCreateAsset_Counted(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	owner := simpleassets.UserOwner("u1")

	asset, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeLogo))
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, asset.ID)
	assert.Equal(t, owner, asset.Owner)
	assert.Regexp(t, `^u1/asset_logo-u1__[0-9a-f]{32}\.png$`, asset.StorageKey)
	assert.Equal(t, "https://cdn.example.com/"+asset.StorageKey, asset.URL)

	data, ct, ok := env.blobs.Get(asset.StorageKey)
	require.True(t, ok)
	assert.Equal(t, []byte("\x89PNG-data"), data)
	assert.Equal(t, "image/png", ct)
	assert.Equal(t, []uuid.UUID{asset.ID}, env.events.created)
	assert.False(t, env.locks.Held(simpleassets.LockKey(owner)), "lock released after create")
}

func TestCreateAsset_LimitScenario(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	owner := simpleassets.UserOwner("u1")

	var first *simpleassets.Asset
	for i := 0; i < 3; i++ {
		a, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeLogo))
		require.NoError(t, err)
		if first == nil {
			first = a
		}
	}

	putsBefore := env.blobs.PutCalls()
	_, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeLogo))
	var quotaErr *simpleassets.QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, 3, quotaErr.Limit)
	assert.ErrorIs(t, err, simpleassets.ErrQuotaExceeded)
	assert.Equal(t, putsBefore, env.blobs.PutCalls(), "no blob write on rejected quota")

	require.NoError(t, env.svc.DeleteAsset(ctx, first.ID, owner, "u1"))
	_, err = env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeLogo))
	require.NoError(t, err)
	assert.Equal(t, 3, countType(t, env, owner, simpleassets.AssetTypeLogo))
}

func TestCreateAsset_QuotaSafetyUnderConcurrency(t *testing.T) {
	for _, n := range []int{1, 3, 12} {
		env := setupTestService(t)
		owner := simpleassets.TeamOwner("t1")
		env.teams.AddMember("t1", "u1")

		var ok, rejected int32
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := env.svc.CreateAsset(context.Background(), createReq(owner, "u1", simpleassets.AssetTypeLogo))
				switch {
				case err == nil:
					atomic.AddInt32(&ok, 1)
				case errors.Is(err, simpleassets.ErrQuotaExceeded):
					atomic.AddInt32(&rejected, 1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		want := n
		if want > 3 {
			want = 3
		}
		assert.Equal(t, int32(want), ok, "n=%d", n)
		assert.Equal(t, int32(n-want), rejected, "n=%d", n)
		assert.Equal(t, want, countType(t, env, owner, simpleassets.AssetTypeLogo))
		assert.Equal(t, want, env.blobs.PutCalls())
	}
}

func TestCreateAsset_NotEntitled(t *testing.T) {
	tests := []struct {
		name     string
		features simpleassets.FeatureDescriptor
		typ      simpleassets.AssetType
	}{
		{"free plan logo", simpleassets.FeatureDescriptor{Subscription: 0, Assets: 5}, simpleassets.AssetTypeLogo},
		{"free plan studio", simpleassets.FeatureDescriptor{Subscription: 0}, simpleassets.AssetTypeStudioBackground},
		{"no allowance no addon", simpleassets.FeatureDescriptor{Subscription: 1, Assets: 0}, simpleassets.AssetTypeHostedPageLogo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestService(t)
			req := createReq(simpleassets.UserOwner("u1"), "u1", tt.typ)
			req.Features = tt.features

			_, err := env.svc.CreateAsset(context.Background(), req)
			assert.ErrorIs(t, err, simpleassets.ErrQuotaExceeded)
			assert.Zero(t, env.blobs.PutCalls())
			assert.Zero(t, env.blobs.DeleteCalls())
			assert.Zero(t, countType(t, env, req.Owner, tt.typ))
		})
	}
}

func TestCreateAsset_SingleSlot(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	owner := simpleassets.UserOwner("u1")

	first, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeHostedPageLogo))
	require.NoError(t, err)
	second, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeHostedPageLogo))
	require.NoError(t, err)

	assets, err := env.svc.ListAssets(ctx, owner)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, second.ID, assets[0].ID)

	_, _, ok := env.blobs.Get(first.StorageKey)
	assert.False(t, ok, "superseded blob removed")
	assert.Contains(t, env.events.deleted, first.ID)
}

func TestCreateAsset_SingleSlotToleratesBlobFailure(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	owner := simpleassets.UserOwner("u1")

	_, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeEmbedPlayerThumbnail))
	require.NoError(t, err)

	boom := errors.New("storage unavailable")
	env.blobs.FailDeletes(boom, boom, boom, boom)
	second, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeEmbedPlayerThumbnail))
	require.NoError(t, err)

	assets, err := env.svc.ListAssets(ctx, owner)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, second.ID, assets[0].ID)
}

func TestCreateAsset_SingleSlotReferencedPriorBlocks(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	owner := simpleassets.UserOwner("u1")

	prior, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeHostedPageLogo))
	require.NoError(t, err)
	env.refs.Add(prior.ID, simpleassets.Reference{Kind: "schedule", ID: "s1"})
	puts := env.blobs.PutCalls()

	_, err = env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeHostedPageLogo))
	var refErr *simpleassets.ReferenceConflictError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, prior.ID, refErr.AssetID)

	_, err = env.repo.FindByID(ctx, prior.ID)
	assert.NoError(t, err, "referenced asset survives")
	_, _, ok := env.blobs.Get(prior.StorageKey)
	assert.True(t, ok)
	assert.Equal(t, puts, env.blobs.PutCalls())
	assert.Zero(t, env.blobs.DeleteCalls())

	env.refs.Clear(prior.ID)
	next, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeHostedPageLogo))
	require.NoError(t, err)
	assets, err := env.svc.ListAssets(ctx, owner)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, next.ID, assets[0].ID)
}

func TestCreateAsset_Unlimited(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	owner := simpleassets.UserOwner("u1")

	for i := 0; i < 10; i++ {
		_, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeStudioBannerLogo))
		require.NoError(t, err)
	}
	assert.Equal(t, 10, countType(t, env, owner, simpleassets.AssetTypeStudioBannerLogo))
}

func TestCreateAsset_LinkOnly(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	owner := simpleassets.UserOwner("u1")

	req := createReq(owner, "u1", simpleassets.AssetTypeEmbedPlayerLogoLink)
	req.Content = nil
	req.LinkURL = "https://example.com/logo.png"

	asset, err := env.svc.CreateAsset(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, asset.StorageKey)
	assert.Equal(t, "https://example.com/logo.png", asset.URL)
	assert.Zero(t, env.blobs.PutCalls())

	req.LinkURL = "https://example.com/not-an-image"
	_, err = env.svc.CreateAsset(ctx, req)
	assert.ErrorIs(t, err, simpleassets.ErrValidation)

	require.NoError(t, env.svc.DeleteAsset(ctx, asset.ID, owner, "u1"))
	assert.Zero(t, env.blobs.DeleteCalls(), "link assets have no blob")
}

func TestCreateAsset_Validation(t *testing.T) {
	env := setupTestService(t)
	owner := simpleassets.UserOwner("u1")

	tests := []struct {
		name   string
		mutate func(*simpleassets.CreateAssetRequest)
		field  string
	}{
		{"missing content and link", func(r *simpleassets.CreateAssetRequest) { r.Content = nil }, "content"},
		{"both content and link", func(r *simpleassets.CreateAssetRequest) { r.LinkURL = "https://x/y.png" }, "content"},
		{"empty content", func(r *simpleassets.CreateAssetRequest) { r.Content.Data = nil }, "content"},
		{"link type with content", func(r *simpleassets.CreateAssetRequest) { r.Type = simpleassets.AssetTypeEmbedPlayerBackgroundLink }, "link_url"},
		{"blob type with link", func(r *simpleassets.CreateAssetRequest) { r.Content = nil; r.LinkURL = "https://x/y.png" }, "content"},
		{"unknown type", func(r *simpleassets.CreateAssetRequest) { r.Type = "banner" }, "asset_type"},
		{"bad owner type", func(r *simpleassets.CreateAssetRequest) { r.Owner.Type = "org" }, "owner_type"},
		{"empty owner id", func(r *simpleassets.CreateAssetRequest) { r.Owner.ID = "" }, "owner_id"},
		{"missing actor", func(r *simpleassets.CreateAssetRequest) { r.ActingUserID = "" }, "acting_user_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := createReq(owner, "u1", simpleassets.AssetTypeLogo)
			tt.mutate(&req)
			_, err := env.svc.CreateAsset(context.Background(), req)

			var verr *simpleassets.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
	assert.Zero(t, env.blobs.PutCalls())
}

func TestCreateAsset_Authorization(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	env.teams.AddMember("t1", "member")

	_, err := env.svc.CreateAsset(ctx, createReq(simpleassets.UserOwner("u1"), "u2", simpleassets.AssetTypeLogo))
	assert.ErrorIs(t, err, simpleassets.ErrUnauthorized)

	_, err = env.svc.CreateAsset(ctx, createReq(simpleassets.TeamOwner("t1"), "stranger", simpleassets.AssetTypeLogo))
	var authErr *simpleassets.AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "stranger", authErr.ActingUserID)

	_, err = env.svc.CreateAsset(ctx, createReq(simpleassets.TeamOwner("t1"), "member", simpleassets.AssetTypeLogo))
	assert.NoError(t, err)
}

func TestCreateAsset_UploadFailureCompensates(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	owner := simpleassets.UserOwner("u1")

	boom := errors.New("503 slow down")
	env.blobs.FailPuts(boom, boom, boom, boom)

	_, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeLogo))
	require.ErrorIs(t, err, simpleassets.ErrBlobOperation)
	assert.ErrorIs(t, err, boom)

	var blobErr *simpleassets.BlobError
	require.ErrorAs(t, err, &blobErr)
	assert.Equal(t, "put", blobErr.Op)
	assert.Equal(t, 4, blobErr.Attempts)

	assert.Zero(t, countType(t, env, owner, simpleassets.AssetTypeLogo), "metadata compensated")
	assert.Empty(t, env.events.created)
	assert.False(t, env.locks.Held(simpleassets.LockKey(owner)))
}

func TestCreateAsset_UploadRetrySucceeds(t *testing.T) {
	env := setupTestService(t)
	boom := errors.New("connection reset")
	env.blobs.FailPuts(boom, boom)

	asset, err := env.svc.CreateAsset(context.Background(), createReq(simpleassets.UserOwner("u1"), "u1", simpleassets.AssetTypeLogo))
	require.NoError(t, err)
	assert.Equal(t, 3, env.blobs.PutCalls())
	_, _, ok := env.blobs.Get(asset.StorageKey)
	assert.True(t, ok)
}

func TestCreateAsset_LockTimeout(t *testing.T) {
	env := setupTestService(t, simpleassets.WithLockOptions(simpleassets.LockOptions{
		TTL:        time.Minute,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	}))
	ctx := context.Background()
	owner := simpleassets.UserOwner("u1")

	held, err := env.locks.TryAcquire(ctx, simpleassets.LockKey(owner), "someone-else", time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	_, err = env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeLogo))
	require.ErrorIs(t, err, simpleassets.ErrLockAcquisition)

	var lockErr *simpleassets.LockError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, 4, lockErr.Attempts)
	assert.Zero(t, countType(t, env, owner, simpleassets.AssetTypeLogo))
	assert.Zero(t, env.blobs.PutCalls())

	_, err = env.svc.CreateAsset(ctx, createReq(simpleassets.UserOwner("u2"), "u2", simpleassets.AssetTypeLogo))
	assert.NoError(t, err, "other owners are not blocked")
}

type failingRelease struct {
	simpleassets.LockBackend
}

func (f failingRelease) Release(ctx context.Context, key, token string) error {
	return errors.New("redis went away")
}

func TestCreateAsset_LockReleaseFailureIsNotFatal(t *testing.T) {
	env := setupTestService(t)
	svc, err := simpleassets.New(
		simpleassets.WithRepository(env.repo),
		simpleassets.WithBlobStore(env.blobs),
		simpleassets.WithLockBackend(failingRelease{env.locks}),
		simpleassets.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	_, err = svc.CreateAsset(context.Background(), createReq(simpleassets.UserOwner("u1"), "u1", simpleassets.AssetTypeLogo))
	assert.NoError(t, err)
}

func TestDeleteAsset_BlobAlreadyAbsent(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	owner := simpleassets.UserOwner("u1")

	asset, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeLogo))
	require.NoError(t, err)
	other, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeLogo))
	require.NoError(t, err)

	require.NoError(t, env.blobs.Delete(ctx, asset.StorageKey))

	require.NoError(t, env.svc.DeleteAsset(ctx, asset.ID, owner, "u1"))
	assert.Equal(t, 1, countType(t, env, owner, simpleassets.AssetTypeLogo))
	_, err = env.repo.FindByID(ctx, other.ID)
	assert.NoError(t, err, "exactly one row removed")
}

func TestDeleteAsset_GenuineBlobFailureKeepsMetadata(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	owner := simpleassets.UserOwner("u1")

	asset, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeLogo))
	require.NoError(t, err)

	boom := errors.New("permission denied")
	env.blobs.FailDeletes(boom, boom, boom, boom)

	err = env.svc.DeleteAsset(ctx, asset.ID, owner, "u1")
	require.ErrorIs(t, err, simpleassets.ErrBlobOperation)
	var blobErr *simpleassets.BlobError
	require.ErrorAs(t, err, &blobErr)
	assert.Equal(t, 4, blobErr.Attempts)

	_, err = env.repo.FindByID(ctx, asset.ID)
	require.NoError(t, err, "asset stays visible")

	require.NoError(t, env.svc.DeleteAsset(ctx, asset.ID, owner, "u1"), "deletable again later")
	_, err = env.repo.FindByID(ctx, asset.ID)
	assert.ErrorIs(t, err, simpleassets.ErrAssetNotFound)
}

func TestDeleteAsset_ReferenceConflictIsAbsolute(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	owner := simpleassets.TeamOwner("t1")
	env.teams.AddMember("t1", "u1")
	env.teams.AddMember("t1", "admin")

	asset, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeLogo))
	require.NoError(t, err)
	env.refs.Add(asset.ID, simpleassets.Reference{Kind: "schedule", ID: "s1"})
	env.refs.Add(asset.ID, simpleassets.Reference{Kind: "schedule", ID: "s2"})

	for _, actor := range []string{"u1", "admin"} {
		err := env.svc.DeleteAsset(ctx, asset.ID, owner, actor)
		var refErr *simpleassets.ReferenceConflictError
		require.ErrorAs(t, err, &refErr)
		assert.Len(t, refErr.References, 2)
		assert.Contains(t, err.Error(), "2 schedule(s)")
	}
	assert.Zero(t, env.blobs.DeleteCalls())
	assert.Equal(t, 1, countType(t, env, owner, simpleassets.AssetTypeLogo))

	env.refs.Clear(asset.ID)
	assert.NoError(t, env.svc.DeleteAsset(ctx, asset.ID, owner, "admin"))
}

func TestDeleteAsset_AuthorizationAndNotFound(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	owner := simpleassets.UserOwner("u1")

	asset, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeLogo))
	require.NoError(t, err)

	err = env.svc.DeleteAsset(ctx, asset.ID, owner, "u2")
	assert.ErrorIs(t, err, simpleassets.ErrUnauthorized)

	err = env.svc.DeleteAsset(ctx, asset.ID, simpleassets.UserOwner("u2"), "u2")
	assert.ErrorIs(t, err, simpleassets.ErrUnauthorized, "wrong owner is unauthorized, not not-found")

	err = env.svc.DeleteAsset(ctx, uuid.New(), owner, "u1")
	assert.ErrorIs(t, err, simpleassets.ErrAssetNotFound)

	assert.Equal(t, 1, countType(t, env, owner, simpleassets.AssetTypeLogo))
}

func TestReplaceAsset_SingleSlotNeverShowsTwo(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	owner := simpleassets.UserOwner("u1")

	a, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeHostedPageLogo))
	require.NoError(t, err)

	stop := make(chan struct{})
	var maxSeen int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			assets, err := env.svc.ListAssets(ctx, owner)
			if err != nil {
				t.Errorf("list: %v", err)
				return
			}
			n := int32(0)
			for _, x := range assets {
				if x.Type == simpleassets.AssetTypeHostedPageLogo {
					n++
				}
			}
			if n > atomic.LoadInt32(&maxSeen) {
				atomic.StoreInt32(&maxSeen, n)
			}
		}
	}()

	var last *simpleassets.Asset
	for i := 0; i < 25; i++ {
		req := simpleassets.ReplaceAssetRequest{CreateAssetRequest: createReq(owner, "u1", simpleassets.AssetTypeHostedPageLogo)}
		last, err = env.svc.ReplaceAsset(ctx, req)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&maxSeen), int32(1))
	assets, err := env.svc.ListAssets(ctx, owner)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, last.ID, assets[0].ID)
	_, err = env.repo.FindByID(ctx, a.ID)
	assert.ErrorIs(t, err, simpleassets.ErrAssetNotFound)
	assert.Equal(t, 1, env.blobs.Len())
}

func TestReplaceAsset_Counted(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	owner := simpleassets.UserOwner("u1")

	var created []*simpleassets.Asset
	for i := 0; i < 3; i++ {
		a, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeLogo))
		require.NoError(t, err)
		created = append(created, a)
	}

	t.Run("oldest replaced by default", func(t *testing.T) {
		b, err := env.svc.ReplaceAsset(ctx, simpleassets.ReplaceAssetRequest{CreateAssetRequest: createReq(owner, "u1", simpleassets.AssetTypeLogo)})
		require.NoError(t, err)
		_, err = env.repo.FindByID(ctx, created[0].ID)
		assert.ErrorIs(t, err, simpleassets.ErrAssetNotFound)
		_, err = env.repo.FindByID(ctx, b.ID)
		assert.NoError(t, err)
		assert.Equal(t, 3, countType(t, env, owner, simpleassets.AssetTypeLogo))
	})

	t.Run("explicit target", func(t *testing.T) {
		req := simpleassets.ReplaceAssetRequest{
			CreateAssetRequest: createReq(owner, "u1", simpleassets.AssetTypeLogo),
			ReplaceAssetID:     created[2].ID,
		}
		_, err := env.svc.ReplaceAsset(ctx, req)
		require.NoError(t, err)
		_, err = env.repo.FindByID(ctx, created[2].ID)
		assert.ErrorIs(t, err, simpleassets.ErrAssetNotFound)
		_, err = env.repo.FindByID(ctx, created[1].ID)
		assert.NoError(t, err)
		assert.Equal(t, 3, countType(t, env, owner, simpleassets.AssetTypeLogo))
	})

	t.Run("target of another type", func(t *testing.T) {
		studio, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeStudioBackground))
		require.NoError(t, err)
		req := simpleassets.ReplaceAssetRequest{
			CreateAssetRequest: createReq(owner, "u1", simpleassets.AssetTypeLogo),
			ReplaceAssetID:     studio.ID,
		}
		_, err = env.svc.ReplaceAsset(ctx, req)
		assert.ErrorIs(t, err, simpleassets.ErrValidation)
	})

	t.Run("referenced target blocks replace", func(t *testing.T) {
		env.refs.Add(created[1].ID, simpleassets.Reference{Kind: "schedule", ID: "s9"})
		req := simpleassets.ReplaceAssetRequest{
			CreateAssetRequest: createReq(owner, "u1", simpleassets.AssetTypeLogo),
			ReplaceAssetID:     created[1].ID,
		}
		puts := env.blobs.PutCalls()
		_, err := env.svc.ReplaceAsset(ctx, req)
		assert.ErrorIs(t, err, simpleassets.ErrReferenceConflict)
		assert.Equal(t, puts, env.blobs.PutCalls())
		assert.Equal(t, 3, countType(t, env, owner, simpleassets.AssetTypeLogo))
	})
}

func TestReplaceAsset_WithoutPriorIsCreate(t *testing.T) {
	env := setupTestService(t)
	owner := simpleassets.UserOwner("u1")

	a, err := env.svc.ReplaceAsset(context.Background(), simpleassets.ReplaceAssetRequest{
		CreateAssetRequest: createReq(owner, "u1", simpleassets.AssetTypeEmbedPlayerThumbnail),
	})
	require.NoError(t, err)
	assert.Equal(t, simpleassets.AssetTypeEmbedPlayerThumbnail, a.Type)
	assert.Equal(t, 1, countType(t, env, owner, simpleassets.AssetTypeEmbedPlayerThumbnail))
}

func TestReplaceAsset_NotEntitledTouchesNothing(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	owner := simpleassets.UserOwner("u1")
	_, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeHostedPageLogo))
	require.NoError(t, err)

	req := simpleassets.ReplaceAssetRequest{CreateAssetRequest: createReq(owner, "u1", simpleassets.AssetTypeHostedPageLogo)}
	req.Features = simpleassets.FeatureDescriptor{}
	_, err = env.svc.ReplaceAsset(ctx, req)
	assert.ErrorIs(t, err, simpleassets.ErrQuotaExceeded)
	assert.Equal(t, 1, countType(t, env, owner, simpleassets.AssetTypeHostedPageLogo))
	assert.Zero(t, env.blobs.DeleteCalls())
}

// assertIntact checks that a blob-backed asset still has its row and blob
func assertIntact(t *testing.T, env *testEnv, asset *simpleassets.Asset) {
	t.Helper()
	_, err := env.repo.FindByID(context.Background(), asset.ID)
	assert.NoError(t, err, "prior asset metadata kept")
	if asset.StorageKey != "" {
		_, _, ok := env.blobs.Get(asset.StorageKey)
		assert.True(t, ok, "prior asset blob kept")
	}
}

func TestReplaceAsset_FailuresKeepPrior(t *testing.T) {
	ctx := context.Background()
	owner := simpleassets.UserOwner("u1")

	t.Run("rejected link", func(t *testing.T) {
		env := setupTestService(t)
		req := createReq(owner, "u1", simpleassets.AssetTypeEmbedPlayerLogoLink)
		req.Content = nil
		req.LinkURL = "https://example.com/logo.png"
		prior, err := env.svc.CreateAsset(ctx, req)
		require.NoError(t, err)

		req.LinkURL = "https://example.com/not-an-image"
		_, err = env.svc.ReplaceAsset(ctx, simpleassets.ReplaceAssetRequest{CreateAssetRequest: req})
		assert.ErrorIs(t, err, simpleassets.ErrValidation)
		assertIntact(t, env, prior)
		assert.Equal(t, 1, countType(t, env, owner, simpleassets.AssetTypeEmbedPlayerLogoLink))
		assert.Empty(t, env.events.deleted)
	})

	t.Run("upload failure on single slot", func(t *testing.T) {
		env := setupTestService(t)
		prior, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeHostedPageLogo))
		require.NoError(t, err)

		boom := errors.New("storage unavailable")
		env.blobs.FailPuts(boom, boom, boom, boom)
		_, err = env.svc.ReplaceAsset(ctx, simpleassets.ReplaceAssetRequest{
			CreateAssetRequest: createReq(owner, "u1", simpleassets.AssetTypeHostedPageLogo),
		})
		var blobErr *simpleassets.BlobError
		require.ErrorAs(t, err, &blobErr)
		assert.Equal(t, "put", blobErr.Op)
		assertIntact(t, env, prior)
		assert.Equal(t, 1, countType(t, env, owner, simpleassets.AssetTypeHostedPageLogo))
		assert.Equal(t, 1, env.blobs.Len())
	})

	t.Run("upload failure with explicit target", func(t *testing.T) {
		env := setupTestService(t)
		prior, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeLogo))
		require.NoError(t, err)

		boom := errors.New("storage unavailable")
		env.blobs.FailPuts(boom, boom, boom, boom)
		_, err = env.svc.ReplaceAsset(ctx, simpleassets.ReplaceAssetRequest{
			CreateAssetRequest: createReq(owner, "u1", simpleassets.AssetTypeLogo),
			ReplaceAssetID:     prior.ID,
		})
		assert.ErrorIs(t, err, simpleassets.ErrBlobOperation)
		assertIntact(t, env, prior)
		assert.Zero(t, env.blobs.DeleteCalls())
	})

	t.Run("referenced explicit target", func(t *testing.T) {
		env := setupTestService(t)
		prior, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeEmbedPlayerThumbnail))
		require.NoError(t, err)
		env.refs.Add(prior.ID, simpleassets.Reference{Kind: "schedule", ID: "s1"})

		_, err = env.svc.ReplaceAsset(ctx, simpleassets.ReplaceAssetRequest{
			CreateAssetRequest: createReq(owner, "u1", simpleassets.AssetTypeEmbedPlayerThumbnail),
			ReplaceAssetID:     prior.ID,
		})
		assert.ErrorIs(t, err, simpleassets.ErrReferenceConflict)
		assertIntact(t, env, prior)
		assert.Equal(t, 1, env.blobs.PutCalls(), "no upload for a blocked replace")
	})

	t.Run("quota still exceeded after removal", func(t *testing.T) {
		env := setupTestService(t)
		var oldest *simpleassets.Asset
		for i := 0; i < 3; i++ {
			a, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeLogo))
			require.NoError(t, err)
			if oldest == nil {
				oldest = a
			}
		}

		req := createReq(owner, "u1", simpleassets.AssetTypeLogo)
		req.Features = simpleassets.FeatureDescriptor{Subscription: 1, Assets: 1}
		puts := env.blobs.PutCalls()
		_, err := env.svc.ReplaceAsset(ctx, simpleassets.ReplaceAssetRequest{CreateAssetRequest: req})
		assert.ErrorIs(t, err, simpleassets.ErrQuotaExceeded)
		assertIntact(t, env, oldest)
		assert.Equal(t, 3, countType(t, env, owner, simpleassets.AssetTypeLogo))
		assert.Equal(t, puts, env.blobs.PutCalls())
	})

	t.Run("prior blob delete failure discards the new blob", func(t *testing.T) {
		env := setupTestService(t)
		prior, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeLogo))
		require.NoError(t, err)

		boom := errors.New("storage unavailable")
		env.blobs.FailDeletes(boom, boom, boom, boom)
		_, err = env.svc.ReplaceAsset(ctx, simpleassets.ReplaceAssetRequest{
			CreateAssetRequest: createReq(owner, "u1", simpleassets.AssetTypeLogo),
			ReplaceAssetID:     prior.ID,
		})
		assert.ErrorIs(t, err, simpleassets.ErrBlobOperation)
		assertIntact(t, env, prior)
		assert.Equal(t, 1, env.blobs.Len(), "uploaded replacement removed")
	})
}

func TestListVisibleAssets(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	env.teams.AddMember("t1", "u1")

	mine, err := env.svc.CreateAsset(ctx, createReq(simpleassets.UserOwner("u1"), "u1", simpleassets.AssetTypeLogo))
	require.NoError(t, err)
	team, err := env.svc.CreateAsset(ctx, createReq(simpleassets.TeamOwner("t1"), "u1", simpleassets.AssetTypeLogo))
	require.NoError(t, err)
	mine2, err := env.svc.CreateAsset(ctx, createReq(simpleassets.UserOwner("u1"), "u1", simpleassets.AssetTypeStudioLiveSales))
	require.NoError(t, err)
	_, err = env.svc.CreateAsset(ctx, createReq(simpleassets.UserOwner("u2"), "u2", simpleassets.AssetTypeLogo))
	require.NoError(t, err)

	assets, err := env.svc.ListVisibleAssets(ctx, "u1", "t1")
	require.NoError(t, err)
	require.Len(t, assets, 3)
	assert.Equal(t, []uuid.UUID{mine.ID, team.ID, mine2.ID}, []uuid.UUID{assets[0].ID, assets[1].ID, assets[2].ID})

	assets, err = env.svc.ListVisibleAssets(ctx, "u1", "")
	require.NoError(t, err)
	assert.Len(t, assets, 2)

	_, err = env.svc.ListVisibleAssets(ctx, "u2", "t1")
	assert.ErrorIs(t, err, simpleassets.ErrUnauthorized)
}

func TestGetAndRenameAsset(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	owner := simpleassets.UserOwner("u1")

	asset, err := env.svc.CreateAsset(ctx, createReq(owner, "u1", simpleassets.AssetTypeLogo))
	require.NoError(t, err)

	got, err := env.svc.GetAsset(ctx, asset.ID, owner, "u1")
	require.NoError(t, err)
	assert.Equal(t, asset.StorageKey, got.StorageKey)

	_, err = env.svc.GetAsset(ctx, asset.ID, owner, "u2")
	assert.ErrorIs(t, err, simpleassets.ErrUnauthorized)

	renamed, err := env.svc.RenameAsset(ctx, asset.ID, owner, "u1", "Brand logo")
	require.NoError(t, err)
	assert.Equal(t, "Brand logo", renamed.Name)
	assert.Equal(t, asset.StorageKey, renamed.StorageKey, "rename does not touch storage")
	assert.Equal(t, 1, env.blobs.PutCalls())

	_, err = env.svc.RenameAsset(ctx, asset.ID, owner, "u1", "")
	assert.ErrorIs(t, err, simpleassets.ErrValidation)
}

func TestDifferentOwnersRunInParallel(t *testing.T) {
	blocking := &blockingStore{Backend: storagememory.New(), release: make(chan struct{}), entered: make(chan string, 2)}
	env := setupTestService(t, simpleassets.WithBlobStore(blocking))
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := env.svc.CreateAsset(ctx, createReq(simpleassets.UserOwner(id), id, simpleassets.AssetTypeLogo))
			assert.NoError(t, err)
		}(id)
	}

	// Both uploads must be in flight at once: neither owner waits on the other.
	for i := 0; i < 2; i++ {
		select {
		case <-blocking.entered:
		case <-time.After(5 * time.Second):
			t.Fatal("second owner was blocked by the first")
		}
	}
	close(blocking.release)
	wg.Wait()
}

type blockingStore struct {
	*storagememory.Backend
	release chan struct{}
	entered chan string
}

func (b *blockingStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	b.entered <- key
	<-b.release
	return b.Backend.Put(ctx, key, bytes.Clone(data), contentType)
}
