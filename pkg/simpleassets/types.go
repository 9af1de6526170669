package simpleassets

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OwnerType distinguishes user-owned from team-owned assets.
type OwnerType string

const (
	OwnerTypeUser OwnerType = "user"
	OwnerTypeTeam OwnerType = "team"
)

// OwnerRef identifies the single owner of an asset.
type OwnerRef struct {
	Type OwnerType `json:"owner_type"`
	ID   string    `json:"owner_id"`
}

// UserOwner returns an OwnerRef for a user account.
func UserOwner(userID string) OwnerRef {
	return OwnerRef{Type: OwnerTypeUser, ID: userID}
}

// TeamOwner returns an OwnerRef for a team.
func TeamOwner(teamID string) OwnerRef {
	return OwnerRef{Type: OwnerTypeTeam, ID: teamID}
}

// Validate reports whether the reference names exactly one known owner.
func (o OwnerRef) Validate() error {
	if o.Type != OwnerTypeUser && o.Type != OwnerTypeTeam {
		return &ValidationError{Field: "owner_type", Reason: fmt.Sprintf("unknown owner type %q", o.Type)}
	}
	if strings.TrimSpace(o.ID) == "" {
		return &ValidationError{Field: "owner_id", Reason: "owner id is required"}
	}
	return nil
}

func (o OwnerRef) String() string {
	return string(o.Type) + ":" + o.ID
}

// AssetType is a member of the closed asset type catalog.
type AssetType string

const (
	AssetTypeLogo                 AssetType = "logo"
	AssetTypeHostedPageLogo       AssetType = "hostedpage_logo"
	AssetTypeEmbedPlayerThumbnail AssetType = "embed_player_thumbnail"

	AssetTypeStudioLayoutLogo    AssetType = "studio_layout_logo"
	AssetTypeStudioBannerLogo    AssetType = "studio_banner_logo"
	AssetTypeStudioLiveSales     AssetType = "studio_live_sales"
	AssetTypeStudioBackground    AssetType = "studio_background"
	AssetTypeStudioVideoOverride AssetType = "studio_video_override"

	// Stream template images stored in the blob store.
	AssetTypeEmbedPlayerBackground AssetType = "embed_player_background"
	AssetTypeEmbedPlayerLogo       AssetType = "embed_player_logo"

	// Stream template images referenced by an external link.
	AssetTypeEmbedPlayerBackgroundLink AssetType = "embed_player_background_link"
	AssetTypeEmbedPlayerLogoLink       AssetType = "embed_player_logo_link"
)

var knownAssetTypes = map[AssetType]struct{}{
	AssetTypeLogo:                      {},
	AssetTypeHostedPageLogo:            {},
	AssetTypeEmbedPlayerThumbnail:      {},
	AssetTypeStudioLayoutLogo:          {},
	AssetTypeStudioBannerLogo:          {},
	AssetTypeStudioLiveSales:           {},
	AssetTypeStudioBackground:          {},
	AssetTypeStudioVideoOverride:       {},
	AssetTypeEmbedPlayerBackground:     {},
	AssetTypeEmbedPlayerLogo:           {},
	AssetTypeEmbedPlayerBackgroundLink: {},
	AssetTypeEmbedPlayerLogoLink:       {},
}

// IsValid reports whether t belongs to the catalog.
func (t AssetType) IsValid() bool {
	_, ok := knownAssetTypes[t]
	return ok
}

// IsStudio reports whether t is one of the studio_* types.
func (t AssetType) IsStudio() bool {
	return strings.HasPrefix(string(t), "studio_")
}

// IsLink reports whether t stores a caller-supplied URL instead of a blob.
func (t AssetType) IsLink() bool {
	return t == AssetTypeEmbedPlayerBackgroundLink || t == AssetTypeEmbedPlayerLogoLink
}

// Asset is the metadata record of a stored or linked asset.
//
// StorageKey is empty for link-backed assets. URL is derived from StorageKey
// for blob-backed assets and is the caller-supplied link otherwise.
type Asset struct {
	ID         uuid.UUID `json:"id"`
	Owner      OwnerRef  `json:"owner"`
	Type       AssetType `json:"type"`
	Name       string    `json:"name"`
	StorageKey string    `json:"storage_key,omitempty"`
	URL        string    `json:"url"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsLinkBacked reports whether the asset has no blob behind it.
func (a *Asset) IsLinkBacked() bool {
	return a.StorageKey == ""
}

// Addon is an optional subscription add-on.
type Addon struct {
	Service string `json:"service"`
	Allowed bool   `json:"allowed"`
}

// FeatureDescriptor is the subscription view consumed by the QuotaEvaluator.
// Subscription 0 is the free plan. Assets is the plan's base asset allowance.
type FeatureDescriptor struct {
	Subscription int     `json:"subscription"`
	Assets       int     `json:"assets"`
	Addons       []Addon `json:"addons,omitempty"`
}

// AddonEnabled reports whether the named add-on is present and allowed.
func (f FeatureDescriptor) AddonEnabled(service string) bool {
	for _, a := range f.Addons {
		if a.Service == service {
			return a.Allowed
		}
	}
	return false
}

// Content carries the bytes of a blob-backed asset.
type Content struct {
	Data        []byte
	ContentType string
	// Extension including the leading dot, e.g. ".png". Used in the storage key.
	Extension string
}

// Reference is a dependent entity pointing at an asset.
type Reference struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func (r Reference) String() string {
	return r.Kind + ":" + r.ID
}
