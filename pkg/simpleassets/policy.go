package simpleassets

import "fmt"

// PolicyKind enumerates the quota policy variants.
type PolicyKind int

const (
	PolicyUnlimited PolicyKind = iota
	PolicyCounted
	PolicySingleSlot
	PolicyLinkOnly
)

func (k PolicyKind) String() string {
	switch k {
	case PolicyUnlimited:
		return "unlimited"
	case PolicyCounted:
		return "counted"
	case PolicySingleSlot:
		return "single_slot"
	case PolicyLinkOnly:
		return "link_only"
	default:
		return fmt.Sprintf("policy(%d)", int(k))
	}
}

// Policy is the quota rule for one (owner, asset type) pair. Limit is only
// meaningful for PolicyCounted.
type Policy struct {
	Kind  PolicyKind
	Limit int
}

// Unlimited allows any number of assets.
func Unlimited() Policy { return Policy{Kind: PolicyUnlimited} }

// Counted allows at most limit assets.
func Counted(limit int) Policy { return Policy{Kind: PolicyCounted, Limit: limit} }

// SingleSlot keeps at most one asset; a new one supersedes the old.
func SingleSlot() Policy { return Policy{Kind: PolicySingleSlot} }

// LinkOnly stores a validated external URL and no blob.
func LinkOnly() Policy { return Policy{Kind: PolicyLinkOnly} }

// UsesBlob reports whether assets under p have bytes in the blob store.
func (p Policy) UsesBlob() bool { return p.Kind != PolicyLinkOnly }

func (p Policy) String() string {
	if p.Kind == PolicyCounted {
		return fmt.Sprintf("counted(%d)", p.Limit)
	}
	return p.Kind.String()
}

const (
	// DefaultAssetAllowance applies when a paid plan carries no explicit allowance.
	DefaultAssetAllowance = 3

	// DefaultAllowanceAddon lets a plan with a zero allowance upload assets.
	DefaultAllowanceAddon = "watermark"
)

// QuotaEvaluator maps a feature descriptor and asset type to a Policy.
// Evaluate has no side effects; the zero value is not usable, use
// NewQuotaEvaluator.
type QuotaEvaluator struct {
	// DefaultAllowance is the counted limit when FeatureDescriptor.Assets <= 0.
	DefaultAllowance int

	// AllowanceAddon must be enabled for plans with Assets == 0.
	AllowanceAddon string

	// AddonBonus adds to the counted limit for every enabled add-on it names.
	AddonBonus map[string]int
}

// NewQuotaEvaluator returns an evaluator with the default allowance rules.
func NewQuotaEvaluator() *QuotaEvaluator {
	return &QuotaEvaluator{
		DefaultAllowance: DefaultAssetAllowance,
		AllowanceAddon:   DefaultAllowanceAddon,
	}
}

// Evaluate returns the policy for assetType under features.
//
// Free plans and plans without an allowance (and without the allowance add-on)
// get Counted(0) for every type, so any create is rejected before it touches
// storage.
func (q *QuotaEvaluator) Evaluate(features FeatureDescriptor, assetType AssetType) Policy {
	if !q.entitled(features) || !assetType.IsValid() {
		return Counted(0)
	}

	switch {
	case assetType == AssetTypeHostedPageLogo, assetType == AssetTypeEmbedPlayerThumbnail:
		return SingleSlot()
	case assetType.IsStudio():
		return Unlimited()
	case assetType.IsLink():
		return LinkOnly()
	case assetType == AssetTypeEmbedPlayerBackground, assetType == AssetTypeEmbedPlayerLogo:
		return Unlimited()
	}

	limit := features.Assets
	if limit <= 0 {
		limit = q.DefaultAllowance
	}
	for service, bonus := range q.AddonBonus {
		if features.AddonEnabled(service) {
			limit += bonus
		}
	}
	return Counted(limit)
}

func (q *QuotaEvaluator) entitled(features FeatureDescriptor) bool {
	if features.Subscription == 0 {
		return false
	}
	if features.Assets == 0 && !features.AddonEnabled(q.AllowanceAddon) {
		return false
	}
	return true
}
