package simpleassets

import (
	"strings"

	"github.com/google/uuid"
)

// CreateAssetRequest contains parameters for creating an asset. Exactly one of
// Content and LinkURL is set: link asset types take LinkURL, all others Content.
type CreateAssetRequest struct {
	Owner        OwnerRef
	ActingUserID string
	Type         AssetType
	Name         string
	Content      *Content
	LinkURL      string
	Features     FeatureDescriptor
}

// ReplaceAssetRequest creates an asset after removing a prior one of the same
// type. ReplaceAssetID selects the asset to remove; uuid.Nil lets the service
// choose.
type ReplaceAssetRequest struct {
	CreateAssetRequest
	ReplaceAssetID uuid.UUID
}

func (r CreateAssetRequest) validate() error {
	if err := r.Owner.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.ActingUserID) == "" {
		return &ValidationError{Field: "acting_user_id", Reason: "acting user is required"}
	}
	if !r.Type.IsValid() {
		return &ValidationError{Field: "asset_type", Reason: "unknown asset type " + string(r.Type)}
	}

	hasContent := r.Content != nil
	hasLink := r.LinkURL != ""
	switch {
	case hasContent && hasLink:
		return &ValidationError{Field: "content", Reason: "content and link_url are mutually exclusive"}
	case !hasContent && !hasLink:
		return &ValidationError{Field: "content", Reason: "content or link_url is required"}
	case r.Type.IsLink() && !hasLink:
		return &ValidationError{Field: "link_url", Reason: string(r.Type) + " requires link_url"}
	case !r.Type.IsLink() && !hasContent:
		return &ValidationError{Field: "content", Reason: string(r.Type) + " requires content"}
	}
	if hasContent && len(r.Content.Data) == 0 {
		return &ValidationError{Field: "content", Reason: "content is empty"}
	}
	return nil
}
