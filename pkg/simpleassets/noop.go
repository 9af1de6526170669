package simpleassets

import (
	"context"

	"github.com/google/uuid"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) AssetCreated(ctx context.Context, asset *Asset) error { return nil }

func (n *NoopEventSink) AssetDeleted(ctx context.Context, asset *Asset) error { return nil }

// NoReferences is a ReferenceChecker for deployments without dependent entities.
type NoReferences struct{}

func (NoReferences) ReferencingEntities(ctx context.Context, assetID uuid.UUID) ([]Reference, error) {
	return nil, nil
}

// DenyAllMembership rejects every team membership check.
type DenyAllMembership struct{}

func (DenyAllMembership) IsMember(ctx context.Context, teamID, userID string) (bool, error) {
	return false, nil
}

// RejectLinks refuses every link. It is the default ImageValidator.
type RejectLinks struct{}

func (RejectLinks) ValidateImageURL(ctx context.Context, url string) error {
	return &ValidationError{Field: "link_url", Reason: "links are not accepted"}
}
