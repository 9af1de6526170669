package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/simple-assets/pkg/simpleassets"
)

// References is an in-memory simpleassets.ReferenceChecker. Tests and
// single-node setups register dependent entities (schedules, pages) here.
type References struct {
	mu   sync.RWMutex
	refs map[uuid.UUID][]simpleassets.Reference
}

func NewReferences() *References {
	return &References{refs: make(map[uuid.UUID][]simpleassets.Reference)}
}

// Add records that ref points at assetID
func (r *References) Add(assetID uuid.UUID, ref simpleassets.Reference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[assetID] = append(r.refs[assetID], ref)
}

// Clear drops every reference to assetID
func (r *References) Clear(assetID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.refs, assetID)
}

func (r *References) ReferencingEntities(ctx context.Context, assetID uuid.UUID) ([]simpleassets.Reference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	refs := r.refs[assetID]
	out := make([]simpleassets.Reference, len(refs))
	copy(out, refs)
	return out, nil
}

// Teams is an in-memory simpleassets.MembershipChecker
type Teams struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{} // team_id -> user ids
}

func NewTeams() *Teams {
	return &Teams{members: make(map[string]map[string]struct{})}
}

func (t *Teams) AddMember(teamID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.members[teamID] == nil {
		t.members[teamID] = make(map[string]struct{})
	}
	t.members[teamID][userID] = struct{}{}
}

func (t *Teams) RemoveMember(teamID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.members[teamID], userID)
}

func (t *Teams) IsMember(ctx context.Context, teamID, userID string) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.members[teamID][userID]
	return ok, nil
}
