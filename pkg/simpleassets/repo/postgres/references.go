package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tendant/simple-assets/pkg/simpleassets"
)

// ScheduleReferences reports schedules that use an asset, implementing
// simpleassets.ReferenceChecker over the schedule_asset table
type ScheduleReferences struct {
	db DBTX
}

func NewScheduleReferences(db DBTX) *ScheduleReferences {
	return &ScheduleReferences{db: db}
}

func (s *ScheduleReferences) ReferencingEntities(ctx context.Context, assetID uuid.UUID) ([]simpleassets.Reference, error) {
	rows, err := s.db.Query(ctx,
		`SELECT schedule_id FROM schedule_asset WHERE asset_id = $1 ORDER BY schedule_id`, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule references: %w", err)
	}
	defer rows.Close()

	var refs []simpleassets.Reference
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan schedule reference: %w", err)
		}
		refs = append(refs, simpleassets.Reference{Kind: "schedule", ID: id})
	}
	return refs, rows.Err()
}

// Attach records that a schedule uses an asset
func (s *ScheduleReferences) Attach(ctx context.Context, scheduleID string, assetID uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO schedule_asset (schedule_id, asset_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		scheduleID, assetID)
	if err != nil {
		return fmt.Errorf("failed to attach asset %s to schedule %s: %w", assetID, scheduleID, err)
	}
	return nil
}

// Detach removes a schedule's use of an asset
func (s *ScheduleReferences) Detach(ctx context.Context, scheduleID string, assetID uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM schedule_asset WHERE schedule_id = $1 AND asset_id = $2`, scheduleID, assetID)
	if err != nil {
		return fmt.Errorf("failed to detach asset %s from schedule %s: %w", assetID, scheduleID, err)
	}
	return nil
}

// TeamMembership implements simpleassets.MembershipChecker over team_member
type TeamMembership struct {
	db DBTX
}

func NewTeamMembership(db DBTX) *TeamMembership {
	return &TeamMembership{db: db}
}

func (m *TeamMembership) IsMember(ctx context.Context, teamID, userID string) (bool, error) {
	var ok bool
	err := m.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM team_member WHERE team_id = $1 AND user_id = $2)`,
		teamID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check team membership: %w", err)
	}
	return ok, nil
}

// AddMember adds a user to a team
func (m *TeamMembership) AddMember(ctx context.Context, teamID, userID string) error {
	_, err := m.db.Exec(ctx,
		`INSERT INTO team_member (team_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		teamID, userID)
	if err != nil {
		return fmt.Errorf("failed to add %s to team %s: %w", userID, teamID, err)
	}
	return nil
}
