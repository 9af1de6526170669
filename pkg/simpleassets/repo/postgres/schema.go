package postgres

import (
	"context"
	"fmt"
)

// Schema creates the tables used by Repository, ScheduleReferences and
// TeamMembership in the connection's search_path.
const Schema = `
CREATE TABLE IF NOT EXISTS asset (
	id          UUID PRIMARY KEY,
	owner_type  VARCHAR(16)   NOT NULL CHECK (owner_type IN ('user', 'team')),
	owner_id    VARCHAR(255)  NOT NULL,
	asset_type  VARCHAR(64)   NOT NULL,
	name        VARCHAR(255)  NOT NULL DEFAULT '',
	storage_key VARCHAR(1024),
	url         TEXT          NOT NULL,
	created_at  TIMESTAMPTZ   NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ   NOT NULL DEFAULT now(),
	CONSTRAINT asset_storage_key_unique UNIQUE (storage_key)
);

CREATE INDEX IF NOT EXISTS asset_owner_type_idx ON asset (owner_type, owner_id, asset_type, created_at);

CREATE TABLE IF NOT EXISTS schedule_asset (
	schedule_id VARCHAR(255) NOT NULL,
	asset_id    UUID         NOT NULL,
	PRIMARY KEY (schedule_id, asset_id)
);

CREATE INDEX IF NOT EXISTS schedule_asset_asset_idx ON schedule_asset (asset_id);

CREATE TABLE IF NOT EXISTS team_member (
	team_id VARCHAR(255) NOT NULL,
	user_id VARCHAR(255) NOT NULL,
	PRIMARY KEY (team_id, user_id)
);
`

// Migrate applies Schema. It is idempotent.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply asset schema: %w", err)
	}
	return nil
}
