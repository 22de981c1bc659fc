package invitations

import "github.com/arborhq/arbor/pkg/storage/postgres"

// GetMigrations returns all invitation migrations.
func GetMigrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create invitations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS invitations (
					id UUID PRIMARY KEY,
					email VARCHAR(255) NOT NULL,
					name VARCHAR(255) NOT NULL DEFAULT '',
					entries JSONB NOT NULL DEFAULT '[]',
					primary_entity_id UUID,
					message TEXT NOT NULL DEFAULT '',
					status VARCHAR(16) NOT NULL DEFAULT 'pending',
					expires_at TIMESTAMP NOT NULL,
					accepted_by VARCHAR(255),
					accepted_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_invitations_email ON invitations(email);
				CREATE INDEX idx_invitations_status ON invitations(status);
				CREATE INDEX idx_invitations_expires_at ON invitations(expires_at) WHERE status = 'pending';
			`,
		},
	}
}
