package membership

import "github.com/arborhq/arbor/pkg/storage/postgres"

// GetMigrations returns all membership migrations.
func GetMigrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create memberships table",
			SQL: `
				CREATE TABLE IF NOT EXISTS memberships (
					id UUID PRIMARY KEY,
					user_id VARCHAR(255) NOT NULL,
					entity_id UUID NOT NULL REFERENCES entities(id),
					role_id UUID REFERENCES roles(id),
					membership_type VARCHAR(16) NOT NULL DEFAULT 'direct',
					is_primary BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CONSTRAINT memberships_user_entity_unique UNIQUE (user_id, entity_id)
				);

				CREATE INDEX idx_memberships_user_id ON memberships(user_id);
				CREATE INDEX idx_memberships_entity_id ON memberships(entity_id);
				CREATE INDEX idx_memberships_role_id ON memberships(role_id);
			`,
		},
	}
}
