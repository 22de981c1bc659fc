package catalog

import "github.com/arborhq/arbor/pkg/storage/postgres"

// GetMigrations returns all catalog migrations.
func GetMigrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					description TEXT,
					color VARCHAR(32),
					icon VARCHAR(64),
					is_system_role BOOLEAN NOT NULL DEFAULT FALSE,
					priority INT NOT NULL DEFAULT 0,
					permissions JSONB NOT NULL DEFAULT '{}',
					restrictions JSONB,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_roles_is_system_role ON roles(is_system_role);
				CREATE INDEX idx_roles_priority ON roles(priority DESC);
			`,
		},
	}
}
