package hierarchy

import "github.com/arborhq/arbor/pkg/storage/postgres"

// GetMigrations returns all hierarchy migrations.
func GetMigrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create entities table",
			SQL: `
				CREATE TABLE IF NOT EXISTS entities (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					entity_type VARCHAR(32) NOT NULL,
					parent_id UUID REFERENCES entities(id),
					entity_level INT NOT NULL DEFAULT 0,
					hierarchy_path JSONB NOT NULL DEFAULT '[]',
					responsible_person_id UUID,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					total_credits BIGINT NOT NULL DEFAULT 0,
					reserved_credits BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CONSTRAINT entities_reserved_within_total CHECK (reserved_credits >= 0 AND reserved_credits <= total_credits)
				);

				CREATE INDEX idx_entities_parent_id ON entities(parent_id);
				CREATE INDEX idx_entities_entity_type ON entities(entity_type);
				CREATE INDEX idx_entities_hierarchy_path ON entities USING GIN (hierarchy_path);
				CREATE INDEX idx_entities_is_active ON entities(is_active);
			`,
		},
	}
}
