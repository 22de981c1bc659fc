package credits

import "github.com/arborhq/arbor/pkg/storage/postgres"

// GetMigrations returns all credit ledger migrations. Entity balances live
// on the entities table owned by the hierarchy migrations; this adds the
// per-application allocation rows.
func GetMigrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create application_allocations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS application_allocations (
					entity_id UUID NOT NULL REFERENCES entities(id),
					application_code VARCHAR(64) NOT NULL,
					allocated_credits BIGINT NOT NULL DEFAULT 0,
					used_credits BIGINT NOT NULL DEFAULT 0,
					auto_replenish BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (entity_id, application_code),
					CONSTRAINT allocations_used_within_allocated CHECK (used_credits >= 0 AND used_credits <= allocated_credits)
				);

				CREATE INDEX idx_application_allocations_application_code ON application_allocations(application_code);
			`,
		},
	}
}
