package audit

import "github.com/arborhq/arbor/pkg/storage/postgres"

// GetMigrations returns the migrations for the audit event schema
func GetMigrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create audit_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id BIGSERIAL PRIMARY KEY,
					timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
					event_type VARCHAR(100) NOT NULL,
					status VARCHAR(20) NOT NULL,
					actor_id VARCHAR(255),
					request_id VARCHAR(100),
					resource_type VARCHAR(50),
					resource_id VARCHAR(255),
					message TEXT,
					metadata JSONB,
					changes JSONB,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
				CREATE INDEX IF NOT EXISTS idx_audit_events_actor_id ON audit_events(actor_id);
				CREATE INDEX IF NOT EXISTS idx_audit_events_resource ON audit_events(resource_type, resource_id);
				CREATE INDEX IF NOT EXISTS idx_audit_events_status ON audit_events(status);
			`,
		},
	}
}
