package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create agents",
		SQL: `
			CREATE TABLE agents (
				id          TEXT PRIMARY KEY,
				name        TEXT NOT NULL,
				config      TEXT NOT NULL,
				created_at  TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);
		`,
	},
	{
		Version: 2,
		Name:    "create submissions",
		SQL: `
			CREATE TABLE submissions (
				id            TEXT PRIMARY KEY,
				agent_id      TEXT NOT NULL,
				session_id    TEXT NOT NULL,
				fields        TEXT NOT NULL,
				transcript    TEXT,
				completed_at  TEXT NOT NULL
			);

			CREATE UNIQUE INDEX idx_submissions_session ON submissions (session_id);
			CREATE INDEX idx_submissions_agent ON submissions (agent_id, completed_at);
		`,
	},
}
