package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS results (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	status      TEXT NOT NULL,
	message     TEXT NOT NULL DEFAULT '',
	subject     TEXT NOT NULL DEFAULT '',
	recipients  TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL DEFAULT '{}',
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_created_at ON results(created_at);
CREATE INDEX IF NOT EXISTS idx_results_status ON results(status);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
