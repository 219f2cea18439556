package migrations

// InitialSchema creates the session_summaries table: one row per
// completed day/reset cycle, never passing-level data.
var InitialSchema = &Migration{
	Name: "001_session_summaries",
	UpSQL: `
		CREATE TABLE IF NOT EXISTS session_summaries (
			session_id TEXT NOT NULL,
			day TEXT NOT NULL,
			reset_seq INTEGER NOT NULL,
			reset_count INTEGER NOT NULL,
			total_emitted INTEGER NOT NULL,
			isolated_count INTEGER NOT NULL,
			final_noise JSONB NOT NULL,
			start_wall TIMESTAMPTZ NOT NULL,
			end_wall TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (day, reset_seq)
		);

		CREATE INDEX IF NOT EXISTS idx_session_summaries_day ON session_summaries (day);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS session_summaries;
	`,
}
