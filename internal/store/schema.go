package store

var schema = []string{
	`CREATE TABLE IF NOT EXISTS processed_statuses (
		status_id TEXT PRIMARY KEY,
		processed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS games (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		questioner_acct TEXT NOT NULL,
		questioner_url TEXT NOT NULL,
		question_status_id TEXT,
		gold_positive TEXT,
		gold_negative TEXT,
		positive_input TEXT,
		negative_input TEXT,
		close_reason TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS game_submissions (
		game_id TEXT NOT NULL,
		account_url TEXT NOT NULL,
		acct TEXT NOT NULL,
		display_name TEXT,
		status_id TEXT,
		positive TEXT,
		negative TEXT,
		score REAL NOT NULL,
		score_positive REAL NOT NULL,
		score_negative REAL NOT NULL,
		left_chance INTEGER NOT NULL,
		rank INTEGER NOT NULL,
		submitted_at TIMESTAMP NOT NULL,
		PRIMARY KEY (game_id, account_url),
		FOREIGN KEY (game_id) REFERENCES games(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_games_closed_at ON games(closed_at)`,
}
