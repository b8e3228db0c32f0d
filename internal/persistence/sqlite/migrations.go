package sqlite

import "database/sql"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS payments (
		identifier        TEXT PRIMARY KEY,
		gateway           TEXT NOT NULL,
		amount            TEXT NOT NULL,
		currency          TEXT NOT NULL,
		status            TEXT NOT NULL,
		gateway_reference TEXT,
		created_at        TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS messages (
		id          TEXT PRIMARY KEY,
		type        TEXT NOT NULL,
		payment_ref TEXT NOT NULL,
		payload     TEXT NOT NULL,
		created_at  TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_payment_ref ON messages (payment_ref);`,
}

func Migrate(db *sql.DB) error {
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}
