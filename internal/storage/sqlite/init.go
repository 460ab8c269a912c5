package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database and creates the artifacts table if it
// doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS artifacts (
		id INTEGER PRIMARY KEY,
		download_id TEXT UNIQUE,
		context_id TEXT,
		file_path TEXT,
		started_at DATETIME,
		status TEXT DEFAULT 'in_progress'
	)`)

	if err != nil {
		return nil, err
	}

	return db, nil
}
