package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the content ledger
// table if it doesn't exist. The (movie_id, source) pair is the content key
// and is unique: at most one record per key at any time.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS content (
		id TEXT PRIMARY KEY,
		movie_id TEXT NOT NULL,
		source TEXT NOT NULL,
		torrent_id INTEGER NOT NULL,
		file_path TEXT NOT NULL,
		media_type TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE(movie_id, source)
	)`)

	if err != nil {
		return nil, err
	}

	return db, nil
}
