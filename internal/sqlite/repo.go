// Package sqlite archives ranked digests in a SQLite database.
package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/jdholdren/debrief/internal/debrief"
	"github.com/jdholdren/debrief/internal/migrations"
)

// Ensure Repo can be used as a pipeline persister
var _ debrief.Persister = Repo{}

type Repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) Repo {
	return Repo{db: db}
}

// Open connects to the archive at path and migrates it.
func Open(path string) (*sqlx.DB, error) {
	dbx, err := sqlx.Open("sqlite", fmt.Sprintf("%s?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path))
	if err != nil {
		return nil, fmt.Errorf("error opening archive: %w", err)
	}

	if err := migrations.Run(dbx); err != nil {
		dbx.Close()
		return nil, err
	}

	return dbx, nil
}
