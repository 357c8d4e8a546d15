package store

import "database/sql"

// Store provides access to all storage repositories.
type Store struct {
	db        *sql.DB
	runStatus *RunStatusStore
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:        db,
		runStatus: NewRunStatusStore(db),
	}
}

func (s *Store) RunStatus() *RunStatusStore {
	return s.runStatus
}

func (s *Store) Close() error {
	return s.db.Close()
}
