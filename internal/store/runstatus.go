package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/openvirt/inventory-agent/internal/models"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("not found")

// RunStatusStore records the outcome of the last report cycle per source.
// There is always one row per configured source; reports themselves are
// never persisted.
type RunStatusStore struct {
	db *sql.DB
}

func NewRunStatusStore(db *sql.DB) *RunStatusStore {
	return &RunStatusStore{db: db}
}

// Init makes sure a row exists for every configured source, so the status
// surface can show sources that have never completed a cycle.
func (s *RunStatusStore) Init(ctx context.Context, sources []string) error {
	for _, source := range sources {
		if _, err := s.db.ExecContext(ctx, queryEnsureSource, source); err != nil {
			return err
		}
	}
	return nil
}

// RecordSuccess notes a successfully delivered report for a source.
func (s *RunStatusStore) RecordSuccess(ctx context.Context, source, jobID string) error {
	_, err := s.db.ExecContext(ctx, queryRecordSuccess, source, jobID)
	return err
}

// RecordFailure notes a failed report cycle for a source. The last
// successful send timestamp is left untouched.
func (s *RunStatusStore) RecordFailure(ctx context.Context, source, reason string) error {
	_, err := s.db.ExecContext(ctx, queryRecordFailure, source, reason)
	return err
}

// Get retrieves the run status of one source.
func (s *RunStatusStore) Get(ctx context.Context, source string) (*models.SourceStatus, error) {
	row := s.db.QueryRowContext(ctx, queryGetStatus, source)
	status, err := scanStatus(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return status, nil
}

// List retrieves the run status of all known sources.
func (s *RunStatusStore) List(ctx context.Context) ([]models.SourceStatus, error) {
	rows, err := s.db.QueryContext(ctx, queryListStatus)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.SourceStatus
	for rows.Next() {
		status, err := scanStatus(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *status)
	}
	return out, rows.Err()
}

func scanStatus(scan func(dest ...any) error) (*models.SourceStatus, error) {
	var (
		status   models.SourceStatus
		lastSend sql.NullTime
		jobID    sql.NullString
		lastErr  sql.NullString
	)
	if err := scan(&status.Source, &lastSend, &jobID, &lastErr, &status.UpdatedAt); err != nil {
		return nil, err
	}
	if lastSend.Valid {
		t := lastSend.Time
		status.LastSuccessfulSend = &t
	}
	status.LastJobID = jobID.String
	status.LastError = lastErr.String
	return &status, nil
}
