package models

import "time"

// SourceStatus is the recorded outcome of the last report cycle for one
// source, as kept in the run-status store.
type SourceStatus struct {
	Source             string
	LastSuccessfulSend *time.Time
	LastJobID          string
	LastError          string
	UpdatedAt          time.Time
}
