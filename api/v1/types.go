package v1

import (
	"time"

	"github.com/openvirt/inventory-agent/internal/models"
)

// SourceStatus is the wire form of one source's run status.
type SourceStatus struct {
	Source             string     `json:"source"`
	LastSuccessfulSend *time.Time `json:"last_successful_send,omitempty"`
	LastJobID          string     `json:"last_job_id,omitempty"`
	LastError          string     `json:"last_error,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Sources []SourceStatus `json:"sources"`
}

func (s *SourceStatus) FromModel(m models.SourceStatus) {
	s.Source = m.Source
	s.LastSuccessfulSend = m.LastSuccessfulSend
	s.LastJobID = m.LastJobID
	s.LastError = m.LastError
	s.UpdatedAt = m.UpdatedAt
}
