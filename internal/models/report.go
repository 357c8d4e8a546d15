package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// ReportState tracks a report through the reporting pipeline. States only
// move forward: CREATED -> (PROCESSING ->) FINISHED or FAILED.
type ReportState int

const (
	// ReportStateCreated - collected by a worker, not yet sent.
	ReportStateCreated ReportState = iota + 1
	// ReportStateProcessing - accepted by the server, result pending.
	ReportStateProcessing
	// ReportStateFinished - processed by the server.
	ReportStateFinished
	// ReportStateFailed - the server failed to process the report.
	ReportStateFailed
)

func (s ReportState) String() string {
	switch s {
	case ReportStateCreated:
		return "created"
	case ReportStateProcessing:
		return "processing"
	case ReportStateFinished:
		return "finished"
	case ReportStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports true for states that end a report's lifecycle.
func (s ReportState) Terminal() bool {
	return s == ReportStateFinished || s == ReportStateFailed
}

// GuestState is the power state of a guest as reported by its hypervisor.
type GuestState int

const (
	GuestStateUnknown GuestState = iota
	GuestStateRunning
	GuestStateShutoff
	GuestStatePaused
	GuestStateShuttingDown
	GuestStateCrashed
)

// Guest is one virtual machine known to a source.
type Guest struct {
	ID    string     `json:"guestId"`
	State GuestState `json:"state"`
}

// Hypervisor is one host together with the guests running on it.
type Hypervisor struct {
	HypervisorID string            `json:"hypervisorId"`
	Name         string            `json:"name,omitempty"`
	GuestIDs     []Guest           `json:"guestIds"`
	Facts        map[string]string `json:"facts,omitempty"`
}

// Report is one collected inventory snapshot (or error marker) for a
// Config. Exactly three implementations exist: HostGuestReport,
// DomainListReport and ErrorReport; the send site switches over them
// exhaustively.
type Report interface {
	Config() *Config
	State() ReportState
	SetState(ReportState)
	// JobID is set when the remote service accepted the report
	// asynchronously and handed back a job to poll.
	JobID() string
	SetJobID(string)
	// Fingerprint is a content hash used to detect unchanged inventory
	// between cycles. Empty for reports without a payload.
	Fingerprint() string

	sealed()
}

type baseReport struct {
	config *Config
	state  ReportState
	jobID  string
}

func (r *baseReport) Config() *Config   { return r.config }
func (r *baseReport) State() ReportState { return r.state }
func (r *baseReport) JobID() string     { return r.jobID }
func (r *baseReport) SetJobID(id string) { r.jobID = id }
func (r *baseReport) sealed()           {}

// SetState advances the report state. Transitions backwards are ignored.
func (r *baseReport) SetState(s ReportState) {
	if s > r.state {
		r.state = s
	}
}

// HostGuestReport is a full host-to-guest association snapshot from a
// hypervisor-aware source.
type HostGuestReport struct {
	baseReport
	hypervisors []Hypervisor
	fingerprint string
}

func NewHostGuestReport(cfg *Config, hypervisors []Hypervisor) *HostGuestReport {
	return &HostGuestReport{
		baseReport:  baseReport{config: cfg, state: ReportStateCreated},
		hypervisors: hypervisors,
	}
}

// Hypervisors returns the association in a stable order.
func (r *HostGuestReport) Hypervisors() []Hypervisor {
	return r.hypervisors
}

func (r *HostGuestReport) Fingerprint() string {
	if r.fingerprint == "" {
		r.fingerprint = hashPayload(canonicalHypervisors(r.hypervisors))
	}
	return r.fingerprint
}

// DomainListReport is a flat guest-list snapshot from a source that is not
// itself a hypervisor.
type DomainListReport struct {
	baseReport
	guests      []Guest
	fingerprint string
}

func NewDomainListReport(cfg *Config, guests []Guest) *DomainListReport {
	return &DomainListReport{
		baseReport: baseReport{config: cfg, state: ReportStateCreated},
		guests:     guests,
	}
}

func (r *DomainListReport) Guests() []Guest {
	return r.guests
}

func (r *DomainListReport) Fingerprint() string {
	if r.fingerprint == "" {
		r.fingerprint = hashPayload(canonicalGuests(r.guests))
	}
	return r.fingerprint
}

// ErrorReport signals that collection failed for a config. It carries no
// payload and is never transmitted; it exists so a failing worker does not
// stall a oneshot run.
type ErrorReport struct {
	baseReport
}

func NewErrorReport(cfg *Config) *ErrorReport {
	return &ErrorReport{baseReport: baseReport{config: cfg, state: ReportStateCreated}}
}

func (r *ErrorReport) Fingerprint() string { return "" }

// hashPayload hashes the canonical JSON encoding of the payload. Slices are
// sorted by the callers so equal inventories hash equally regardless of the
// order a source enumerated them in.
func hashPayload(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func canonicalGuests(guests []Guest) []Guest {
	out := make([]Guest, len(guests))
	copy(out, guests)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func canonicalHypervisors(hypervisors []Hypervisor) []Hypervisor {
	out := make([]Hypervisor, len(hypervisors))
	copy(out, hypervisors)
	for i := range out {
		out[i].GuestIDs = canonicalGuests(out[i].GuestIDs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HypervisorID < out[j].HypervisorID })
	return out
}
