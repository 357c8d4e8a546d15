package config

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
)

// Configuration holds everything the agent needs to run. Defaults come
// from the struct tags; flags override them.
type Configuration struct {
	Agent       Agent       `debugmap:"visible"`
	Destination Destination `debugmap:"visible"`
	Server      Server      `debugmap:"visible"`

	// Log
	LogFormat string `debugmap:"visible" default:"console"`
	LogLevel  string `debugmap:"visible" default:"info"`
}

type Agent struct {
	// SourcesFile is the YAML file defining the inventory sources.
	SourcesFile string `debugmap:"visible"`
	// Interval is the steady-state reporting interval per source.
	Interval time.Duration `debugmap:"visible" default:"1h"`
	// Oneshot reports once per source and exits.
	Oneshot bool `debugmap:"visible"`
	// Print collects once and prints the reports instead of sending.
	Print bool `debugmap:"visible"`
	// ReporterID identifies this agent to the destination. Generated
	// from the hostname when empty.
	ReporterID string `debugmap:"visible"`
	// QueueSize is the report channel capacity.
	QueueSize int `debugmap:"visible" default:"32"`
	// ThrottleFloor is the minimum backoff after a rate-limited send.
	ThrottleFloor time.Duration `debugmap:"visible" default:"60s"`
	// DataFolder holds the run-status database. In-memory when empty.
	DataFolder string `debugmap:"visible"`
}

type Destination struct {
	// URL of the subscription-management service.
	URL string `debugmap:"visible"`
}

type Server struct {
	// Enabled starts the HTTP status server.
	Enabled bool `debugmap:"visible" default:"true"`
	// HTTPPort on which the status server listens.
	HTTPPort int `debugmap:"visible" default:"8089"`
}

// NewConfiguration returns a Configuration with all defaults applied.
func NewConfiguration() *Configuration {
	cfg := &Configuration{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("applying configuration defaults: %v", err))
	}
	return cfg
}

// DebugMap renders the agent section for startup logging.
func (a Agent) DebugMap() map[string]any {
	return map[string]any{
		"sources-file":   a.SourcesFile,
		"interval":       a.Interval.String(),
		"oneshot":        a.Oneshot,
		"print":          a.Print,
		"reporter-id":    a.ReporterID,
		"queue-size":     a.QueueSize,
		"throttle-floor": a.ThrottleFloor.String(),
		"data-folder":    a.DataFolder,
	}
}

// DebugMap renders the destination section for startup logging.
func (d Destination) DebugMap() map[string]any {
	return map[string]any{
		"url": d.URL,
	}
}

// DebugMap renders the server section for startup logging.
func (s Server) DebugMap() map[string]any {
	return map[string]any{
		"enabled":   s.Enabled,
		"http-port": s.HTTPPort,
	}
}
