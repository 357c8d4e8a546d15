package models

// Config identifies one configured inventory source. It is immutable once
// constructed; reports keep a reference to it and never copy or mutate it.
type Config struct {
	// Name is unique among all configured sources.
	Name string
	// Type names the connector implementation that owns this source.
	Type string
	// Settings carries connector-specific options (server, credentials,
	// file paths). Opaque to everything but the sources package.
	Settings map[string]string
}

// Setting returns the named connector option or the empty string.
func (c *Config) Setting(key string) string {
	return c.Settings[key]
}
