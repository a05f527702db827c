package config

import (
	"gopkg.in/yaml.v3"
)

const redacted = "REDACTED"

// YAML renders the effective configuration with credentials redacted.
func (c *Config) YAML() ([]byte, error) {
	out := *c
	if out.Archive.AccessKey != "" {
		out.Archive.AccessKey = redacted
	}
	if out.Archive.SecretKey != "" {
		out.Archive.SecretKey = redacted
	}
	return yaml.Marshal(&out)
}
