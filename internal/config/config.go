// Package config provides configuration loading and validation for
// sdbcompact. Defaults, an optional YAML file and SDBCOMPACT_* environment
// variables are layered with koanf, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dray-io/sdbcompact/internal/wal"
)

// EnvConfigPath names the variable holding the config file path.
const EnvConfigPath = "SDBCOMPACT_CONFIG"

// Config holds all configuration for a compaction run.
type Config struct {
	Mnode         MnodeConfig         `yaml:"mnode" koanf:"mnode"`
	WAL           WALConfig           `yaml:"wal" koanf:"wal"`
	Compaction    CompactionConfig    `yaml:"compaction" koanf:"compaction"`
	Archive       ArchiveConfig       `yaml:"archive" koanf:"archive"`
	Observability ObservabilityConfig `yaml:"observability" koanf:"observability"`
}

type MnodeConfig struct {
	Dir  string `yaml:"dir" koanf:"dir"`
	VgID int32  `yaml:"vgId" koanf:"vgId"`
}

type WALConfig struct {
	Codec        string `yaml:"codec" koanf:"codec"`
	Sync         string `yaml:"sync" koanf:"sync"`
	BufferSize   int    `yaml:"bufferSize" koanf:"bufferSize"`
	MaxFrameSize int    `yaml:"maxFrameSize" koanf:"maxFrameSize"`
}

type CompactionConfig struct {
	// SourceDir and TargetDir are resolved against Mnode.Dir when relative.
	SourceDir string `yaml:"sourceDir" koanf:"sourceDir"`
	TargetDir string `yaml:"targetDir" koanf:"targetDir"`

	// HashSessions overrides survivor index capacity hints by table name.
	// The env form is "ctables=100000,users=64" and replaces the whole map.
	HashSessions map[string]int `yaml:"hashSessions" koanf:"hashSessions"`
}

type ArchiveConfig struct {
	Enabled      bool   `yaml:"enabled" koanf:"enabled"`
	Bucket       string `yaml:"bucket" koanf:"bucket"`
	Region       string `yaml:"region" koanf:"region"`
	Endpoint     string `yaml:"endpoint" koanf:"endpoint"`
	AccessKey    string `yaml:"accessKey" koanf:"accessKey"`
	SecretKey    string `yaml:"secretKey" koanf:"secretKey"`
	Prefix       string `yaml:"prefix" koanf:"prefix"`
	UsePathStyle bool   `yaml:"usePathStyle" koanf:"usePathStyle"`
}

type ObservabilityConfig struct {
	LogLevel    string `yaml:"logLevel" koanf:"logLevel"`
	LogFormat   string `yaml:"logFormat" koanf:"logFormat"`
	MetricsFile string `yaml:"metricsFile" koanf:"metricsFile"`
	MetricsAddr string `yaml:"metricsAddr" koanf:"metricsAddr"`
	LogCaller   bool   `yaml:"logCaller" koanf:"logCaller"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Mnode: MnodeConfig{
			Dir:  "/var/lib/taos/mnode",
			VgID: 1,
		},
		WAL: WALConfig{
			Codec:        wal.CodecNone.String(),
			Sync:         "flush",
			BufferSize:   64 * 1024,
			MaxFrameSize: wal.DefaultMaxFrameSize,
		},
		Compaction: CompactionConfig{
			SourceDir: "wal",
			TargetDir: "wal_tmp",
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
			Prefix: "sdb",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Mnode.Dir == "" {
		errs = append(errs, errors.New("mnode.dir is required"))
	}
	if c.Mnode.VgID < 0 {
		errs = append(errs, fmt.Errorf("mnode.vgId must not be negative, got %d", c.Mnode.VgID))
	}
	if _, err := wal.ParseCodec(c.WAL.Codec); err != nil {
		errs = append(errs, fmt.Errorf("wal.codec: %w", err))
	}
	switch c.WAL.Sync {
	case "", "none", "flush", "always":
	default:
		errs = append(errs, fmt.Errorf("wal.sync must be none, flush or always, got %q", c.WAL.Sync))
	}
	if c.WAL.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("wal.bufferSize must not be negative, got %d", c.WAL.BufferSize))
	}
	if c.WAL.MaxFrameSize < 0 {
		errs = append(errs, fmt.Errorf("wal.maxFrameSize must not be negative, got %d", c.WAL.MaxFrameSize))
	}
	if c.Compaction.SourceDir == "" || c.Compaction.TargetDir == "" {
		errs = append(errs, errors.New("compaction.sourceDir and compaction.targetDir are required"))
	} else if filepath.Clean(c.SourcePath()) == filepath.Clean(c.TargetPath()) {
		errs = append(errs, errors.New("compaction.targetDir must differ from compaction.sourceDir"))
	}
	for name, n := range c.Compaction.HashSessions {
		if n < 0 {
			errs = append(errs, fmt.Errorf("compaction.hashSessions[%s] must not be negative, got %d", name, n))
		}
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		errs = append(errs, errors.New("archive.bucket is required when archive is enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// SourcePath is the directory of the live WAL.
func (c *Config) SourcePath() string {
	return c.resolve(c.Compaction.SourceDir)
}

// TargetPath is the directory the compacted WAL is written to.
func (c *Config) TargetPath() string {
	return c.resolve(c.Compaction.TargetDir)
}

func (c *Config) resolve(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.Mnode.Dir, dir)
}

// WALConfig converts the wal section for the wal package. Call Validate first.
func (c *Config) WALConfig() wal.Config {
	codec, _ := wal.ParseCodec(c.WAL.Codec)
	return wal.Config{
		VgID:         uint32(c.Mnode.VgID),
		Codec:        codec,
		Sync:         wal.ParseSyncMode(c.WAL.Sync),
		BufferSize:   c.WAL.BufferSize,
		MaxFrameSize: c.WAL.MaxFrameSize,
	}
}
