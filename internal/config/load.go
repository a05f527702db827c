package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "SDBCOMPACT_"

// envMappings maps environment variables to koanf paths.
var envMappings = map[string]string{
	"SDBCOMPACT_MNODE_DIR":          "mnode.dir",
	"SDBCOMPACT_VGID":               "mnode.vgId",
	"SDBCOMPACT_WAL_CODEC":          "wal.codec",
	"SDBCOMPACT_WAL_SYNC":           "wal.sync",
	"SDBCOMPACT_WAL_BUFFER_SIZE":    "wal.bufferSize",
	"SDBCOMPACT_WAL_MAX_FRAME_SIZE": "wal.maxFrameSize",
	"SDBCOMPACT_SOURCE_DIR":         "compaction.sourceDir",
	"SDBCOMPACT_TARGET_DIR":         "compaction.targetDir",
	"SDBCOMPACT_HASH_SESSIONS":      hashSessionsPath,
	"SDBCOMPACT_ARCHIVE_ENABLED":    "archive.enabled",
	"SDBCOMPACT_S3_BUCKET":          "archive.bucket",
	"SDBCOMPACT_S3_REGION":          "archive.region",
	"SDBCOMPACT_S3_ENDPOINT":        "archive.endpoint",
	"SDBCOMPACT_S3_ACCESS_KEY":      "archive.accessKey",
	"SDBCOMPACT_S3_SECRET_KEY":      "archive.secretKey",
	"SDBCOMPACT_ARCHIVE_PREFIX":     "archive.prefix",
	"SDBCOMPACT_S3_PATH_STYLE":      "archive.usePathStyle",
	"SDBCOMPACT_LOG_LEVEL":          "observability.logLevel",
	"SDBCOMPACT_LOG_FORMAT":         "observability.logFormat",
	"SDBCOMPACT_LOG_CALLER":         "observability.logCaller",
	"SDBCOMPACT_METRICS_FILE":       "observability.metricsFile",
	"SDBCOMPACT_METRICS_ADDR":       "observability.metricsAddr",
}

const hashSessionsPath = "compaction.hashSessions"

// envTransformFunc maps a variable name to its koanf path. Unmapped
// variables, SDBCOMPACT_CONFIG included, return "" and are skipped.
func envTransformFunc(key string) string {
	return envMappings[key]
}

// Load reads the file named by SDBCOMPACT_CONFIG, or only defaults and
// environment when it is unset.
func Load() (*Config, error) {
	return LoadFromPath(os.Getenv(EnvConfigPath))
}

// LoadFromPath layers defaults, the YAML file at path and environment
// overrides, then validates the result. An empty path skips the file.
func LoadFromPath(path string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	// Layer 2: config file
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	// Layer 3: environment
	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}
	if err := processMapFields(k); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg, err := unmarshal(k)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// unmarshal decodes k into a Config, rejecting keys no field claims.
func unmarshal(k *koanf.Koanf) (*Config, error) {
	cfg := &Config{}
	err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			ErrorUnused:      true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// processMapFields converts the "name=n,name=n" env form of hashSessions
// into a map. A map from the YAML file is left alone.
func processMapFields(k *koanf.Koanf) error {
	raw, ok := k.Get(hashSessionsPath).(string)
	if !ok {
		return nil
	}
	m, err := parseIntMap(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", hashSessionsPath, err)
	}
	k.Delete(hashSessionsPath)
	return k.Set(hashSessionsPath, m)
}

// parseIntMap parses "a=1,b=2".
func parseIntMap(raw string) (map[string]any, error) {
	m := make(map[string]any)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, val, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("expected name=value, got %q", pair)
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		m[strings.TrimSpace(name)] = n
	}
	return m, nil
}
