package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/c360/sensorsim/broker"
	"github.com/c360/sensorsim/errors"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "SENSORSIM"

// durationFields are the dotted paths decoded from duration strings.
var durationFields = [][]string{
	{"inventory", "timeout"},
	{"broker", "connect_timeout"},
}

type envFile struct {
	path     string
	required bool
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	envFiles   []envFile
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader with validation enabled
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  EnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// AddEnvFile adds a .env file. A missing optional file is skipped.
func (l *Loader) AddEnvFile(path string, required bool) {
	l.envFiles = append(l.envFiles, envFile{path: path, required: required})
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, file layers, .env files and environment overrides
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		cfg, err = mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("merge %s", path))
		}
	}

	dotenv, err := l.readEnvFiles()
	if err != nil {
		return nil, err
	}
	if err := l.applyEnvOverrides(cfg, dotenv); err != nil {
		return nil, err
	}

	cfg.finalize()

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw decodes one file into a generic map with durations converted to
// nanoseconds.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, format, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	raw := make(map[string]any)
	switch format {
	case formatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func parseDurations(data map[string]any) error {
	for _, field := range durationFields {
		section, ok := data[field[0]].(map[string]any)
		if !ok {
			continue
		}
		s, ok := section[field[1]].(string)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("%w: %s.%s: %v", errors.ErrParsingFailed, field[0], field[1], err)
		}
		section[field[1]] = d.Nanoseconds()
	}
	return nil
}

// mergeFromMap overrides only the fields present in override.
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if len(override) == 0 {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// readEnvFiles parses the .env files without touching the process environment.
func (l *Loader) readEnvFiles() (map[string]string, error) {
	values := make(map[string]string)
	for _, f := range l.envFiles {
		parsed, err := godotenv.Read(f.path)
		if err != nil {
			if !f.required && stderrors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("read env file %s", f.path))
		}
		for k, v := range parsed {
			if _, seen := values[k]; !seen {
				values[k] = v
			}
		}
	}
	return values, nil
}

// env returns PREFIX_key from the process, falling back to .env values.
func (l *Loader) env(dotenv map[string]string, key string) (string, bool, error) {
	name := l.envPrefix + "_" + key
	val, ok := l.lookupEnv(name)
	if !ok {
		val, ok = dotenv[name]
	}
	if !ok || val == "" {
		return "", false, nil
	}
	if err := validateEnvVar(name, val); err != nil {
		return "", false, errors.WrapInvalid(err, "Loader", "applyEnvOverrides", name)
	}
	return val, true, nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config, dotenv map[string]string) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"INVENTORY_URL", &cfg.Inventory.BaseURL},
		{"BROKER_URL", &cfg.Broker.URL},
		{"BROKER_QUEUE", &cfg.Broker.Queue},
		{"BROKER_USERNAME", &cfg.Broker.Username},
		{"BROKER_PASSWORD", &cfg.Broker.Password},
		{"METRICS_PATH", &cfg.Metrics.Path},
		{"LOG_LEVEL", &cfg.Log.Level},
		{"LOG_FORMAT", &cfg.Log.Format},
	}
	for _, s := range strs {
		val, ok, err := l.env(dotenv, s.key)
		if err != nil {
			return err
		}
		if ok {
			*s.dst = val
		}
	}

	if val, ok, err := l.env(dotenv, "BROKER_KIND"); err != nil {
		return err
	} else if ok {
		cfg.Broker.Kind = broker.Kind(val)
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"INVENTORY_TIMEOUT", &cfg.Inventory.Timeout},
		{"BROKER_CONNECT_TIMEOUT", &cfg.Broker.ConnectTimeout},
	}
	for _, d := range durations {
		val, ok, err := l.env(dotenv, d.key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return l.badEnv(d.key, err)
		}
		*d.dst = parsed
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"INVENTORY_BURST", &cfg.Inventory.Burst},
		{"INVENTORY_RETRY_ATTEMPTS", &cfg.Inventory.RetryAttempts},
		{"METRICS_PORT", &cfg.Metrics.Port},
	}
	for _, n := range ints {
		val, ok, err := l.env(dotenv, n.key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return l.badEnv(n.key, err)
		}
		*n.dst = parsed
	}

	if val, ok, err := l.env(dotenv, "INVENTORY_RPS"); err != nil {
		return err
	} else if ok {
		rps, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return l.badEnv("INVENTORY_RPS", err)
		}
		cfg.Inventory.RequestsPerSecond = rps
	}

	if val, ok, err := l.env(dotenv, "BROKER_TLS"); err != nil {
		return err
	} else if ok {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return l.badEnv("BROKER_TLS", err)
		}
		cfg.Broker.TLS.Enabled = enabled
	}
	if val, ok, err := l.env(dotenv, "BROKER_TLS_CA_FILE"); err != nil {
		return err
	} else if ok {
		cfg.Broker.TLS.CAFiles = append(cfg.Broker.TLS.CAFiles, val)
	}

	return nil
}

func (l *Loader) badEnv(key string, err error) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
		"Loader", "applyEnvOverrides", l.envPrefix+"_"+key)
}
