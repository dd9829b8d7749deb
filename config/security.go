package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	maxConfigSize = 1 << 20 // 1MB max config file size
	maxJSONDepth  = 32      // Maximum JSON nesting depth
	maxEnvVarLen  = 4096    // Maximum environment variable value length
	maxPathLen    = 4096    // Maximum file path length
)

// fileFormat is the decoder selected by a config file extension
type fileFormat int

const (
	formatJSON fileFormat = iota
	formatYAML
)

// validateConfigPath checks length and extension and returns the file format.
func validateConfigPath(path string) (fileFormat, error) {
	if path == "" {
		return 0, stderrors.New("empty config path")
	}
	if len(path) > maxPathLen {
		return 0, fmt.Errorf("path too long: %d > %d", len(path), maxPathLen)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	default:
		return 0, fmt.Errorf("only JSON or YAML config files allowed: %s", path)
	}
}

// safeReadFile reads a config file after checking its path, size and type.
func safeReadFile(path string) ([]byte, fileFormat, error) {
	format, err := validateConfigPath(path)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid config path: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, fmt.Errorf("cannot stat config file: %w", err)
	}
	if info.Size() > maxConfigSize {
		return nil, 0, fmt.Errorf("config file too large: %d bytes > %d", info.Size(), maxConfigSize)
	}
	if !info.Mode().IsRegular() {
		return nil, 0, fmt.Errorf("not a regular file: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("cannot read config file: %w", err)
	}
	return data, format, nil
}

// validateEnvVar rejects oversized values and embedded null bytes
func validateEnvVar(key, value string) error {
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("environment variable %s too long: %d > %d", key, len(value), maxEnvVarLen)
	}
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("null byte in environment variable %s", key)
	}
	return nil
}

// validateJSONDepth bounds nesting before the document is decoded.
func validateJSONDepth(data []byte) error {
	depth := 0
	inString := false
	escaped := false

	for _, b := range data {
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch b {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			inString = true
		case '{', '[':
			depth++
			if depth > maxJSONDepth {
				return fmt.Errorf("JSON nesting too deep: %d > %d", depth, maxJSONDepth)
			}
		case '}', ']':
			depth--
			if depth < 0 {
				return stderrors.New("malformed JSON: unbalanced brackets")
			}
		}
	}

	if depth != 0 {
		return fmt.Errorf("malformed JSON: unclosed brackets (depth=%d)", depth)
	}
	return nil
}
