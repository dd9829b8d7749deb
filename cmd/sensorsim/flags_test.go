package main

import (
	"bytes"
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags_Defaults(t *testing.T) {
	t.Setenv("SENSORSIM_CONFIG", "")

	cfg, err := parseFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, cmdFull, cfg.command())
	assert.Equal(t, ".env", cfg.EnvFile)
	assert.False(t, cfg.EnvFileSet)
	assert.Equal(t, -1, cfg.MetricsPort)
	assert.Empty(t, cfg.ConfigPath)
	assert.False(t, cfg.Yes)
}

func TestParseFlags_ConfigFromEnv(t *testing.T) {
	t.Setenv("SENSORSIM_CONFIG", "/etc/sensorsim/config.yaml")

	cfg, err := parseFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "/etc/sensorsim/config.yaml", cfg.ConfigPath)

	cfg, err = parseFlags([]string{"-config", "local.json"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "local.json", cfg.ConfigPath)
}

func TestParseFlags_CommandPrecedence(t *testing.T) {
	tests := []struct {
		args []string
		want command
	}{
		{[]string{"-create"}, cmdCreate},
		{[]string{"-start"}, cmdStart},
		{[]string{"-delete"}, cmdDelete},
		{[]string{"-single", "abc:1"}, cmdSingle},
		{[]string{"-create", "-start"}, cmdCreate},
		{[]string{"-start", "-delete"}, cmdStart},
		{[]string{"-delete", "-single", "abc:1"}, cmdSingle},
		{[]string{"-yes"}, cmdFull},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			cfg, err := parseFlags(tt.args, &bytes.Buffer{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.command())
		})
	}
}

func TestParseFlags_EnvFileExplicit(t *testing.T) {
	cfg, err := parseFlags([]string{"-env-file", "prod.env"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "prod.env", cfg.EnvFile)
	assert.True(t, cfg.EnvFileSet)
}

func TestParseFlags_Errors(t *testing.T) {
	_, err := parseFlags([]string{"-bogus"}, &bytes.Buffer{})
	require.Error(t, err)

	_, err = parseFlags([]string{"extra"}, &bytes.Buffer{})
	require.Error(t, err)

	out := &bytes.Buffer{}
	_, err = parseFlags([]string{"-h"}, out)
	require.ErrorIs(t, err, flag.ErrHelp)
	assert.Contains(t, out.String(), "-single")
}

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		name    string
		cfg     CLIConfig
		wantErr bool
	}{
		{"defaults", CLIConfig{MetricsPort: -1}, false},
		{"log level", CLIConfig{LogLevel: "DEBUG", MetricsPort: -1}, false},
		{"bad log level", CLIConfig{LogLevel: "trace", MetricsPort: -1}, true},
		{"bad log format", CLIConfig{LogFormat: "xml", MetricsPort: -1}, true},
		{"bad port", CLIConfig{MetricsPort: 70000}, true},
		{"good single", CLIConfig{Single: "65f0:21.5", MetricsPort: -1}, false},
		{"bad single", CLIConfig{Single: "65f0", MetricsPort: -1}, true},
		{"version skips checks", CLIConfig{ShowVersion: true, LogLevel: "trace"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFlags(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseSingle(t *testing.T) {
	tests := []struct {
		in      string
		id      string
		value   float64
		wantErr bool
	}{
		{"65f0c1:21.5", "65f0c1", 21.5, false},
		{" 65f0c1 : -3 ", "65f0c1", -3, false},
		{"urn:sensor:7:1e3", "urn:sensor:7", 1000, false},
		{"65f0c1", "", 0, true},
		{":12", "", 0, true},
		{"65f0c1:", "", 0, true},
		{"65f0c1:warm", "", 0, true},
		{"65f0c1:NaN", "", 0, true},
		{"65f0c1:+Inf", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			id, value, err := parseSingle(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.value, value)
		})
	}
}
