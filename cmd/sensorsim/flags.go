package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	Create bool
	Start  bool
	Single string
	Delete bool
	Yes    bool

	ConfigPath  string
	EnvFile     string
	EnvFileSet  bool
	LogLevel    string
	LogFormat   string
	MetricsPort int
	ShowVersion bool
}

// command is the single action selected by the flags
type command int

const (
	cmdFull command = iota
	cmdSingle
	cmdCreate
	cmdStart
	cmdDelete
)

func (c command) String() string {
	switch c {
	case cmdSingle:
		return "single"
	case cmdCreate:
		return "create"
	case cmdStart:
		return "start"
	case cmdDelete:
		return "delete"
	default:
		return "full"
	}
}

// command picks the action. -single wins over -create, which wins over
// -start, which wins over -delete.
func (c *CLIConfig) command() command {
	switch {
	case c.Single != "":
		return cmdSingle
	case c.Create:
		return cmdCreate
	case c.Start:
		return cmdStart
	case c.Delete:
		return cmdDelete
	default:
		return cmdFull
	}
}

func parseFlags(args []string, output io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(output)

	fs.BoolVar(&cfg.Create, "create", false, "Create the default sensor fleet and exit")
	fs.BoolVar(&cfg.Start, "start", false, "Start the simulation for the registered sensors")
	fs.StringVar(&cfg.Single, "single", "", "Send one value for a sensor (format: sensor_id:value)")
	fs.BoolVar(&cfg.Delete, "delete", false, "Delete all registered sensors and exit")
	fs.BoolVar(&cfg.Yes, "yes", false, "Skip the confirmation prompt")

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("SENSORSIM_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: SENSORSIM_CONFIG)")
	fs.StringVar(&cfg.EnvFile, "env-file", ".env", "Path to a .env file; the default one is optional")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "Log level: debug, info, warn, error (default from config)")
	fs.StringVar(&cfg.LogFormat, "log-format", "", "Log format: text, json (default from config)")
	fs.IntVar(&cfg.MetricsPort, "metrics-port", -1, "Prometheus metrics port, 0 to disable (default from config)")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(output, `%s - sensor fleet simulator

Usage: %s [options]

Without -create, -start, -single or -delete the simulator asks for
confirmation, deletes every registered sensor, creates the default fleet and
starts the simulation.

Options:
`, appName, appName)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "env-file" {
			cfg.EnvFileSet = true
		}
	})

	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}

	if cfg.LogLevel != "" && !contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(cfg.LogLevel)) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && !contains([]string{"json", "text"}, strings.ToLower(cfg.LogFormat)) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.MetricsPort < -1 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}
	if cfg.Single != "" {
		if _, _, err := parseSingle(cfg.Single); err != nil {
			return err
		}
	}
	return nil
}

// parseSingle splits "sensor_id:value". The value follows the last colon.
func parseSingle(s string) (string, float64, error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return "", 0, fmt.Errorf("invalid -single %q: want sensor_id:value", s)
	}
	id := strings.TrimSpace(s[:i])
	if id == "" {
		return "", 0, fmt.Errorf("invalid -single %q: empty sensor id", s)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(s[i+1:]), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return "", 0, fmt.Errorf("invalid -single %q: value must be a finite number", s)
	}
	return id, value, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
