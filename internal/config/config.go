package config

import (
	"os"
	"path/filepath"
)

// CLIConfig holds process-level settings shared by all miga commands.
type CLIConfig struct {
	Project   string // Project directory (-P, or MIGA_PROJECT)
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: text, json
	Listen    string // Status API listen address; empty disables the API
	MigaRoot  string // Root exported to task scripts as MIGA
}

// DefaultCLIConfig returns sensible defaults.
func DefaultCLIConfig() CLIConfig {
	return CLIConfig{
		Project:   os.Getenv("MIGA_PROJECT"),
		LogLevel:  "info",
		LogFormat: "text",
		MigaRoot:  defaultMigaRoot(),
	}
}

// defaultMigaRoot prefers MIGA_HOME and falls back to the directory above
// the running executable (the layout of an unpacked release).
func defaultMigaRoot() string {
	if h := os.Getenv("MIGA_HOME"); h != "" {
		return h
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(filepath.Dir(exe))
}
