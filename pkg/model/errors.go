package model

import "fmt"

// ConfigError is returned when a runtime configuration value is rejected.
type ConfigError struct {
	Key     string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("daemon config %s: %s", e.Key, e.Message)
}

// NewConfigError creates a ConfigError for key.
func NewConfigError(key, format string, args ...any) *ConfigError {
	return &ConfigError{Key: key, Message: fmt.Sprintf(format, args...)}
}

// LockRaceError is returned when a metadata save finds its temporary file or
// its lock gone between writing and renaming. Another writer broke mutual
// exclusion; the save must not be retried.
type LockRaceError struct {
	Path   string
	Reason string
}

func (e *LockRaceError) Error() string {
	return fmt.Sprintf("lock-racing detected for %s: %s", e.Path, e.Reason)
}

// DatasetNotLoadedError is returned when a dataset is listed by the project
// but its metadata document cannot be found.
type DatasetNotLoadedError struct {
	Name string
}

func (e *DatasetNotLoadedError) Error() string {
	return fmt.Sprintf("dataset %s listed but not loaded", e.Name)
}
