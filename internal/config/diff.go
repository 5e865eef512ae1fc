package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything else
// (endpoints, stores, the character identity) requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DetectionChanged is true if any context switch threshold changed.
	DetectionChanged bool

	// EmpathyChanged is true if any empathy learning parameter changed.
	EmpathyChanged bool

	// PromptFileChanged is true if the persona prompt file path changed.
	PromptFileChanged bool
}

// Any reports whether the diff contains any hot-reloadable change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.DetectionChanged || d.EmpathyChanged || d.PromptFileChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Detection != new.Detection {
		d.DetectionChanged = true
	}
	if old.Empathy != new.Empathy {
		d.EmpathyChanged = true
	}
	if old.Character.PromptFile != new.Character.PromptFile {
		d.PromptFileChanged = true
	}

	return d
}
