package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GenerationChanged is true when any music generation parameter
	// (bpm, temperature, guidance) changed.
	GenerationChanged bool
	NewGeneration     AudioConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Music generation tuning
	if old.Audio.BPM != new.Audio.BPM ||
		old.Audio.Temperature != new.Audio.Temperature ||
		old.Audio.Guidance != new.Audio.Guidance {
		d.GenerationChanged = true
		d.NewGeneration = new.Audio
	}

	return d
}
