package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SimilarityThresholdChanged bool
	NewSimilarityThreshold     float64

	TranslateChanged bool
	NewTranslate     TranslateConfig
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.SimilarityThresholdChanged || d.TranslateChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart; server,
// STT, and upload settings require one.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Align.SimilarityThreshold != new.Align.SimilarityThreshold {
		d.SimilarityThresholdChanged = true
		d.NewSimilarityThreshold = new.Align.SimilarityThreshold
	}

	if old.Translate != new.Translate {
		d.TranslateChanged = true
		d.NewTranslate = new.Translate
	}

	return d
}
