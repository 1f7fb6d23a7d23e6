package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider and
// store changes require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	DebounceChanged bool
	NewDebounce     Duration

	TurnTimeoutChanged bool
	NewTurnTimeout     Duration

	SpeechVoiceChanged bool
	NewSpeechVoice     string

	NewsKeysChanged bool
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.DebounceChanged || d.TurnTimeoutChanged ||
		d.SpeechVoiceChanged || d.NewsKeysChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Recognition.Debounce != new.Recognition.Debounce {
		d.DebounceChanged = true
		d.NewDebounce = new.Recognition.Debounce
	}

	if old.Chat.TurnTimeout != new.Chat.TurnTimeout {
		d.TurnTimeoutChanged = true
		d.NewTurnTimeout = new.Chat.TurnTimeout
	}

	if old.Speech.Voice != new.Speech.Voice {
		d.SpeechVoiceChanged = true
		d.NewSpeechVoice = new.Speech.Voice
	}

	if old.Chat.GNewsAPIKey != new.Chat.GNewsAPIKey || old.Chat.BingAPIKey != new.Chat.BingAPIKey {
		d.NewsKeysChanged = true
	}

	return d
}
