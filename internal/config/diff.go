package config

// ConfigDiff describes what changed between two configs. Only fields that
// can be safely hot-reloaded are tracked — a session already in progress
// keeps the [types.AgentConfig] snapshot it started with (AgentConfig is
// immutable for a session's lifetime per the orchestrator's contract); a
// diff only matters for sessions started after the reload.
type ConfigDiff struct {
	AgentChanged        bool
	SystemPromptChanged bool
	VoiceChanged        bool
	ToolsChanged        bool
	LogLevelChanged     bool
	NewLogLevel         LogLevel
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Agent.SystemPrompt != new.Agent.SystemPrompt {
		d.SystemPromptChanged = true
		d.AgentChanged = true
	}
	if old.Agent.Voice != new.Agent.Voice {
		d.VoiceChanged = true
		d.AgentChanged = true
	}
	if !toolsEqual(old.Agent.Tools, new.Agent.Tools) {
		d.ToolsChanged = true
		d.AgentChanged = true
	}

	return d
}

// toolsEqual reports whether two tool-definition lists are structurally
// identical. Tool definitions are raw maps (the three accepted input
// shapes), so equality is checked by recursive comparison of the maps
// (mapsEqual) rather than field comparison.
func toolsEqual(a, b []map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !mapsEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func mapsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if am, ok := v.(map[string]any); ok {
			bm, ok := bv.(map[string]any)
			if !ok || !mapsEqual(am, bm) {
				return false
			}
			continue
		}
		if v != bv {
			return false
		}
	}
	return true
}
