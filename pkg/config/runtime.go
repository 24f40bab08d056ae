package config

import (
	"log/slog"
	"strings"
)

// RuntimeConfig holds the environment-tunable knobs shared by every agent
// process built on this module: identity, log level, and the run
// supervisor's defaults. Embed it in an application-specific config struct
// (it has no `env` prefix of its own, so its fields take the enclosing
// struct's prefix) or load it standalone with [MustLoad].
//
//	type AppConfig struct {
//	    config.RuntimeConfig
//	    ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
//	}
type RuntimeConfig struct {
	AgentName    string `env:"AGENT_NAME" envDefault:"agent"`
	AgentVersion string `env:"AGENT_VERSION" envDefault:"0.0.0"`

	// LogLevel is one of "debug", "info", "warn", "error" (case-insensitive).
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// RunPolicy selects the RunningModuleExceptionPolicy ordinal an
	// embedding program passes to signal.Agent.Run. The zero value
	// matches signal.LogAndStopModule.
	RunPolicy int `env:"RUN_POLICY" envDefault:"0"`
}

// SlogLevel parses LogLevel into a [slog.Level], defaulting to
// [slog.LevelInfo] for an empty or unrecognized value.
func (c RuntimeConfig) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
