// Package logging configures the global zerolog logger and the structured
// startup event.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelEnv names the environment variable holding the log level.
const LevelEnv = "POLYBOT_LOG_LEVEL"

// Init initializes the global logger from POLYBOT_LOG_LEVEL.
func Init() {
	InitWithLevel(os.Getenv(LevelEnv))
}

// InitWithLevel initializes the global logger. level is one of debug, info,
// warn, error (default: info). Inside Lambda the output stays JSON so
// CloudWatch can index it; elsewhere a console writer is used.
func InitWithLevel(level string) {
	zerolog.SetGlobalLevel(ParseLevel(level))

	if InLambda() {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// InLambda reports whether the process runs inside AWS Lambda.
func InLambda() bool {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}
