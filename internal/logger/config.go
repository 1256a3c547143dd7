package logger

import (
	"io"
	"os"
	"strconv"
)

// EnvConfig configures the process logger. LoadFromEnv fills it from LOG_* variables.
type EnvConfig struct {
	Level       string
	Format      string
	Output      io.Writer // overrides stdout and file output when set
	ServiceName string
	Environment string // local, dev, prod

	LogFile     string
	LogFileOnly bool

	// lumberjack rotation
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// LoadFromEnv reads the logger settings of the api and worker binaries.
func LoadFromEnv() *EnvConfig {
	return &EnvConfig{
		Level:       envOr("LOG_LEVEL", "info", parseString),
		Format:      envOr("LOG_FORMAT", "json", parseString),
		ServiceName: envOr("SERVICE_NAME", "kbpipe", parseString),
		Environment: envOr("APP_ENV", "local", parseString),

		LogFile:     envOr("LOG_FILE", "/var/log/kbpipe/app.log", parseString),
		LogFileOnly: envOr("LOG_FILE_ONLY", false, strconv.ParseBool),

		MaxSize:    envOr("LOG_MAX_SIZE", 100, strconv.Atoi),
		MaxBackups: envOr("LOG_MAX_BACKUPS", 7, strconv.Atoi),
		MaxAge:     envOr("LOG_MAX_AGE", 30, strconv.Atoi),
		Compress:   envOr("LOG_COMPRESS", true, strconv.ParseBool),
	}
}

func parseString(s string) (string, error) { return s, nil }

// envOr returns the parsed value of key, or def when it is unset or malformed.
func envOr[T any](key string, def T, parse func(string) (T, error)) T {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}
