package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	UseSSL     bool
	UseTLS     bool
	TimeoutSec int
}

type Config struct {
	Port      string
	DataDir   string
	StaticDir string

	OutputBasename  string
	SubjectPrefix   string
	VolumeSizeMB    int
	SendIntervalSec int
	Sender          string
	Recipients      string
	Cc              string

	SMTP SMTPConfig

	// SevenZTarball forces a specific archiver bundle file name in <DataDir>/bin.
	SevenZTarball string
}

// Load resolves every key once at startup: environment variable first, then the
// YAML config file, then the code default. The result is immutable afterwards.
func Load() Config {
	r := newResolver(getEnv("CONFIG_FILE", "config/config.yaml"))

	return Config{
		Port:      r.str("PORT", "12082"),
		DataDir:   r.str("DATA_DIR", "data"),
		StaticDir: r.str("STATIC_DIR", "static"),

		OutputBasename:  r.str("DEFAULT_OUTPUT_BASENAME", "mydata"),
		SubjectPrefix:   r.str("DEFAULT_SUBJECT_PREFIX", "Archive transfer"),
		VolumeSizeMB:    r.num("DEFAULT_VOLUME_SIZE_MB", 20),
		SendIntervalSec: r.num("DEFAULT_SEND_INTERVAL_SEC", 2),
		Sender:          r.str("DEFAULT_SENDER", ""),
		Recipients:      r.str("DEFAULT_RECIPIENTS", ""),
		Cc:              r.str("DEFAULT_CC", ""),

		SMTP: SMTPConfig{
			Host:       r.str("SMTP_HOST", ""),
			Port:       r.num("SMTP_PORT", 465),
			Username:   r.str("SMTP_USERNAME", ""),
			Password:   r.str("SMTP_PASSWORD", ""),
			UseSSL:     r.boolean("SMTP_USE_SSL", true),
			UseTLS:     r.boolean("SMTP_USE_TLS", false),
			TimeoutSec: r.num("SMTP_TIMEOUT_SEC", 30),
		},

		SevenZTarball: r.str("SEVENZ_TARBALL", ""),
	}
}

// resolver layers the environment over a YAML key/value file. File keys are
// accepted in either the exact (upper) form or lower case.
type resolver struct {
	file map[string]any
}

func newResolver(path string) resolver {
	r := resolver{file: map[string]any{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("read config file", "path", path, "error", err)
		}
		return r
	}
	if err := yaml.Unmarshal(data, &r.file); err != nil {
		slog.Error("parse config file", "path", path, "error", err)
		r.file = map[string]any{}
	}
	return r
}

func (r resolver) lookup(key string) (any, bool) {
	if v := os.Getenv(key); v != "" {
		return v, true
	}
	if v, ok := r.file[key]; ok {
		return v, true
	}
	if v, ok := r.file[strings.ToLower(key)]; ok {
		return v, true
	}
	return nil, false
}

func (r resolver) str(key, fallback string) string {
	v, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func (r resolver) num(key string, fallback int) int {
	v, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(fmt.Sprint(v)))
	if err != nil {
		return fallback
	}
	return n
}

func (r resolver) boolean(key string, fallback bool) bool {
	v, ok := r.lookup(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(fmt.Sprint(v))) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
