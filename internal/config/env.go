package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type EnvConfig struct {
	JobsPath          string
	DataDir           string
	Interval          time.Duration
	Schedule          string
	Timezone          string
	ParallelDownloads int
	FetchDetails      bool
	RunOnce           bool
	DryRun            bool
	TestEmail         bool
	TestEmailTo       string
	EmailTemplatePath string
	StatusAddr        string
	Store             StoreEnvConfig
	HTTP              HTTPEnvConfig
	SMTP              SMTPEnvConfig
	Log               LogEnvConfig
	OTel              OTelEnvConfig
}

type StoreEnvConfig struct {
	Backend   string // file, sqlite or badger
	Retention time.Duration
}

type HTTPEnvConfig struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	Retries      int
}

type SMTPEnvConfig struct {
	Host               string
	Port               int
	User               string
	Password           string
	From               string
	TLSMode            string
	InsecureSkipVerify bool
}

type LogEnvConfig struct {
	Level  string
	Format string // text or json
}

type OTelEnvConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	Protocol    string // "grpc" or "http/protobuf"
	Headers     map[string]string
	Insecure    bool
	SampleRatio float64
}

const (
	DefaultInterval          = 10 * time.Minute
	DefaultParallelDownloads = 10
)

// LoadEnv reads the process environment. The KN_* names used by earlier
// versions of the notifier are accepted as fallbacks.
func LoadEnv() EnvConfig {
	dataDir := envString("./data", "NOTIFIER_DATA_DIR", "KN_PATH")
	otlpEndpoint := strings.TrimSpace(envString("", "OTEL_EXPORTER_OTLP_ENDPOINT"))

	smtpTLS := envString("", "SMTP_TLS_MODE")
	if smtpTLS == "" {
		if v := envString("", "KN_SMTP_SECURE"); v != "" {
			smtpTLS = "starttls"
			if envBool(false, "KN_SMTP_SECURE") {
				smtpTLS = "implicit"
			}
		}
	}

	return EnvConfig{
		JobsPath:          envString("", "NOTIFIER_JOBS"),
		DataDir:           dataDir,
		Interval:          envDuration(DefaultInterval, "NOTIFIER_INTERVAL", "KN_INTERVAL"),
		Schedule:          envString("", "NOTIFIER_SCHEDULE"),
		Timezone:          envString("", "NOTIFIER_TIMEZONE", "TZ"),
		ParallelDownloads: envInt(DefaultParallelDownloads, "NOTIFIER_PARALLEL_DOWNLOADS", "KN_PARALLEL_DOWNLOADS"),
		FetchDetails:      envBool(true, "NOTIFIER_FETCH_DETAILS"),
		RunOnce:           envBool(false, "NOTIFIER_RUN_ONCE", "RUN_ONCE"),
		DryRun:            envBool(false, "NOTIFIER_DRY_RUN"),
		TestEmail:         envBool(false, "NOTIFIER_TEST_EMAIL", "KN_TEST_EMAIL"),
		TestEmailTo:       envString("", "NOTIFIER_TEST_EMAIL_TO", "KN_TEST_EMAIL_TO_ADDRESS"),
		EmailTemplatePath: envString("", "NOTIFIER_EMAIL_TEMPLATE"),
		StatusAddr:        envString("", "STATUS_ADDR"),
		Store: StoreEnvConfig{
			Backend:   strings.ToLower(envString("file", "NOTIFIER_STORE")),
			Retention: envDuration(0, "NOTIFIER_STORE_RETENTION"),
		},
		HTTP: HTTPEnvConfig{
			Timeout:      envDuration(15*time.Second, "HTTP_TIMEOUT"),
			UserAgent:    envString("", "HTTP_USER_AGENT"),
			MaxBodyBytes: int64(envInt(8<<20, "HTTP_MAX_BODY_BYTES")),
			Retries:      envInt(3, "HTTP_RETRIES"),
		},
		SMTP: SMTPEnvConfig{
			Host:               envString("", "SMTP_HOST", "KN_SMTP_HOST"),
			Port:               envInt(587, "SMTP_PORT", "KN_SMTP_PORT"),
			User:               envString("", "SMTP_USER", "KN_SMTP_USER"),
			Password:           envString("", "SMTP_PASSWORD", "KN_SMTP_PASS"),
			From:               envString("", "SMTP_FROM", "KN_SMTP_FROM_ADDRESS"),
			TLSMode:            smtpTLS,
			InsecureSkipVerify: envBool(false, "SMTP_INSECURE_SKIP_VERIFY"),
		},
		Log: LogEnvConfig{
			Level:  strings.ToLower(envString("info", "LOG_LEVEL")),
			Format: strings.ToLower(envString("text", "LOG_FORMAT")),
		},
		OTel: OTelEnvConfig{
			Enabled:     envBool(false, "OTEL_ENABLED"),
			ServiceName: strings.TrimSpace(envString("listing-notifier", "OTEL_SERVICE_NAME")),
			Endpoint:    otlpEndpoint,
			Protocol:    strings.ToLower(strings.TrimSpace(envString("grpc", "OTEL_EXPORTER_OTLP_PROTOCOL"))),
			Headers:     parseHeaders(envString("", "OTEL_EXPORTER_OTLP_HEADERS")),
			Insecure:    envBool(defaultInsecure(otlpEndpoint), "OTEL_EXPORTER_OTLP_INSECURE"),
			SampleRatio: clamp01(envFloat(1.0, "OTEL_TRACES_SAMPLE_RATIO")),
		},
	}
}

// Validate reports settings that cannot work regardless of the jobs document.
func (c EnvConfig) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data directory is required")
	}
	if c.Schedule == "" && c.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
	}
	if c.ParallelDownloads <= 0 {
		return fmt.Errorf("parallel downloads must be positive")
	}
	switch c.Store.Backend {
	case "file", "sqlite", "badger":
	default:
		return fmt.Errorf("unsupported store backend %q (expected file, sqlite or badger)", c.Store.Backend)
	}
	if c.Store.Retention < 0 {
		return fmt.Errorf("store retention must be >= 0")
	}
	if c.Store.Retention > 0 && c.Store.Backend == "file" {
		return fmt.Errorf("store retention requires the sqlite or badger backend")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format %q", c.Log.Format)
	}
	return nil
}

// JobsCandidates returns the paths tried for the jobs document, in order.
func (c EnvConfig) JobsCandidates() []string {
	if c.JobsPath != "" {
		return []string{c.JobsPath}
	}
	return []string{
		filepath.Join(c.DataDir, "jobs.yaml"),
		filepath.Join(c.DataDir, "jobs.yml"),
		filepath.Join(c.DataDir, "jobs.json"),
	}
}

// lookupEnv returns the first non-empty value among keys.
func lookupEnv(keys ...string) (string, bool) {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v, true
		}
	}
	return "", false
}

func envString(fallback string, keys ...string) string {
	if v, ok := lookupEnv(keys...); ok {
		return v
	}
	return fallback
}

func envBool(fallback bool, keys ...string) bool {
	v, ok := lookupEnv(keys...)
	if !ok {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func envInt(fallback int, keys ...string) int {
	v, ok := lookupEnv(keys...)
	if !ok {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envFloat(fallback float64, keys ...string) float64 {
	v, ok := lookupEnv(keys...)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(fallback time.Duration, keys ...string) time.Duration {
	v, ok := lookupEnv(keys...)
	if !ok {
		return fallback
	}
	d, err := ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func parseHeaders(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func defaultInsecure(endpoint string) bool {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return true
	}
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return u.Scheme == "http"
	}
	return strings.HasPrefix(endpoint, "localhost:") ||
		strings.HasPrefix(endpoint, "127.0.0.1:") ||
		strings.HasPrefix(endpoint, "0.0.0.0:")
}
