package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/orato/internal/dispatch"
	"github.com/MrWong99/orato/internal/feedback"
	"github.com/MrWong99/orato/internal/source"
	"github.com/MrWong99/orato/internal/transcript"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultFeedbackTimeout = 15 * time.Second
	DefaultLanguage        = "en-US"
	DefaultServiceName     = "orato"
	DefaultKafkaTopic      = "orato.segments"
)

// envRef matches ${NAME} references. Bare $NAME is left alone so that
// secrets containing "$" survive.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
		slog.Debug("loaded environment file", "path", p)
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands ${VAR} references, decodes a YAML config from r,
// fills in defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(ExpandEnv(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExpandEnv replaces every ${NAME} in b with the value of the environment
// variable NAME. Unset variables expand to the empty string.
func ExpandEnv(b []byte) []byte {
	return envRef.ReplaceAllFunc(b, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Feedback.Backend == "" {
		cfg.Feedback.Backend = BackendHTTP
	}
	if cfg.Feedback.Timeout == 0 {
		cfg.Feedback.Timeout = DefaultFeedbackTimeout
	}
	if cfg.Feedback.Cache.TTL == 0 {
		cfg.Feedback.Cache.TTL = feedback.DefaultCacheTTL
	}

	c := &cfg.Coach
	if c.SilenceTimeout == 0 {
		c.SilenceTimeout = dispatch.DefaultSilenceTimeout
	}
	if c.DisplayDuration == 0 {
		c.DisplayDuration = dispatch.DefaultDisplayDuration
	}
	if c.MinSegmentChars == 0 {
		c.MinSegmentChars = transcript.DefaultMinChars
	}
	if c.MinWords == 0 {
		c.MinWords = dispatch.DefaultMinWords
	}
	if c.HistorySize == 0 {
		c.HistorySize = transcript.DefaultHistorySize
	}
	if c.PermissionTimeout == 0 {
		c.PermissionTimeout = source.DefaultPermissionTimeout
	}
	if c.DefaultMode == "" {
		c.DefaultMode = string(feedback.ModeAssistant)
	}
	if c.DefaultStyle == "" {
		c.DefaultStyle = string(feedback.StyleNeutral)
	}
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = DefaultLanguage
	}

	if cfg.Events.Kafka.Topic == "" {
		cfg.Events.Kafka.Topic = DefaultKafkaTopic
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions must not be negative"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, fmt.Errorf("server.tls requires both cert_file and key_file"))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; only browser recognition sessions are available")
	}

	// Feedback
	fb := cfg.Feedback
	switch {
	case fb.Backend != "" && !fb.Backend.IsValid():
		errs = append(errs, fmt.Errorf("feedback.backend %q is invalid; valid values: http, llm", fb.Backend))
	case fb.Backend == BackendHTTP:
		if fb.Endpoint == "" {
			errs = append(errs, fmt.Errorf("feedback.endpoint is required when backend is http"))
		} else if u, err := url.Parse(fb.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("feedback.endpoint %q must be an absolute http(s) URL", fb.Endpoint))
		}
	case fb.Backend == BackendLLM:
		if cfg.Providers.LLM.Name == "" {
			errs = append(errs, fmt.Errorf("feedback backend %q requires an LLM provider but providers.llm is not configured", fb.Backend))
		}
	}
	if fb.Timeout < 0 {
		errs = append(errs, fmt.Errorf("feedback.timeout must not be negative"))
	}
	if fb.Temperature < 0 || fb.Temperature > 2 {
		errs = append(errs, fmt.Errorf("feedback.temperature %.2f is out of range [0, 2]", fb.Temperature))
	}
	if fb.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("feedback.max_tokens must not be negative"))
	}
	if fb.Breaker.MaxFailures < 0 || fb.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("feedback.breaker values must not be negative"))
	}
	if fb.Cache.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("feedback.cache.redis_db must not be negative"))
	}

	// Coach
	c := cfg.Coach
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"silence_timeout", c.SilenceTimeout},
		{"display_duration", c.DisplayDuration},
		{"permission_timeout", c.PermissionTimeout},
	} {
		if d.v < 0 {
			errs = append(errs, fmt.Errorf("coach.%s must not be negative", d.name))
		}
	}
	if c.MinSegmentChars < 0 || c.MinWords < 0 || c.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("coach.min_segment_chars, min_words and history_size must not be negative"))
	}
	if _, err := feedback.ParseMode(c.DefaultMode); err != nil {
		errs = append(errs, fmt.Errorf("coach.default_mode: %w", err))
	}
	if _, err := feedback.ParseStyle(c.DefaultStyle); err != nil {
		errs = append(errs, fmt.Errorf("coach.default_style: %w", err))
	}

	// Storage
	if cfg.Storage.PostgresDSN == "" && cfg.Storage.JSONLPath == "" {
		slog.Warn("storage is not configured; interview and learning segments will not be kept")
	} else if cfg.Storage.PostgresDSN != "" && cfg.Storage.JSONLPath != "" {
		slog.Warn("storage.postgres_dsn and storage.jsonl_path are both set; using postgres")
	}

	// Events
	if k := cfg.Events.Kafka; k.Enabled {
		if len(k.Brokers) == 0 {
			errs = append(errs, fmt.Errorf("events.kafka.brokers is required when kafka is enabled"))
		}
		if k.Topic == "" {
			errs = append(errs, fmt.Errorf("events.kafka.topic is required when kafka is enabled"))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
