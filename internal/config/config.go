package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Store       StoreConfig      `yaml:"store"`
	Gateway     GatewayConfig    `yaml:"gateway"`
	Supervisor  SupervisorConfig `yaml:"supervisor"`
	Models      []ModelConfig    `yaml:"models"`
}

type BusConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Embedded        bool     `yaml:"embedded"`
	Port            int      `yaml:"port"`
	Servers         []string `yaml:"servers"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	Token           string   `yaml:"token"`
	TLSInsecure     bool     `yaml:"tls_insecure"`
	ConnectTimeout  int      `yaml:"connect_timeout_ms"`
	PublishPartials bool     `yaml:"publish_partials"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
	CacheSize     int    `yaml:"cache_size"`
}

type GatewayConfig struct {
	Path           string `yaml:"path"`
	DefaultModel   string `yaml:"default_model"`
	ReadLimitBytes int64  `yaml:"read_limit_bytes"`
	InboundQueue   int    `yaml:"inbound_queue"`
}

type SupervisorConfig struct {
	LoadTimeoutMS   int `yaml:"load_timeout_ms"`
	IdleTTLMS       int `yaml:"idle_ttl_ms"`
	EvictIntervalMS int `yaml:"evict_interval_ms"`
	InputQueue      int `yaml:"input_queue"`
	OutputQueue     int `yaml:"output_queue"`
}

// SegmentPolicy controls when a session's accumulated audio is handed to a
// worker. A zero DecodeIntervalMS disables interval-gated partial flushes; a
// zero MaxDurationMS disables the forced-flush ceiling.
type SegmentPolicy struct {
	MinDurationMS    int     `yaml:"min_duration_ms"`
	MaxDurationMS    int     `yaml:"max_duration_ms"`
	SilenceThreshold float64 `yaml:"silence_threshold"`
	SilenceWindowMS  int     `yaml:"silence_window_ms"`
	DecodeIntervalMS int     `yaml:"decode_interval_ms"`
}

type ModelConfig struct {
	ID         string        `yaml:"id"`
	Strategy   string        `yaml:"strategy"` // fast, vad
	Mode       string        `yaml:"mode"`     // mock, exec
	Command    string        `yaml:"command"`
	ModelPath  string        `yaml:"model_path"`
	Language   string        `yaml:"language"`
	SampleRate int           `yaml:"sample_rate"`
	AlwaysWarm bool          `yaml:"always_warm"`
	Policy     SegmentPolicy `yaml:"policy"`
}

func Default() Config {
	return Config{
		RuntimeName: "vox-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Path:          "./data/vox-transcripts.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
			CacheSize:     256,
		},
		Gateway: GatewayConfig{
			Path:           "/ws/transcribe",
			DefaultModel:   "zipformer",
			ReadLimitBytes: 1 << 20,
			InboundQueue:   64,
		},
		Supervisor: SupervisorConfig{
			LoadTimeoutMS:   30000,
			IdleTTLMS:       300000,
			EvictIntervalMS: 60000,
			InputQueue:      8,
			OutputQueue:     16,
		},
		Models: []ModelConfig{
			{
				ID:         "zipformer",
				Strategy:   "fast",
				Mode:       "mock",
				SampleRate: 16000,
				AlwaysWarm: true,
				Policy: SegmentPolicy{
					DecodeIntervalMS: 200,
				},
			},
			{
				ID:         "phowhisper",
				Strategy:   "vad",
				Mode:       "mock",
				SampleRate: 16000,
				Policy: SegmentPolicy{
					MinDurationMS:    3000,
					MaxDurationMS:    15000,
					SilenceThreshold: 5e-4,
					SilenceWindowMS:  500,
				},
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Model returns the configuration for the given model id.
func (c Config) Model(id string) (ModelConfig, bool) {
	for _, m := range c.Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelConfig{}, false
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VOX_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOX_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOX_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOX_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOX_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOX_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOX_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "VOX_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "VOX_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOX_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOX_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOX_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOX_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOX_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOX_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOX_BUS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.Bus.PublishPartials, "VOX_BUS_PUBLISH_PARTIALS")
	overrideString(&cfg.Store.Path, "VOX_STORE_PATH")
	overrideString(&cfg.Store.RetentionMode, "VOX_STORE_RETENTION_MODE")
	overrideInt(&cfg.Store.RetentionDays, "VOX_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxSessions, "VOX_STORE_MAX_SESSIONS")
	overrideBool(&cfg.Store.VacuumOnStart, "VOX_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Store.CacheSize, "VOX_STORE_CACHE_SIZE")
	overrideString(&cfg.Gateway.Path, "VOX_GATEWAY_PATH")
	overrideString(&cfg.Gateway.DefaultModel, "VOX_GATEWAY_DEFAULT_MODEL")
	overrideInt(&cfg.Gateway.InboundQueue, "VOX_GATEWAY_INBOUND_QUEUE")
	overrideInt(&cfg.Supervisor.LoadTimeoutMS, "VOX_SUPERVISOR_LOAD_TIMEOUT_MS")
	overrideInt(&cfg.Supervisor.IdleTTLMS, "VOX_SUPERVISOR_IDLE_TTL_MS")
	overrideInt(&cfg.Supervisor.EvictIntervalMS, "VOX_SUPERVISOR_EVICT_INTERVAL_MS")
	overrideInt(&cfg.Supervisor.InputQueue, "VOX_SUPERVISOR_INPUT_QUEUE")
	overrideInt(&cfg.Supervisor.OutputQueue, "VOX_SUPERVISOR_OUTPUT_QUEUE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	switch cfg.Store.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	if cfg.Store.CacheSize < 0 {
		return errors.New("store.cache_size must be >= 0")
	}
	if cfg.Gateway.Path == "" {
		return errors.New("gateway.path must not be empty")
	}
	if cfg.Gateway.InboundQueue <= 0 {
		return errors.New("gateway.inbound_queue must be >= 1")
	}
	if cfg.Supervisor.LoadTimeoutMS <= 0 {
		return errors.New("supervisor.load_timeout_ms must be positive")
	}
	if cfg.Supervisor.IdleTTLMS <= 0 {
		return errors.New("supervisor.idle_ttl_ms must be positive")
	}
	if cfg.Supervisor.EvictIntervalMS <= 0 {
		return errors.New("supervisor.evict_interval_ms must be positive")
	}
	if cfg.Supervisor.InputQueue <= 0 || cfg.Supervisor.OutputQueue <= 0 {
		return errors.New("supervisor queue sizes must be >= 1")
	}
	if len(cfg.Models) == 0 {
		return errors.New("models must not be empty")
	}
	seen := make(map[string]bool, len(cfg.Models))
	for _, m := range cfg.Models {
		if m.ID == "" {
			return errors.New("models[].id must not be empty")
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate model id %q", m.ID)
		}
		seen[m.ID] = true
		switch m.Strategy {
		case "fast", "vad":
		default:
			return fmt.Errorf("model %s: strategy must be one of fast|vad", m.ID)
		}
		switch m.Mode {
		case "mock", "exec":
		default:
			return fmt.Errorf("model %s: mode must be one of mock|exec", m.ID)
		}
		if m.Mode == "exec" && m.Command == "" {
			return fmt.Errorf("model %s: command must be set when mode=exec", m.ID)
		}
		if m.SampleRate <= 0 {
			return fmt.Errorf("model %s: sample_rate must be positive", m.ID)
		}
		p := m.Policy
		if p.MinDurationMS < 0 || p.MaxDurationMS < 0 || p.SilenceWindowMS < 0 || p.DecodeIntervalMS < 0 {
			return fmt.Errorf("model %s: policy durations must be >= 0", m.ID)
		}
		if p.SilenceThreshold < 0 {
			return fmt.Errorf("model %s: policy silence_threshold must be >= 0", m.ID)
		}
		if p.DecodeIntervalMS == 0 {
			if p.MinDurationMS == 0 {
				return fmt.Errorf("model %s: policy needs decode_interval_ms or min_duration_ms", m.ID)
			}
			if p.MaxDurationMS > 0 && p.MaxDurationMS < p.MinDurationMS {
				return fmt.Errorf("model %s: policy max_duration_ms must be >= min_duration_ms", m.ID)
			}
		}
	}
	if _, ok := cfg.Model(cfg.Gateway.DefaultModel); !ok {
		return fmt.Errorf("gateway.default_model %q is not a configured model", cfg.Gateway.DefaultModel)
	}
	return nil
}
