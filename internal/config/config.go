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
	EventStore  EventStoreConfig `yaml:"event_store"`
	STT         STTConfig        `yaml:"stt"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
	Profile     ProfileConfig    `yaml:"profile"`
	Report      ReportConfig     `yaml:"report"`
	Session     SessionConfig    `yaml:"session"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type STTConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	ModelPath  string `yaml:"model_path"`
	Language   string `yaml:"language"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type LLMConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Mode        string  `yaml:"mode"` // mock, ollama, exec, openai, gemini
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	Voice      string `yaml:"voice"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

// ProfileConfig points at the upstream profile directory keyed by room name.
// Zero Attempts or IntervalMS select the defaults (5 lookups, 500ms apart).
type ProfileConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Attempts   int    `yaml:"attempts"`
	IntervalMS int    `yaml:"interval_ms"`
}

type ReportConfig struct {
	BackendURL         string  `yaml:"backend_url"`
	BackendToken       string  `yaml:"backend_token"`
	MaxTokens          int     `yaml:"max_tokens"`
	Temperature        float64 `yaml:"temperature"`
	SynthesisTimeoutMS int     `yaml:"synthesis_timeout_ms"`
	DeliveryTimeoutMS  int     `yaml:"delivery_timeout_ms"`
}

type SessionConfig struct {
	SentinelToken string `yaml:"sentinel_token"`
	IdleTimeoutMS int    `yaml:"idle_timeout_ms"`
	QueueSize     int    `yaml:"queue_size"`
	Greeting      string `yaml:"greeting"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-intake",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/intake-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		STT: STTConfig{
			Enabled:    false,
			Mode:       "mock",
			SampleRate: 16000,
			Channels:   1,
		},
		LLM: LLMConfig{
			Enabled:     true,
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxTokens:   256,
			Temperature: 0.7,
			TimeoutMS:   60000,
		},
		TTS: TTSConfig{
			Enabled:    false,
			Mode:       "mock",
			Voice:      "en-US",
			SampleRate: 22050,
			Channels:   1,
		},
		Profile: ProfileConfig{
			Endpoint:   "http://localhost:5001",
			Attempts:   5,
			IntervalMS: 500,
		},
		Report: ReportConfig{
			BackendURL:         "http://localhost:5000/api",
			MaxTokens:          1024,
			Temperature:        0.2,
			SynthesisTimeoutMS: 30000,
			DeliveryTimeoutMS:  15000,
		},
		Session: SessionConfig{
			SentinelToken: "[SESSION_END]",
			IdleTimeoutMS: 0,
			QueueSize:     64,
			Greeting:      "Hello, my name is Dr. Mira. I will ask you a few quick questions about how you feel.",
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

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "INTAKE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "INTAKE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "INTAKE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "INTAKE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "INTAKE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "INTAKE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "INTAKE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "INTAKE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "INTAKE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "INTAKE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "INTAKE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "INTAKE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "INTAKE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "INTAKE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "INTAKE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "INTAKE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "INTAKE_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "INTAKE_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "INTAKE_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "INTAKE_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "INTAKE_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.STT.Enabled, "INTAKE_STT_ENABLED")
	overrideString(&cfg.STT.Mode, "INTAKE_STT_MODE")
	overrideString(&cfg.STT.Command, "INTAKE_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "INTAKE_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "INTAKE_STT_LANGUAGE")
	overrideInt(&cfg.STT.SampleRate, "INTAKE_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "INTAKE_STT_CHANNELS")
	overrideBool(&cfg.LLM.Enabled, "INTAKE_LLM_ENABLED")
	overrideString(&cfg.LLM.Mode, "INTAKE_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "INTAKE_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "INTAKE_LLM_COMMAND")
	overrideString(&cfg.LLM.APIKey, "INTAKE_LLM_API_KEY")
	overrideString(&cfg.LLM.Model, "INTAKE_LLM_MODEL")
	overrideInt(&cfg.LLM.MaxTokens, "INTAKE_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "INTAKE_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "INTAKE_LLM_TIMEOUT_MS")
	overrideBool(&cfg.TTS.Enabled, "INTAKE_TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "INTAKE_TTS_MODE")
	overrideString(&cfg.TTS.Command, "INTAKE_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "INTAKE_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "INTAKE_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "INTAKE_TTS_CHANNELS")
	overrideString(&cfg.Profile.Endpoint, "INTAKE_PROFILE_ENDPOINT")
	overrideInt(&cfg.Profile.Attempts, "INTAKE_PROFILE_ATTEMPTS")
	overrideInt(&cfg.Profile.IntervalMS, "INTAKE_PROFILE_INTERVAL_MS")
	overrideString(&cfg.Report.BackendURL, "INTAKE_REPORT_BACKEND_URL")
	overrideString(&cfg.Report.BackendToken, "INTAKE_REPORT_BACKEND_TOKEN")
	overrideInt(&cfg.Report.MaxTokens, "INTAKE_REPORT_MAX_TOKENS")
	overrideFloat(&cfg.Report.Temperature, "INTAKE_REPORT_TEMPERATURE")
	overrideInt(&cfg.Report.SynthesisTimeoutMS, "INTAKE_REPORT_SYNTHESIS_TIMEOUT_MS")
	overrideInt(&cfg.Report.DeliveryTimeoutMS, "INTAKE_REPORT_DELIVERY_TIMEOUT_MS")
	overrideString(&cfg.Session.SentinelToken, "INTAKE_SESSION_SENTINEL_TOKEN")
	overrideInt(&cfg.Session.IdleTimeoutMS, "INTAKE_SESSION_IDLE_TIMEOUT_MS")
	overrideInt(&cfg.Session.QueueSize, "INTAKE_SESSION_QUEUE_SIZE")
	overrideString(&cfg.Session.Greeting, "INTAKE_SESSION_GREETING")
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
		var trimmed []string
		for _, p := range strings.Split(value, ",") {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
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
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else if len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when embedded mode is disabled")
	}
	if cfg.EventStore.Path == "" && cfg.EventStore.RetentionMode != "ephemeral" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.STT.Enabled {
		switch cfg.STT.Mode {
		case "mock", "exec":
		default:
			return errors.New("stt.mode must be one of mock|exec")
		}
		if cfg.STT.SampleRate <= 0 || cfg.STT.Channels <= 0 {
			return errors.New("stt.sample_rate and stt.channels must be positive")
		}
		if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	}
	if cfg.LLM.Enabled {
		switch cfg.LLM.Mode {
		case "mock", "ollama", "exec", "openai", "gemini":
		default:
			return errors.New("llm.mode must be one of mock|ollama|exec|openai|gemini")
		}
		if cfg.LLM.Mode == "ollama" && cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=ollama")
		}
		if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
		if (cfg.LLM.Mode == "openai" || cfg.LLM.Mode == "gemini") && cfg.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key must be set when mode=%s", cfg.LLM.Mode)
		}
		if cfg.LLM.MaxTokens < 0 {
			return errors.New("llm.max_tokens must be >= 0")
		}
	}
	if cfg.TTS.Enabled {
		switch cfg.TTS.Mode {
		case "mock", "exec":
		default:
			return errors.New("tts.mode must be one of mock|exec")
		}
		if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
		if cfg.TTS.SampleRate <= 0 || cfg.TTS.Channels <= 0 {
			return errors.New("tts.sample_rate and tts.channels must be positive")
		}
	}
	if cfg.Profile.Attempts <= 0 {
		return errors.New("profile.attempts must be >= 1")
	}
	if cfg.Profile.IntervalMS < 0 {
		return errors.New("profile.interval_ms must be >= 0")
	}
	if cfg.Report.BackendURL == "" {
		return errors.New("report.backend_url must not be empty")
	}
	if cfg.Report.MaxTokens <= 0 {
		return errors.New("report.max_tokens must be positive")
	}
	if cfg.Report.SynthesisTimeoutMS <= 0 {
		return errors.New("report.synthesis_timeout_ms must be positive")
	}
	if strings.TrimSpace(cfg.Session.SentinelToken) == "" {
		return errors.New("session.sentinel_token must not be empty")
	}
	if cfg.Session.IdleTimeoutMS < 0 {
		return errors.New("session.idle_timeout_ms must be >= 0")
	}
	if cfg.Session.QueueSize <= 0 {
		return errors.New("session.queue_size must be >= 1")
	}
	return nil
}
