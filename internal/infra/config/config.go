package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	LLM       LLMConfig       `yaml:"llm"`
	Gym       GymConfig       `yaml:"gym"`
	Store     StoreConfig     `yaml:"store"`
	Payments  PaymentsConfig  `yaml:"payments"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp"`
	Reminders RemindersConfig `yaml:"reminders"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// AgentConfig holds agent behavior settings.
type AgentConfig struct {
	Model         string        `yaml:"model"`
	MaxTokens     int           `yaml:"max_tokens"`
	Temperature   float64       `yaml:"temperature"`
	HistoryWindow int           `yaml:"history_window"`
	Timeout       time.Duration `yaml:"timeout"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// GymConfig holds the business facts injected into the system prompt.
type GymConfig struct {
	Name           string   `yaml:"name"`
	Tagline        string   `yaml:"tagline"`
	Address        string   `yaml:"address"`
	Hours          string   `yaml:"hours"`
	AssistantName  string   `yaml:"assistant_name"`
	PriceLines     []string `yaml:"price_lines"`
	AerobicsLines  []string `yaml:"aerobics_lines"`
	PaymentMethods []string `yaml:"payment_methods"`
	Policies       []string `yaml:"policies"`
}

// StoreConfig holds SQLite store settings.
type StoreConfig struct {
	Path string `yaml:"path"`
	Seed bool   `yaml:"seed"`
}

// PaymentsConfig holds Culqi payment settings.
type PaymentsConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	CheckoutBase string        `yaml:"checkout_base"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxPerMinute int           `yaml:"max_per_minute"`
}

// WhatsAppConfig holds WhatsApp Cloud API channel settings.
type WhatsAppConfig struct {
	Token       string `yaml:"token"`
	PhoneID     string `yaml:"phone_id"`
	VerifyToken string `yaml:"verify_token"`
	AppSecret   string `yaml:"app_secret,omitempty"`
	WebhookAddr string `yaml:"webhook_addr,omitempty"`
	RatePerSec  int    `yaml:"rate_per_sec,omitempty"`
}

// RemindersConfig holds membership expiry reminder settings.
type RemindersConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Schedule   string `yaml:"schedule"` // cron expression
	DaysBefore int    `yaml:"days_before"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			Model:         "gpt-4o-mini",
			MaxTokens:     500,
			Temperature:   0.7,
			HistoryWindow: 10,
			Timeout:       60 * time.Second,
		},
		LLM: LLMConfig{
			DefaultProvider: "openai",
			Providers: []ProviderConfig{
				{
					Name:    "openai",
					Type:    "openai",
					BaseURL: "https://api.openai.com/v1",
					Model:   "gpt-4o-mini",
				},
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Gym: GymConfig{
			Name:          "MegaGym",
			Tagline:       "La casa del dolor",
			Address:       "Mz I Lt 5 Montenegro, San Juan de Lurigancho",
			Hours:         "Lunes a Sábado de 6:00 AM a 10:00 PM",
			AssistantName: "Sofía",
			PriceLines: []string{
				"Plan 1 mes: S/80",
				"Plan 2 meses: S/120",
				"Plan 3 meses: S/150",
				"Clase suelta: S/6",
			},
			AerobicsLines: []string{
				"Aeróbicos: Lunes a Sábado 8:00 AM y 8:00 PM",
			},
			PaymentMethods: []string{
				"Tarjeta de crédito o débito (link de pago)",
				"Yape / Plin",
				"Efectivo en recepción",
			},
			Policies: []string{
				"La membresía inicia el día del pago",
				"Las clases grupales requieren reserva previa",
			},
		},
		Store: StoreConfig{
			Path: "./data/megagym.db",
			Seed: true,
		},
		Payments: PaymentsConfig{
			BaseURL:      "https://api.culqi.com",
			CheckoutBase: "https://megagym.pe",
			Timeout:      15 * time.Second,
			MaxPerMinute: 10,
		},
		WhatsApp: WhatsAppConfig{
			WebhookAddr: ":3000",
			RatePerSec:  10,
		},
		Reminders: RemindersConfig{
			Enabled:    false,
			Schedule:   "0 9 * * *",
			DaysBefore: 3,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file and applies env var overrides.
// A missing file is not an error: defaults plus env overrides are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps MEGAGYM_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MEGAGYM_LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv("MEGAGYM_AGENT_MODEL"); v != "" {
		cfg.Agent.Model = v
	}
	if v := os.Getenv("MEGAGYM_AGENT_HISTORY_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Agent.HistoryWindow = n
		}
	}
	if v := os.Getenv("MEGAGYM_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("MEGAGYM_CULQI_API_KEY"); v != "" {
		cfg.Payments.APIKey = v
	}
	if v := os.Getenv("MEGAGYM_CULQI_BASE_URL"); v != "" {
		cfg.Payments.BaseURL = v
	}
	if v := os.Getenv("MEGAGYM_CULQI_CHECKOUT_BASE"); v != "" {
		cfg.Payments.CheckoutBase = v
	}
	if v := os.Getenv("MEGAGYM_WHATSAPP_TOKEN"); v != "" {
		cfg.WhatsApp.Token = v
	}
	if v := os.Getenv("MEGAGYM_WHATSAPP_PHONE_ID"); v != "" {
		cfg.WhatsApp.PhoneID = v
	}
	if v := os.Getenv("MEGAGYM_WHATSAPP_VERIFY_TOKEN"); v != "" {
		cfg.WhatsApp.VerifyToken = v
	}
	if v := os.Getenv("MEGAGYM_WHATSAPP_APP_SECRET"); v != "" {
		cfg.WhatsApp.AppSecret = v
	}
	if v := os.Getenv("MEGAGYM_WHATSAPP_WEBHOOK_ADDR"); v != "" {
		cfg.WhatsApp.WebhookAddr = v
	}
	if v := os.Getenv("MEGAGYM_REMINDERS_ENABLED"); v == "true" {
		cfg.Reminders.Enabled = true
	}
	if v := os.Getenv("MEGAGYM_REMINDERS_SCHEDULE"); v != "" {
		cfg.Reminders.Schedule = v
	}
	if v := os.Getenv("MEGAGYM_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("MEGAGYM_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("MEGAGYM_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("MEGAGYM_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}

	// Per-provider API key overrides: MEGAGYM_LLM_PROVIDER_<NAME>_API_KEY
	for i := range cfg.LLM.Providers {
		envKey := fmt.Sprintf("MEGAGYM_LLM_PROVIDER_%s_API_KEY",
			strings.ToUpper(cfg.LLM.Providers[i].Name))
		if v := os.Getenv(envKey); v != "" {
			cfg.LLM.Providers[i].APIKey = v
		}
	}
}

// Validate checks the config for invalid values.
func Validate(cfg *Config) error {
	if cfg.Agent.HistoryWindow <= 0 {
		return fmt.Errorf("agent.history_window must be positive, got %d", cfg.Agent.HistoryWindow)
	}
	if cfg.Agent.MaxTokens < 0 {
		return fmt.Errorf("agent.max_tokens must not be negative, got %d", cfg.Agent.MaxTokens)
	}
	if cfg.LLM.DefaultProvider == "" {
		return fmt.Errorf("llm.default_provider must not be empty")
	}

	seen := map[string]bool{}
	for _, p := range cfg.LLM.Providers {
		if p.Name == "" {
			return fmt.Errorf("llm provider with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate llm provider name %q", p.Name)
		}
		seen[p.Name] = true
	}

	switch cfg.Logger.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logger.level must be debug, info, warn or error, got %q", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logger.format must be text or json, got %q", cfg.Logger.Format)
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		return fmt.Errorf("tracer.exporter must be noop or stdout, got %q", cfg.Tracer.Exporter)
	}

	if cfg.Reminders.Enabled {
		if cfg.Reminders.Schedule == "" {
			return fmt.Errorf("reminders.schedule must be set when reminders are enabled")
		}
		if cfg.Reminders.DaysBefore <= 0 {
			return fmt.Errorf("reminders.days_before must be positive, got %d", cfg.Reminders.DaysBefore)
		}
	}

	return nil
}
