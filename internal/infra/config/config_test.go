package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Agent.HistoryWindow != 10 {
		t.Errorf("HistoryWindow = %d, want 10", cfg.Agent.HistoryWindow)
	}
	if cfg.LLM.DefaultProvider != "openai" {
		t.Errorf("DefaultProvider = %q, want openai", cfg.LLM.DefaultProvider)
	}
	if cfg.Gym.Name != "MegaGym" {
		t.Errorf("Gym.Name = %q, want MegaGym", cfg.Gym.Name)
	}
	if cfg.Reminders.DaysBefore != 3 {
		t.Errorf("Reminders.DaysBefore = %d, want 3", cfg.Reminders.DaysBefore)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q, want default", cfg.Agent.Model)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
agent:
  model: gpt-4o
  history_window: 6
  timeout: 30s
llm:
  default_provider: groq
  providers:
    - name: groq
      type: openai
      base_url: https://api.groq.com/openai/v1
      model: llama-3.3-70b
whatsapp:
  token: tok
  phone_id: "12345"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Model != "gpt-4o" {
		t.Errorf("Model = %q, want gpt-4o", cfg.Agent.Model)
	}
	if cfg.Agent.HistoryWindow != 6 {
		t.Errorf("HistoryWindow = %d, want 6", cfg.Agent.HistoryWindow)
	}
	if cfg.Agent.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Agent.Timeout)
	}
	if cfg.LLM.DefaultProvider != "groq" {
		t.Errorf("DefaultProvider = %q, want groq", cfg.LLM.DefaultProvider)
	}
	if len(cfg.LLM.Providers) != 1 || cfg.LLM.Providers[0].Name != "groq" {
		t.Errorf("Providers = %+v, want one groq provider", cfg.LLM.Providers)
	}
	// Defaults not mentioned in the file survive.
	if cfg.Gym.Tagline != "La casa del dolor" {
		t.Errorf("Gym.Tagline = %q, want default", cfg.Gym.Tagline)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("MEGAGYM_LLM_DEFAULT_PROVIDER", "groq")
	t.Setenv("MEGAGYM_CULQI_API_KEY", "sk_test_123")
	t.Setenv("MEGAGYM_AGENT_HISTORY_WINDOW", "4")
	t.Setenv("MEGAGYM_LLM_PROVIDER_OPENAI_API_KEY", "sk-env")

	cfg := Defaults()
	cfg.LLM.Providers = []ProviderConfig{{Name: "openai", Type: "openai"}}
	ApplyEnvOverrides(cfg)

	if cfg.LLM.DefaultProvider != "groq" {
		t.Errorf("DefaultProvider = %q, want groq", cfg.LLM.DefaultProvider)
	}
	if cfg.Payments.APIKey != "sk_test_123" {
		t.Errorf("Payments.APIKey = %q", cfg.Payments.APIKey)
	}
	if cfg.Agent.HistoryWindow != 4 {
		t.Errorf("HistoryWindow = %d, want 4", cfg.Agent.HistoryWindow)
	}
	if cfg.LLM.Providers[0].APIKey != "sk-env" {
		t.Errorf("provider APIKey = %q, want sk-env", cfg.LLM.Providers[0].APIKey)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero history window", func(c *Config) { c.Agent.HistoryWindow = 0 }},
		{"empty default provider", func(c *Config) { c.LLM.DefaultProvider = "" }},
		{"duplicate provider", func(c *Config) {
			c.LLM.Providers = []ProviderConfig{{Name: "a"}, {Name: "a"}}
		}},
		{"bad logger level", func(c *Config) { c.Logger.Level = "verbose" }},
		{"bad tracer exporter", func(c *Config) { c.Tracer.Exporter = "jaeger" }},
		{"reminders without schedule", func(c *Config) {
			c.Reminders.Enabled = true
			c.Reminders.Schedule = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
