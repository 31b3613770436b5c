package main

import (
	"fmt"
	"log/slog"

	"megagym/internal/adapter/llm"
	"megagym/internal/domain"
	"megagym/internal/infra/config"
)

// initLLM builds the provider registry from config and returns the default
// provider, wrapped with a circuit breaker when enabled.
func initLLM(cfg *config.Config, log *slog.Logger) (domain.LLMProvider, error) {
	registry := llm.NewRegistry()

	cbCfg := cfg.LLM.CircuitBreaker
	for _, pc := range cfg.LLM.Providers {
		provider, err := createLLMProvider(pc, log)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		}

		if cbCfg.Enabled {
			provider = llm.NewCircuitBreakerProvider(provider, cbCfg, log)
		}

		if err := registry.Register(provider); err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		}
	}

	if cbCfg.Enabled {
		log.Info("llm circuit breaker enabled",
			"max_failures", cbCfg.MaxFailures,
			"timeout", cbCfg.Timeout,
			"interval", cbCfg.Interval,
		)
	}

	if cfg.LLM.DefaultProvider != "" {
		if err := registry.SetDefault(cfg.LLM.DefaultProvider); err != nil {
			return nil, err
		}
	}
	return registry.Default()
}

// createLLMProvider constructs an LLM provider from its config entry.
func createLLMProvider(pc config.ProviderConfig, log *slog.Logger) (domain.LLMProvider, error) {
	switch pc.Type {
	case "openai", "":
		return llm.NewOpenAIProvider(pc, log), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", pc.Type)
	}
}
