// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agent

import (
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/pdiddy/report-engine/pkg/types"
)

// NewModel builds a langchaingo model for one provider and model name.
func NewModel(cfg types.AIConfig, model string) (llms.Model, error) {
	switch cfg.Provider {
	case "", "anthropic":
		if cfg.APIKey == "" {
			return nil, &types.ConfigError{Field: "ai.api_key", Reason: "anthropic requires an API key (.secrets/anthropic-api-key or REPORT_ENGINE_AI_API_KEY)"}
		}
		return anthropic.New(anthropic.WithToken(cfg.APIKey), anthropic.WithModel(model))
	case "openai":
		if cfg.APIKey == "" {
			return nil, &types.ConfigError{Field: "ai.api_key", Reason: "openai requires an API key"}
		}
		return openai.New(openai.WithToken(cfg.APIKey), openai.WithModel(model))
	case "ollama":
		return ollama.New(ollama.WithModel(model))
	}
	return nil, &types.ConfigError{Field: "ai.provider", Reason: fmt.Sprintf("unknown provider %q", cfg.Provider)}
}

// NewModels builds one model per tier from the configured model names.
func NewModels(cfg types.AIConfig) (map[Tier]llms.Model, error) {
	names := map[Tier]string{
		TierFast:     cfg.Models.Fast,
		TierStandard: cfg.Models.Standard,
		TierDeep:     cfg.Models.Deep,
	}
	models := make(map[Tier]llms.Model, len(names))
	for tier, name := range names {
		if name == "" {
			continue
		}
		m, err := NewModel(cfg, name)
		if err != nil {
			return nil, fmt.Errorf("building %s model: %w", tier, err)
		}
		models[tier] = m
	}
	if _, ok := models[TierStandard]; !ok {
		return nil, &types.ConfigError{Field: "ai.models.standard", Reason: "must be set"}
	}
	return models, nil
}
