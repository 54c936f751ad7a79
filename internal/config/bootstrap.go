package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

type BootstrapArgs struct {
	ConfigPath string

	Provider string
	Model    string
	Timezone string

	// Force overwrites an existing config file.
	Force bool
}

// Bootstrap writes a starter config and returns its path.
func Bootstrap(args BootstrapArgs) (string, error) {
	path := strings.TrimSpace(args.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}
	if !args.Force {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("%s already exists", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}

	provider := strings.ToLower(strings.TrimSpace(args.Provider))
	if provider == "" {
		provider = ProviderAnthropic
	}
	model := strings.TrimSpace(args.Model)
	if model == "" {
		model = defaultModel(provider)
	}

	cfg := &Config{
		LogFormat: "text",
		LogLevel:  "info",
		LLM:       LLMConfig{Provider: provider, Model: model},
		Assistant: AssistantConfig{Timezone: strings.TrimSpace(args.Timezone)},
	}
	if err := Save(path, cfg); err != nil {
		return "", err
	}
	return path, nil
}

func defaultModel(provider string) string {
	if provider == ProviderOpenAI {
		return "gpt-4.1-mini"
	}
	return "claude-sonnet-4-5"
}
