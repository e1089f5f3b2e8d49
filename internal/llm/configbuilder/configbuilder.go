package configbuilder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/deskpilot/deskpilot/internal/config"
	"github.com/deskpilot/deskpilot/internal/llm"
	llmanthropic "github.com/deskpilot/deskpilot/internal/llm/providers/anthropic"
)

// BuildRegistryFromConfig builds one provider per configured entry and registers every
// model route. Routes are registered in name order so the fallback default is stable.
func BuildRegistryFromConfig(cfg *config.Config) (*llm.Registry, error) {
	reg := llm.NewRegistry()

	for name, pCfg := range cfg.Providers {
		p, err := buildProvider(name, pCfg)
		if err != nil {
			return nil, err
		}
		reg.RegisterProvider(name, p)
	}

	names := make([]string, 0, len(cfg.Models))
	for name := range cfg.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		mCfg := cfg.Models[name]
		if strings.TrimSpace(mCfg.Model) == "" {
			return nil, fmt.Errorf("model %q has no provider model name", name)
		}
		if _, ok := cfg.Providers[mCfg.Provider]; !ok {
			return nil, fmt.Errorf("model %q references unknown provider %q", name, mCfg.Provider)
		}
		reg.RegisterModel(name, llm.ModelRoute{
			Provider:  mCfg.Provider,
			Model:     mCfg.Model,
			MaxTokens: mCfg.MaxTokens,
		}, mCfg.Default)
	}

	if _, _, err := reg.Resolve(""); err != nil {
		return nil, err
	}
	return reg, nil
}

func buildProvider(name string, cfg config.ProviderConfig) (llm.Provider, error) {
	switch strings.ToLower(cfg.Type) {
	case "anthropic":
		return llmanthropic.NewProvider(name, cfg.BaseURL, cfg.APIKey, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("provider %s: unsupported type %q", name, cfg.Type)
	}
}
