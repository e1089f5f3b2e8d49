package llm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deskpilot/deskpilot/internal/config"
	"github.com/deskpilot/deskpilot/internal/llm"
	"github.com/deskpilot/deskpilot/internal/llm/configbuilder"
	llmmock "github.com/deskpilot/deskpilot/internal/llm/mock"
)

func TestRegistryResolve(t *testing.T) {
	reg := llm.NewRegistry()
	mockProvider := &llmmock.Provider{NameValue: "mock"}
	reg.RegisterProvider("mock", mockProvider)
	reg.RegisterModel("default", llm.ModelRoute{
		Provider:  "mock",
		Model:     "dummy",
		MaxTokens: 512,
	}, true)

	p, route, err := reg.Resolve("")
	require.NoError(t, err)
	require.Equal(t, mockProvider, p)
	require.Equal(t, "dummy", route.Model)
	require.Equal(t, "default", route.Name)
	require.Equal(t, "default", reg.DefaultModel())

	_, _, err = reg.Resolve("missing")
	require.Error(t, err)
}

func TestRegistryResolveUnknownProvider(t *testing.T) {
	reg := llm.NewRegistry()
	reg.RegisterModel("main", llm.ModelRoute{Provider: "ghost", Model: "m"}, true)

	_, _, err := reg.Resolve("main")
	require.ErrorContains(t, err, "ghost")
}

func TestBuildRegistryFromConfig(t *testing.T) {
	cfg := &config.Config{
		Providers: map[string]config.ProviderConfig{
			"claude": {Type: "anthropic", BaseURL: "http://example.com", APIKey: "k"},
		},
		Models: map[string]config.ModelConfig{
			"main": {Provider: "claude", Model: "claude-sonnet-4-5", Default: true},
		},
	}

	reg, err := configbuilder.BuildRegistryFromConfig(cfg)
	require.NoError(t, err)

	p, route, err := reg.Resolve("main")
	require.NoError(t, err)
	require.Equal(t, "claude", p.Name())
	require.Equal(t, "claude-sonnet-4-5", route.Model)
}

func TestBuildRegistryRejectsUnknownType(t *testing.T) {
	cfg := &config.Config{
		Providers: map[string]config.ProviderConfig{"x": {Type: "ollama"}},
	}
	_, err := configbuilder.BuildRegistryFromConfig(cfg)
	require.Error(t, err)
}

func TestRegistryModelsSortedAndStableDefault(t *testing.T) {
	cfg := &config.Config{
		Providers: map[string]config.ProviderConfig{"claude": {Type: "anthropic"}},
		Models: map[string]config.ModelConfig{
			"zeta":  {Provider: "claude", Model: "z"},
			"alpha": {Provider: "claude", Model: "a"},
			"mid":   {Provider: "claude", Model: "m"},
		},
	}
	reg, err := configbuilder.BuildRegistryFromConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, "alpha", reg.DefaultModel())

	var names []string
	for _, route := range reg.Models() {
		names = append(names, route.Name)
	}
	require.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestBuildRegistryRejectsBadRoutes(t *testing.T) {
	providers := map[string]config.ProviderConfig{"claude": {Type: "anthropic"}}
	cases := map[string]config.ModelConfig{
		"unknown provider": {Provider: "ghost", Model: "m"},
		"empty model":      {Provider: "claude"},
	}
	for name, mCfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := configbuilder.BuildRegistryFromConfig(&config.Config{
				Providers: providers,
				Models:    map[string]config.ModelConfig{"main": mCfg},
			})
			require.Error(t, err)
		})
	}
}

func TestRegistryEmpty(t *testing.T) {
	_, _, err := llm.NewRegistry().Resolve("")
	require.ErrorContains(t, err, "no models")
}
