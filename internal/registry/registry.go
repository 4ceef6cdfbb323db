// Package registry holds the static provider catalog and builds adapters
// from it.
package registry

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/felipepmaragno/llmbridge/internal/domain"
	"github.com/felipepmaragno/llmbridge/internal/provider"
	"github.com/felipepmaragno/llmbridge/internal/provider/anthropic"
	"github.com/felipepmaragno/llmbridge/internal/provider/gemini"
	"github.com/felipepmaragno/llmbridge/internal/provider/ollama"
	"github.com/felipepmaragno/llmbridge/internal/provider/openai"
	"github.com/felipepmaragno/llmbridge/internal/router"
	"github.com/felipepmaragno/llmbridge/internal/validation"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// Catalog is a read-only table of provider configurations.
type Catalog struct {
	providers []domain.ProviderConfig
	byID      map[string]int
}

type catalogFile struct {
	Providers []domain.ProviderConfig `yaml:"providers"`
}

var defaultCatalog = sync.OnceValues(func() (*Catalog, error) {
	return Parse(embeddedCatalog)
})

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return defaultCatalog()
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %q: %w", path, err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %q: %w", path, err)
	}
	return c, nil
}

func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c := &Catalog{
		providers: file.Providers,
		byID:      make(map[string]int, len(file.Providers)),
	}
	for i, p := range file.Providers {
		if err := validateProvider(p); err != nil {
			return nil, err
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate provider %q", p.ID)
		}
		c.byID[p.ID] = i
	}
	return c, nil
}

func validateProvider(p domain.ProviderConfig) error {
	if p.ID == "" {
		return fmt.Errorf("provider without id")
	}
	if !validation.ValidateBaseURL(p.BaseURL) {
		return fmt.Errorf("provider %q: invalid base_url %q", p.ID, p.BaseURL)
	}
	switch p.AuthType {
	case domain.AuthKey, domain.AuthToken, domain.AuthNone:
	default:
		return fmt.Errorf("provider %q: unknown auth_type %q", p.ID, p.AuthType)
	}
	switch p.SDKType {
	case domain.SDKOpenAI, domain.SDKAnthropic, domain.SDKGemini, domain.SDKOllama, domain.SDKRouter:
	default:
		return fmt.Errorf("provider %q: unknown sdk_type %q", p.ID, p.SDKType)
	}
	if len(p.Models) == 0 {
		return fmt.Errorf("provider %q: no models", p.ID)
	}

	seen := make(map[string]bool, len(p.Models))
	for _, m := range p.Models {
		if m.ID == "" {
			return fmt.Errorf("provider %q: model without id", p.ID)
		}
		if seen[m.ID] {
			return fmt.Errorf("provider %q: duplicate model %q", p.ID, m.ID)
		}
		seen[m.ID] = true
	}
	return nil
}

// Provider returns a copy of the configuration for id.
func (c *Catalog) Provider(id string) (domain.ProviderConfig, bool) {
	i, ok := c.byID[id]
	if !ok {
		return domain.ProviderConfig{}, false
	}
	cfg := c.providers[i]
	cfg.Models = slices.Clone(cfg.Models)
	return cfg, true
}

// IDs returns provider IDs in catalog order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.providers))
	for i, p := range c.providers {
		ids[i] = p.ID
	}
	return ids
}

// NewProvider builds the adapter for id. Providers that authenticate with a
// key fail with API_KEY_MISSING when opts carries none.
func NewProvider(c *Catalog, id string, opts domain.ProviderOptions) (provider.Provider, error) {
	cfg, ok := c.Provider(id)
	if !ok {
		pe := domain.NewProviderError(id, domain.CodeBadRequest, "unknown provider "+id)
		pe.Cause = domain.ErrProviderNotFound
		return nil, pe
	}

	if cfg.AuthType != domain.AuthNone {
		if opts.APIKey == "" {
			return nil, domain.NewProviderError(id, domain.CodeAPIKeyMissing, cfg.Name+" API key is not configured")
		}
		if !validation.ValidateAPIKey(cfg.SDKType, opts.APIKey) {
			slog.Warn("api key format looks wrong", "provider", id)
		}
	}
	if opts.BaseURL != "" && !validation.ValidateBaseURL(opts.BaseURL) {
		return nil, domain.NewProviderError(id, domain.CodeBadRequest, "invalid base URL "+opts.BaseURL)
	}

	switch cfg.SDKType {
	case domain.SDKOpenAI:
		return openai.New(cfg, opts), nil
	case domain.SDKAnthropic:
		return anthropic.New(cfg, opts), nil
	case domain.SDKGemini:
		return gemini.New(cfg, opts), nil
	case domain.SDKOllama:
		return ollama.New(cfg, opts), nil
	case domain.SDKRouter:
		return router.NewAggregator(cfg, opts), nil
	default:
		return nil, fmt.Errorf("provider %q: unsupported sdk_type %q", id, cfg.SDKType)
	}
}
