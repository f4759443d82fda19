// Package registry resolves which upstream registry serves each country.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"registry-service/internal/core"
	"registry-service/internal/platform/httpclient"
	"registry-service/internal/registry/ares"
	"registry-service/internal/registry/gus"
	"registry-service/internal/registry/rpo"
)

// Variant names accepted in configuration.
const (
	VariantARES = "ares"
	VariantRPO  = "rpo"
	VariantGUS  = "gus"
)

// ProviderConfig is the per-country provider section of the configuration.
type ProviderConfig struct {
	Provider    string
	BaseURL     string
	Timeout     time.Duration
	APIKey      string
	Environment string
}

// Constructor builds a provider from its configuration.
type Constructor func(cfg ProviderConfig) core.Provider

type variant struct {
	country core.CountryCode
	build   Constructor
}

func builtinVariants() map[string]variant {
	return map[string]variant{
		VariantARES: {
			country: core.CountryCZ,
			build: func(cfg ProviderConfig) core.Provider {
				return ares.New(httpclient.NewDefaultClient(cfg.Timeout), cfg.BaseURL)
			},
		},
		VariantRPO: {
			country: core.CountrySK,
			build: func(cfg ProviderConfig) core.Provider {
				return rpo.New(httpclient.NewDefaultClient(cfg.Timeout), cfg.BaseURL)
			},
		},
		VariantGUS: {
			country: core.CountryPL,
			build: func(cfg ProviderConfig) core.Provider {
				client := httpclient.NewDefaultClient(cfg.Timeout, httpclient.WithAccept("application/soap+xml"))
				return gus.New(client, gus.Config{
					APIKey:      cfg.APIKey,
					Environment: cfg.Environment,
					Endpoint:    cfg.BaseURL,
				})
			},
		},
	}
}

// DefaultProviders maps every supported country to its built-in variant.
func DefaultProviders() map[core.CountryCode]ProviderConfig {
	return map[core.CountryCode]ProviderConfig{
		core.CountryCZ: {Provider: VariantARES, Timeout: httpclient.DefaultTimeout},
		core.CountrySK: {Provider: VariantRPO, Timeout: httpclient.DefaultTimeout},
		core.CountryPL: {Provider: VariantGUS, Timeout: httpclient.DefaultTimeout, Environment: gus.EnvironmentDev},
	}
}

// Option customizes a Factory.
type Option func(map[string]variant)

// WithVariant registers an additional provider variant serving country.
func WithVariant(name string, country core.CountryCode, build Constructor) Option {
	return func(v map[string]variant) {
		v[name] = variant{country: country, build: build}
	}
}

type entry struct {
	once     sync.Once
	cfg      ProviderConfig
	build    Constructor
	provider core.Provider
}

// Factory hands out one lazily built provider per configured country.
type Factory struct {
	entries map[core.CountryCode]*entry
}

// NewFactory validates the configuration against the known variants. An
// unknown variant, or a variant configured for a country it does not serve,
// is an error.
func NewFactory(providers map[core.CountryCode]ProviderConfig, opts ...Option) (*Factory, error) {
	variants := builtinVariants()
	for _, opt := range opts {
		opt(variants)
	}

	f := &Factory{entries: make(map[core.CountryCode]*entry, len(providers))}
	for country, cfg := range providers {
		v, ok := variants[cfg.Provider]
		if !ok {
			return nil, fmt.Errorf("country %s: unknown provider %q", country, cfg.Provider)
		}
		if v.country != country {
			return nil, fmt.Errorf("country %s: provider %q serves %s", country, cfg.Provider, v.country)
		}
		f.entries[country] = &entry{cfg: cfg, build: v.build}
	}

	return f, nil
}

// Make returns the provider for country, or an InvalidCountryCode error when
// none is configured.
func (f *Factory) Make(country core.CountryCode) (core.Provider, error) {
	e, ok := f.entries[country]
	if !ok {
		return nil, core.NewInvalidCountryCode(country.String())
	}
	e.once.Do(func() {
		e.provider = e.build(e.cfg)
	})
	return e.provider, nil
}

// Countries lists the configured countries.
func (f *Factory) Countries() []core.CountryCode {
	out := make([]core.CountryCode, 0, len(f.entries))
	for c := range f.entries {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
