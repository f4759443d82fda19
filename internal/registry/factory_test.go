package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"registry-service/internal/core"
	"registry-service/internal/core/mocks"
	"registry-service/internal/registry/ares"
	"registry-service/internal/registry/gus"
	"registry-service/internal/registry/rpo"
)

func TestNewFactory_Defaults(t *testing.T) {
	f, err := NewFactory(DefaultProviders())
	require.NoError(t, err)

	assert.Equal(t, []core.CountryCode{core.CountryCZ, core.CountryPL, core.CountrySK}, f.Countries())

	tests := []struct {
		country core.CountryCode
		check   func(t *testing.T, p core.Provider)
	}{
		{core.CountryCZ, func(t *testing.T, p core.Provider) { assert.IsType(t, &ares.Provider{}, p) }},
		{core.CountrySK, func(t *testing.T, p core.Provider) { assert.IsType(t, &rpo.Provider{}, p) }},
		{core.CountryPL, func(t *testing.T, p core.Provider) { assert.IsType(t, &gus.Provider{}, p) }},
	}

	for _, tt := range tests {
		t.Run(tt.country.String(), func(t *testing.T) {
			p, err := f.Make(tt.country)
			require.NoError(t, err)
			assert.Equal(t, tt.country, p.CountryCode())
			tt.check(t, p)
		})
	}
}

func TestNewFactory_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name      string
		providers map[core.CountryCode]ProviderConfig
		wantErr   string
	}{
		{
			name:      "unknown variant",
			providers: map[core.CountryCode]ProviderConfig{core.CountryCZ: {Provider: "finstat"}},
			wantErr:   `unknown provider "finstat"`,
		},
		{
			name:      "variant for another country",
			providers: map[core.CountryCode]ProviderConfig{core.CountrySK: {Provider: VariantARES}},
			wantErr:   `provider "ares" serves cz`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFactory(tt.providers)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFactory_Make_Unconfigured(t *testing.T) {
	f, err := NewFactory(map[core.CountryCode]ProviderConfig{
		core.CountryCZ: {Provider: VariantARES},
	})
	require.NoError(t, err)

	_, err = f.Make(core.CountryPL)
	assert.ErrorIs(t, err, core.ErrInvalidCountryCode)
}

func TestFactory_Make_BuildsOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	stub := mocks.NewMockProvider(ctrl)

	builds := 0
	f, err := NewFactory(
		map[core.CountryCode]ProviderConfig{core.CountryCZ: {Provider: "stub", BaseURL: "http://stub"}},
		WithVariant("stub", core.CountryCZ, func(cfg ProviderConfig) core.Provider {
			builds++
			assert.Equal(t, "http://stub", cfg.BaseURL)
			return stub
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, 0, builds)

	for range 3 {
		p, err := f.Make(core.CountryCZ)
		require.NoError(t, err)
		assert.Same(t, stub, p)
	}
	assert.Equal(t, 1, builds)
}
