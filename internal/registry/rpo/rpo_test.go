package rpo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registry-service/internal/core"
	"registry-service/internal/platform/httpclient"
)

func serve(t *testing.T, status int, body string) (*Provider, *string) {
	t.Helper()

	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return New(httpclient.NewDefaultClient(2*time.Second), server.URL+"/"), &path
}

func TestProvider_Basics(t *testing.T) {
	p := New(httpclient.NewDefaultClient(0), "")

	assert.Equal(t, core.CountrySK, p.CountryCode())
	assert.Equal(t, DefaultBaseURL, p.baseURL)
	assert.True(t, p.CanHandle("46440224"))
	assert.False(t, p.CanHandle("1234567"))
	assert.False(t, p.CanHandle("123456789"))
	assert.False(t, p.CanHandle("abcdefgh"))
}

func TestProvider_FetchCompany_FullData(t *testing.T) {
	p, path := serve(t, http.StatusOK, `{
		"obchodne_meno": "GymBeam s.r.o.",
		"ico": "46440224",
		"adresa": {"street": "Rastislavova", "number": "93", "city": "Košice - mestská časť Juh", "zip": "040 01"}
	}`)

	res, err := p.FetchCompany(context.Background(), "46440224")
	require.NoError(t, err)
	assert.Equal(t, "/46440224", *path)

	c := res.Company
	assert.Equal(t, "GymBeam s.r.o.", c.Name)
	assert.Equal(t, "46440224", c.ID)
	assert.Equal(t, core.CountrySK, c.CountryCode)
	assert.Nil(t, c.VatID)
	assert.Nil(t, c.VatPayer)

	require.NotNil(t, c.Address)
	assert.Equal(t, "Rastislavova", *c.Address.Street)
	assert.Equal(t, "93", *c.Address.HouseNumber)
	assert.Equal(t, "Košice - mestská časť Juh", *c.Address.City)
	assert.Equal(t, 4001, *c.Address.Zip)
}

func TestProvider_FetchCompany_NormalizesID(t *testing.T) {
	p, path := serve(t, http.StatusOK, `{"obchodne_meno": "Test Company", "ico": "00123456", "adresa": {}}`)

	res, err := p.FetchCompany(context.Background(), "123456")
	require.NoError(t, err)

	assert.Equal(t, "/00123456", *path)
	assert.Equal(t, "00123456", res.Company.ID)
	assert.Nil(t, res.Company.Address)
}

func TestParseEntity(t *testing.T) {
	tests := []struct {
		name   string
		entity map[string]any
		found  bool
		check  func(t *testing.T, c core.Company)
	}{
		{
			name:   "empty payload",
			entity: map[string]any{},
		},
		{
			name:   "error payload",
			entity: map[string]any{"error": "not found", "name": "x"},
		},
		{
			name:   "missing name",
			entity: map[string]any{"ico": "99999999"},
			found:  true,
			check: func(t *testing.T, c core.Company) {
				assert.Equal(t, "Unknown", c.Name)
				assert.Equal(t, "12345678", c.ID)
			},
		},
		{
			name: "current full name",
			entity: map[string]any{
				"fullNames": []any{
					map[string]any{"value": "Slovnaft, a.s.", "validFrom": "1992-05-01", "validTo": "1995-12-31"},
					map[string]any{"value": "SLOVNAFT, a.s.", "validFrom": "1996-01-01"},
				},
			},
			found: true,
			check: func(t *testing.T, c core.Company) {
				assert.Equal(t, "SLOVNAFT, a.s.", c.Name)
			},
		},
		{
			name:   "missing address",
			entity: map[string]any{"obchodne_meno": "Company Without Address"},
			found:  true,
			check: func(t *testing.T, c core.Company) {
				assert.Equal(t, "Company Without Address", c.Name)
				assert.Nil(t, c.Address)
			},
		},
		{
			name: "partial address",
			entity: map[string]any{
				"obchodne_meno": "Partial Address Company",
				"adresa":        map[string]any{"city": "Bratislava"},
			},
			found: true,
			check: func(t *testing.T, c core.Company) {
				require.NotNil(t, c.Address)
				assert.Equal(t, "Bratislava", *c.Address.City)
				assert.Nil(t, c.Address.Street)
				assert.Nil(t, c.Address.HouseNumber)
				assert.Nil(t, c.Address.Zip)
			},
		},
		{
			name: "flat address and english keys",
			entity: map[string]any{
				"name":            "Flat s.r.o.",
				"street":          "Mlynské nivy",
				"building_number": float64(5),
				"postal_code":     "821 09",
				"city":            "Bratislava",
			},
			found: true,
			check: func(t *testing.T, c core.Company) {
				assert.Equal(t, "Flat s.r.o.", c.Name)
				assert.Equal(t, "Mlynské nivy 5, 82109 Bratislava", c.Address.FullAddress())
			},
		},
		{
			name: "slovak keys under sidlo",
			entity: map[string]any{
				"nazov": "Obchod a.s.",
				"sidlo": map[string]any{"ulica": "Hlavná", "cisloDomu": "12", "psc": "04001", "obec": "Košice"},
			},
			found: true,
			check: func(t *testing.T, c core.Company) {
				assert.Equal(t, "Hlavná 12, 4001 Košice", c.Address.FullAddress())
			},
		},
		{
			name:   "dic implies vat payer",
			entity: map[string]any{"full_name": "Dane s.r.o.", "dic": "2023456789"},
			found:  true,
			check: func(t *testing.T, c core.Company) {
				require.NotNil(t, c.VatID)
				assert.Equal(t, "SK2023456789", *c.VatID)
				require.NotNil(t, c.VatPayer)
				assert.True(t, *c.VatPayer)
			},
		},
		{
			name:   "explicit platcaDph wins over dic",
			entity: map[string]any{"name": "Neplatca s.r.o.", "dic": "2023456789", "platcaDph": false},
			found:  true,
			check: func(t *testing.T, c core.Company) {
				require.NotNil(t, c.VatPayer)
				assert.False(t, *c.VatPayer)
			},
		},
		{
			name:   "platcaDph without dic",
			entity: map[string]any{"name": "Platca s.r.o.", "platcaDph": float64(1)},
			found:  true,
			check: func(t *testing.T, c core.Company) {
				assert.Nil(t, c.VatID)
				require.NotNil(t, c.VatPayer)
				assert.True(t, *c.VatPayer)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, found := parseEntity(tt.entity, "12345678")
			assert.Equal(t, tt.found, found)
			if tt.check != nil {
				tt.check(t, c)
			}
		})
	}
}

func TestProvider_FetchCompany_FullNames(t *testing.T) {
	p, _ := serve(t, http.StatusOK, `{
		"fullNames": [{"value": "Slovnaft, a.s.", "validFrom": "1992-05-01"}],
		"dic": "2020372640",
		"sidlo": {"ulica": "Vlčie hrdlo", "cisloDomu": "1", "obec": "Bratislava", "psc": "824 12"}
	}`)

	res, err := p.FetchCompany(context.Background(), "31322832")
	require.NoError(t, err)

	c := res.Company
	assert.Equal(t, "Slovnaft, a.s.", c.Name)
	assert.Equal(t, "SK2020372640", *c.VatID)
	require.NotNil(t, c.Address)
	assert.Equal(t, "Bratislava", *c.Address.City)
}

func TestProvider_FetchCompany_NoNameIsStillFound(t *testing.T) {
	p, _ := serve(t, http.StatusOK, `{"ico":"99999999"}`)

	res, err := p.FetchCompany(context.Background(), "99999999")
	require.NoError(t, err)
	assert.Equal(t, "Unknown", res.Company.Name)
	assert.Equal(t, "99999999", res.Company.ID)
}

func TestProvider_FetchCompany_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"404", http.StatusNotFound, ``, core.ErrCompanyNotFound},
		{"empty object", http.StatusOK, `{}`, core.ErrCompanyNotFound},
		{"error object", http.StatusOK, `{"error":"Entity not found"}`, core.ErrCompanyNotFound},
		{"server error", http.StatusBadGateway, `bad gateway`, core.ErrRegistryUnavailable},
		{"not json", http.StatusOK, `<html></html>`, core.ErrRegistryUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := serve(t, tt.status, tt.body)

			_, err := p.FetchCompany(context.Background(), "99999999")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, core.CountrySK, err.(*core.Error).Country)
		})
	}
}
