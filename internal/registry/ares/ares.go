// Package ares fetches Czech companies from the ARES business register.
package ares

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"registry-service/internal/core"
	"registry-service/internal/platform/httpclient"
)

// DefaultBaseURL is the public ARES REST endpoint.
const DefaultBaseURL = "https://ares.gov.cz/ekonomicke-subjekty-v-be/rest"

// Provider is the CZ registry provider.
type Provider struct {
	client  httpclient.Client
	baseURL string
}

// New creates an ARES provider. An empty baseURL uses DefaultBaseURL.
func New(client httpclient.Client, baseURL string) *Provider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Provider{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (p *Provider) CountryCode() core.CountryCode {
	return core.CountryCZ
}

func (p *Provider) CanHandle(companyID string) bool {
	return core.CountryCZ.ValidateCompanyID(companyID)
}

// FetchCompany loads the basic record for an IČO.
func (p *Provider) FetchCompany(ctx context.Context, companyID string) (*core.FetchResult, error) {
	ico := core.CountryCZ.CanonicalCompanyID(companyID)

	body, err := p.client.Get(ctx, fmt.Sprintf("%s/ekonomicke-subjekty/%s", p.baseURL, ico))
	if err != nil {
		if httpclient.IsStatus(err, http.StatusNotFound) {
			return nil, core.NewCompanyNotFound(core.CountryCZ, ico)
		}
		return nil, core.NewRegistryUnavailable(core.CountryCZ, ico, err)
	}

	var resp subject
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, core.NewRegistryUnavailable(core.CountryCZ, ico, fmt.Errorf("decode response: %w", err))
	}
	if resp.ICO == "" && resp.Name == nil {
		return nil, core.NewRegistryUnavailable(core.CountryCZ, ico, errors.New("response carries no subject"))
	}

	return &core.FetchResult{
		Company:    resp.toCompany(ico),
		RawPayload: body,
	}, nil
}

type subject struct {
	ICO           string         `json:"ico"`
	Name          *string        `json:"obchodniJmeno"`
	DIC           *string        `json:"dic"`
	Seat          *seat          `json:"sidlo"`
	Registrations *registrations `json:"seznamRegistraci"`
}

type seat struct {
	Street            *string `json:"nazevUlice"`
	HouseNumber       *int    `json:"cisloDomovni"`
	OrientationNumber *int    `json:"cisloOrientacni"`
	OrientationLetter *string `json:"cisloOrientacniPismeno"`
	Zip               *int    `json:"psc"`
	City              *string `json:"nazevObce"`
}

type registrations struct {
	VAT *string `json:"stavZdrojeDph"`
}

func (s subject) toCompany(ico string) core.Company {
	name := "Unknown"
	if s.Name != nil && *s.Name != "" {
		name = *s.Name
	}

	c := core.Company{
		Name:        name,
		ID:          ico,
		CountryCode: core.CountryCZ,
		VatID:       s.DIC,
	}

	if s.Registrations != nil && s.Registrations.VAT != nil {
		c.VatPayer = core.Ptr(*s.Registrations.VAT == "AKTIVNI")
	}

	if s.Seat != nil {
		c.Address = s.Seat.toAddress()
	}

	return c
}

func (s seat) toAddress() *core.Address {
	a := &core.Address{
		Street: s.Street,
		Zip:    s.Zip,
		City:   s.City,
	}
	if s.HouseNumber != nil {
		a.HouseNumber = core.Ptr(strconv.Itoa(*s.HouseNumber))
	}
	if s.OrientationNumber != nil {
		orientation := strconv.Itoa(*s.OrientationNumber)
		if s.OrientationLetter != nil {
			orientation += *s.OrientationLetter
		}
		a.OrientationNumber = &orientation
	}
	return a
}
