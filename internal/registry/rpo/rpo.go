// Package rpo fetches Slovak companies from the RPO legal entity register.
//
// RPO and its mirrors return loosely shaped JSON: the same value may sit under
// an English or a Slovak key, and the address may be nested or flattened into
// the entity. The mapping below tries the known spellings in order.
package rpo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"registry-service/internal/core"
	"registry-service/internal/platform/httpclient"
)

// DefaultBaseURL is the public RPO entity endpoint.
const DefaultBaseURL = "https://rpo.statistics.sk/rpo/json/v2/entity"

const unknownName = "Unknown"

var (
	nameKeys        = []string{"name", "nazov", "obchodne_meno", "full_name"}
	addressKeys     = []string{"address", "sidlo", "adresa", "registered_office"}
	streetKeys      = []string{"street", "ulica"}
	houseKeys       = []string{"building_number", "cisloDomu", "number"}
	orientationKeys = []string{"orientationNumber"}
	zipKeys         = []string{"postal_code", "psc", "zip"}
	cityKeys        = []string{"city", "mesto", "obec"}
)

// Provider is the SK registry provider.
type Provider struct {
	client  httpclient.Client
	baseURL string
}

// New creates an RPO provider. An empty baseURL uses DefaultBaseURL.
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
	return core.CountrySK
}

func (p *Provider) CanHandle(companyID string) bool {
	return core.CountrySK.ValidateCompanyID(companyID)
}

func (p *Provider) FetchCompany(ctx context.Context, companyID string) (*core.FetchResult, error) {
	ico := core.CountrySK.CanonicalCompanyID(companyID)

	body, err := p.client.Get(ctx, p.baseURL+"/"+ico)
	if err != nil {
		if httpclient.IsStatus(err, http.StatusNotFound) {
			return nil, core.NewCompanyNotFound(core.CountrySK, ico)
		}
		return nil, core.NewRegistryUnavailable(core.CountrySK, ico, err)
	}

	var entity map[string]any
	if err := json.Unmarshal(body, &entity); err != nil {
		return nil, core.NewRegistryUnavailable(core.CountrySK, ico, fmt.Errorf("decode response: %w", err))
	}

	company, ok := parseEntity(entity, ico)
	if !ok {
		return nil, core.NewCompanyNotFound(core.CountrySK, ico)
	}

	return &core.FetchResult{Company: company, RawPayload: body}, nil
}

// parseEntity maps an RPO entity. It returns false when the payload is empty
// or carries an error, which RPO uses to mean "no such entity". A missing
// name is reported as unknownName.
func parseEntity(entity map[string]any, ico string) (core.Company, bool) {
	if len(entity) == 0 {
		return core.Company{}, false
	}
	if _, hasErr := entity["error"]; hasErr {
		return core.Company{}, false
	}

	c := core.Company{
		Name:        entityName(entity),
		ID:          ico,
		CountryCode: core.CountrySK,
		Address:     parseAddress(entity),
	}

	dic := firstString(entity, "dic")
	if dic != nil && *dic != "" {
		c.VatID = core.Ptr(core.CountrySK.VATPrefix() + *dic)
	}

	// platcaDph wins when present. Otherwise a DIČ is taken to mean the
	// company is a VAT payer; RPO itself does not publish VAT status.
	if v, ok := entity["platcaDph"]; ok && v != nil {
		c.VatPayer = core.Ptr(truthy(v))
	} else if c.VatID != nil {
		c.VatPayer = core.Ptr(true)
	}

	return c, true
}

func entityName(entity map[string]any) string {
	if name := firstString(entity, nameKeys...); name != nil && *name != "" {
		return *name
	}
	if name := currentFullName(entity); name != "" {
		return name
	}
	return unknownName
}

// currentFullName picks the v2 fullNames entry without a validTo date,
// falling back to the first one.
func currentFullName(entity map[string]any) string {
	names, _ := entity["fullNames"].([]any)
	var first string
	for _, n := range names {
		m, ok := n.(map[string]any)
		if !ok {
			continue
		}
		value, _ := m["value"].(string)
		if value == "" {
			continue
		}
		if _, closed := m["validTo"]; !closed {
			return value
		}
		if first == "" {
			first = value
		}
	}
	return first
}

func parseAddress(entity map[string]any) *core.Address {
	var raw map[string]any
	for _, key := range addressKeys {
		if m, ok := entity[key].(map[string]any); ok {
			raw = m
			break
		}
	}
	if raw == nil {
		_, hasStreet := entity["street"]
		_, hasCity := entity["city"]
		if !hasStreet && !hasCity {
			return nil
		}
		raw = entity
	}

	a := &core.Address{
		Street:            firstString(raw, streetKeys...),
		HouseNumber:       firstString(raw, houseKeys...),
		OrientationNumber: firstString(raw, orientationKeys...),
		City:              firstString(raw, cityKeys...),
	}
	if zip := firstString(raw, zipKeys...); zip != nil {
		if n, err := strconv.Atoi(digits(*zip)); err == nil {
			a.Zip = &n
		}
	}

	if *a == (core.Address{}) {
		return nil
	}
	return a
}

// firstString returns the first present key rendered as a string.
// Numbers are formatted without a fractional part.
func firstString(m map[string]any, keys ...string) *string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			return &v
		case float64:
			return core.Ptr(strconv.FormatFloat(v, 'f', -1, 64))
		}
	}
	return nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != "" && t != "0" && !strings.EqualFold(t, "false")
	default:
		return false
	}
}

func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
