// Package gus fetches Polish companies from the GUS REGON database through
// the BIR1.1 SOAP service.
package gus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"registry-service/internal/core"
	"registry-service/internal/platform/httpclient"
)

const (
	EnvironmentDev  = "dev"
	EnvironmentProd = "prod"

	devEndpoint  = "https://wyszukiwarkaregontest.stat.gov.pl/wsBIR/UslugaBIRzewnPubl.svc"
	prodEndpoint = "https://wyszukiwarkaregon.stat.gov.pl/wsBIR/UslugaBIRzewnPubl.svc"

	// DevAPIKey is the public key GUS publishes for its test environment.
	DevAPIKey = "abcde12345abcde12345"
)

// Config selects the BIR environment and credentials.
type Config struct {
	APIKey      string
	Environment string
	// Endpoint overrides the environment's service URL.
	Endpoint string
}

// Provider is the PL registry provider. It keeps one BIR session and logs
// in again only when the session stops working.
type Provider struct {
	client   httpclient.Client
	endpoint string
	apiKey   string

	mu  sync.Mutex
	sid string
}

// New creates a GUS provider.
func New(client httpclient.Client, cfg Config) *Provider {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = devEndpoint
		if cfg.Environment == EnvironmentProd {
			endpoint = prodEndpoint
		}
	}

	apiKey := cfg.APIKey
	if apiKey == "" && cfg.Environment != EnvironmentProd {
		apiKey = DevAPIKey
	}

	return &Provider{client: client, endpoint: endpoint, apiKey: apiKey}
}

func (p *Provider) CountryCode() core.CountryCode {
	return core.CountryPL
}

func (p *Provider) CanHandle(companyID string) bool {
	return core.CountryPL.ValidateCompanyID(companyID)
}

// FetchCompany searches by REGON, logging in first when there is no session.
// The returned company keeps the queried identifier as its ID.
func (p *Provider) FetchCompany(ctx context.Context, companyID string) (*core.FetchResult, error) {
	regon := core.CountryPL.CanonicalCompanyID(companyID)

	req, err := searchRequest(p.endpoint, regon)
	if err != nil {
		return nil, core.NewRegistryUnavailable(core.CountryPL, regon, err)
	}

	sid, reused, err := p.session(ctx)
	if err != nil {
		return nil, core.NewRegistryUnavailable(core.CountryPL, regon, err)
	}

	out, err := p.search(ctx, req, sid)
	if reused && sessionLost(out, err) {
		p.dropSession(sid)
		if sid, _, err = p.session(ctx); err != nil {
			return nil, core.NewRegistryUnavailable(core.CountryPL, regon, err)
		}
		out, err = p.search(ctx, req, sid)
	}
	if err != nil {
		return nil, core.NewRegistryUnavailable(core.CountryPL, regon, err)
	}
	if len(out.rows) == 0 {
		return nil, core.NewCompanyNotFound(core.CountryPL, regon)
	}

	row := out.rows[0]
	switch row.ErrorCode {
	case "":
	case errorNotFound:
		return nil, core.NewCompanyNotFound(core.CountryPL, regon)
	default:
		return nil, core.NewRegistryUnavailable(core.CountryPL, regon,
			fmt.Errorf("BIR error %s: %s", row.ErrorCode, row.ErrorMessage))
	}

	return &core.FetchResult{
		Company:    row.toCompany(regon),
		RawPayload: []byte(out.payload),
	}, nil
}

type searchOutcome struct {
	payload string
	rows    []entity
}

func (p *Provider) search(ctx context.Context, req []byte, sid string) (*searchOutcome, error) {
	raw, err := p.call(ctx, req, sid)
	if err != nil {
		return nil, err
	}
	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	result, err := parseSearchResult(env.Body.Find.Result)
	if err != nil {
		return nil, err
	}
	return &searchOutcome{payload: env.Body.Find.Result, rows: result.Rows}, nil
}

// sessionLost reports whether a search made with a reused session looks like
// the session expired. BIR answers an expired session with an empty result or
// the no-session error code, while a real miss carries error code 4.
func sessionLost(out *searchOutcome, err error) bool {
	if err != nil {
		return true
	}
	return len(out.rows) == 0 || out.rows[0].ErrorCode == errorNoSession
}

// session returns the cached session id, logging in when there is none.
// reused is true when the id came from an earlier login.
func (p *Provider) session(ctx context.Context) (sid string, reused bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sid != "" {
		return p.sid, true, nil
	}
	sid, err = p.login(ctx)
	if err != nil {
		return "", false, err
	}
	p.sid = sid
	return sid, false, nil
}

// dropSession forgets sid unless another fetch already replaced it.
func (p *Provider) dropSession(sid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sid == sid {
		p.sid = ""
	}
}

func (p *Provider) login(ctx context.Context) (string, error) {
	raw, err := p.call(ctx, loginRequest(p.endpoint, p.apiKey), "")
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	env, err := parseEnvelope(raw)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	sid := strings.TrimSpace(env.Body.Login.Result)
	if sid == "" {
		return "", errors.New("Polish registry API key is invalid or expired")
	}
	return sid, nil
}

func (p *Provider) call(ctx context.Context, body []byte, sid string) ([]byte, error) {
	headers := map[string]string{"Content-Type": contentType}
	if sid != "" {
		headers["sid"] = sid
	}
	return p.client.Post(ctx, p.endpoint, body, headers)
}

func (e entity) toCompany(regon string) core.Company {
	c := core.Company{
		Name:        e.Name,
		ID:          regon,
		CountryCode: core.CountryPL,
		// BIR does not expose VAT status; a NIP is taken to mean VAT payer.
		VatPayer: core.Ptr(e.Nip != ""),
	}
	if e.Nip != "" {
		c.VatID = core.Ptr(core.CountryPL.VATPrefix() + e.Nip)
	}

	a := &core.Address{
		Street:            nonEmpty(e.Street),
		HouseNumber:       nonEmpty(e.PropertyNumber),
		OrientationNumber: nonEmpty(e.ApartmentNumber),
		City:              nonEmpty(e.City),
	}
	if zip, err := strconv.Atoi(strings.ReplaceAll(e.Zip, "-", "")); err == nil {
		a.Zip = &zip
	}
	if *a != (core.Address{}) {
		c.Address = a
	}

	return c
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
