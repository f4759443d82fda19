package gus

import (
	"context"
	"html"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registry-service/internal/core"
	"registry-service/internal/platform/httpclient"
)

const mtomBoundary = "uuid:0b3f8f1e-5d1a-4d0c-9b3e-1f2a3b4c5d6e+id=1"

// mtom wraps an envelope the way BIR does on the wire.
func mtom(envelope string) string {
	return "--" + mtomBoundary + "\r\n" +
		"Content-ID: <http://tempuri.org/0>\r\n" +
		"Content-Transfer-Encoding: 8bit\r\n" +
		"Content-Type: application/xop+xml;charset=utf-8;type=\"application/soap+xml\"\r\n\r\n" +
		envelope + "\r\n--" + mtomBoundary + "--\r\n"
}

func loginResponse(sid string) string {
	return mtom(`<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope" xmlns:a="http://www.w3.org/2005/08/addressing">` +
		`<s:Header><a:Action s:mustUnderstand="1">http://CIS/BIR/PUBL/2014/07/IUslugaBIRzewnPubl/ZalogujResponse</a:Action></s:Header>` +
		`<s:Body><ZalogujResponse xmlns="http://CIS/BIR/PUBL/2014/07"><ZalogujResult>` + sid + `</ZalogujResult></ZalogujResponse></s:Body></s:Envelope>`)
}

func searchResponse(inner string) string {
	return mtom(`<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope" xmlns:a="http://www.w3.org/2005/08/addressing">` +
		`<s:Body><DaneSzukajPodmiotyResponse xmlns="http://CIS/BIR/PUBL/2014/07"><DaneSzukajPodmiotyResult>` +
		html.EscapeString(inner) +
		`</DaneSzukajPodmiotyResult></DaneSzukajPodmiotyResponse></s:Body></s:Envelope>`)
}

const fullResult = `<root><dane>` +
	`<Regon>123456785</Regon><Nip>1234567890</Nip><StatusNip/>` +
	`<Nazwa>Test Company Sp. z o.o.</Nazwa>` +
	`<Wojewodztwo>MAZOWIECKIE</Wojewodztwo><Miejscowosc>Warszawa</Miejscowosc>` +
	`<KodPocztowy>00-001</KodPocztowy><Ulica>ul. Marszałkowska</Ulica>` +
	`<NrNieruchomosci>100</NrNieruchomosci><NrLokalu>10</NrLokalu>` +
	`<Typ>P</Typ><SilosID>6</SilosID>` +
	`</dane></root>`

type fakeBIR struct {
	mu         sync.Mutex
	sid        string
	result     string
	strict     bool
	logins     atomic.Int32
	searches   atomic.Int32
	lastSearch string
	lastSID    string
}

// expire makes the fake hand out sid from now on and, in strict mode, reject
// searches made with any older one.
func (f *fakeBIR) expire(sid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sid = sid
	f.strict = true
}

func (f *fakeBIR) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", `multipart/related; type="application/xop+xml"`)

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.Contains(string(body), "/Zaloguj<"):
		f.logins.Add(1)
		_, _ = w.Write([]byte(loginResponse(f.sid)))
	case strings.Contains(string(body), "/DaneSzukajPodmioty<"):
		f.searches.Add(1)
		f.lastSearch = string(body)
		f.lastSID = r.Header.Get("sid")
		if f.strict && f.lastSID != f.sid {
			_, _ = w.Write([]byte(searchResponse("")))
			return
		}
		_, _ = w.Write([]byte(searchResponse(f.result)))
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func newFake(t *testing.T, fake *fakeBIR) *Provider {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	return New(httpclient.NewDefaultClient(2*time.Second), Config{Endpoint: server.URL})
}

func TestNew_Environments(t *testing.T) {
	dev := New(httpclient.NewDefaultClient(0), Config{})
	assert.Equal(t, devEndpoint, dev.endpoint)
	assert.Equal(t, DevAPIKey, dev.apiKey)

	prod := New(httpclient.NewDefaultClient(0), Config{Environment: EnvironmentProd, APIKey: "secret"})
	assert.Equal(t, prodEndpoint, prod.endpoint)
	assert.Equal(t, "secret", prod.apiKey)

	prodNoKey := New(httpclient.NewDefaultClient(0), Config{Environment: EnvironmentProd})
	assert.Empty(t, prodNoKey.apiKey)
}

func TestProvider_CanHandle(t *testing.T) {
	p := New(httpclient.NewDefaultClient(0), Config{})

	assert.Equal(t, core.CountryPL, p.CountryCode())
	assert.True(t, p.CanHandle("123456789"))
	assert.True(t, p.CanHandle("12345678901234"))
	assert.False(t, p.CanHandle("12345678"))
	assert.False(t, p.CanHandle("1234567890"))
	assert.False(t, p.CanHandle("abcdefghi"))
}

func TestProvider_FetchCompany(t *testing.T) {
	fake := &fakeBIR{sid: "s3ss10n", result: fullResult}
	p := newFake(t, fake)

	res, err := p.FetchCompany(context.Background(), "123-456-785")
	require.NoError(t, err)

	assert.Equal(t, "s3ss10n", fake.lastSID)
	assert.Contains(t, fake.lastSearch, "<dat:Regon>123456785</dat:Regon>")
	assert.Equal(t, fullResult, string(res.RawPayload))

	c := res.Company
	assert.Equal(t, "Test Company Sp. z o.o.", c.Name)
	assert.Equal(t, "123456785", c.ID)
	assert.Equal(t, core.CountryPL, c.CountryCode)
	require.NotNil(t, c.VatID)
	assert.Equal(t, "PL1234567890", *c.VatID)
	require.NotNil(t, c.VatPayer)
	assert.True(t, *c.VatPayer)

	require.NotNil(t, c.Address)
	assert.Equal(t, "ul. Marszałkowska", *c.Address.Street)
	assert.Equal(t, "100", *c.Address.HouseNumber)
	assert.Equal(t, "10", *c.Address.OrientationNumber)
	assert.Equal(t, 1, *c.Address.Zip)
	assert.Equal(t, "Warszawa", *c.Address.City)
}

func TestProvider_FetchCompany_ReusesSession(t *testing.T) {
	fake := &fakeBIR{sid: "s3ss10n", result: fullResult}
	p := newFake(t, fake)

	for range 3 {
		_, err := p.FetchCompany(context.Background(), "123456785")
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), fake.logins.Load())
	assert.Equal(t, int32(3), fake.searches.Load())
	assert.Equal(t, "s3ss10n", fake.lastSID)
}

func TestProvider_FetchCompany_ConcurrentFetchesLogInOnce(t *testing.T) {
	fake := &fakeBIR{sid: "s3ss10n", result: fullResult}
	p := newFake(t, fake)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.FetchCompany(context.Background(), "123456785")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fake.logins.Load())
	assert.Equal(t, int32(8), fake.searches.Load())
}

func TestProvider_FetchCompany_LogsInAgainWhenSessionExpires(t *testing.T) {
	fake := &fakeBIR{sid: "first", result: fullResult}
	p := newFake(t, fake)

	_, err := p.FetchCompany(context.Background(), "123456785")
	require.NoError(t, err)

	fake.expire("second")

	res, err := p.FetchCompany(context.Background(), "123456785")
	require.NoError(t, err)
	assert.Equal(t, "Test Company Sp. z o.o.", res.Company.Name)

	assert.Equal(t, int32(2), fake.logins.Load())
	assert.Equal(t, int32(3), fake.searches.Load())
	assert.Equal(t, "second", fake.lastSID)

	_, err = p.FetchCompany(context.Background(), "123456785")
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.logins.Load(), "the new session is kept")
}

func TestProvider_FetchCompany_NoSessionCodeRetriesOnce(t *testing.T) {
	fake := &fakeBIR{sid: "abc", result: fullResult}
	p := newFake(t, fake)

	_, err := p.FetchCompany(context.Background(), "123456785")
	require.NoError(t, err)

	fake.mu.Lock()
	fake.result = `<root><dane><ErrorCode>7</ErrorCode><ErrorMessageEn>No session.</ErrorMessageEn></dane></root>`
	fake.mu.Unlock()

	_, err = p.FetchCompany(context.Background(), "123456785")
	assert.ErrorIs(t, err, core.ErrRegistryUnavailable)
	assert.Equal(t, int32(2), fake.logins.Load())
	assert.Equal(t, int32(3), fake.searches.Load())
}

func TestProvider_FetchCompany_FourteenDigitRegon(t *testing.T) {
	fake := &fakeBIR{sid: "abc", result: strings.Replace(fullResult, "123456785", "12345678512347", 1)}
	p := newFake(t, fake)

	res, err := p.FetchCompany(context.Background(), "12345678512347")
	require.NoError(t, err)

	assert.Contains(t, fake.lastSearch, "<dat:Regony14zn>12345678512347</dat:Regony14zn>")
	assert.Equal(t, "12345678512347", res.Company.ID)
}

func TestProvider_FetchCompany_WithoutNip(t *testing.T) {
	fake := &fakeBIR{sid: "abc", result: `<root><dane><Regon>123456785</Regon><Nip></Nip><Nazwa>No VAT Company</Nazwa>` +
		`<Miejscowosc></Miejscowosc><KodPocztowy></KodPocztowy><Ulica></Ulica></dane></root>`}
	p := newFake(t, fake)

	res, err := p.FetchCompany(context.Background(), "123456785")
	require.NoError(t, err)

	assert.Nil(t, res.Company.VatID)
	require.NotNil(t, res.Company.VatPayer)
	assert.False(t, *res.Company.VatPayer)
	assert.Nil(t, res.Company.Address)
}

func TestProvider_FetchCompany_Errors(t *testing.T) {
	tests := []struct {
		name         string
		fake         *fakeBIR
		id           string
		want         error
		wantSearches int32
	}{
		{
			name:         "error code 4 is not found",
			fake:         &fakeBIR{sid: "abc", result: `<root><dane><ErrorCode>4</ErrorCode><ErrorMessageEn>No data found for the specified search criteria.</ErrorMessageEn></dane></root>`},
			id:           "123456785",
			want:         core.ErrCompanyNotFound,
			wantSearches: 1,
		},
		{
			name:         "empty result is not found",
			fake:         &fakeBIR{sid: "abc", result: ``},
			id:           "123456785",
			want:         core.ErrCompanyNotFound,
			wantSearches: 1,
		},
		{
			name:         "other error code is unavailable",
			fake:         &fakeBIR{sid: "abc", result: `<root><dane><ErrorCode>7</ErrorCode><ErrorMessageEn>No session.</ErrorMessageEn></dane></root>`},
			id:           "123456785",
			want:         core.ErrRegistryUnavailable,
			wantSearches: 1,
		},
		{
			name:         "empty session id means invalid key",
			fake:         &fakeBIR{sid: "", result: fullResult},
			id:           "123456785",
			want:         core.ErrRegistryUnavailable,
			wantSearches: 0,
		},
		{
			name:         "unsupported length never searches",
			fake:         &fakeBIR{sid: "abc", result: fullResult},
			id:           "1234567890",
			want:         core.ErrRegistryUnavailable,
			wantSearches: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFake(t, tt.fake)

			res, err := p.FetchCompany(context.Background(), tt.id)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.wantSearches, tt.fake.searches.Load())
		})
	}
}

func TestProvider_FetchCompany_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	p := New(httpclient.NewDefaultClient(time.Second), Config{Endpoint: server.URL})
	_, err := p.FetchCompany(context.Background(), "123456785")

	assert.ErrorIs(t, err, core.ErrRegistryUnavailable)
	assert.Contains(t, err.Error(), "Poland registry error")
}

func TestParseEnvelope_Fault(t *testing.T) {
	raw := `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"><s:Body><s:Fault>` +
		`<s:Code><s:Value>s:Sender</s:Value></s:Code><s:Reason><s:Text xml:lang="en">Bad action</s:Text></s:Reason>` +
		`</s:Fault></s:Body></s:Envelope>`

	_, err := parseEnvelope([]byte(raw))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bad action")

	_, err = parseEnvelope([]byte("not xml at all"))
	assert.Error(t, err)
}

func TestSearchRequest(t *testing.T) {
	req, err := searchRequest("https://example.test/svc", "123456785")
	require.NoError(t, err)

	s := string(req)
	assert.Contains(t, s, "<wsa:To>https://example.test/svc</wsa:To>")
	assert.Contains(t, s, "<wsa:Action>"+actionFind+"</wsa:Action>")

	_, err = searchRequest("https://example.test/svc", "1234567890")
	assert.Error(t, err)
}
