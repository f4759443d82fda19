package gus

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

const (
	nsService   = "http://CIS/BIR/PUBL/2014/07"
	nsContract  = "http://CIS/BIR/PUBL/2014/07/DataContract"
	actionLogin = nsService + "/IUslugaBIRzewnPubl/Zaloguj"
	actionFind  = nsService + "/IUslugaBIRzewnPubl/DaneSzukajPodmioty"

	contentType = "application/soap+xml; charset=utf-8"

	// errorNotFound is the BIR code for "no entity matches the search".
	errorNotFound = "4"

	// errorNoSession means the sid header was missing or expired.
	errorNoSession = "7"
)

func loginRequest(endpoint, apiKey string) []byte {
	return envelope(endpoint, actionLogin,
		"<ns:Zaloguj><ns:pKluczUzytkownika>"+escape(apiKey)+"</ns:pKluczUzytkownika></ns:Zaloguj>")
}

// searchRequest queries by a 9-digit REGON or a 14-digit local-unit REGON.
func searchRequest(endpoint, regon string) ([]byte, error) {
	var param string
	switch len(regon) {
	case 9:
		param = "Regon"
	case 14:
		param = "Regony14zn"
	default:
		return nil, fmt.Errorf("unsupported REGON length %d", len(regon))
	}

	return envelope(endpoint, actionFind,
		"<ns:DaneSzukajPodmioty><ns:pParametryWyszukiwania>"+
			"<dat:"+param+">"+escape(regon)+"</dat:"+param+">"+
			"</ns:pParametryWyszukiwania></ns:DaneSzukajPodmioty>"), nil
}

func envelope(endpoint, action, body string) []byte {
	var b strings.Builder
	b.WriteString(`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"`)
	b.WriteString(` xmlns:ns="` + nsService + `" xmlns:dat="` + nsContract + `">`)
	b.WriteString(`<soap:Header xmlns:wsa="http://www.w3.org/2005/08/addressing">`)
	b.WriteString(`<wsa:To>` + escape(endpoint) + `</wsa:To>`)
	b.WriteString(`<wsa:Action>` + action + `</wsa:Action>`)
	b.WriteString(`</soap:Header><soap:Body>`)
	b.WriteString(body)
	b.WriteString(`</soap:Body></soap:Envelope>`)
	return []byte(b.String())
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

type responseEnvelope struct {
	Body struct {
		Login struct {
			Result string `xml:"ZalogujResult"`
		} `xml:"ZalogujResponse"`
		Find struct {
			Result string `xml:"DaneSzukajPodmiotyResult"`
		} `xml:"DaneSzukajPodmiotyResponse"`
		Fault *struct {
			Reason string `xml:"Reason>Text"`
		} `xml:"Fault"`
	} `xml:"Body"`
}

// parseEnvelope pulls the SOAP envelope out of a possibly MTOM-wrapped body.
func parseEnvelope(raw []byte) (*responseEnvelope, error) {
	start := bytes.Index(raw, []byte("Envelope"))
	end := bytes.LastIndex(raw, []byte("Envelope>"))
	if start < 0 || end < 0 {
		return nil, errors.New("response carries no SOAP envelope")
	}
	start = bytes.LastIndexByte(raw[:start], '<')
	if start < 0 {
		return nil, errors.New("response carries no SOAP envelope")
	}

	var env responseEnvelope
	if err := xml.Unmarshal(raw[start:end+len("Envelope>")], &env); err != nil {
		return nil, fmt.Errorf("decode SOAP envelope: %w", err)
	}
	if env.Body.Fault != nil {
		return nil, fmt.Errorf("SOAP fault: %s", strings.TrimSpace(env.Body.Fault.Reason))
	}
	return &env, nil
}

// entity is one <dane> row of a DaneSzukajPodmioty result.
type entity struct {
	Regon           string `xml:"Regon"`
	Nip             string `xml:"Nip"`
	Name            string `xml:"Nazwa"`
	City            string `xml:"Miejscowosc"`
	Zip             string `xml:"KodPocztowy"`
	Street          string `xml:"Ulica"`
	PropertyNumber  string `xml:"NrNieruchomosci"`
	ApartmentNumber string `xml:"NrLokalu"`
	ErrorCode       string `xml:"ErrorCode"`
	ErrorMessage    string `xml:"ErrorMessageEn"`
}

type searchResult struct {
	Rows []entity `xml:"dane"`
}

func parseSearchResult(inner string) (*searchResult, error) {
	var res searchResult
	if strings.TrimSpace(inner) == "" {
		return &res, nil
	}
	if err := xml.Unmarshal([]byte(inner), &res); err != nil {
		return nil, fmt.Errorf("decode search result: %w", err)
	}
	return &res, nil
}
