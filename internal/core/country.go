package core

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"
)

// CountryCode identifies one of the supported national business registries.
// The zero value is not a valid country; obtain values via ParseCountryCode
// or the package-level Country* variables.
type CountryCode struct {
	slug string
}

var (
	CountryCZ = CountryCode{slug: "cz"}
	CountrySK = CountryCode{slug: "sk"}
	CountryPL = CountryCode{slug: "pl"}
)

type countryInfo struct {
	label     string
	vatPrefix string
	idPattern *regexp.Regexp
	canonical func(string) string
}

var countries = map[CountryCode]countryInfo{
	CountryCZ: {
		label:     "Czech Republic",
		vatPrefix: "CZ",
		idPattern: regexp.MustCompile(`^[0-9]{8}$`),
		canonical: padEightDigits,
	},
	CountrySK: {
		label:     "Slovakia",
		vatPrefix: "SK",
		idPattern: regexp.MustCompile(`^[0-9]{8}$`),
		canonical: padEightDigits,
	},
	CountryPL: {
		label:     "Poland",
		vatPrefix: "PL",
		idPattern: regexp.MustCompile(`^([0-9]{9}|[0-9]{14})$`),
		canonical: digitsOnly,
	},
}

// SupportedCountries returns the registry countries in a stable order.
func SupportedCountries() []CountryCode {
	return []CountryCode{CountryCZ, CountrySK, CountryPL}
}

// SupportedCountryTokens returns the lowercase tokens of SupportedCountries.
func SupportedCountryTokens() []string {
	list := SupportedCountries()
	out := make([]string, 0, len(list))
	for _, c := range list {
		out = append(out, c.slug)
	}
	return out
}

// ParseCountryCode resolves a case-insensitive token such as "cz" or "PL".
// The token is not trimmed; anything other than an exact match fails with
// an InvalidCountryCode error.
func ParseCountryCode(token string) (CountryCode, error) {
	c := CountryCode{slug: strings.ToLower(token)}
	if _, ok := countries[c]; !ok {
		return CountryCode{}, NewInvalidCountryCode(token)
	}
	return c, nil
}

// String returns the lowercase token.
func (c CountryCode) String() string {
	return c.slug
}

// IsZero reports whether c is the unset zero value.
func (c CountryCode) IsZero() bool {
	return c.slug == ""
}

// Label returns the human-readable country name.
func (c CountryCode) Label() string {
	return countries[c].label
}

// VATPrefix returns the two-letter prefix used for VAT identifiers.
func (c CountryCode) VATPrefix() string {
	return countries[c].vatPrefix
}

// ValidateCompanyID checks the identifier shape only; no checksum is verified.
func (c CountryCode) ValidateCompanyID(id string) bool {
	info, ok := countries[c]
	if !ok {
		return false
	}
	return info.idPattern.MatchString(id)
}

// CanonicalCompanyID applies the country's fixed identifier normalization.
// CZ and SK drop whitespace and left-pad with zeros to eight characters;
// PL keeps digits only.
func (c CountryCode) CanonicalCompanyID(id string) string {
	info, ok := countries[c]
	if !ok {
		return id
	}
	return info.canonical(id)
}

func (c CountryCode) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.slug)
}

func (c *CountryCode) UnmarshalJSON(data []byte) error {
	var token string
	if err := json.Unmarshal(data, &token); err != nil {
		return err
	}
	parsed, err := ParseCountryCode(token)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func padEightDigits(id string) string {
	id = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, id)
	if len(id) >= 8 {
		return id
	}
	return strings.Repeat("0", 8-len(id)) + id
}

func digitsOnly(id string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, id)
}
