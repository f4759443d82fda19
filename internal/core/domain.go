package core

import (
	"strconv"
	"strings"
	"time"
)

// Address is a registered office. Every field is optional.
type Address struct {
	Street            *string `json:"street"`
	HouseNumber       *string `json:"houseNumber"`
	OrientationNumber *string `json:"orientationNumber"`
	Zip               *int    `json:"zip"`
	City              *string `json:"city"`
}

// FullAddress renders "street house/orientation, zip city", leaving out
// whatever is missing. Empty strings and a zero zip count as missing.
func (a *Address) FullAddress() string {
	if a == nil {
		return ""
	}

	var parts []string

	if street := deref(a.Street); street != "" {
		line := street
		if house := deref(a.HouseNumber); house != "" {
			line += " " + house
			if orientation := deref(a.OrientationNumber); orientation != "" {
				line += "/" + orientation
			}
		}
		parts = append(parts, line)
	}

	var zip string
	if a.Zip != nil && *a.Zip != 0 {
		zip = strconv.Itoa(*a.Zip)
	}
	city := deref(a.City)
	if zip != "" || city != "" {
		parts = append(parts, strings.TrimSpace(zip+" "+city))
	}

	return strings.Join(parts, ", ")
}

// Company is the canonical record returned for every registry.
type Company struct {
	Name        string      `json:"name"`
	ID          string      `json:"id"`
	CountryCode CountryCode `json:"countryCode"`
	VatID       *string     `json:"vatId"`
	VatPayer    *bool       `json:"vatPayer"`
	Address     *Address    `json:"address"`
}

// CachedRecord is one immutable version of a company snapshot.
type CachedRecord struct {
	ID         int64       `json:"-"`
	CompanyID  string      `json:"companyId"`
	Country    CountryCode `json:"countryCode"`
	Version    int         `json:"version"`
	Current    bool        `json:"current"`
	Company    Company     `json:"company"`
	RawPayload []byte      `json:"-"`
	FetchedAt  time.Time   `json:"fetchedAt"`
	DeletedAt  *time.Time  `json:"-"`
}

// Clone returns a deep copy of c. Optional fields do not share storage with
// the original.
func (c Company) Clone() Company {
	out := c
	out.VatID = clonePtr(c.VatID)
	out.VatPayer = clonePtr(c.VatPayer)
	if c.Address != nil {
		out.Address = &Address{
			Street:            clonePtr(c.Address.Street),
			HouseNumber:       clonePtr(c.Address.HouseNumber),
			OrientationNumber: clonePtr(c.Address.OrientationNumber),
			Zip:               clonePtr(c.Address.Zip),
			City:              clonePtr(c.Address.City),
		}
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Tombstoned reports whether the record has been soft deleted.
func (r *CachedRecord) Tombstoned() bool {
	return r.DeletedAt != nil
}

// FetchResult is what a provider hands back on success.
type FetchResult struct {
	Company    Company
	RawPayload []byte
}

// Ptr returns a pointer to v. Providers use it to fill optional fields.
func Ptr[T any](v T) *T {
	return &v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
