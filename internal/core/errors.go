package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies every failure the lookup path can surface.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidCountryCode
	KindCompanyNotFound
	KindRegistryUnavailable
	KindPersistence
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidCountryCode:
		return "invalid_country_code"
	case KindCompanyNotFound:
		return "company_not_found"
	case KindRegistryUnavailable:
		return "registry_unavailable"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Retryable reports whether a caller may reasonably try again later.
func (k ErrorKind) Retryable() bool {
	return k == KindRegistryUnavailable
}

// Sentinel errors for errors.Is checks.
var (
	ErrInvalidCountryCode  = errors.New("invalid country code")
	ErrCompanyNotFound     = errors.New("company not found")
	ErrRegistryUnavailable = errors.New("registry unavailable")
	ErrPersistence         = errors.New("persistence error")
)

// Error carries the kind plus the context needed to render it to a client.
type Error struct {
	Kind      ErrorKind
	Country   CountryCode
	CompanyID string
	Provided  string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.sentinel().Error()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel belonging to the error's kind.
func (e *Error) Is(target error) bool {
	s := e.sentinel()
	return s != nil && target == s
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindInvalidCountryCode:
		return ErrInvalidCountryCode
	case KindCompanyNotFound:
		return ErrCompanyNotFound
	case KindRegistryUnavailable:
		return ErrRegistryUnavailable
	case KindPersistence:
		return ErrPersistence
	default:
		return nil
	}
}

// KindOf extracts the ErrorKind from anywhere in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// NewInvalidCountryCode reports a token outside the supported set.
func NewInvalidCountryCode(provided string) *Error {
	return &Error{
		Kind:     KindInvalidCountryCode,
		Provided: provided,
		Message: fmt.Sprintf("Invalid country code: %s. Supported: %s",
			provided, strings.Join(SupportedCountryTokens(), ", ")),
	}
}

// NewCompanyNotFound reports that the registry has no such company.
func NewCompanyNotFound(country CountryCode, companyID string) *Error {
	return &Error{
		Kind:      KindCompanyNotFound,
		Country:   country,
		CompanyID: companyID,
		Message:   fmt.Sprintf("Company %s not found in %s registry", companyID, country.Label()),
	}
}

// NewRegistryUnavailable wraps a transport, protocol or upstream failure.
func NewRegistryUnavailable(country CountryCode, companyID string, cause error) *Error {
	return &Error{
		Kind:      KindRegistryUnavailable,
		Country:   country,
		CompanyID: companyID,
		Message:   fmt.Sprintf("%s registry error", country.Label()),
		Err:       cause,
	}
}

// NewPersistence wraps a cache store failure.
func NewPersistence(op string, cause error) *Error {
	return &Error{
		Kind:    KindPersistence,
		Message: "cache " + op + " failed",
		Err:     cause,
	}
}
