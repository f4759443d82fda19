package core

//go:generate mockgen -destination=mocks/mock_ports.go -package=mocks -source=ports.go

import (
	"context"
	"time"
)

// Provider fetches one company from a single national registry.
type Provider interface {
	CountryCode() CountryCode
	// CanHandle reports whether the identifier has the shape the registry accepts.
	CanHandle(companyID string) bool
	// FetchCompany returns a CompanyNotFound or RegistryUnavailable *Error on failure.
	FetchCompany(ctx context.Context, companyID string) (*FetchResult, error)
}

// ProviderFactory resolves the provider configured for a country.
type ProviderFactory interface {
	Make(country CountryCode) (Provider, error)
}

// CacheStore is the append-only versioned cache of fetched companies.
type CacheStore interface {
	// FindCurrent returns nil, nil when no current record exists.
	FindCurrent(ctx context.Context, companyID string, country CountryCode) (*Company, error)
	IsFresh(ctx context.Context, companyID string, country CountryCode, ttl time.Duration) (bool, error)
	// Store appends a new current version and demotes the previous one atomically.
	Store(ctx context.Context, company *Company, rawPayload []byte) (*CachedRecord, error)
	// GetHistory lists non-tombstoned versions, newest first.
	GetHistory(ctx context.Context, companyID string, country CountryCode) ([]CachedRecord, error)
	// TombstoneSuperseded soft deletes non-current records fetched before the cutoff.
	TombstoneSuperseded(ctx context.Context, before time.Time) (int64, error)
	Ping(ctx context.Context) error
}

// EventProducer defines the contract for sending events (Kafka)
type EventProducer interface {
	Publish(ctx context.Context, eventType string, key string, payload interface{}) error
	Close() error
}
