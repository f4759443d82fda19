// Package postgres is the PostgreSQL-backed versioned cache store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"registry-service/internal/core"
)

// Store persists every fetched version of a company in cached_companies.
// company_heads holds one row per key pointing at the newest version; the
// row lock taken while bumping it serializes writers of the same key.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for fetched_at and freshness.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const selectColumns = `
	id, company_id, country_code, version, is_current,
	name, vat_id, vat_payer, has_address,
	address_street, address_house_number, address_orientation_number, address_zip, address_city,
	raw_response, fetched_at, deleted_at`

func (s *Store) FindCurrent(ctx context.Context, companyID string, country core.CountryCode) (*core.Company, error) {
	rec, err := s.current(ctx, companyID, country)
	if err != nil {
		return nil, core.NewPersistence("find current", err)
	}
	if rec == nil {
		return nil, nil
	}
	return &rec.Company, nil
}

func (s *Store) IsFresh(ctx context.Context, companyID string, country core.CountryCode, ttl time.Duration) (bool, error) {
	var fetchedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT fetched_at FROM cached_companies
		WHERE company_id = $1 AND country_code = $2 AND is_current AND deleted_at IS NULL`,
		companyID, country.String(),
	).Scan(&fetchedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, core.NewPersistence("freshness check", err)
	}
	return s.now().Sub(fetchedAt) < ttl, nil
}

func (s *Store) Store(ctx context.Context, company *core.Company, rawPayload []byte) (*core.CachedRecord, error) {
	rec, err := s.store(ctx, company, rawPayload)
	if err != nil {
		return nil, core.NewPersistence("store", err)
	}
	return rec, nil
}

func (s *Store) store(ctx context.Context, c *core.Company, rawPayload []byte) (*core.CachedRecord, error) {
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var version int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO company_heads (company_id, country_code, current_version, updated_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (company_id, country_code)
		DO UPDATE SET current_version = company_heads.current_version + 1, updated_at = EXCLUDED.updated_at
		RETURNING current_version`,
		c.ID, c.CountryCode.String(), now,
	).Scan(&version)
	if err != nil {
		return nil, fmt.Errorf("allocate version: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE cached_companies SET is_current = FALSE
		WHERE company_id = $1 AND country_code = $2 AND is_current`,
		c.ID, c.CountryCode.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("demote previous version: %w", err)
	}

	var a core.Address
	if c.Address != nil {
		a = *c.Address
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO cached_companies (
			company_id, country_code, version, is_current,
			name, vat_id, vat_payer, has_address,
			address_street, address_house_number, address_orientation_number, address_zip, address_city,
			raw_response, fetched_at
		) VALUES ($1, $2, $3, TRUE, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		c.ID, c.CountryCode.String(), version,
		c.Name, c.VatID, c.VatPayer, c.Address != nil,
		a.Street, a.HouseNumber, a.OrientationNumber, a.Zip, a.City,
		rawPayload, now,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &core.CachedRecord{
		ID:         id,
		CompanyID:  c.ID,
		Country:    c.CountryCode,
		Version:    version,
		Current:    true,
		Company:    *c,
		RawPayload: rawPayload,
		FetchedAt:  now,
	}, nil
}

func (s *Store) GetHistory(ctx context.Context, companyID string, country core.CountryCode) ([]core.CachedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM cached_companies
		WHERE company_id = $1 AND country_code = $2 AND deleted_at IS NULL
		ORDER BY version DESC`,
		companyID, country.String(),
	)
	if err != nil {
		return nil, core.NewPersistence("history", err)
	}
	defer rows.Close()

	var out []core.CachedRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, core.NewPersistence("history", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewPersistence("history", err)
	}
	return out, nil
}

func (s *Store) TombstoneSuperseded(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE cached_companies SET deleted_at = $1
		WHERE NOT is_current AND deleted_at IS NULL AND fetched_at < $2`,
		s.now().UTC(), before,
	)
	if err != nil {
		return 0, core.NewPersistence("tombstone", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, core.NewPersistence("tombstone", err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) current(ctx context.Context, companyID string, country core.CountryCode) (*core.CachedRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM cached_companies
		WHERE company_id = $1 AND country_code = $2 AND is_current AND deleted_at IS NULL`,
		companyID, country.String(),
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*core.CachedRecord, error) {
	var (
		rec        core.CachedRecord
		country    string
		hasAddress bool
		a          core.Address
		deletedAt  sql.NullTime
	)

	err := row.Scan(
		&rec.ID, &rec.CompanyID, &country, &rec.Version, &rec.Current,
		&rec.Company.Name, &rec.Company.VatID, &rec.Company.VatPayer, &hasAddress,
		&a.Street, &a.HouseNumber, &a.OrientationNumber, &a.Zip, &a.City,
		&rec.RawPayload, &rec.FetchedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	cc, err := core.ParseCountryCode(country)
	if err != nil {
		return nil, fmt.Errorf("stored country code %q: %w", country, err)
	}

	rec.Country = cc
	rec.Company.ID = rec.CompanyID
	rec.Company.CountryCode = cc
	if hasAddress {
		rec.Company.Address = &a
	}
	if deletedAt.Valid {
		rec.DeletedAt = &deletedAt.Time
	}
	return &rec, nil
}
