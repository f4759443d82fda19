//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"registry-service/internal/core"
	"registry-service/internal/platform/storetest"
)

type StoreSuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	dsn       string
	db        *sql.DB
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("registry"),
		tcpostgres.WithUsername("registry"),
		tcpostgres.WithPassword("registry"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = container

	s.dsn, err = container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.Require().NoError(MigrateUp(s.dsn))

	s.db, err = Open(ctx, s.dsn, PoolConfig{MaxOpenConns: 20, MaxIdleConns: 5, ConnMaxLifetime: time.Minute})
	s.Require().NoError(err)
}

func (s *StoreSuite) TearDownSuite() {
	if s.db != nil {
		_ = s.db.Close()
	}
	tc.CleanupContainer(s.T(), s.container)
}

func (s *StoreSuite) SetupTest() {
	_, err := s.db.Exec(`TRUNCATE cached_companies, company_heads RESTART IDENTITY`)
	s.Require().NoError(err)
}

func (s *StoreSuite) TestConformance() {
	storetest.Run(s.T(), func(t *testing.T, clock *storetest.Clock) core.CacheStore {
		_, err := s.db.Exec(`TRUNCATE cached_companies, company_heads RESTART IDENTITY`)
		require.NoError(t, err)
		return NewStore(s.db, WithClock(clock.Now))
	})
}

func (s *StoreSuite) TestSingleCurrentRowIsEnforced() {
	ctx := context.Background()
	store := NewStore(s.db)

	_, err := store.Store(ctx, storetest.Company(core.CountryCZ, "12345678", "Acme"), nil)
	s.Require().NoError(err)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cached_companies (company_id, country_code, version, is_current, name, fetched_at)
		VALUES ('12345678', 'cz', 2, TRUE, 'Rogue', NOW())`)
	s.Error(err, "a second current row for the same key must violate unique_current_company")
}

func (s *StoreSuite) TestStoreFailureIsPersistenceError() {
	ctx := context.Background()
	store := NewStore(s.db)

	long := storetest.Company(core.CountryCZ, "123456789012345678901234", "Too long id")
	_, err := store.Store(ctx, long, nil)

	s.Require().Error(err)
	s.True(errors.Is(err, core.ErrPersistence))

	history, err := store.GetHistory(ctx, long.ID, core.CountryCZ)
	s.Require().NoError(err)
	s.Empty(history, "a failed store leaves nothing behind")
}

func (s *StoreSuite) TestTombstonedRowsStayInTable() {
	ctx := context.Background()
	clock := storetest.NewClock()
	store := NewStore(s.db, WithClock(clock.Now))

	for range 2 {
		_, err := store.Store(ctx, storetest.Company(core.CountrySK, "46440224", "GymBeam"), []byte(`{}`))
		s.Require().NoError(err)
		clock.Advance(time.Hour)
	}

	n, err := store.TombstoneSuperseded(ctx, clock.Now())
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	var total, deleted int
	s.Require().NoError(s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(deleted_at) FROM cached_companies WHERE company_id = '46440224'`,
	).Scan(&total, &deleted))
	s.Equal(2, total)
	s.Equal(1, deleted)
}

func (s *StoreSuite) TestMigrateDownAndUp() {
	m, err := NewMigrator(s.dsn)
	s.Require().NoError(err)
	defer m.Close()

	version, dirty, err := m.Version()
	s.Require().NoError(err)
	s.False(dirty)
	s.Equal(uint(1), version)

	s.Require().NoError(m.Down())
	err = m.Up()
	s.Require().NoError(err)
	s.NotErrorIs(err, migrate.ErrNoChange)

	assert.NoError(s.T(), MigrateUp(s.dsn), "second run is a no-op")
}
