// Package storetest holds the behavioural checks every core.CacheStore
// implementation must pass. Store packages call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registry-service/internal/core"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts at a fixed instant with whole-second precision, which every
// backend round-trips exactly.
func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Factory builds an empty store wired to clock.
type Factory func(t *testing.T, clock *Clock) core.CacheStore

// Company returns a fully populated fixture.
func Company(country core.CountryCode, id, name string) *core.Company {
	return &core.Company{
		Name:        name,
		ID:          id,
		CountryCode: country,
		VatID:       core.Ptr(country.VATPrefix() + id),
		VatPayer:    core.Ptr(true),
		Address: &core.Address{
			Street:            core.Ptr("Hlavní"),
			HouseNumber:       core.Ptr("12"),
			OrientationNumber: core.Ptr("3a"),
			Zip:               core.Ptr(11000),
			City:              core.Ptr("Praha"),
		},
	}
}

// Run executes the full conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("empty store", func(t *testing.T) { testEmpty(t, newStore) })
	t.Run("store then read", func(t *testing.T) { testStoreThenRead(t, newStore) })
	t.Run("versions grow by one", func(t *testing.T) { testVersioning(t, newStore) })
	t.Run("freshness boundary", func(t *testing.T) { testFreshness(t, newStore) })
	t.Run("keys are isolated", func(t *testing.T) { testIsolation(t, newStore) })
	t.Run("optional fields survive", func(t *testing.T) { testOptionalFields(t, newStore) })
	t.Run("concurrent writers", func(t *testing.T) { testConcurrentWriters(t, newStore) })
	t.Run("tombstone superseded", func(t *testing.T) { testTombstone(t, newStore) })
	t.Run("ping", func(t *testing.T) {
		require.NoError(t, newStore(t, NewClock()).Ping(context.Background()))
	})
}

func testEmpty(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, NewClock())

	c, err := s.FindCurrent(ctx, "12345678", core.CountryCZ)
	require.NoError(t, err)
	assert.Nil(t, c)

	fresh, err := s.IsFresh(ctx, "12345678", core.CountryCZ, 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, fresh)

	history, err := s.GetHistory(ctx, "12345678", core.CountryCZ)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func testStoreThenRead(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock()
	s := newStore(t, clock)

	in := Company(core.CountryCZ, "12345678", "Acme s.r.o.")
	raw := []byte(`{"ico":"12345678"}`)

	rec, err := s.Store(ctx, in, raw)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)
	assert.True(t, rec.Current)
	assert.Equal(t, "12345678", rec.CompanyID)
	assert.Equal(t, core.CountryCZ, rec.Country)
	assert.True(t, clock.Now().Equal(rec.FetchedAt))

	fresh, err := s.IsFresh(ctx, "12345678", core.CountryCZ, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, fresh)

	got, err := s.FindCurrent(ctx, "12345678", core.CountryCZ)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, *in, *got)

	history, err := s.GetHistory(ctx, "12345678", core.CountryCZ)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, raw, history[0].RawPayload)
	assert.Equal(t, *in, history[0].Company)
}

func testVersioning(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock()
	s := newStore(t, clock)

	const n = 5
	for i := 1; i <= n; i++ {
		clock.Advance(time.Minute)
		rec, err := s.Store(ctx, Company(core.CountrySK, "46440224", fmt.Sprintf("Name v%d", i)), nil)
		require.NoError(t, err)
		assert.Equal(t, i, rec.Version)
	}

	history, err := s.GetHistory(ctx, "46440224", core.CountrySK)
	require.NoError(t, err)
	require.Len(t, history, n)

	currents := 0
	for i, rec := range history {
		assert.Equal(t, n-i, rec.Version, "history is newest first")
		assert.Equal(t, fmt.Sprintf("Name v%d", n-i), rec.Company.Name)
		if rec.Current {
			currents++
			assert.Equal(t, n, rec.Version)
		}
	}
	assert.Equal(t, 1, currents)

	got, err := s.FindCurrent(ctx, "46440224", core.CountrySK)
	require.NoError(t, err)
	assert.Equal(t, "Name v5", got.Name)
}

func testFreshness(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock()
	s := newStore(t, clock)
	ttl := 24 * time.Hour

	_, err := s.Store(ctx, Company(core.CountryPL, "123456785", "Spółka"), nil)
	require.NoError(t, err)

	clock.Advance(ttl - time.Second)
	fresh, err := s.IsFresh(ctx, "123456785", core.CountryPL, ttl)
	require.NoError(t, err)
	assert.True(t, fresh, "just inside ttl")

	clock.Advance(time.Second)
	fresh, err = s.IsFresh(ctx, "123456785", core.CountryPL, ttl)
	require.NoError(t, err)
	assert.False(t, fresh, "exactly ttl is stale")

	clock.Advance(time.Hour)
	fresh, err = s.IsFresh(ctx, "123456785", core.CountryPL, ttl)
	require.NoError(t, err)
	assert.False(t, fresh)

	// A stale record is still readable.
	got, err := s.FindCurrent(ctx, "123456785", core.CountryPL)
	require.NoError(t, err)
	assert.NotNil(t, got)

	_, err = s.Store(ctx, Company(core.CountryPL, "123456785", "Spółka"), nil)
	require.NoError(t, err)
	fresh, err = s.IsFresh(ctx, "123456785", core.CountryPL, ttl)
	require.NoError(t, err)
	assert.True(t, fresh, "a new version resets freshness")
}

func testIsolation(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, NewClock())

	_, err := s.Store(ctx, Company(core.CountryCZ, "12345678", "Czech"), nil)
	require.NoError(t, err)
	_, err = s.Store(ctx, Company(core.CountrySK, "12345678", "Slovak"), nil)
	require.NoError(t, err)
	_, err = s.Store(ctx, Company(core.CountrySK, "12345678", "Slovak 2"), nil)
	require.NoError(t, err)

	cz, err := s.GetHistory(ctx, "12345678", core.CountryCZ)
	require.NoError(t, err)
	require.Len(t, cz, 1)
	assert.Equal(t, 1, cz[0].Version)
	assert.True(t, cz[0].Current)

	sk, err := s.GetHistory(ctx, "12345678", core.CountrySK)
	require.NoError(t, err)
	assert.Len(t, sk, 2)

	none, err := s.FindCurrent(ctx, "12345678", core.CountryPL)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func testOptionalFields(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, NewClock())

	bare := &core.Company{Name: "Bare", ID: "87654321", CountryCode: core.CountryCZ}
	_, err := s.Store(ctx, bare, nil)
	require.NoError(t, err)

	got, err := s.FindCurrent(ctx, "87654321", core.CountryCZ)
	require.NoError(t, err)
	assert.Equal(t, *bare, *got)

	partial := &core.Company{
		Name:        "Partial",
		ID:          "11223344",
		CountryCode: core.CountryCZ,
		VatPayer:    core.Ptr(false),
		Address:     &core.Address{City: core.Ptr("Brno")},
	}
	_, err = s.Store(ctx, partial, nil)
	require.NoError(t, err)

	got, err = s.FindCurrent(ctx, "11223344", core.CountryCZ)
	require.NoError(t, err)
	assert.Equal(t, *partial, *got)
}

func testConcurrentWriters(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, NewClock())

	const writers = 10
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Store(ctx, Company(core.CountryCZ, "55555555", fmt.Sprintf("writer %d", i)), nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	history, err := s.GetHistory(ctx, "55555555", core.CountryCZ)
	require.NoError(t, err)
	require.Len(t, history, writers)

	seen := make(map[int]bool, writers)
	currents := 0
	for _, rec := range history {
		seen[rec.Version] = true
		if rec.Current {
			currents++
		}
	}
	for v := 1; v <= writers; v++ {
		assert.True(t, seen[v], "version %d missing", v)
	}
	assert.Equal(t, 1, currents)
	assert.True(t, history[0].Current)
}

func testTombstone(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock()
	s := newStore(t, clock)

	for range 3 {
		_, err := s.Store(ctx, Company(core.CountryCZ, "12345678", "Acme"), nil)
		require.NoError(t, err)
		clock.Advance(time.Hour)
	}
	// versions fetched at T, T+1h and T+2h; now T+3h

	// cutoff T+30m
	n, err := s.TombstoneSuperseded(ctx, clock.Now().Add(-150*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only v1 is superseded and older than the cutoff")

	history, err := s.GetHistory(ctx, "12345678", core.CountryCZ)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 3, history[0].Version)
	assert.Equal(t, 2, history[1].Version)

	n, err = s.TombstoneSuperseded(ctx, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "the current record is never tombstoned")

	got, err := s.FindCurrent(ctx, "12345678", core.CountryCZ)
	require.NoError(t, err)
	assert.NotNil(t, got)

	rec, err := s.Store(ctx, Company(core.CountryCZ, "12345678", "Acme"), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Version, "versions keep counting past tombstones")
}
