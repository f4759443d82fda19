package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"registry-service/internal/core"
)

const keyPrefix = "registry:company:"

// Each company key owns three Redis keys sharing one hash tag so they land
// on the same slot:
//
//	registry:company:{cz:12345678}:head        INCR counter, the current version
//	registry:company:{cz:12345678}:log         hash version -> entry JSON
//	registry:company:{cz:12345678}:tombstones  hash version -> deletion time
//
// The current record is the log entry whose version equals head.

// appendScript allocates the next version and writes its entry in one step.
var appendScript = redis.NewScript(`
local v = redis.call('INCR', KEYS[1])
redis.call('HSET', KEYS[2], v, ARGV[1])
return v
`)

// currentScript reads head and the matching entry together.
var currentScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return false
end
return {v, redis.call('HGET', KEYS[2], v)}
`)

type entry struct {
	Company    core.Company `json:"company"`
	RawPayload []byte       `json:"raw,omitempty"`
	FetchedAt  time.Time    `json:"fetchedAt"`
}

type keys struct {
	head, log, tombstones string
}

func keysFor(companyID string, country core.CountryCode) keys {
	base := keyPrefix + "{" + country.String() + ":" + companyID + "}"
	return keys{head: base + ":head", log: base + ":log", tombstones: base + ":tombstones"}
}

// Store is the Redis-backed versioned cache store. CachedRecord.ID carries the
// version, since Redis has no global row identity.
type Store struct {
	rdb redis.UniversalClient
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(rdb redis.UniversalClient, opts ...Option) *Store {
	s := &Store{rdb: rdb, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) FindCurrent(ctx context.Context, companyID string, country core.CountryCode) (*core.Company, error) {
	_, e, err := s.current(ctx, keysFor(companyID, country))
	if err != nil {
		return nil, core.NewPersistence("find current", err)
	}
	if e == nil {
		return nil, nil
	}
	return &e.Company, nil
}

func (s *Store) IsFresh(ctx context.Context, companyID string, country core.CountryCode, ttl time.Duration) (bool, error) {
	_, e, err := s.current(ctx, keysFor(companyID, country))
	if err != nil {
		return false, core.NewPersistence("freshness check", err)
	}
	if e == nil {
		return false, nil
	}
	return s.now().Sub(e.FetchedAt) < ttl, nil
}

func (s *Store) Store(ctx context.Context, company *core.Company, rawPayload []byte) (*core.CachedRecord, error) {
	e := entry{Company: *company, RawPayload: rawPayload, FetchedAt: s.now().UTC()}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, core.NewPersistence("store", fmt.Errorf("encode entry: %w", err))
	}

	k := keysFor(company.ID, company.CountryCode)
	version, err := appendScript.Run(ctx, s.rdb, []string{k.head, k.log}, data).Int()
	if err != nil {
		return nil, core.NewPersistence("store", err)
	}

	return &core.CachedRecord{
		ID:         int64(version),
		CompanyID:  company.ID,
		Country:    company.CountryCode,
		Version:    version,
		Current:    true,
		Company:    *company,
		RawPayload: rawPayload,
		FetchedAt:  e.FetchedAt,
	}, nil
}

func (s *Store) GetHistory(ctx context.Context, companyID string, country core.CountryCode) ([]core.CachedRecord, error) {
	k := keysFor(companyID, country)

	var (
		headCmd       *redis.StringCmd
		logCmd        *redis.MapStringStringCmd
		tombstonesCmd *redis.MapStringStringCmd
	)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		headCmd = pipe.Get(ctx, k.head)
		logCmd = pipe.HGetAll(ctx, k.log)
		tombstonesCmd = pipe.HGetAll(ctx, k.tombstones)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, core.NewPersistence("history", err)
	}

	head, err := headCmd.Int()
	if errors.Is(err, redis.Nil) {
		return []core.CachedRecord{}, nil
	}
	if err != nil {
		return nil, core.NewPersistence("history", err)
	}

	tombstones := tombstonesCmd.Val()
	out := make([]core.CachedRecord, 0, len(logCmd.Val()))
	for field, raw := range logCmd.Val() {
		if _, gone := tombstones[field]; gone {
			continue
		}
		version, err := strconv.Atoi(field)
		if err != nil {
			return nil, core.NewPersistence("history", fmt.Errorf("log field %q: %w", field, err))
		}
		var e entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, core.NewPersistence("history", fmt.Errorf("decode version %d: %w", version, err))
		}
		out = append(out, e.record(companyID, country, version, head))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

// TombstoneSuperseded walks every company log. A version read as non-current
// can never become current again, so a concurrent Store cannot race it.
func (s *Store) TombstoneSuperseded(ctx context.Context, before time.Time) (int64, error) {
	deletedAt := s.now().UTC().Format(time.RFC3339Nano)

	var total int64
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*:log", 100).Iterator()
	for iter.Next(ctx) {
		logKey := iter.Val()
		base := strings.TrimSuffix(logKey, ":log")
		n, err := s.tombstoneKey(ctx, keys{head: base + ":head", log: logKey, tombstones: base + ":tombstones"}, before, deletedAt)
		if err != nil {
			return total, core.NewPersistence("tombstone", err)
		}
		total += n
	}
	if err := iter.Err(); err != nil {
		return total, core.NewPersistence("tombstone", err)
	}
	return total, nil
}

func (s *Store) tombstoneKey(ctx context.Context, k keys, before time.Time, deletedAt string) (int64, error) {
	head, err := s.rdb.Get(ctx, k.head).Int()
	if err != nil {
		return 0, err
	}
	log, err := s.rdb.HGetAll(ctx, k.log).Result()
	if err != nil {
		return 0, err
	}
	tombstones, err := s.rdb.HGetAll(ctx, k.tombstones).Result()
	if err != nil {
		return 0, err
	}

	var fields []any
	for field, raw := range log {
		if _, gone := tombstones[field]; gone || field == strconv.Itoa(head) {
			continue
		}
		var e entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return 0, fmt.Errorf("decode %s/%s: %w", k.log, field, err)
		}
		if e.FetchedAt.Before(before) {
			fields = append(fields, field, deletedAt)
		}
	}
	if len(fields) == 0 {
		return 0, nil
	}
	if err := s.rdb.HSet(ctx, k.tombstones, fields...).Err(); err != nil {
		return 0, err
	}
	return int64(len(fields) / 2), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) current(ctx context.Context, k keys) (int, *entry, error) {
	res, err := currentScript.Run(ctx, s.rdb, []string{k.head, k.log}).Slice()
	if errors.Is(err, redis.Nil) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	if len(res) != 2 {
		return 0, nil, fmt.Errorf("unexpected script reply of length %d", len(res))
	}

	version, err := strconv.Atoi(fmt.Sprint(res[0]))
	if err != nil {
		return 0, nil, fmt.Errorf("head %v: %w", res[0], err)
	}
	raw, ok := res[1].(string)
	if !ok {
		return 0, nil, fmt.Errorf("head %d has no log entry", version)
	}

	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return 0, nil, fmt.Errorf("decode version %d: %w", version, err)
	}
	return version, &e, nil
}

func (e entry) record(companyID string, country core.CountryCode, version, head int) core.CachedRecord {
	return core.CachedRecord{
		ID:         int64(version),
		CompanyID:  companyID,
		Country:    country,
		Version:    version,
		Current:    version == head,
		Company:    e.Company,
		RawPayload: e.RawPayload,
		FetchedAt:  e.FetchedAt,
	}
}
