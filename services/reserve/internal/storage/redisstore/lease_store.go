package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/giftwell/giftwell/services/reserve/internal/domain"
	"github.com/redis/go-redis/v9"
)

// LeaseStore backs the lease engine with Redis. Atomicity comes from Lua:
// each mutation is one script, so the check-and-write pairs the partial
// unique index provides on Postgres collapse into single server-side
// operations here. Keys are keyspace-local; this backing targets a single
// Redis node, not a cluster.
type LeaseStore struct {
	client *redis.Client
}

func NewLeaseStore(client *redis.Client) *LeaseStore {
	return &LeaseStore{client: client}
}

const (
	leaseKeyPrefix  = "reserve:lease:"
	activeKeyPrefix = "reserve:active:"
	expiryZSetKey   = "reserve:active_by_expiry"
)

func leaseKey(leaseID string) string {
	return leaseKeyPrefix + leaseID
}

func activeKey(res domain.Resource) string {
	return activeKeyPrefix + string(res.Kind) + ":" + res.ID
}

// KEYS: active pointer, lease hash, expiry zset.
// ARGV: lease id, kind, resource id, holder, acquired_at, expires_at, score.
var tryCreateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2],
  'resource_kind', ARGV[2],
  'resource_id', ARGV[3],
  'holder_id', ARGV[4],
  'state', 'active',
  'acquired_at', ARGV[5],
  'expires_at', ARGV[6],
  'version', 0)
redis.call('ZADD', KEYS[3], ARGV[7], ARGV[1])
return 1
`)

// KEYS: lease hash, expiry zset.
// ARGV: lease id, expected version, from state, to state, active key prefix.
var transitionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local version = tonumber(redis.call('HGET', KEYS[1], 'version'))
local state = redis.call('HGET', KEYS[1], 'state')
if version ~= tonumber(ARGV[2]) or state ~= ARGV[3] then
  return -2
end
redis.call('HSET', KEYS[1], 'state', ARGV[4], 'version', version + 1)
if ARGV[4] ~= 'active' then
  local kind = redis.call('HGET', KEYS[1], 'resource_kind')
  local rid = redis.call('HGET', KEYS[1], 'resource_id')
  redis.call('DEL', ARGV[5] .. kind .. ':' .. rid)
  redis.call('ZREM', KEYS[2], ARGV[1])
end
return version + 1
`)

// KEYS: lease hash, expiry zset.
// ARGV: lease id, expected version, new expires_at, new score.
var extendScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local version = tonumber(redis.call('HGET', KEYS[1], 'version'))
local state = redis.call('HGET', KEYS[1], 'state')
if version ~= tonumber(ARGV[2]) or state ~= 'active' then
  return -2
end
redis.call('HSET', KEYS[1], 'expires_at', ARGV[3], 'version', version + 1)
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
return version + 1
`)

func (s *LeaseStore) TryCreate(ctx context.Context, lease domain.Lease) error {
	keys := []string{activeKey(lease.Resource), leaseKey(lease.ID), expiryZSetKey}
	created, err := tryCreateScript.Run(ctx, s.client, keys,
		lease.ID,
		string(lease.Resource.Kind),
		lease.Resource.ID,
		lease.HolderID,
		lease.AcquiredAt.UTC().Format(time.RFC3339Nano),
		lease.ExpiresAt.UTC().Format(time.RFC3339Nano),
		lease.ExpiresAt.UnixNano(),
	).Int()
	if err != nil {
		return fmt.Errorf("create lease: %w", err)
	}
	if created == 0 {
		return domain.ErrResourceHeld
	}
	return nil
}

func (s *LeaseStore) Get(ctx context.Context, leaseID string) (domain.Lease, error) {
	fields, err := s.client.HGetAll(ctx, leaseKey(leaseID)).Result()
	if err != nil {
		return domain.Lease{}, fmt.Errorf("get lease: %w", err)
	}
	if len(fields) == 0 {
		return domain.Lease{}, domain.ErrLeaseNotFound
	}
	return leaseFromHash(leaseID, fields)
}

func (s *LeaseStore) GetActiveFor(ctx context.Context, res domain.Resource) (domain.Lease, error) {
	leaseID, err := s.client.Get(ctx, activeKey(res)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Lease{}, domain.ErrLeaseNotFound
		}
		return domain.Lease{}, fmt.Errorf("get active lease: %w", err)
	}
	return s.Get(ctx, leaseID)
}

func (s *LeaseStore) Transition(ctx context.Context, leaseID string, expectedVersion int64, from, to domain.LeaseState) (domain.Lease, error) {
	keys := []string{leaseKey(leaseID), expiryZSetKey}
	res, err := transitionScript.Run(ctx, s.client, keys,
		leaseID, expectedVersion, string(from), string(to), activeKeyPrefix,
	).Int()
	if err != nil {
		return domain.Lease{}, fmt.Errorf("transition lease: %w", err)
	}
	switch res {
	case -1:
		return domain.Lease{}, domain.ErrLeaseNotFound
	case -2:
		return domain.Lease{}, domain.ErrVersionConflict
	}
	return s.Get(ctx, leaseID)
}

func (s *LeaseStore) Extend(ctx context.Context, leaseID string, expectedVersion int64, expiresAt time.Time) (domain.Lease, error) {
	keys := []string{leaseKey(leaseID), expiryZSetKey}
	res, err := extendScript.Run(ctx, s.client, keys,
		leaseID, expectedVersion, expiresAt.UTC().Format(time.RFC3339Nano), expiresAt.UnixNano(),
	).Int()
	if err != nil {
		return domain.Lease{}, fmt.Errorf("extend lease: %w", err)
	}
	switch res {
	case -1:
		return domain.Lease{}, domain.ErrLeaseNotFound
	case -2:
		return domain.Lease{}, domain.ErrVersionConflict
	}
	return s.Get(ctx, leaseID)
}

func (s *LeaseStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Lease, error) {
	ids, err := s.client.ZRangeByScore(ctx, expiryZSetKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixNano(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired leases: %w", err)
	}

	leases := make([]domain.Lease, 0, len(ids))
	for _, id := range ids {
		lease, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrLeaseNotFound) {
				continue
			}
			return nil, err
		}
		// The zset can lag a finished lease; the sweeper's CAS skips those.
		if lease.State == domain.LeaseStateActive {
			leases = append(leases, lease)
		}
	}
	return leases, nil
}

func leaseFromHash(leaseID string, fields map[string]string) (domain.Lease, error) {
	acquiredAt, err := time.Parse(time.RFC3339Nano, fields["acquired_at"])
	if err != nil {
		return domain.Lease{}, fmt.Errorf("parse acquired_at: %w", err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, fields["expires_at"])
	if err != nil {
		return domain.Lease{}, fmt.Errorf("parse expires_at: %w", err)
	}
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return domain.Lease{}, fmt.Errorf("parse version: %w", err)
	}

	return domain.Lease{
		ID: leaseID,
		Resource: domain.Resource{
			Kind: domain.ResourceKind(fields["resource_kind"]),
			ID:   fields["resource_id"],
		},
		HolderID:   fields["holder_id"],
		State:      domain.LeaseState(fields["state"]),
		AcquiredAt: acquiredAt,
		ExpiresAt:  expiresAt,
		Version:    version,
	}, nil
}
