package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/oraraka-deko/redraft/redraft"
)

// ErrQuotaExhausted is returned by RecordPremiumUsage when the window has
// no uses left.
var ErrQuotaExhausted = errors.New("premium quota exhausted")

const reasonQuotaExhausted = "quota_exhausted"

// recordScript increments the counter only while it is below the limit,
// so concurrent runs never overspend. The window starts at the first use.
var recordScript = redis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if used >= limit then
	return -1
end
used = redis.call('INCR', KEYS[1])
if used == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return limit - used
`)

// RedisQuota is a QuotaGate backed by a Redis counter per user.
type RedisQuota struct {
	client redis.UniversalClient
	limit  int
	window time.Duration
	prefix string
}

var _ redraft.QuotaGate = (*RedisQuota)(nil)

// NewRedisQuota allows limit premium runs per user in each window.
func NewRedisQuota(client redis.UniversalClient, limit int, window time.Duration) *RedisQuota {
	return &RedisQuota{client: client, limit: limit, window: window, prefix: "redraft:quota:"}
}

func (q *RedisQuota) key(userID string) string {
	return q.prefix + userID
}

// CheckPremiumEntitlement reports whether the user has uses left.
func (q *RedisQuota) CheckPremiumEntitlement(ctx context.Context, userID string) (redraft.Entitlement, error) {
	used, err := q.client.Get(ctx, q.key(userID)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return redraft.Entitlement{}, errors.Wrapf(err, "failed to read quota of user %s", userID)
	}
	if used >= q.limit {
		return redraft.Entitlement{Reason: reasonQuotaExhausted}, nil
	}
	return redraft.Entitlement{Allowed: true}, nil
}

// RecordPremiumUsage consumes one use and returns the uses left.
func (q *RedisQuota) RecordPremiumUsage(ctx context.Context, userID string) (int, error) {
	left, err := recordScript.Run(ctx, q.client, []string{q.key(userID)},
		strconv.Itoa(q.limit), strconv.FormatInt(q.window.Milliseconds(), 10)).Int()
	if err != nil {
		return 0, errors.Wrapf(err, "failed to record quota of user %s", userID)
	}
	if left < 0 {
		return 0, ErrQuotaExhausted
	}
	return left, nil
}

// MemoryQuota is an in-process QuotaGate for single-node deployments and
// tests.
type MemoryQuota struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	usage map[string]*userUsage
}

type userUsage struct {
	used    int
	resetAt time.Time
}

var _ redraft.QuotaGate = (*MemoryQuota)(nil)

// NewMemoryQuota allows limit premium runs per user in each window.
func NewMemoryQuota(limit int, window time.Duration) *MemoryQuota {
	return &MemoryQuota{limit: limit, window: window, now: time.Now, usage: make(map[string]*userUsage)}
}

// current returns the live usage of a user. Callers hold mu.
func (q *MemoryQuota) current(userID string) *userUsage {
	u, ok := q.usage[userID]
	if !ok || !q.now().Before(u.resetAt) {
		return nil
	}
	return u
}

// CheckPremiumEntitlement reports whether the user has uses left.
func (q *MemoryQuota) CheckPremiumEntitlement(_ context.Context, userID string) (redraft.Entitlement, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if u := q.current(userID); u != nil && u.used >= q.limit {
		return redraft.Entitlement{Reason: reasonQuotaExhausted}, nil
	}
	if q.limit <= 0 {
		return redraft.Entitlement{Reason: reasonQuotaExhausted}, nil
	}
	return redraft.Entitlement{Allowed: true}, nil
}

// RecordPremiumUsage consumes one use and returns the uses left.
func (q *MemoryQuota) RecordPremiumUsage(_ context.Context, userID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	u := q.current(userID)
	if u == nil {
		u = &userUsage{resetAt: q.now().Add(q.window)}
		q.usage[userID] = u
	}
	if u.used >= q.limit {
		return 0, ErrQuotaExhausted
	}
	u.used++
	return q.limit - u.used, nil
}
