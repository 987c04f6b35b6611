package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SettlementOracle is the read-only view over completed payments.  A
// settlement names the seats it covers for a show, is append-only and
// is never retracted.  Settled seats outrank every live lock when
// seat state is resolved.
type SettlementOracle interface {
	// SettledSeats returns the set of seat ids covered by completed
	// payments for the show.
	SettledSeats(ctx context.Context, showID uint64) (map[string]struct{}, error)

	// IsSettled reports whether one seat is covered by a settlement.
	IsSettled(ctx context.Context, showID uint64, seatID string) (bool, error)
}

// SettlementRepo reads settled seats from the settlement_seats table
// and caches the per-show set in Redis for a short interval, since the
// set is append-only and the seat map re-resolves it on every change
// event.  A nil Redis client disables caching and every read goes to
// the database, matching how the rest of the service degrades when
// Redis is unreachable.
//
// Schema:
//
//	CREATE TABLE settlement_seats (
//	    settlement_id BIGINT UNSIGNED NOT NULL,
//	    show_id       BIGINT UNSIGNED NOT NULL,
//	    seat_id       VARCHAR(64)     NOT NULL,
//	    KEY idx_settlement_seats_show (show_id)
//	);
type SettlementRepo struct {
	db       *sql.DB
	rdb      *redis.Client
	cacheTTL time.Duration
}

// NewSettlementRepo returns a SettlementRepo.  rdb may be nil.
func NewSettlementRepo(db *sql.DB, rdb *redis.Client, cacheTTL time.Duration) *SettlementRepo {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Second
	}
	return &SettlementRepo{db: db, rdb: rdb, cacheTTL: cacheTTL}
}

func settledCacheKey(showID uint64) string {
	return fmt.Sprintf("settled:%d", showID)
}

// SettledSeats returns the settled seat set for the show, reading
// through the Redis cache when available.
func (r *SettlementRepo) SettledSeats(ctx context.Context, showID uint64) (map[string]struct{}, error) {
	if r.rdb != nil {
		if members, err := r.rdb.SMembers(ctx, settledCacheKey(showID)).Result(); err == nil && len(members) > 0 {
			set := make(map[string]struct{}, len(members))
			for _, m := range members {
				if m != "" {
					set[m] = struct{}{}
				}
			}
			return set, nil
		}
	}
	set, err := r.settledFromDB(ctx, showID)
	if err != nil {
		return nil, err
	}
	r.fillCache(ctx, showID, set)
	return set, nil
}

// IsSettled reports whether the seat is covered by a settlement.
func (r *SettlementRepo) IsSettled(ctx context.Context, showID uint64, seatID string) (bool, error) {
	if r.rdb != nil {
		if ok, err := r.rdb.SIsMember(ctx, settledCacheKey(showID), seatID).Result(); err == nil && ok {
			return true, nil
		}
	}
	set, err := r.SettledSeats(ctx, showID)
	if err != nil {
		return false, err
	}
	_, ok := set[seatID]
	return ok, nil
}

func (r *SettlementRepo) settledFromDB(ctx context.Context, showID uint64) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seat_id FROM settlement_seats WHERE show_id = ?`, showID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	set := make(map[string]struct{})
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			return nil, err
		}
		set[sid] = struct{}{}
	}
	return set, rows.Err()
}

// fillCache stores the set under a short TTL.  An empty sentinel
// member keeps the key distinguishable from a cache miss.  Cache
// failures are ignored; the database remains authoritative.
func (r *SettlementRepo) fillCache(ctx context.Context, showID uint64, set map[string]struct{}) {
	if r.rdb == nil {
		return
	}
	key := settledCacheKey(showID)
	members := make([]interface{}, 0, len(set)+1)
	members = append(members, "")
	for sid := range set {
		members = append(members, sid)
	}
	pipe := r.rdb.Pipeline()
	pipe.Del(ctx, key)
	pipe.SAdd(ctx, key, members...)
	pipe.Expire(ctx, key, r.cacheTTL)
	_, _ = pipe.Exec(ctx)
}

// MemorySettlements is an in-process SettlementOracle used by tests
// and by the database-less development mode.  Records are append-only.
type MemorySettlements struct {
	mu   sync.RWMutex
	sets map[uint64]map[string]struct{}
}

// NewMemorySettlements returns an empty oracle.
func NewMemorySettlements() *MemorySettlements {
	return &MemorySettlements{sets: make(map[uint64]map[string]struct{})}
}

// Add records a settlement covering the given seats.
func (m *MemorySettlements) Add(showID uint64, seatIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[showID]
	if !ok {
		set = make(map[string]struct{})
		m.sets[showID] = set
	}
	for _, sid := range seatIDs {
		set[sid] = struct{}{}
	}
}

// SettledSeats returns a copy of the settled set for the show.
func (m *MemorySettlements) SettledSeats(_ context.Context, showID uint64) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]struct{}, len(m.sets[showID]))
	for sid := range m.sets[showID] {
		out[sid] = struct{}{}
	}
	return out, nil
}

// IsSettled reports whether the seat is covered.
func (m *MemorySettlements) IsSettled(_ context.Context, showID uint64, seatID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sets[showID][seatID]
	return ok, nil
}
