package ratelimit

import (
	"sort"
	"sync"

	"github.com/ledgerlens/backend/internal/models"
)

// Stats is an aggregate snapshot of limiter activity. Every request seen by
// Check or ObserveDenial lands in exactly one of TotalAllowed/TotalDenied,
// so TotalRequests is always their sum.
type Stats struct {
	TotalRequests int64                 `json:"total_requests"`
	TotalAllowed  int64                 `json:"total_allowed"`
	TotalDenied   int64                 `json:"total_denied"`
	DeniedByTier  map[models.Tier]int64 `json:"denied_by_tier"`
	TopDenied     []IdentityCount       `json:"top_denied"`
}

// IdentityCount pairs an identity with its denial count.
type IdentityCount struct {
	Identity string `json:"identity"`
	Denied   int64  `json:"denied"`
}

// topDeniedSize bounds the leaderboard in Stats.
const topDeniedSize = 10

type counters struct {
	mu               sync.Mutex
	totalRequests    int64
	totalAllowed     int64
	totalDenied      int64
	deniedByTier     map[models.Tier]int64
	deniedByIdentity map[string]int64
}

func newCounters() *counters {
	return &counters{
		deniedByTier:     make(map[models.Tier]int64),
		deniedByIdentity: make(map[string]int64),
	}
}

func (c *counters) request() {
	c.mu.Lock()
	c.totalRequests++
	c.mu.Unlock()
}

func (c *counters) allow() {
	c.mu.Lock()
	c.totalAllowed++
	c.mu.Unlock()
}

func (c *counters) deny(identity string, tier models.Tier) {
	c.mu.Lock()
	c.totalDenied++
	c.deniedByTier[tier]++
	c.deniedByIdentity[identity]++
	c.mu.Unlock()
}

func (c *counters) reset() {
	c.mu.Lock()
	c.totalRequests = 0
	c.totalAllowed = 0
	c.totalDenied = 0
	c.deniedByTier = make(map[models.Tier]int64)
	c.deniedByIdentity = make(map[string]int64)
	c.mu.Unlock()
}

// Stats returns a snapshot of aggregate counters.
func (l *Limiter) Stats() Stats {
	c := l.counters
	c.mu.Lock()
	defer c.mu.Unlock()

	byTier := make(map[models.Tier]int64, len(c.deniedByTier))
	for tier, n := range c.deniedByTier {
		byTier[tier] = n
	}

	top := make([]IdentityCount, 0, len(c.deniedByIdentity))
	for id, n := range c.deniedByIdentity {
		top = append(top, IdentityCount{Identity: id, Denied: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Denied != top[j].Denied {
			return top[i].Denied > top[j].Denied
		}
		return top[i].Identity < top[j].Identity
	})
	if len(top) > topDeniedSize {
		top = top[:topDeniedSize]
	}

	return Stats{
		TotalRequests: c.totalRequests,
		TotalAllowed:  c.totalAllowed,
		TotalDenied:   c.totalDenied,
		DeniedByTier:  byTier,
		TopDenied:     top,
	}
}
