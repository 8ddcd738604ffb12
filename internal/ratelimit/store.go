package ratelimit

import (
	"sync"
	"time"

	"github.com/ledgerlens/backend/internal/models"
)

// Entry is the per-identity rate-limit state. Entries are treated as
// immutable values: Check copies the current entry, mutates the copy, and
// stores it back. Two concurrent requests for the same identity may both
// observe the same prior count; that lost update is an accepted
// approximation (the alternative is serializing callers on a lock).
type Entry struct {
	Identity     string
	Tier         models.Tier
	WindowReset  time.Time
	RequestCount float64
	DeniedCount  int64

	// Recent holds burst-detection timestamps within the burst window,
	// bounded by maxRecent.
	Recent []time.Time
	// Requests holds admission timestamps for sliding-window mode, pruned
	// to the trailing rate window.
	Requests []time.Time

	BurstCount int
	LastBurst  time.Time

	// AdaptiveMultiplier scales the effective limit, always in (0, 1].
	AdaptiveMultiplier float64
	Suspicious         bool

	// LastDenied makes the next request carry the tier's penalty weight.
	LastDenied bool
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Recent = append([]time.Time(nil), e.Recent...)
	c.Requests = append([]time.Time(nil), e.Requests...)
	return &c
}

// BlockEntry is a temporary IP block. BlockedUntil is always in the future
// at creation time; expired blocks are removed lazily by the sweep.
type BlockEntry struct {
	IP           string
	BlockedUntil time.Time
	Reason       string
}

// Store holds limiter state. The shipped implementation is in-memory; the
// interface is the seam for a shared store in multi-instance deployments
// (per-instance enforcement is approximate, see package doc).
type Store interface {
	GetEntry(identity string) (*Entry, bool)
	SetEntry(identity string, e *Entry)
	DeleteEntry(identity string)

	GetBlock(ip string) (BlockEntry, bool)
	SetBlock(b BlockEntry)
	DeleteBlock(ip string)

	// SweepExpired removes entries whose window reset and blocks whose
	// expiry are before now, returning how many of each were removed.
	SweepExpired(now time.Time) (entries, blocks int)

	// Clear drops all state. Test/ops utility.
	Clear()
}

// MemoryStore is the single-process Store. Maps are guarded per operation;
// no lock is held across a full admission check.
type MemoryStore struct {
	entries sync.Map // identity -> *Entry
	blocks  sync.Map // ip -> BlockEntry
}

// NewMemoryStore creates an empty in-memory limiter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) GetEntry(identity string) (*Entry, bool) {
	v, ok := s.entries.Load(identity)
	if !ok {
		return nil, false
	}
	return v.(*Entry), true
}

func (s *MemoryStore) SetEntry(identity string, e *Entry) {
	s.entries.Store(identity, e)
}

func (s *MemoryStore) DeleteEntry(identity string) {
	s.entries.Delete(identity)
}

func (s *MemoryStore) GetBlock(ip string) (BlockEntry, bool) {
	v, ok := s.blocks.Load(ip)
	if !ok {
		return BlockEntry{}, false
	}
	return v.(BlockEntry), true
}

func (s *MemoryStore) SetBlock(b BlockEntry) {
	s.blocks.Store(b.IP, b)
}

func (s *MemoryStore) DeleteBlock(ip string) {
	s.blocks.Delete(ip)
}

func (s *MemoryStore) SweepExpired(now time.Time) (int, int) {
	var entries, blocks int
	s.entries.Range(func(k, v interface{}) bool {
		if now.After(v.(*Entry).WindowReset) {
			s.entries.Delete(k)
			entries++
		}
		return true
	})
	s.blocks.Range(func(k, v interface{}) bool {
		if now.After(v.(BlockEntry).BlockedUntil) {
			s.blocks.Delete(k)
			blocks++
		}
		return true
	})
	return entries, blocks
}

func (s *MemoryStore) Clear() {
	s.entries.Range(func(k, _ interface{}) bool {
		s.entries.Delete(k)
		return true
	})
	s.blocks.Range(func(k, _ interface{}) bool {
		s.blocks.Delete(k)
		return true
	})
}
