package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jensholdgaard/auctionhub/internal/clock"
	"github.com/jensholdgaard/auctionhub/internal/store"
)

// sweepEvery is the number of writes between expired-entry sweeps.
const sweepEvery = 256

type entry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

// Memory is a single-process Cache with the same TTL semantics as Redis.
// It gives no cross-process guarantees.
type Memory struct {
	mu      sync.Mutex
	clock   clock.Clock
	ttl     time.Duration
	entries map[string]entry
	sets    map[string]map[string]struct{}
	writes  int
}

// NewMemory returns an empty Memory cache.
func NewMemory(clk clock.Clock, ttl time.Duration) *Memory {
	return &Memory{
		clock:   clk,
		ttl:     ttl,
		entries: make(map[string]entry),
		sets:    make(map[string]map[string]struct{}),
	}
}

func (m *Memory) GetState(_ context.Context, auctionID string) (*State, error) {
	var s State
	ok, err := m.getJSON(stateKey(auctionID), &s)
	if err != nil || !ok {
		return nil, wrap("get state", err)
	}
	return &s, nil
}

func (m *Memory) SetState(_ context.Context, auctionID string, s State) error {
	return wrap("set state", m.setJSON(stateKey(auctionID), s, m.ttl))
}

func (m *Memory) GetHighestBid(_ context.Context, auctionID string) (*store.BidSnapshot, error) {
	var b store.BidSnapshot
	ok, err := m.getJSON(highestBidKey(auctionID), &b)
	if err != nil || !ok {
		return nil, wrap("get highest bid", err)
	}
	return &b, nil
}

func (m *Memory) SetHighestBid(_ context.Context, auctionID string, b store.BidSnapshot) error {
	return wrap("set highest bid", m.setJSON(highestBidKey(auctionID), b, m.ttl))
}

func (m *Memory) DeleteHighestBid(_ context.Context, auctionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, highestBidKey(auctionID))
	return nil
}

func (m *Memory) AcquireLock(_ context.Context, auctionID string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := lockKey(auctionID)
	if _, ok := m.live(key); ok {
		return "", false, nil
	}
	token := uuid.NewString()
	m.put(key, []byte(token), ttl)
	return token, true, nil
}

func (m *Memory) ReleaseLock(_ context.Context, auctionID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := lockKey(auctionID)
	e, ok := m.live(key)
	if !ok || string(e.value) != token {
		return ErrLockNotHeld
	}
	delete(m.entries, key)
	return nil
}

func (m *Memory) AddParticipant(_ context.Context, auctionID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := participantsKey(auctionID)
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	set[userID] = struct{}{}
	return nil
}

func (m *Memory) RemoveParticipant(_ context.Context, auctionID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := participantsKey(auctionID)
	delete(m.sets[key], userID)
	if len(m.sets[key]) == 0 {
		delete(m.sets, key)
	}
	return nil
}

func (m *Memory) Participants(_ context.Context, auctionID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.sets[participantsKey(auctionID)]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func (m *Memory) getJSON(key string, v any) (bool, error) {
	m.mu.Lock()
	e, ok := m.live(key)
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(e.value, v); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Memory) setJSON(key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(key, data, ttl)
	return nil
}

// live returns the entry for key if it exists and has not expired.
// Callers must hold m.mu.
func (m *Memory) live(key string) (entry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.expires.IsZero() && !m.clock.Now().Before(e.expires) {
		delete(m.entries, key)
		return entry{}, false
	}
	return e, true
}

// put stores value under key. Callers must hold m.mu.
func (m *Memory) put(key string, value []byte, ttl time.Duration) {
	var expires time.Time
	if ttl > 0 {
		expires = m.clock.Now().Add(ttl)
	}
	m.entries[key] = entry{value: value, expires: expires}

	m.writes++
	if m.writes%sweepEvery == 0 {
		now := m.clock.Now()
		for k, e := range m.entries {
			if !e.expires.IsZero() && !now.Before(e.expires) {
				delete(m.entries, k)
			}
		}
	}
}
