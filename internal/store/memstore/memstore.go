// Package memstore is a process-local ledger driver. It keeps every record
// in memory and is meant for development, demos and tests; nothing survives
// a restart.
package memstore

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jensholdgaard/auctionhub/internal/clock"
	"github.com/jensholdgaard/auctionhub/internal/config"
	"github.com/jensholdgaard/auctionhub/internal/store"
)

func init() {
	store.Register("memory", func(_ context.Context, _ config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
		return New(clk).Repositories(), nil
	})
}

// Store holds all ledger tables behind a single lock.
type Store struct {
	mu            sync.RWMutex
	clock         clock.Clock
	users         map[string]store.User
	auctions      map[string]store.Auction
	bids          map[string]store.Bid
	notifications map[string]store.Notification
	counters      map[string]store.CounterOffer
	invoices      map[string]store.Invoice
}

// New returns an empty Store.
func New(clk clock.Clock) *Store {
	return &Store{
		clock:         clk,
		users:         make(map[string]store.User),
		auctions:      make(map[string]store.Auction),
		bids:          make(map[string]store.Bid),
		notifications: make(map[string]store.Notification),
		counters:      make(map[string]store.CounterOffer),
		invoices:      make(map[string]store.Invoice),
	}
}

// Repositories exposes the Store through the driver-neutral interfaces.
func (s *Store) Repositories() *store.Repositories {
	return &store.Repositories{
		Users:         (*UserRepo)(s),
		Auctions:      (*AuctionRepo)(s),
		Bids:          (*BidRepo)(s),
		Notifications: (*NotificationRepo)(s),
		CounterOffers: (*CounterOfferRepo)(s),
		Invoices:      (*InvoiceRepo)(s),
		Closer:        nopCloser{},
		Ping:          func(context.Context) error { return nil },
	}
}

func (s *Store) now() time.Time { return s.clock.Now().UTC() }

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// UserRepo implements store.UserRepository.
type UserRepo Store

func (r *UserRepo) Create(_ context.Context, u *store.User) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return store.ErrConflict
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = s.now()
	s.users[u.ID] = *u
	return nil
}

func (r *UserRepo) GetByID(_ context.Context, id string) (*store.User, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (r *UserRepo) GetByEmail(_ context.Context, email string) (*store.User, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *UserRepo) List(_ context.Context) ([]store.User, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]store.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users, nil
}

// AuctionRepo implements store.AuctionRepository.
type AuctionRepo Store

func (r *AuctionRepo) Create(_ context.Context, a *store.Auction) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = store.StatusScheduled
	}
	now := s.now()
	a.CreatedAt, a.UpdatedAt = now, now
	s.auctions[a.ID] = *a
	return nil
}

func (r *AuctionRepo) GetByID(_ context.Context, id string) (*store.Auction, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.auctions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (r *AuctionRepo) List(_ context.Context, statuses ...store.AuctionStatus) ([]store.Auction, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterAuctions(func(a store.Auction) bool {
		return len(statuses) == 0 || slices.Contains(statuses, a.Status)
	}), nil
}

func (r *AuctionRepo) ListBySeller(_ context.Context, sellerID string) ([]store.Auction, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterAuctions(func(a store.Auction) bool { return a.SellerID == sellerID }), nil
}

// filterAuctions must be called with s.mu held.
func (s *Store) filterAuctions(keep func(store.Auction) bool) []store.Auction {
	out := make([]store.Auction, 0)
	for _, a := range s.auctions {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GoLiveAt.Before(out[j].GoLiveAt) })
	return out
}

func (r *AuctionRepo) Transition(_ context.Context, id string, to store.AuctionStatus, from ...store.AuctionStatus) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if !slices.Contains(from, a.Status) {
		return false, nil
	}
	a.Status = to
	a.UpdatedAt = s.now()
	s.auctions[id] = a
	return true, nil
}

func (r *AuctionRepo) ForceLive(_ context.Context, id string, goLiveAt time.Time) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Status = store.StatusLive
	a.GoLiveAt = goLiveAt.UTC()
	a.UpdatedAt = s.now()
	s.auctions[id] = a
	return nil
}

func (r *AuctionRepo) Reset(_ context.Context, id string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Status = store.StatusScheduled
	a.HighestBidID = nil
	a.UpdatedAt = s.now()
	s.auctions[id] = a
	return nil
}

// BidRepo implements store.BidRepository.
type BidRepo Store

func (r *BidRepo) Append(_ context.Context, b *store.Bid) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[b.AuctionID]
	if !ok {
		return store.ErrNotFound
	}
	if a.HighestBidID != nil {
		if cur, ok := s.bids[*a.HighestBidID]; ok && !b.Amount.GreaterThan(cur.Amount) {
			return store.ErrBidNotHigher
		}
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := s.now()
	b.CreatedAt = now
	s.bids[b.ID] = *b

	id := b.ID
	a.HighestBidID = &id
	a.UpdatedAt = now
	s.auctions[a.ID] = a
	return nil
}

func (r *BidRepo) GetByID(_ context.Context, id string) (*store.Bid, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bids[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (r *BidRepo) ListByAuction(_ context.Context, auctionID string, limit int) ([]store.Bid, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	bids := make([]store.Bid, 0)
	for _, b := range s.bids {
		if b.AuctionID == auctionID {
			bids = append(bids, b)
		}
	}
	sort.Slice(bids, func(i, j int) bool {
		if bids[i].Amount.Equal(bids[j].Amount) {
			return bids[i].CreatedAt.After(bids[j].CreatedAt)
		}
		return bids[i].Amount.GreaterThan(bids[j].Amount)
	})
	if limit > 0 && len(bids) > limit {
		bids = bids[:limit]
	}
	return bids, nil
}

func (r *BidRepo) Highest(_ context.Context, auctionID string) (*store.Bid, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.auctions[auctionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if a.HighestBidID == nil {
		return nil, nil
	}
	b, ok := s.bids[*a.HighestBidID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

// NotificationRepo implements store.NotificationRepository.
type NotificationRepo Store

func (r *NotificationRepo) Create(_ context.Context, n *store.Notification) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if len(n.Meta) == 0 {
		n.Meta = json.RawMessage(`{}`)
	}
	n.CreatedAt = s.now()
	s.notifications[n.ID] = *n
	return nil
}

func (r *NotificationRepo) ListByUser(_ context.Context, userID string) ([]store.Notification, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Notification, 0)
	for _, n := range s.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *NotificationRepo) MarkRead(_ context.Context, id, userID string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return store.ErrNotFound
	}
	if n.ReadAt == nil {
		now := s.now()
		n.ReadAt = &now
		s.notifications[id] = n
	}
	return nil
}

// CounterOfferRepo implements store.CounterOfferRepository.
type CounterOfferRepo Store

func (r *CounterOfferRepo) Create(_ context.Context, c *store.CounterOffer) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = store.CounterPending
	}
	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	s.counters[c.ID] = *c
	return nil
}

func (r *CounterOfferRepo) GetByID(_ context.Context, id string) (*store.CounterOffer, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.counters[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (r *CounterOfferRepo) Resolve(_ context.Context, id string, status store.CounterStatus) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if c.Status != store.CounterPending {
		return false, nil
	}
	c.Status = status
	c.UpdatedAt = s.now()
	s.counters[id] = c
	return true, nil
}

// InvoiceRepo implements store.InvoiceRepository.
type InvoiceRepo Store

func (r *InvoiceRepo) Create(_ context.Context, inv *store.Invoice) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.invoices {
		if existing.AuctionID == inv.AuctionID {
			return store.ErrConflict
		}
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.CreatedAt = s.now()
	s.invoices[inv.ID] = *inv
	return nil
}

func (r *InvoiceRepo) GetByAuction(_ context.Context, auctionID string) (*store.Invoice, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inv := range s.invoices {
		if inv.AuctionID == auctionID {
			return &inv, nil
		}
	}
	return nil, store.ErrNotFound
}
