package auction

import (
	"context"
	"time"

	"github.com/jensholdgaard/auctionhub/internal/cache"
	"github.com/jensholdgaard/auctionhub/internal/event"
	"github.com/jensholdgaard/auctionhub/internal/store"
)

// Publisher delivers events to realtime connections. Both methods are
// fire-and-forget.
type Publisher interface {
	// BroadcastRoom sends env to every connection joined to auctionID.
	BroadcastRoom(auctionID string, env event.Envelope)
	// SendToUser sends env to every connection identified as userID.
	SendToUser(userID string, env event.Envelope)
}

// StateOf returns the cache projection of a.
func StateOf(a *store.Auction, now time.Time) cache.State {
	return cache.State{
		Status:    a.Status,
		GoLiveAt:  a.GoLiveAt,
		EndsAt:    a.EndsAt(),
		UpdatedAt: now,
	}
}

// primeState writes the cache projection of a. The cache is advisory, so
// callers only log the error.
func primeState(ctx context.Context, c cache.Cache, a *store.Auction, now time.Time) error {
	return c.SetState(ctx, a.ID, StateOf(a, now))
}
