// Package cache is the fast-path view of live auctions: cached status,
// leading bid, participants, and the per-auction adjudication lock.
//
// The cache is advisory. Every value it holds can be rebuilt from the
// ledger, and callers treat a miss as "ask the ledger".
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jensholdgaard/auctionhub/internal/clock"
	"github.com/jensholdgaard/auctionhub/internal/config"
	"github.com/jensholdgaard/auctionhub/internal/store"
)

// ErrLockNotHeld is returned by ReleaseLock when the token no longer owns the lock.
var ErrLockNotHeld = errors.New("lock not held")

// State is the cached projection of an auction.
type State struct {
	Status    store.AuctionStatus `json:"status"`
	GoLiveAt  time.Time           `json:"goLiveAt"`
	EndsAt    time.Time           `json:"endsAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// Cache is implemented by Redis and Memory.
type Cache interface {
	// GetState returns the cached state, or nil on a miss.
	GetState(ctx context.Context, auctionID string) (*State, error)
	SetState(ctx context.Context, auctionID string, s State) error

	// GetHighestBid returns the cached leading bid, or nil on a miss.
	GetHighestBid(ctx context.Context, auctionID string) (*store.BidSnapshot, error)
	SetHighestBid(ctx context.Context, auctionID string, b store.BidSnapshot) error
	DeleteHighestBid(ctx context.Context, auctionID string) error

	// AcquireLock atomically creates the auction's lock if it is absent.
	// It never blocks; ok is false when another holder owns the lock.
	// The returned token must be passed to ReleaseLock.
	AcquireLock(ctx context.Context, auctionID string, ttl time.Duration) (token string, ok bool, err error)
	// ReleaseLock deletes the lock if token still owns it.
	ReleaseLock(ctx context.Context, auctionID, token string) error

	AddParticipant(ctx context.Context, auctionID, userID string) error
	RemoveParticipant(ctx context.Context, auctionID, userID string) error
	Participants(ctx context.Context, auctionID string) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

func stateKey(id string) string        { return "auction:" + id }
func highestBidKey(id string) string   { return "auction:" + id + ":highestBid" }
func participantsKey(id string) string { return "auction:" + id + ":participants" }
func lockKey(id string) string         { return "lock:auction:" + id }

// New returns a Redis-backed cache when Redis is enabled and answers a
// ping, and the in-process Memory cache otherwise. The choice is made
// once; the returned Cache never switches backends.
func New(ctx context.Context, cfg config.RedisConfig, ttl time.Duration, clk clock.Clock, logger *slog.Logger) Cache {
	if !cfg.Enabled {
		logger.InfoContext(ctx, "redis disabled, using in-process cache")
		return NewMemory(clk, ttl)
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		logger.WarnContext(ctx, "redis unreachable, falling back to in-process cache",
			slog.String("addr", cfg.Addr),
			slog.Any("error", err),
		)
		return NewMemory(clk, ttl)
	}

	logger.InfoContext(ctx, "connected to redis", slog.String("addr", cfg.Addr))
	return NewRedis(client, ttl)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("cache %s: %w", op, err)
}
