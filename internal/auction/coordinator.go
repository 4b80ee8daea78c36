package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auctionhub/internal/cache"
	"github.com/jensholdgaard/auctionhub/internal/clock"
	"github.com/jensholdgaard/auctionhub/internal/config"
	"github.com/jensholdgaard/auctionhub/internal/event"
	"github.com/jensholdgaard/auctionhub/internal/metrics"
	"github.com/jensholdgaard/auctionhub/internal/notify"
	"github.com/jensholdgaard/auctionhub/internal/store"
)

// Coordinator adjudicates bids. Bids on one auction are serialized by the
// cache lock; bids on different auctions run in parallel.
type Coordinator struct {
	auctions store.AuctionRepository
	bids     store.BidRepository
	cache    cache.Cache
	pub      Publisher
	recorder *notify.Recorder
	metrics  *metrics.Metrics
	lockTTL  time.Duration

	clock  clock.Clock
	logger *slog.Logger
	tracer trace.Tracer
}

// NewCoordinator returns a Coordinator.
func NewCoordinator(repos *store.Repositories, c cache.Cache, pub Publisher, rec *notify.Recorder, m *metrics.Metrics, cfg config.BiddingConfig, clk clock.Clock, logger *slog.Logger, tp trace.TracerProvider) *Coordinator {
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Coordinator{
		auctions: repos.Auctions,
		bids:     repos.Bids,
		cache:    c,
		pub:      pub,
		recorder: rec,
		metrics:  m,
		lockTTL:  ttl,
		clock:    clk,
		logger:   logger,
		tracer:   tp.Tracer("github.com/jensholdgaard/auctionhub/internal/auction"),
	}
}

// adjudication is the outcome of an accepted bid, carried past the lock.
type adjudication struct {
	auction  *store.Auction
	bid      *store.Bid
	previous *store.BidSnapshot
}

// PlaceBid validates and records a bid. Rejections are returned as
// *BidError; any other error is an internal failure.
func (c *Coordinator) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (*store.Bid, error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.PlaceBid",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("bidder_id", bidderID),
			attribute.String("amount", amount.String()),
		),
	)
	defer span.End()

	started := time.Now()
	bid, err := c.placeBid(ctx, auctionID, bidderID, amount)
	outcome := "accepted"
	if err != nil {
		be := AsBidError(err)
		outcome = string(be.Code)
		span.SetStatus(codes.Error, be.Message)
		if be.Code == CodeInternal {
			c.logger.ErrorContext(ctx, "bid failed",
				slog.String("auction_id", auctionID),
				slog.Any("error", err),
			)
		}
	}
	c.metrics.ObserveBid(outcome, time.Since(started))
	return bid, err
}

func (c *Coordinator) placeBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (*store.Bid, error) {
	if bidderID == "" {
		return nil, reject(CodeAuthRequired, "Authentication required")
	}

	token, ok, err := c.cache.AcquireLock(ctx, auctionID, c.lockTTL)
	if err != nil {
		c.logger.WarnContext(ctx, "lock acquisition failed",
			slog.String("auction_id", auctionID),
			slog.Any("error", err),
		)
	}
	if err != nil || !ok {
		return nil, reject(CodeLockFailed, "Another bid is being processed. Please try again.")
	}

	res, err := func() (*adjudication, error) {
		defer c.release(ctx, auctionID, token)
		return c.adjudicate(ctx, auctionID, bidderID, amount)
	}()
	if err != nil {
		return nil, err
	}

	c.recordBid(ctx, res)

	c.logger.InfoContext(ctx, "bid accepted",
		slog.String("auction_id", auctionID),
		slog.String("bid_id", res.bid.ID),
		slog.String("amount", res.bid.Amount.String()),
	)
	return res.bid, nil
}

// adjudicate runs with the auction lock held.
func (c *Coordinator) adjudicate(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (*adjudication, error) {
	a, err := c.auctions.GetByID(ctx, auctionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, reject(CodeAuctionNotFound, "Auction not found")
		}
		return nil, fmt.Errorf("loading auction: %w", err)
	}

	now := c.clock.Now()
	switch {
	case now.Before(a.GoLiveAt):
		return nil, reject(CodeAuctionNotStarted, "Auction has not started yet")
	case now.After(a.EndsAt()):
		return nil, reject(CodeAuctionEnded, "Auction has ended")
	case a.Status == store.StatusScheduled:
		return nil, reject(CodeAuctionNotStarted, "Auction has not started yet")
	case a.Status != store.StatusLive:
		return nil, reject(CodeAuctionEnded, "Auction has ended")
	}

	prev, err := c.highest(ctx, a.ID, a)
	if err != nil {
		return nil, err
	}

	minBid := a.StartingPrice
	if prev != nil {
		minBid = prev.Amount.Add(a.BidIncrement)
	}
	if amount.LessThan(minBid) {
		return nil, reject(CodeBidTooLow, "Minimum bid is $"+minBid.StringFixed(2))
	}

	bid := &store.Bid{AuctionID: a.ID, BidderID: bidderID, Amount: amount}
	if err := c.bids.Append(ctx, bid); err != nil {
		if errors.Is(err, store.ErrBidNotHigher) {
			c.forgetHighest(ctx, a.ID)
			return nil, c.outpaced(ctx, a)
		}
		return nil, fmt.Errorf("appending bid: %w", err)
	}

	snap := bid.Snapshot()
	if err := c.cache.SetHighestBid(ctx, a.ID, snap); err != nil {
		c.cacheFailed(ctx, a.ID, err)
		c.forgetHighest(ctx, a.ID)
	}

	if prev != nil && prev.BidderID != bidderID {
		c.pub.SendToUser(prev.BidderID, event.New(event.Outbid, event.OutbidData{
			AuctionID:     a.ID,
			YourBidID:     prev.BidID,
			NewHighestBid: snap,
		}))
	}
	c.pub.BroadcastRoom(a.ID, event.New(event.BidPlaced, event.BidPlacedData{
		Bid:               *bid,
		CurrentHighestBid: snap,
	}))

	return &adjudication{auction: a, bid: bid, previous: prev}, nil
}

func (c *Coordinator) release(ctx context.Context, auctionID, token string) {
	if err := c.cache.ReleaseLock(context.WithoutCancel(ctx), auctionID, token); err != nil {
		c.logger.WarnContext(ctx, "lock release failed",
			slog.String("auction_id", auctionID),
			slog.Any("error", err),
		)
	}
}

// recordBid persists the notifications for an accepted bid.
func (c *Coordinator) recordBid(ctx context.Context, res *adjudication) {
	a, bid, prev := res.auction, res.bid, res.previous
	amount := "$" + bid.Amount.StringFixed(2)

	if prev != nil && prev.BidderID != bid.BidderID {
		c.recorder.Record(ctx, prev.BidderID, store.NotifyOutbid,
			fmt.Sprintf("You have been outbid on %q. Current highest bid: %s", a.ItemName, amount),
			map[string]any{"auctionId": a.ID, "previousBid": prev.Amount, "newBid": bid.Amount},
		)
	}
	c.recorder.Record(ctx, a.SellerID, store.NotifyNewBid,
		fmt.Sprintf("New bid of %s placed on %q", amount, a.ItemName),
		map[string]any{"auctionId": a.ID, "bidAmount": bid.Amount, "bidderId": bid.BidderID},
	)
}

// highest returns the leading bid, reading the cache first and
// repopulating it from the ledger on a miss. When a is non-nil a cached
// snapshot is only trusted if it names a's ledger highest-bid reference.
func (c *Coordinator) highest(ctx context.Context, auctionID string, a *store.Auction) (*store.BidSnapshot, error) {
	snap, err := c.cache.GetHighestBid(ctx, auctionID)
	if err != nil {
		c.cacheFailed(ctx, auctionID, err)
		snap = nil
	}
	if snap != nil {
		if a == nil || (a.HighestBidID != nil && *a.HighestBidID == snap.BidID) {
			return snap, nil
		}
		c.logger.WarnContext(ctx, "discarding stale cached highest bid",
			slog.String("auction_id", auctionID),
			slog.String("bid_id", snap.BidID),
		)
		c.forgetHighest(ctx, auctionID)
	}
	if a != nil && a.HighestBidID == nil {
		return nil, nil
	}

	b, err := c.bids.Highest(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("loading highest bid: %w", err)
	}
	if b == nil {
		return nil, nil
	}
	s := b.Snapshot()
	if err := c.cache.SetHighestBid(ctx, auctionID, s); err != nil {
		c.cacheFailed(ctx, auctionID, err)
		c.forgetHighest(ctx, auctionID)
	}
	return &s, nil
}

// forgetHighest drops the cached leading bid so the next read goes to the
// ledger.
func (c *Coordinator) forgetHighest(ctx context.Context, auctionID string) {
	if err := c.cache.DeleteHighestBid(ctx, auctionID); err != nil {
		c.cacheFailed(ctx, auctionID, err)
	}
}

// outpaced rejects a bid the ledger refused because a higher bid is
// already recorded, quoting the minimum against the ledger's leader.
func (c *Coordinator) outpaced(ctx context.Context, a *store.Auction) error {
	b, err := c.bids.Highest(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("loading highest bid: %w", err)
	}
	minBid := a.StartingPrice
	if b != nil {
		minBid = b.Amount.Add(a.BidIncrement)
	}
	return reject(CodeBidTooLow, "Minimum bid is $"+minBid.StringFixed(2))
}

// Join records userID as a participant and returns the room snapshot.
func (c *Coordinator) Join(ctx context.Context, auctionID, userID string) (*event.AuctionStateData, error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.Join",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	state, err := c.cache.GetState(ctx, auctionID)
	if err != nil {
		c.cacheFailed(ctx, auctionID, err)
		state = nil
	}
	var a *store.Auction
	if state == nil {
		a, err = c.auctions.GetByID(ctx, auctionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, reject(CodeAuctionNotFound, "Auction not found")
			}
			return nil, fmt.Errorf("loading auction: %w", err)
		}
		s := StateOf(a, c.clock.Now())
		state = &s
		if err := c.cache.SetState(ctx, auctionID, s); err != nil {
			c.cacheFailed(ctx, auctionID, err)
		}
	}

	highest, err := c.highest(ctx, auctionID, a)
	if err != nil {
		return nil, err
	}

	if userID != "" {
		if err := c.cache.AddParticipant(ctx, auctionID, userID); err != nil {
			c.cacheFailed(ctx, auctionID, err)
		}
	}

	return &event.AuctionStateData{
		AuctionID:         auctionID,
		Status:            state.Status,
		CurrentHighestBid: highest,
		EndsAt:            state.EndsAt,
		GoLiveAt:          state.GoLiveAt,
	}, nil
}

// Leave removes userID from the auction's participants. Failures are
// logged only.
func (c *Coordinator) Leave(ctx context.Context, auctionID, userID string) {
	if auctionID == "" || userID == "" {
		return
	}
	if err := c.cache.RemoveParticipant(ctx, auctionID, userID); err != nil {
		c.cacheFailed(ctx, auctionID, err)
	}
}

func (c *Coordinator) cacheFailed(ctx context.Context, auctionID string, err error) {
	c.logger.WarnContext(ctx, "cache operation failed",
		slog.String("auction_id", auctionID),
		slog.Any("error", err),
	)
	c.metrics.IncSideEffectFailure("cache")
}
