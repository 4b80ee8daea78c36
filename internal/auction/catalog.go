package auction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auctionhub/internal/cache"
	"github.com/jensholdgaard/auctionhub/internal/clock"
	"github.com/jensholdgaard/auctionhub/internal/store"
)

// Listing describes a new auction.
type Listing struct {
	ItemName        string
	Description     string
	StartingPrice   decimal.Decimal
	BidIncrement    decimal.Decimal
	GoLiveAt        time.Time
	DurationMinutes int
}

// goLiveSkew is how far in the past a new listing's go-live may be; such
// listings start now.
const goLiveSkew = time.Minute

func (l Listing) validate(now time.Time) error {
	switch {
	case strings.TrimSpace(l.ItemName) == "":
		return fmt.Errorf("%w: item name is required", ErrInvalidAuction)
	case !l.StartingPrice.IsPositive():
		return fmt.Errorf("%w: starting price must be positive", ErrInvalidAuction)
	case !l.BidIncrement.IsPositive():
		return fmt.Errorf("%w: bid increment must be positive", ErrInvalidAuction)
	case l.DurationMinutes <= 0:
		return fmt.Errorf("%w: duration must be positive", ErrInvalidAuction)
	case !l.GoLiveAt.IsZero() && l.GoLiveAt.Before(now.Add(-goLiveSkew)):
		return fmt.Errorf("%w: go-live time is in the past", ErrInvalidAuction)
	}
	return nil
}

// Catalog lists new auctions and hands them to the Scheduler.
type Catalog struct {
	auctions  store.AuctionRepository
	cache     cache.Cache
	scheduler *Scheduler
	clock     clock.Clock
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewCatalog returns a Catalog.
func NewCatalog(auctions store.AuctionRepository, c cache.Cache, sched *Scheduler, clk clock.Clock, logger *slog.Logger, tp trace.TracerProvider) *Catalog {
	return &Catalog{
		auctions:  auctions,
		cache:     c,
		scheduler: sched,
		clock:     clk,
		logger:    logger,
		tracer:    tp.Tracer("github.com/jensholdgaard/auctionhub/internal/auction"),
	}
}

// Create persists a scheduled auction for sellerID and arms its start.
// A zero GoLiveAt, or one within goLiveSkew in the past, means now.
func (c *Catalog) Create(ctx context.Context, sellerID string, l Listing) (*store.Auction, error) {
	ctx, span := c.tracer.Start(ctx, "Catalog.Create",
		trace.WithAttributes(
			attribute.String("seller_id", sellerID),
			attribute.String("item", l.ItemName),
		),
	)
	defer span.End()

	now := c.clock.Now()
	if err := l.validate(now); err != nil {
		return nil, err
	}
	if l.GoLiveAt.IsZero() || l.GoLiveAt.Before(now) {
		l.GoLiveAt = now
	}

	a := &store.Auction{
		SellerID:        sellerID,
		ItemName:        strings.TrimSpace(l.ItemName),
		Description:     l.Description,
		StartingPrice:   l.StartingPrice,
		BidIncrement:    l.BidIncrement,
		GoLiveAt:        l.GoLiveAt.UTC(),
		DurationMinutes: l.DurationMinutes,
		Status:          store.StatusScheduled,
	}
	if err := c.auctions.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("creating auction: %w", err)
	}

	if err := primeState(ctx, c.cache, a, now); err != nil {
		c.logger.WarnContext(ctx, "cache operation failed",
			slog.String("auction_id", a.ID),
			slog.Any("error", err),
		)
	}
	c.scheduler.Track(ctx, a)

	c.logger.InfoContext(ctx, "auction created",
		slog.String("auction_id", a.ID),
		slog.String("seller_id", sellerID),
		slog.Time("go_live_at", a.GoLiveAt),
	)

	// Track may already have started an auction whose go-live has passed.
	created, err := c.auctions.GetByID(ctx, a.ID)
	if err != nil {
		return a, nil
	}
	return created, nil
}
