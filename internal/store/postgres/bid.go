package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/auctionhub/internal/clock"
	"github.com/jensholdgaard/auctionhub/internal/store"
)

// BidRepo implements store.BidRepository with sqlx.
type BidRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewBidRepo returns a new BidRepo.
func NewBidRepo(db *sqlx.DB, clk clock.Clock) *BidRepo {
	return &BidRepo{db: db, clock: clk}
}

// Append inserts the bid and points the auction at it in one transaction.
// The pointer only moves to a strictly higher amount.
func (r *BidRepo) Append(ctx context.Context, b *store.Bid) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.CreatedAt = r.clock.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bids (id, auction_id, bidder_id, amount, created_at) VALUES ($1, $2, $3, $4, $5)`,
		b.ID, b.AuctionID, b.BidderID, b.Amount, b.CreatedAt,
	); err != nil {
		return fmt.Errorf("inserting bid: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE auctions a SET highest_bid_id = $1, updated_at = $2
		 WHERE a.id = $3
		   AND (a.highest_bid_id IS NULL
		        OR (SELECT h.amount FROM bids h WHERE h.id = a.highest_bid_id) < $4)`,
		b.ID, b.CreatedAt, b.AuctionID, b.Amount,
	)
	if err != nil {
		return fmt.Errorf("attaching highest bid: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM auctions WHERE id = $1)`, b.AuctionID); err != nil {
			return fmt.Errorf("checking auction: %w", err)
		}
		if !exists {
			return store.ErrNotFound
		}
		return store.ErrBidNotHigher
	}

	return tx.Commit()
}

func (r *BidRepo) GetByID(ctx context.Context, id string) (*store.Bid, error) {
	var b store.Bid
	err := r.db.GetContext(ctx, &b, `SELECT * FROM bids WHERE id = $1`, id)
	if notFound(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting bid: %w", err)
	}
	return &b, nil
}

func (r *BidRepo) ListByAuction(ctx context.Context, auctionID string, limit int) ([]store.Bid, error) {
	if limit <= 0 {
		limit = 100
	}
	var bids []store.Bid
	err := r.db.SelectContext(ctx, &bids,
		`SELECT * FROM bids WHERE auction_id = $1 ORDER BY amount DESC, created_at DESC LIMIT $2`,
		auctionID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing bids: %w", err)
	}
	return bids, nil
}

func (r *BidRepo) Highest(ctx context.Context, auctionID string) (*store.Bid, error) {
	var b store.Bid
	err := r.db.GetContext(ctx, &b,
		`SELECT b.* FROM auctions a JOIN bids b ON b.id = a.highest_bid_id WHERE a.id = $1`, auctionID)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting highest bid: %w", err)
	}
	return &b, nil
}
