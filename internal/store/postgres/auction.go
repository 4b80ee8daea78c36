package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jensholdgaard/auctionhub/internal/clock"
	"github.com/jensholdgaard/auctionhub/internal/store"
)

// AuctionRepo implements store.AuctionRepository with sqlx.
type AuctionRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewAuctionRepo returns a new AuctionRepo.
func NewAuctionRepo(db *sqlx.DB, clk clock.Clock) *AuctionRepo {
	return &AuctionRepo{db: db, clock: clk}
}

func (r *AuctionRepo) Create(ctx context.Context, a *store.Auction) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = store.StatusScheduled
	}
	now := r.clock.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	a.GoLiveAt = a.GoLiveAt.UTC()

	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO auctions (id, seller_id, item_name, description, starting_price, bid_increment,
		                       go_live_at, duration_minutes, status, created_at, updated_at)
		 VALUES (:id, :seller_id, :item_name, :description, :starting_price, :bid_increment,
		         :go_live_at, :duration_minutes, :status, :created_at, :updated_at)`, a)
	if err != nil {
		return fmt.Errorf("creating auction: %w", err)
	}
	return nil
}

func (r *AuctionRepo) GetByID(ctx context.Context, id string) (*store.Auction, error) {
	var a store.Auction
	err := r.db.GetContext(ctx, &a, `SELECT * FROM auctions WHERE id = $1`, id)
	if notFound(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting auction: %w", err)
	}
	return &a, nil
}

func (r *AuctionRepo) List(ctx context.Context, statuses ...store.AuctionStatus) ([]store.Auction, error) {
	var auctions []store.Auction
	var err error
	if len(statuses) == 0 {
		err = r.db.SelectContext(ctx, &auctions, `SELECT * FROM auctions ORDER BY go_live_at ASC`)
	} else {
		err = r.db.SelectContext(ctx, &auctions,
			`SELECT * FROM auctions WHERE status = ANY($1) ORDER BY go_live_at ASC`,
			pq.Array(statusStrings(statuses)))
	}
	if err != nil {
		return nil, fmt.Errorf("listing auctions: %w", err)
	}
	return auctions, nil
}

func (r *AuctionRepo) ListBySeller(ctx context.Context, sellerID string) ([]store.Auction, error) {
	var auctions []store.Auction
	err := r.db.SelectContext(ctx, &auctions,
		`SELECT * FROM auctions WHERE seller_id = $1 ORDER BY go_live_at ASC`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("listing seller auctions: %w", err)
	}
	return auctions, nil
}

func (r *AuctionRepo) Transition(ctx context.Context, id string, to store.AuctionStatus, from ...store.AuctionStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE auctions SET status = $1, updated_at = $2 WHERE id = $3 AND status = ANY($4)`,
		to, r.clock.Now().UTC(), id, pq.Array(statusStrings(from)),
	)
	if err != nil {
		return false, fmt.Errorf("transitioning auction to %s: %w", to, err)
	}
	n, _ := result.RowsAffected()
	if n == 1 {
		return true, nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *AuctionRepo) ForceLive(ctx context.Context, id string, goLiveAt time.Time) error {
	return r.exec(ctx, "forcing auction live",
		`UPDATE auctions SET status = 'live', go_live_at = $1, updated_at = $2 WHERE id = $3`,
		goLiveAt.UTC(), r.clock.Now().UTC(), id)
}

func (r *AuctionRepo) Reset(ctx context.Context, id string) error {
	return r.exec(ctx, "resetting auction",
		`UPDATE auctions SET status = 'scheduled', highest_bid_id = NULL, updated_at = $1 WHERE id = $2`,
		r.clock.Now().UTC(), id)
}

func (r *AuctionRepo) exec(ctx context.Context, what, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func statusStrings(statuses []store.AuctionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
