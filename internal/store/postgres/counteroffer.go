package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/auctionhub/internal/clock"
	"github.com/jensholdgaard/auctionhub/internal/store"
)

// CounterOfferRepo implements store.CounterOfferRepository with sqlx.
type CounterOfferRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewCounterOfferRepo returns a new CounterOfferRepo.
func NewCounterOfferRepo(db *sqlx.DB, clk clock.Clock) *CounterOfferRepo {
	return &CounterOfferRepo{db: db, clock: clk}
}

func (r *CounterOfferRepo) Create(ctx context.Context, c *store.CounterOffer) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = store.CounterPending
	}
	now := r.clock.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO counter_offers (id, auction_id, seller_id, bidder_id, amount, status, created_at, updated_at)
		 VALUES (:id, :auction_id, :seller_id, :bidder_id, :amount, :status, :created_at, :updated_at)`, c)
	if err != nil {
		return fmt.Errorf("creating counter offer: %w", err)
	}
	return nil
}

func (r *CounterOfferRepo) GetByID(ctx context.Context, id string) (*store.CounterOffer, error) {
	var c store.CounterOffer
	err := r.db.GetContext(ctx, &c, `SELECT * FROM counter_offers WHERE id = $1`, id)
	if notFound(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting counter offer: %w", err)
	}
	return &c, nil
}

func (r *CounterOfferRepo) Resolve(ctx context.Context, id string, status store.CounterStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE counter_offers SET status = $1, updated_at = $2 WHERE id = $3 AND status = 'pending'`,
		status, r.clock.Now().UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("resolving counter offer: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 1 {
		return true, nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}
