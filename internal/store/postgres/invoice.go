package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/auctionhub/internal/clock"
	"github.com/jensholdgaard/auctionhub/internal/store"
)

// InvoiceRepo implements store.InvoiceRepository with sqlx.
type InvoiceRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewInvoiceRepo returns a new InvoiceRepo.
func NewInvoiceRepo(db *sqlx.DB, clk clock.Clock) *InvoiceRepo {
	return &InvoiceRepo{db: db, clock: clk}
}

func (r *InvoiceRepo) Create(ctx context.Context, inv *store.Invoice) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.CreatedAt = r.clock.Now().UTC()
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO invoices (id, auction_id, buyer_id, seller_id, total_amount, document_url, created_at)
		 VALUES (:id, :auction_id, :buyer_id, :seller_id, :total_amount, :document_url, :created_at)`, inv)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("creating invoice: %w", err)
	}
	return nil
}

func (r *InvoiceRepo) GetByAuction(ctx context.Context, auctionID string) (*store.Invoice, error) {
	var inv store.Invoice
	err := r.db.GetContext(ctx, &inv, `SELECT * FROM invoices WHERE auction_id = $1`, auctionID)
	if notFound(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting invoice: %w", err)
	}
	return &inv, nil
}
