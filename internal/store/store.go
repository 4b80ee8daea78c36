package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by every driver when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a unique constraint would be violated.
var ErrConflict = errors.New("conflict")

// ErrBidNotHigher is returned by BidRepository.Append when the bid does not
// exceed the auction's current highest bid.
var ErrBidNotHigher = errors.New("bid does not exceed the highest bid")

// Role is a user's platform role.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

// User is a registered platform account.
type User struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	Role         Role      `db:"role" json:"role"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// AuctionStatus is a position in the auction lifecycle.
type AuctionStatus string

const (
	StatusScheduled       AuctionStatus = "scheduled"
	StatusLive            AuctionStatus = "live"
	StatusEnded           AuctionStatus = "ended"
	StatusAccepted        AuctionStatus = "accepted"
	StatusRejected        AuctionStatus = "rejected"
	StatusCounterPending  AuctionStatus = "counter_pending"
	StatusCounterAccepted AuctionStatus = "counter_accepted"
	StatusCounterRejected AuctionStatus = "counter_rejected"
)

// Auction is a listed item and its lifecycle state.
type Auction struct {
	ID              string          `db:"id" json:"id"`
	SellerID        string          `db:"seller_id" json:"sellerId"`
	ItemName        string          `db:"item_name" json:"itemName"`
	Description     string          `db:"description" json:"description"`
	StartingPrice   decimal.Decimal `db:"starting_price" json:"startingPrice"`
	BidIncrement    decimal.Decimal `db:"bid_increment" json:"bidIncrement"`
	GoLiveAt        time.Time       `db:"go_live_at" json:"goLiveAt"`
	DurationMinutes int             `db:"duration_minutes" json:"durationMinutes"`
	Status          AuctionStatus   `db:"status" json:"status"`
	HighestBidID    *string         `db:"highest_bid_id" json:"highestBidId"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updatedAt"`
}

// Duration returns the auction's running time.
func (a *Auction) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

// EndsAt returns the effective end instant, go-live plus duration.
func (a *Auction) EndsAt() time.Time {
	return a.GoLiveAt.Add(a.Duration())
}

// Bid is an accepted bid. Bids are append-only.
type Bid struct {
	ID        string          `db:"id" json:"id"`
	AuctionID string          `db:"auction_id" json:"auctionId"`
	BidderID  string          `db:"bidder_id" json:"bidderId"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

// NotificationType classifies a notification.
type NotificationType string

const (
	NotifyNewBid       NotificationType = "new_bid"
	NotifyOutbid       NotificationType = "outbid"
	NotifyAuctionWon   NotificationType = "auction_won"
	NotifyAuctionEnded NotificationType = "auction_ended"
	NotifyBidAccepted  NotificationType = "bid_accepted"
	NotifyBidRejected  NotificationType = "bid_rejected"
	NotifyCounterOffer NotificationType = "counter_offer"
)

// Notification is a persisted message for a user.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"userId"`
	Type      NotificationType `db:"type" json:"type"`
	Message   string           `db:"message" json:"message"`
	Meta      json.RawMessage  `db:"meta" json:"meta"`
	ReadAt    *time.Time       `db:"read_at" json:"readAt"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
}

// CounterStatus is the state of a counter-offer.
type CounterStatus string

const (
	CounterPending  CounterStatus = "pending"
	CounterAccepted CounterStatus = "accepted"
	CounterRejected CounterStatus = "rejected"
)

// CounterOffer is a seller's single-round price proposal to the highest bidder.
type CounterOffer struct {
	ID        string          `db:"id" json:"id"`
	AuctionID string          `db:"auction_id" json:"auctionId"`
	SellerID  string          `db:"seller_id" json:"sellerId"`
	BidderID  string          `db:"bidder_id" json:"bidderId"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Status    CounterStatus   `db:"status" json:"status"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time       `db:"updated_at" json:"updatedAt"`
}

// Invoice records a closed sale and its generated document.
type Invoice struct {
	ID          string          `db:"id" json:"id"`
	AuctionID   string          `db:"auction_id" json:"auctionId"`
	BuyerID     string          `db:"buyer_id" json:"buyerId"`
	SellerID    string          `db:"seller_id" json:"sellerId"`
	TotalAmount decimal.Decimal `db:"total_amount" json:"totalAmount"`
	DocumentURL string          `db:"document_url" json:"documentUrl"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
}

// UserRepository defines user persistence operations.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]User, error)
}

// AuctionRepository defines auction persistence operations.
type AuctionRepository interface {
	Create(ctx context.Context, a *Auction) error
	GetByID(ctx context.Context, id string) (*Auction, error)
	// List returns auctions in any of the given statuses, or all auctions
	// when none are given, ordered by go-live instant.
	List(ctx context.Context, statuses ...AuctionStatus) ([]Auction, error)
	ListBySeller(ctx context.Context, sellerID string) ([]Auction, error)
	// Transition sets the status to `to` only if the current status is one
	// of `from`. It reports whether the update was applied.
	Transition(ctx context.Context, id string, to AuctionStatus, from ...AuctionStatus) (bool, error)
	// ForceLive sets the status to live and moves the go-live instant.
	ForceLive(ctx context.Context, id string, goLiveAt time.Time) error
	// Reset returns the auction to scheduled and detaches its highest bid.
	Reset(ctx context.Context, id string) error
}

// BidRepository defines bid persistence operations.
type BidRepository interface {
	// Append stores b and makes it the auction's highest-bid reference. It
	// returns ErrBidNotHigher unless b exceeds the current highest amount.
	Append(ctx context.Context, b *Bid) error
	GetByID(ctx context.Context, id string) (*Bid, error)
	ListByAuction(ctx context.Context, auctionID string, limit int) ([]Bid, error)
	// Highest returns the bid referenced as the auction's highest bid,
	// or nil when the auction has none.
	Highest(ctx context.Context, auctionID string) (*Bid, error)
}

// NotificationRepository defines notification persistence operations.
type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, userID string) ([]Notification, error)
	MarkRead(ctx context.Context, id, userID string) error
}

// CounterOfferRepository defines counter-offer persistence operations.
type CounterOfferRepository interface {
	Create(ctx context.Context, c *CounterOffer) error
	GetByID(ctx context.Context, id string) (*CounterOffer, error)
	// Resolve moves a pending offer to status. It reports whether the
	// offer was still pending.
	Resolve(ctx context.Context, id string, status CounterStatus) (bool, error)
}

// InvoiceRepository defines invoice persistence operations.
type InvoiceRepository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByAuction(ctx context.Context, auctionID string) (*Invoice, error)
}

// BidSnapshot is the compact view of the currently leading bid.
type BidSnapshot struct {
	Amount   decimal.Decimal `json:"amount"`
	BidderID string          `json:"bidderId"`
	BidID    string          `json:"bidId"`
}

// Snapshot returns the leading-bid view of b.
func (b *Bid) Snapshot() BidSnapshot {
	return BidSnapshot{Amount: b.Amount, BidderID: b.BidderID, BidID: b.ID}
}
