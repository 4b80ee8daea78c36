// Package negotiation closes ended auctions: the seller accepts, rejects
// or counters the highest bid, and the bidder answers a counter-offer.
// There is a single counter round.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auctionhub/internal/auction"
	"github.com/jensholdgaard/auctionhub/internal/cache"
	"github.com/jensholdgaard/auctionhub/internal/clock"
	"github.com/jensholdgaard/auctionhub/internal/event"
	"github.com/jensholdgaard/auctionhub/internal/invoice"
	"github.com/jensholdgaard/auctionhub/internal/metrics"
	"github.com/jensholdgaard/auctionhub/internal/notify"
	"github.com/jensholdgaard/auctionhub/internal/store"
)

var (
	ErrNotSeller     = errors.New("not the auction's seller")
	ErrNotBidder     = errors.New("not the offer's bidder")
	ErrNotEnded      = errors.New("auction is not awaiting a decision")
	ErrNoBids        = errors.New("no bids found")
	ErrOfferClosed   = errors.New("counter offer is no longer pending")
	ErrInvalidAmount = errors.New("counter amount must be positive")
)

// Negotiator runs the post-auction decisions. Every status change is a
// ledger compare-and-set, so a decision's side effects run at most once.
type Negotiator struct {
	auctions store.AuctionRepository
	bids     store.BidRepository
	users    store.UserRepository
	offers   store.CounterOfferRepository
	invoices store.InvoiceRepository

	cache     cache.Cache
	documents invoice.Generator
	recorder  *notify.Recorder
	pub       auction.Publisher
	metrics   *metrics.Metrics

	clock  clock.Clock
	logger *slog.Logger
	tracer trace.Tracer
}

// New returns a Negotiator.
func New(repos *store.Repositories, c cache.Cache, docs invoice.Generator, rec *notify.Recorder, pub auction.Publisher, m *metrics.Metrics, clk clock.Clock, logger *slog.Logger, tp trace.TracerProvider) *Negotiator {
	return &Negotiator{
		auctions:  repos.Auctions,
		bids:      repos.Bids,
		users:     repos.Users,
		offers:    repos.CounterOffers,
		invoices:  repos.Invoices,
		cache:     c,
		documents: docs,
		recorder:  rec,
		pub:       pub,
		metrics:   m,
		clock:     clk,
		logger:    logger,
		tracer:    tp.Tracer("github.com/jensholdgaard/auctionhub/internal/negotiation"),
	}
}

// Accept sells the item to the highest bidder at the bid amount.
func (n *Negotiator) Accept(ctx context.Context, sellerID, auctionID string) (*store.Invoice, error) {
	ctx, span := n.tracer.Start(ctx, "Negotiator.Accept",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	a, bid, err := n.decidable(ctx, sellerID, auctionID)
	if err != nil {
		return nil, err
	}
	if bid == nil {
		return nil, ErrNoBids
	}
	buyer, seller, err := n.parties(ctx, bid.BidderID, a.SellerID)
	if err != nil {
		return nil, err
	}

	if err := n.transition(ctx, a, store.StatusAccepted, store.StatusEnded); err != nil {
		return nil, err
	}

	inv := n.close(ctx, a, buyer, seller, bid.Amount)
	n.recorder.Record(ctx, buyer.ID, store.NotifyBidAccepted,
		fmt.Sprintf("Your bid has been accepted! You won %q for $%s.", a.ItemName, bid.Amount.StringFixed(2)),
		map[string]any{"auctionId": a.ID, "amount": bid.Amount},
	)
	n.pub.BroadcastRoom(a.ID, event.New(event.SellerDecision, event.SellerDecisionData{
		AuctionID: a.ID,
		Decision:  event.DecisionAccepted,
	}))

	n.logger.InfoContext(ctx, "bid accepted",
		slog.String("auction_id", a.ID),
		slog.String("buyer_id", buyer.ID),
	)
	return inv, nil
}

// Reject closes the auction without a sale. It is allowed with no bids.
func (n *Negotiator) Reject(ctx context.Context, sellerID, auctionID string) error {
	ctx, span := n.tracer.Start(ctx, "Negotiator.Reject",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	a, bid, err := n.decidable(ctx, sellerID, auctionID)
	if err != nil {
		return err
	}
	if err := n.transition(ctx, a, store.StatusRejected, store.StatusEnded); err != nil {
		return err
	}

	if bid != nil {
		n.recorder.Record(ctx, bid.BidderID, store.NotifyBidRejected,
			fmt.Sprintf("Your bid on %q has been rejected by the seller.", a.ItemName),
			map[string]any{"auctionId": a.ID, "amount": bid.Amount},
		)
		if bidder, err := n.users.GetByID(ctx, bid.BidderID); err == nil {
			n.recorder.Email(ctx, notify.BidRejected(bidder.Email, a.ItemName, bid.Amount))
		}
	}
	n.pub.BroadcastRoom(a.ID, event.New(event.SellerDecision, event.SellerDecisionData{
		AuctionID: a.ID,
		Decision:  event.DecisionRejected,
	}))

	n.logger.InfoContext(ctx, "bid rejected", slog.String("auction_id", a.ID))
	return nil
}

// Counter proposes amount to the highest bidder. Only that bidder is told.
func (n *Negotiator) Counter(ctx context.Context, sellerID, auctionID string, amount decimal.Decimal) (*store.CounterOffer, error) {
	ctx, span := n.tracer.Start(ctx, "Negotiator.Counter",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("amount", amount.String()),
		),
	)
	defer span.End()

	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	a, bid, err := n.decidable(ctx, sellerID, auctionID)
	if err != nil {
		return nil, err
	}
	if bid == nil {
		return nil, ErrNoBids
	}
	if err := n.transition(ctx, a, store.StatusCounterPending, store.StatusEnded); err != nil {
		return nil, err
	}

	offer := &store.CounterOffer{
		AuctionID: a.ID,
		SellerID:  a.SellerID,
		BidderID:  bid.BidderID,
		Amount:    amount,
		Status:    store.CounterPending,
	}
	if err := n.offers.Create(ctx, offer); err != nil {
		n.rollback(ctx, a, store.StatusCounterPending, store.StatusEnded)
		return nil, fmt.Errorf("creating counter offer: %w", err)
	}

	if bidder, err := n.users.GetByID(ctx, bid.BidderID); err == nil {
		n.recorder.Email(ctx, notify.CounterOffer(bidder.Email, a.ItemName, bid.Amount, amount))
	}
	n.recorder.Record(ctx, bid.BidderID, store.NotifyCounterOffer,
		fmt.Sprintf("The seller has made a counter offer of $%s for %q.", amount.StringFixed(2), a.ItemName),
		map[string]any{"auctionId": a.ID, "counterOfferId": offer.ID, "amount": amount},
	)
	n.pub.SendToUser(bid.BidderID, event.New(event.CounterOffer, event.CounterOfferData{
		AuctionID:      a.ID,
		CounterOfferID: offer.ID,
		Amount:         amount,
	}))

	n.logger.InfoContext(ctx, "counter offer sent",
		slog.String("auction_id", a.ID),
		slog.String("counter_offer_id", offer.ID),
	)
	return offer, nil
}

// AcceptCounter buys the item at the counter amount.
func (n *Negotiator) AcceptCounter(ctx context.Context, bidderID, offerID string) (*store.Invoice, error) {
	ctx, span := n.tracer.Start(ctx, "Negotiator.AcceptCounter",
		trace.WithAttributes(attribute.String("counter_offer_id", offerID)),
	)
	defer span.End()

	offer, a, err := n.answerable(ctx, bidderID, offerID)
	if err != nil {
		return nil, err
	}
	buyer, seller, err := n.parties(ctx, offer.BidderID, offer.SellerID)
	if err != nil {
		return nil, err
	}
	if err := n.settle(ctx, a, offer, store.StatusCounterAccepted, store.CounterAccepted); err != nil {
		return nil, err
	}

	inv := n.close(ctx, a, buyer, seller, offer.Amount)
	n.recorder.Record(ctx, seller.ID, store.NotifyCounterOffer,
		fmt.Sprintf("Your counter offer of $%s for %q was accepted.", offer.Amount.StringFixed(2), a.ItemName),
		map[string]any{"auctionId": a.ID, "counterOfferId": offer.ID, "result": event.DecisionAccepted},
	)
	n.pub.BroadcastRoom(a.ID, event.New(event.CounterResult, event.CounterResultData{
		AuctionID: a.ID,
		Result:    event.DecisionAccepted,
	}))

	n.logger.InfoContext(ctx, "counter offer accepted",
		slog.String("auction_id", a.ID),
		slog.String("counter_offer_id", offer.ID),
	)
	return inv, nil
}

// RejectCounter ends the negotiation without a sale.
func (n *Negotiator) RejectCounter(ctx context.Context, bidderID, offerID string) error {
	ctx, span := n.tracer.Start(ctx, "Negotiator.RejectCounter",
		trace.WithAttributes(attribute.String("counter_offer_id", offerID)),
	)
	defer span.End()

	offer, a, err := n.answerable(ctx, bidderID, offerID)
	if err != nil {
		return err
	}
	if err := n.settle(ctx, a, offer, store.StatusCounterRejected, store.CounterRejected); err != nil {
		return err
	}

	n.recorder.Record(ctx, offer.SellerID, store.NotifyCounterOffer,
		fmt.Sprintf("Your counter offer of $%s for %q was declined.", offer.Amount.StringFixed(2), a.ItemName),
		map[string]any{"auctionId": a.ID, "counterOfferId": offer.ID, "result": event.DecisionRejected},
	)
	n.pub.BroadcastRoom(a.ID, event.New(event.CounterResult, event.CounterResultData{
		AuctionID: a.ID,
		Result:    event.DecisionRejected,
	}))

	n.logger.InfoContext(ctx, "counter offer rejected",
		slog.String("auction_id", a.ID),
		slog.String("counter_offer_id", offer.ID),
	)
	return nil
}

// decidable loads an auction the seller may decide on, with its highest
// bid if any.
func (n *Negotiator) decidable(ctx context.Context, sellerID, auctionID string) (*store.Auction, *store.Bid, error) {
	a, err := n.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading auction: %w", err)
	}
	if a.SellerID != sellerID {
		return nil, nil, ErrNotSeller
	}
	if a.Status != store.StatusEnded {
		return nil, nil, ErrNotEnded
	}
	bid, err := n.bids.Highest(ctx, auctionID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading highest bid: %w", err)
	}
	return a, bid, nil
}

// answerable loads a pending offer addressed to bidderID and its auction.
func (n *Negotiator) answerable(ctx context.Context, bidderID, offerID string) (*store.CounterOffer, *store.Auction, error) {
	offer, err := n.offers.GetByID(ctx, offerID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading counter offer: %w", err)
	}
	if offer.BidderID != bidderID {
		return nil, nil, ErrNotBidder
	}
	if offer.Status != store.CounterPending {
		return nil, nil, ErrOfferClosed
	}
	a, err := n.auctions.GetByID(ctx, offer.AuctionID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading auction: %w", err)
	}
	if a.Status != store.StatusCounterPending {
		return nil, nil, ErrNotEnded
	}
	return offer, a, nil
}

func (n *Negotiator) parties(ctx context.Context, buyerID, sellerID string) (buyer, seller *store.User, err error) {
	buyer, err = n.users.GetByID(ctx, buyerID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading buyer: %w", err)
	}
	seller, err = n.users.GetByID(ctx, sellerID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading seller: %w", err)
	}
	return buyer, seller, nil
}

func (n *Negotiator) transition(ctx context.Context, a *store.Auction, to store.AuctionStatus, from store.AuctionStatus) error {
	ok, err := n.auctions.Transition(ctx, a.ID, to, from)
	if err != nil {
		return fmt.Errorf("updating auction status: %w", err)
	}
	if !ok {
		return ErrNotEnded
	}
	n.metrics.IncTransition(string(to))

	a.Status = to
	n.cacheState(ctx, a)
	return nil
}

// rollback moves a from status from back to status to after a later step
// of a decision failed.
func (n *Negotiator) rollback(ctx context.Context, a *store.Auction, from, to store.AuctionStatus) {
	ok, err := n.auctions.Transition(ctx, a.ID, to, from)
	if err != nil || !ok {
		n.logger.ErrorContext(ctx, "failed to roll back auction status",
			slog.String("auction_id", a.ID),
			slog.String("status", string(to)),
			slog.Any("error", err),
		)
		return
	}
	a.Status = to
	n.cacheState(ctx, a)
}

// settle ends the negotiation: the auction leaves counter_pending first,
// then the offer is resolved. If the offer was answered in between the
// auction goes back to counter_pending.
func (n *Negotiator) settle(ctx context.Context, a *store.Auction, offer *store.CounterOffer, to store.AuctionStatus, answer store.CounterStatus) error {
	if err := n.transition(ctx, a, to, store.StatusCounterPending); err != nil {
		return err
	}
	if err := n.resolve(ctx, offer, answer); err != nil {
		n.rollback(ctx, a, to, store.StatusCounterPending)
		return err
	}
	return nil
}

func (n *Negotiator) cacheState(ctx context.Context, a *store.Auction) {
	if err := n.cache.SetState(ctx, a.ID, auction.StateOf(a, n.clock.Now())); err != nil {
		n.logger.WarnContext(ctx, "cache operation failed",
			slog.String("auction_id", a.ID),
			slog.Any("error", err),
		)
		n.metrics.IncSideEffectFailure("cache")
	}
}

func (n *Negotiator) resolve(ctx context.Context, offer *store.CounterOffer, status store.CounterStatus) error {
	ok, err := n.offers.Resolve(ctx, offer.ID, status)
	if err != nil {
		return fmt.Errorf("resolving counter offer: %w", err)
	}
	if !ok {
		return ErrOfferClosed
	}
	offer.Status = status
	return nil
}

// close records the sale: document, invoice row and confirmation emails.
// Failures are logged and never undo the decision.
func (n *Negotiator) close(ctx context.Context, a *store.Auction, buyer, seller *store.User, amount decimal.Decimal) *store.Invoice {
	url, err := n.documents.Generate(ctx, invoice.Input{
		AuctionID:   a.ID,
		ItemName:    a.ItemName,
		Description: a.Description,
		Buyer:       invoice.Party{Name: buyer.Username, Email: buyer.Email},
		Seller:      invoice.Party{Name: seller.Username, Email: seller.Email},
		Amount:      amount,
	})
	if err != nil {
		n.logger.WarnContext(ctx, "invoice document failed",
			slog.String("auction_id", a.ID),
			slog.Any("error", err),
		)
		n.metrics.IncSideEffectFailure("invoice")
	}

	inv := &store.Invoice{
		AuctionID:   a.ID,
		BuyerID:     buyer.ID,
		SellerID:    seller.ID,
		TotalAmount: amount,
		DocumentURL: url,
	}
	if err := n.invoices.Create(ctx, inv); err != nil {
		n.logger.ErrorContext(ctx, "invoice not recorded",
			slog.String("auction_id", a.ID),
			slog.Any("error", err),
		)
		n.metrics.IncSideEffectFailure("invoice")
		inv = nil
	}

	n.recorder.Email(ctx, notify.TransactionConfirmed(buyer.Email, a.ItemName, amount, url))
	n.recorder.Email(ctx, notify.TransactionConfirmed(seller.Email, a.ItemName, amount, url))
	return inv
}
