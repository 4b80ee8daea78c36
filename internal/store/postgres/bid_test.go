package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctionhub/internal/store"
)

func TestBidRepo_AppendAttachesHighest(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	_, bidder, a := seed(t, repos)

	highest, err := repos.Bids.Highest(ctx, a.ID)
	if err != nil || highest != nil {
		t.Fatalf("Highest before bids = (%v, %v), want (nil, nil)", highest, err)
	}

	for _, amount := range []string{"50", "55.50"} {
		b := &store.Bid{AuctionID: a.ID, BidderID: bidder.ID, Amount: decimal.RequireFromString(amount)}
		if err := repos.Bids.Append(ctx, b); err != nil {
			t.Fatalf("Append(%s): %v", amount, err)
		}
	}

	lower := &store.Bid{AuctionID: a.ID, BidderID: bidder.ID, Amount: decimal.RequireFromString("52")}
	if err := repos.Bids.Append(ctx, lower); !errors.Is(err, store.ErrBidNotHigher) {
		t.Errorf("Append(52) error = %v, want ErrBidNotHigher", err)
	}

	highest, err = repos.Bids.Highest(ctx, a.ID)
	if err != nil {
		t.Fatalf("Highest: %v", err)
	}
	if !highest.Amount.Equal(decimal.RequireFromString("55.50")) {
		t.Errorf("Highest amount = %s, want 55.50", highest.Amount)
	}

	bids, err := repos.Bids.ListByAuction(ctx, a.ID, 10)
	if err != nil {
		t.Fatalf("ListByAuction: %v", err)
	}
	if len(bids) != 2 {
		t.Errorf("ListByAuction returned %d, want 2", len(bids))
	}
}

func TestNegotiationRecords(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	seller, bidder, a := seed(t, repos)

	offer := &store.CounterOffer{AuctionID: a.ID, SellerID: seller.ID, BidderID: bidder.ID, Amount: decimal.NewFromInt(300)}
	if err := repos.CounterOffers.Create(ctx, offer); err != nil {
		t.Fatalf("Create counter offer: %v", err)
	}
	ok, err := repos.CounterOffers.Resolve(ctx, offer.ID, store.CounterAccepted)
	if err != nil || !ok {
		t.Fatalf("Resolve = (%v, %v), want (true, nil)", ok, err)
	}
	if ok, _ := repos.CounterOffers.Resolve(ctx, offer.ID, store.CounterRejected); ok {
		t.Error("second Resolve applied, want no-op")
	}

	inv := &store.Invoice{AuctionID: a.ID, BuyerID: bidder.ID, SellerID: seller.ID, TotalAmount: decimal.NewFromInt(300), DocumentURL: "/api/invoices/x.pdf"}
	if err := repos.Invoices.Create(ctx, inv); err != nil {
		t.Fatalf("Create invoice: %v", err)
	}
	got, err := repos.Invoices.GetByAuction(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetByAuction: %v", err)
	}
	if !got.TotalAmount.Equal(decimal.NewFromInt(300)) {
		t.Errorf("TotalAmount = %s, want 300", got.TotalAmount)
	}

	n := &store.Notification{UserID: bidder.ID, Type: store.NotifyCounterOffer, Message: "counter", Meta: []byte(`{"amount":"300"}`)}
	if err := repos.Notifications.Create(ctx, n); err != nil {
		t.Fatalf("Create notification: %v", err)
	}
	if err := repos.Notifications.MarkRead(ctx, n.ID, bidder.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	list, err := repos.Notifications.ListByUser(ctx, bidder.ID)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(list) != 1 || list[0].ReadAt == nil {
		t.Errorf("ListByUser = %+v, want one read notification", list)
	}
}
