package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctionhub/internal/store"
)

func TestAuctionRepo_CreateAndGetByID(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	seller, _, a := seed(t, repos)

	if a.Status != store.StatusScheduled {
		t.Errorf("Status = %q, want %q", a.Status, store.StatusScheduled)
	}

	got, err := repos.Auctions.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.SellerID != seller.ID {
		t.Errorf("SellerID = %q, want %q", got.SellerID, seller.ID)
	}
	if !got.StartingPrice.Equal(decimal.NewFromInt(50)) {
		t.Errorf("StartingPrice = %s, want 50", got.StartingPrice)
	}
	if !got.EndsAt().Equal(testStart.Add(70 * time.Second)) {
		t.Errorf("EndsAt = %v, want %v", got.EndsAt(), testStart.Add(70*time.Second))
	}

	if _, err := repos.Auctions.GetByID(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrNotFound", err)
	}
}

func TestAuctionRepo_Transition(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	_, _, a := seed(t, repos)

	ok, err := repos.Auctions.Transition(ctx, a.ID, store.StatusLive, store.StatusScheduled)
	if err != nil || !ok {
		t.Fatalf("Transition scheduled->live = (%v, %v), want (true, nil)", ok, err)
	}

	ok, err = repos.Auctions.Transition(ctx, a.ID, store.StatusLive, store.StatusScheduled)
	if err != nil || ok {
		t.Errorf("repeated Transition = (%v, %v), want (false, nil)", ok, err)
	}

	live, err := repos.Auctions.List(ctx, store.StatusScheduled, store.StatusLive)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(live) != 1 || live[0].Status != store.StatusLive {
		t.Errorf("List(scheduled, live) = %+v, want the one live auction", live)
	}
}

func TestAuctionRepo_ForceLiveAndReset(t *testing.T) {
	repos := newRepos(t)
	ctx := context.Background()
	_, bidder, a := seed(t, repos)

	now := testStart.Add(time.Hour)
	if err := repos.Auctions.ForceLive(ctx, a.ID, now); err != nil {
		t.Fatalf("ForceLive: %v", err)
	}
	got, _ := repos.Auctions.GetByID(ctx, a.ID)
	if got.Status != store.StatusLive || !got.GoLiveAt.Equal(now) {
		t.Errorf("after ForceLive status=%q goLiveAt=%v, want live at %v", got.Status, got.GoLiveAt, now)
	}

	if err := repos.Bids.Append(ctx, &store.Bid{AuctionID: a.ID, BidderID: bidder.ID, Amount: a.StartingPrice}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := repos.Auctions.Reset(ctx, a.ID); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	got, _ = repos.Auctions.GetByID(ctx, a.ID)
	if got.Status != store.StatusScheduled || got.HighestBidID != nil {
		t.Errorf("after Reset status=%q highest=%v, want scheduled with no highest bid", got.Status, got.HighestBidID)
	}
}
