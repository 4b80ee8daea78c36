package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jensholdgaard/auctionhub/internal/clock"
	"github.com/jensholdgaard/auctionhub/internal/store"
	"github.com/jensholdgaard/auctionhub/internal/store/postgres"
)

// newTestDB starts a Postgres container, applies the migrations, and returns
// a connected *sqlx.DB. The container is automatically terminated when the
// test ends.
func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("auctionhub_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := postgres.Migrate(ctx, db); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}

	return db
}

var testStart = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// seed creates a seller, a bidder and a scheduled auction.
func seed(t *testing.T, repos *store.Repositories) (seller, bidder *store.User, a *store.Auction) {
	t.Helper()
	ctx := context.Background()

	seller = &store.User{Username: "seller", Email: "seller@example.com", Role: store.RoleSeller, PasswordHash: "x"}
	bidder = &store.User{Username: "bidder", Email: "bidder@example.com", Role: store.RoleBuyer, PasswordHash: "x"}
	for _, u := range []*store.User{seller, bidder} {
		if err := repos.Users.Create(ctx, u); err != nil {
			t.Fatalf("Create user %s: %v", u.Username, err)
		}
	}

	a = &store.Auction{
		SellerID:        seller.ID,
		ItemName:        "Vintage Camera",
		Description:     "Leica M3",
		StartingPrice:   decimal.NewFromInt(50),
		BidIncrement:    decimal.NewFromInt(5),
		GoLiveAt:        testStart.Add(10 * time.Second),
		DurationMinutes: 1,
	}
	if err := repos.Auctions.Create(ctx, a); err != nil {
		t.Fatalf("Create auction: %v", err)
	}
	return seller, bidder, a
}

func newRepos(t *testing.T) *store.Repositories {
	t.Helper()
	return postgres.NewRepositories(newTestDB(t), clock.NewMock(testStart))
}
