// Package event defines the JSON frames exchanged over the realtime channel.
// Every frame is an Envelope {"event": name, "data": payload}.
package event

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctionhub/internal/store"
)

// Type identifies a frame kind.
type Type string

// Inbound frames.
const (
	Identify    Type = "identify"
	JoinAuction Type = "join_auction"
	PlaceBid    Type = "place_bid"
)

// Outbound frames.
const (
	AuctionState   Type = "auction_state"
	BidPlaced      Type = "bid_placed"
	Outbid         Type = "outbid"
	AuctionStarted Type = "auction_started"
	AuctionEnded   Type = "auction_ended"
	AuctionReset   Type = "auction_reset"
	SellerDecision Type = "seller_decision"
	CounterOffer   Type = "counter_offer"
	CounterResult  Type = "counter_result"
	Error          Type = "error"
)

// Envelope is a single frame on the wire.
type Envelope struct {
	Event Type `json:"event"`
	Data  any  `json:"data"`
}

// New returns an outbound envelope.
func New(t Type, data any) Envelope {
	return Envelope{Event: t, Data: data}
}

// Inbound is a frame received from a client with its payload undecoded.
type Inbound struct {
	Event Type            `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// IdentifyData binds a connection to a user. Token is optional unless the
// server requires proven identities.
type IdentifyData struct {
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
}

// JoinAuctionData binds a connection to an auction room.
type JoinAuctionData struct {
	AuctionID string `json:"auctionId"`
}

// PlaceBidData submits a bid.
type PlaceBidData struct {
	AuctionID string          `json:"auctionId"`
	Amount    decimal.Decimal `json:"amount"`
	UserID    string          `json:"userId"`
}

// AuctionStateData is the snapshot sent in reply to join_auction.
type AuctionStateData struct {
	AuctionID         string              `json:"auctionId"`
	Status            store.AuctionStatus `json:"status"`
	CurrentHighestBid *store.BidSnapshot  `json:"currentHighestBid"`
	EndsAt            time.Time           `json:"endsAt"`
	GoLiveAt          time.Time           `json:"goLiveAt"`
}

// BidPlacedData is broadcast to the room after a bid is accepted.
type BidPlacedData struct {
	Bid               store.Bid         `json:"bid"`
	CurrentHighestBid store.BidSnapshot `json:"currentHighestBid"`
}

// OutbidData is sent to the previous leader only.
type OutbidData struct {
	AuctionID     string            `json:"auctionId"`
	YourBidID     string            `json:"yourBidId"`
	NewHighestBid store.BidSnapshot `json:"newHighestBid"`
}

// AuctionStartedData is broadcast when an auction goes live.
type AuctionStartedData struct {
	AuctionID string    `json:"auctionId"`
	EndsAt    time.Time `json:"endsAt"`
}

// AuctionEndedData is broadcast when an auction ends. HighestBid is nil
// when nobody bid.
type AuctionEndedData struct {
	AuctionID  string             `json:"auctionId"`
	HighestBid *store.BidSnapshot `json:"highestBid"`
}

// AuctionResetData is broadcast after an admin reset.
type AuctionResetData struct {
	AuctionID string              `json:"auctionId"`
	Status    store.AuctionStatus `json:"status"`
}

// Decision values carried by seller_decision and counter_result.
const (
	DecisionAccepted = "accepted"
	DecisionRejected = "rejected"
	DecisionCounter  = "counter"
)

// SellerDecisionData is broadcast when the seller accepts or rejects.
type SellerDecisionData struct {
	AuctionID string `json:"auctionId"`
	Decision  string `json:"decision"`
}

// CounterOfferData is sent to the highest bidder only.
type CounterOfferData struct {
	AuctionID      string          `json:"auctionId"`
	CounterOfferID string          `json:"counterOfferId"`
	Amount         decimal.Decimal `json:"amount"`
}

// CounterResultData is broadcast when the bidder answers a counter-offer.
type CounterResultData struct {
	AuctionID string `json:"auctionId"`
	Result    string `json:"result"`
}

// ErrorData reports a rejected request to the originating connection.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
