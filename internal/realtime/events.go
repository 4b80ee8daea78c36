package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jensholdgaard/auctionhub/internal/auction"
	"github.com/jensholdgaard/auctionhub/internal/event"
)

func (h *Hub) identify(ctx context.Context, c *conn, raw json.RawMessage) {
	var data event.IdentifyData
	if err := json.Unmarshal(raw, &data); err != nil {
		c.sendError(&auction.BidError{Code: auction.CodeAuthRequired, Message: "Invalid identify payload"})
		return
	}

	if data.Token != "" && h.verifier != nil {
		id, err := h.verifier.Verify(data.Token)
		if err != nil {
			h.logger.InfoContext(ctx, "identify token rejected", slog.Any("error", err))
			c.sendError(&auction.BidError{Code: auction.CodeAuthRequired, Message: "Invalid or expired token"})
			return
		}
		c.bind(id.ID, true)
		return
	}
	if h.cfg.RequireToken {
		c.sendError(&auction.BidError{Code: auction.CodeAuthRequired, Message: "Authentication required"})
		return
	}
	if data.UserID != "" {
		c.bind(data.UserID, false)
	}
}

func (h *Hub) join(ctx context.Context, c *conn, s Session, raw json.RawMessage) {
	var data event.JoinAuctionData
	if err := json.Unmarshal(raw, &data); err != nil || data.AuctionID == "" {
		c.sendError(&auction.BidError{Code: auction.CodeAuctionNotFound, Message: "Auction not found"})
		return
	}

	prev, user := c.room(), c.user()
	if prev != "" && prev != data.AuctionID && user != "" {
		s.Leave(ctx, prev, user)
	}
	c.setRoom(data.AuctionID)

	state, err := s.Join(ctx, data.AuctionID, user)
	if err != nil {
		c.sendError(auction.AsBidError(err))
		return
	}
	c.send(event.New(event.AuctionState, state))
}

func (h *Hub) placeBid(ctx context.Context, c *conn, s Session, raw json.RawMessage) *auction.BidError {
	var data event.PlaceBidData
	if err := json.Unmarshal(raw, &data); err != nil {
		be := &auction.BidError{Code: auction.CodeBidTooLow, Message: "Invalid bid amount"}
		c.sendError(be)
		return be
	}

	bidder, verified := c.identity()
	switch {
	case verified:
		if data.UserID != "" && data.UserID != bidder {
			be := &auction.BidError{Code: auction.CodeAuthRequired, Message: "Identity mismatch"}
			c.sendError(be)
			return be
		}
	case h.cfg.RequireToken:
		bidder = ""
	case data.UserID != "":
		c.bind(data.UserID, false)
		bidder = data.UserID
	}

	if _, err := s.PlaceBid(ctx, data.AuctionID, bidder, data.Amount); err != nil {
		be := auction.AsBidError(err)
		c.sendError(be)
		return be
	}
	return nil
}
