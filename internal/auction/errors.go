package auction

import (
	"errors"
	"fmt"
)

// Code is a stable rejection code reported to the bidding client.
type Code string

const (
	CodeAuthRequired      Code = "AUTH_REQUIRED"
	CodeLockFailed        Code = "BID_LOCK_FAILED"
	CodeAuctionNotFound   Code = "AUCTION_NOT_FOUND"
	CodeAuctionNotStarted Code = "AUCTION_NOT_STARTED"
	CodeAuctionEnded      Code = "AUCTION_ENDED"
	CodeBidTooLow         Code = "BID_TOO_LOW"
	CodeInternal          Code = "INTERNAL_ERROR"
)

// BidError is a rejected bidding request.
type BidError struct {
	Code    Code
	Message string
}

func (e *BidError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func reject(code Code, msg string) *BidError {
	return &BidError{Code: code, Message: msg}
}

// AsBidError returns err as a BidError. Errors that are not rejections
// become INTERNAL_ERROR so no internal detail reaches the client.
func AsBidError(err error) *BidError {
	var be *BidError
	if errors.As(err, &be) {
		return be
	}
	return reject(CodeInternal, "Internal server error")
}

// ErrNotScheduled is returned by ForceStart for an auction that is not
// waiting to start.
var ErrNotScheduled = errors.New("auction is not scheduled")

// ErrInvalidAuction is returned by Catalog.Create for unusable listings.
var ErrInvalidAuction = errors.New("invalid auction")
