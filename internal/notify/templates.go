package notify

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Template names carried in Message.Template.
const (
	TemplateAuctionWon   = "auction_won"
	TemplateSellerReview = "seller_review"
	TemplateTransaction  = "transaction_confirmed"
	TemplateCounterOffer = "counter_offer"
	TemplateBidRejected  = "bid_rejected"
)

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

// AuctionWon tells the highest bidder they are provisionally winning.
func AuctionWon(to, item string, amount decimal.Decimal) Message {
	return Message{
		To:       to,
		Template: TemplateAuctionWon,
		Subject:  fmt.Sprintf("You placed the highest bid on %s", item),
		Body: fmt.Sprintf("The auction for %s has ended and your bid of %s is the highest. "+
			"The seller will now accept, reject or counter your bid.", item, money(amount)),
	}
}

// SellerReview asks the seller to decide on the winning bid.
func SellerReview(to, item string, amount decimal.Decimal) Message {
	return Message{
		To:       to,
		Template: TemplateSellerReview,
		Subject:  fmt.Sprintf("Your auction for %s has ended", item),
		Body: fmt.Sprintf("Your auction for %s has ended with a highest bid of %s. "+
			"Please accept, reject or make a counter-offer.", item, money(amount)),
	}
}

// TransactionConfirmed confirms a completed sale to one party.
func TransactionConfirmed(to, item string, amount decimal.Decimal, invoiceURL string) Message {
	body := fmt.Sprintf("The sale of %s for %s is confirmed.", item, money(amount))
	if invoiceURL != "" {
		body += " Your invoice is available at " + invoiceURL + "."
	}
	return Message{
		To:       to,
		Template: TemplateTransaction,
		Subject:  fmt.Sprintf("Transaction confirmed: %s", item),
		Body:     body,
	}
}

// CounterOffer tells the bidder about the seller's proposal.
func CounterOffer(to, item string, bid, counter decimal.Decimal) Message {
	return Message{
		To:       to,
		Template: TemplateCounterOffer,
		Subject:  fmt.Sprintf("Counter-offer for %s", item),
		Body: fmt.Sprintf("The seller of %s answered your bid of %s with a counter-offer of %s. "+
			"You can accept or reject it.", item, money(bid), money(counter)),
	}
}

// BidRejected tells the bidder the seller declined.
func BidRejected(to, item string, amount decimal.Decimal) Message {
	return Message{
		To:       to,
		Template: TemplateBidRejected,
		Subject:  fmt.Sprintf("Your bid on %s was not accepted", item),
		Body:     fmt.Sprintf("The seller of %s declined your bid of %s.", item, money(amount)),
	}
}
