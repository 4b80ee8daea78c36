package event_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctionhub/internal/event"
)

func TestInbound_PlaceBidAmountForms(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "number", raw: `{"event":"place_bid","data":{"auctionId":"a1","amount":55,"userId":"u1"}}`, want: "55"},
		{name: "decimal number", raw: `{"event":"place_bid","data":{"auctionId":"a1","amount":55.25,"userId":"u1"}}`, want: "55.25"},
		{name: "string", raw: `{"event":"place_bid","data":{"auctionId":"a1","amount":"60.10","userId":"u1"}}`, want: "60.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var in event.Inbound
			if err := json.Unmarshal([]byte(tt.raw), &in); err != nil {
				t.Fatalf("Unmarshal envelope: %v", err)
			}
			if in.Event != event.PlaceBid {
				t.Fatalf("Event = %q, want %q", in.Event, event.PlaceBid)
			}
			var data event.PlaceBidData
			if err := json.Unmarshal(in.Data, &data); err != nil {
				t.Fatalf("Unmarshal data: %v", err)
			}
			if !data.Amount.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("Amount = %s, want %s", data.Amount, tt.want)
			}
		})
	}
}

func TestEnvelope_Shape(t *testing.T) {
	raw, err := json.Marshal(event.New(event.Error, event.ErrorData{Code: "BID_TOO_LOW", Message: "Minimum bid is $55.00"}))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"event":"error","data":{"code":"BID_TOO_LOW","message":"Minimum bid is $55.00"}}`
	if string(raw) != want {
		t.Errorf("Marshal = %s, want %s", raw, want)
	}
}
