// wire.go defines the venue wire formats: on-chain order encoding, REST
// request/response payloads, and WebSocket message envelopes. These types
// never leak past internal/exchange — every other package only sees
// pkg/types (ExecReport, PlannedOrder, LiveOrder, SymbolFilters), via the
// Normalizer and the Connector adapter in client.go.
package exchange

import "marketmaker-core/pkg/types"

// TickSize is the price granularity a market trades at, which determines
// how many decimals the on-chain amount encoding carries.
type TickSize string

const (
	Tick01   TickSize = "0.1"
	Tick001  TickSize = "0.01"
	Tick0001 TickSize = "0.001"
)

// AmountDecimals returns the number of decimals used when rounding a
// maker/taker amount at this tick size.
func (t TickSize) AmountDecimals() int {
	switch t {
	case Tick01:
		return 3
	case Tick0001:
		return 5
	default:
		return 4
	}
}

// SignatureType selects how an order is signed on submission: by the EOA
// directly, or via a proxy/multisig funder wallet.
type SignatureType int

const (
	SigEOA        SignatureType = 0
	SigProxy      SignatureType = 1
	SigGnosisSafe SignatureType = 2
)

// SignedOrder is the on-chain order structure the venue expects. Amounts
// are encoded as decimal strings, matching the venue's on-chain precision.
type SignedOrder struct {
	Maker         string        `json:"maker"`
	Signer        string        `json:"signer"`
	Taker         string        `json:"taker"`
	TokenID       string        `json:"tokenId"`
	MakerAmount   string        `json:"makerAmount"`
	TakerAmount   string        `json:"takerAmount"`
	Side          types.Side    `json:"side"`
	Expiration    string        `json:"expiration"`
	Nonce         string        `json:"nonce"`
	FeeRateBps    string        `json:"feeRateBps"`
	SignatureType SignatureType `json:"signatureType"`
}

// OrderPayload wraps a SignedOrder with the owner (API key) and order type
// the REST endpoint requires.
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType string      `json:"orderType"`
}

// OrderResponse is the per-order acknowledgement from a batch submit.
type OrderResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderID"`
	Status  string `json:"status"`
	Error   string `json:"errorMsg,omitempty"`
}

// CancelResponse reports which order IDs were actually cancelled.
type CancelResponse struct {
	Canceled []string `json:"canceled"`
	NotFound []string `json:"not_canceled,omitempty"`
}

// BookLevel is one price/size rung of a REST order-book snapshot.
type BookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookResponse is the REST GET /book response.
type BookResponse struct {
	Market    string      `json:"market"`
	AssetID   string      `json:"asset_id"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Timestamp string      `json:"timestamp"`
}

// FiltersResponse is the REST symbol-filters response, mapped to
// types.SymbolFilters by the caller.
type FiltersResponse struct {
	TickSize    string `json:"tick_size"`
	StepSize    string `json:"step_size"`
	MinQty      string `json:"min_order_size"`
	MaxQty      string `json:"max_order_size"`
	MinNotional string `json:"min_notional"`
	MinPrice    string `json:"min_price"`
	MaxPrice    string `json:"max_price"`
}

// WSAuth carries L2 credentials for the authenticated user channel.
type WSAuth struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// WSSubscribeMsg is the initial subscription sent right after connect.
type WSSubscribeMsg struct {
	Type     string  `json:"type"`
	AssetIDs []string `json:"assets_ids,omitempty"`
	Markets  []string `json:"markets,omitempty"`
	Auth     *WSAuth  `json:"auth,omitempty"`
}

// WSUpdateMsg adds or removes IDs from an existing subscription.
type WSUpdateMsg struct {
	Operation string   `json:"operation"`
	AssetIDs  []string `json:"assets_ids,omitempty"`
	Markets   []string `json:"markets,omitempty"`
}

// WSBookEvent is a full order-book snapshot pushed on the market channel.
type WSBookEvent struct {
	EventType string      `json:"event_type"`
	AssetID   string      `json:"asset_id"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Timestamp string      `json:"timestamp"`
}

// WSPriceChangeEvent is an incremental top-of-book update.
type WSPriceChangeEvent struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
	Side      string `json:"side"`
	Size      string `json:"size"`
	Timestamp string `json:"timestamp"`
}

// WSTradeEvent is a trade-tape print pushed on the market channel.
type WSTradeEvent struct {
	EventType string `json:"event_type"`
	ID        string `json:"id"`
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Timestamp string `json:"timestamp"`
}
