// Package exchange implements the venue's REST and WebSocket clients, the
// HMAC/EIP-712 request signer, and the event normalizer. It is the single
// out-of-core boundary spec.md keeps external: every other package only
// ever sees pkg/types through the executor.Connector-shaped adapter below.
//
// The REST client (Client) talks to the exchange's CLOB-style API for order
// management:
//   - GetOrderBook:      GET    /book                 — fetch L2 book for the token
//   - GetSymbolFilters:  GET    /filters              — tick/step/notional filters
//   - Submit:            POST   /orders               — place one signed order (a batch of one)
//   - Cancel:            DELETE /orders               — cancel one order by ID
//   - CancelReplace:     Cancel, then Submit
//   - CancelAll:         DELETE /cancel-all           — emergency cancel everything
//   - DeriveAPIKey:      GET    /auth/derive-api-key  — bootstrap L2 creds from L1 wallet
//
// Book, order and cancel requests wait on per-category TokenBuckets;
// GetSymbolFilters and DeriveAPIKey do not. Every request is retried on
// transport errors and 5xx responses. Order and cancel requests carry L2
// HMAC headers, DeriveAPIKey carries L1 headers, and book and filter reads
// are unauthenticated.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"marketmaker-core/internal/config"
	"marketmaker-core/pkg/types"
)

// Client is the venue's REST API client for a single symbol/token. It wraps
// a resty HTTP client with rate limiting, retry, and auth, and satisfies
// executor.Connector via Submit/Cancel/CancelReplace.
type Client struct {
	http    *resty.Client
	auth    *Auth
	rl      *RateLimiter
	dryRun  bool
	symbol  string
	tokenID string
	tick    TickSize
	logger  *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry, scoped to
// one symbol/token (spec.md §1: a single-symbol instance is the unit of
// deployment).
func NewClient(cfg config.Config, auth *Auth, symbol, tokenID string, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.API.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:    httpClient,
		auth:    auth,
		rl:      NewRateLimiter(),
		dryRun:  cfg.DryRun,
		symbol:  symbol,
		tokenID: tokenID,
		tick:    Tick001,
		logger:  logger,
	}
}

// GetOrderBook fetches the order book for the configured token.
func (c *Client) GetOrderBook(ctx context.Context) (*BookResponse, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	var result BookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", c.tokenID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get book: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// GetSymbolFilters fetches tick/step/notional filters for the configured
// symbol, satisfying the §6 GetSymbolFilters(symbol) external interface.
func (c *Client) GetSymbolFilters(ctx context.Context) (types.SymbolFilters, error) {
	var result FiltersResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", c.symbol).
		SetResult(&result).
		Get("/filters")
	if err != nil {
		return types.SymbolFilters{}, fmt.Errorf("get filters: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.SymbolFilters{}, fmt.Errorf("get filters: status %d: %s", resp.StatusCode(), resp.String())
	}

	if ts, err := decimal.NewFromString(result.TickSize); err == nil {
		c.tick = TickSize(ts.String())
	}

	return types.SymbolFilters{
		TickSize:    decimalOrZero(result.TickSize),
		StepSize:    decimalOrZero(result.StepSize),
		MinQty:      decimalOrZero(result.MinQty),
		MaxQty:      decimalOrZero(result.MaxQty),
		MinNotional: decimalOrZero(result.MinNotional),
		MinPrice:    decimalOrZero(result.MinPrice),
		MaxPrice:    decimalOrZero(result.MaxPrice),
	}, nil
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// buildOrderPayload converts a planner-produced PlannedOrder into the
// on-chain SignedOrder + metadata the REST API expects. It converts the
// decimal price/qty to big.Int maker/taker amounts at the market's tick
// precision, sets the maker to the funder wallet (proxy), the signer to the
// EOA, and the taker to the zero address (open order, anyone can fill).
func (c *Client) buildOrderPayload(order types.PlannedOrder) OrderPayload {
	price, _ := order.Price.Float64()
	qty, _ := order.Qty.Float64()
	makerAmt, takerAmt := PriceToAmounts(price, qty, order.Side, c.tick)

	orderType := "GTC"
	if order.PostOnly {
		orderType = "LIMIT_MAKER"
	}

	return OrderPayload{
		Order: SignedOrder{
			Maker:         c.auth.FunderAddress().Hex(),
			Signer:        c.auth.Address().Hex(),
			Taker:         "0x0000000000000000000000000000000000000000",
			TokenID:       c.tokenID,
			MakerAmount:   makerAmt.String(),
			TakerAmount:   takerAmt.String(),
			Side:          order.Side,
			Expiration:    fmt.Sprintf("%d", time.Now().Add(order.TTL).Unix()),
			Nonce:         "0",
			FeeRateBps:    "0",
			SignatureType: c.auth.sigType,
		},
		Owner:     c.auth.creds.ApiKey,
		OrderType: orderType,
	}
}

// Submit places a single order, satisfying executor.Connector. The venue
// batches up to 15 orders per call; the micro-batch executor calls Submit
// once per operation, so each call is a batch of one.
func (c *Client) Submit(ctx context.Context, order types.PlannedOrder) (types.LiveOrder, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would submit order", "side", order.Side, "price", order.Price, "qty", order.Qty)
		return types.LiveOrder{
			OrderID:       "dry-run-" + order.ClientOrderID,
			ClientOrderID: order.ClientOrderID,
			Side:          order.Side,
			Price:         order.Price,
			QtyOpen:       order.Qty,
			Layer:         order.Layer,
			CreatedTsNs:   time.Now().UnixNano(),
			TTL:           order.TTL,
		}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return types.LiveOrder{}, err
	}

	payload := c.buildOrderPayload(order)
	body, err := json.Marshal([]OrderPayload{payload})
	if err != nil {
		return types.LiveOrder{}, fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.L2Headers("POST", "/orders", string(body))
	if err != nil {
		return types.LiveOrder{}, fmt.Errorf("l2 headers: %w", err)
	}

	var results []OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&results).
		Post("/orders")
	if err != nil {
		return types.LiveOrder{}, fmt.Errorf("post order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.LiveOrder{}, fmt.Errorf("post order: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(results) == 0 || !results[0].Success {
		msg := ""
		if len(results) > 0 {
			msg = results[0].Error
		}
		return types.LiveOrder{}, fmt.Errorf("order rejected: %s", msg)
	}

	return types.LiveOrder{
		OrderID:       results[0].OrderID,
		ClientOrderID: order.ClientOrderID,
		Side:          order.Side,
		Price:         order.Price,
		QtyOpen:       order.Qty,
		Layer:         order.Layer,
		CreatedTsNs:   time.Now().UnixNano(),
		TTL:           order.TTL,
	}, nil
}

// Cancel cancels a single order by ID, satisfying executor.Connector.
func (c *Client) Cancel(ctx context.Context, orderID string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "order_id", orderID)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	payload := struct {
		OrderIDs []string `json:"orderIDs"`
	}{OrderIDs: []string{orderID}}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal cancel request: %w", err)
	}
	headers, err := c.auth.L2Headers("DELETE", "/orders", string(body))
	if err != nil {
		return fmt.Errorf("l2 headers: %w", err)
	}

	var result CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/orders")
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// CancelReplace cancels an existing order and submits its replacement,
// satisfying executor.Connector. The venue has no atomic cancel-replace
// endpoint, so this issues Cancel then Submit under STOP_ON_FAILURE
// semantics: a cancel failure aborts the replacement.
func (c *Client) CancelReplace(ctx context.Context, orderID string, order types.PlannedOrder) (types.LiveOrder, error) {
	if err := c.Cancel(ctx, orderID); err != nil {
		return types.LiveOrder{}, fmt.Errorf("cancel-replace cancel leg: %w", err)
	}
	return c.Submit(ctx, order)
}

// CancelAll cancels every open order across all markets.
func (c *Client) CancelAll(ctx context.Context) (*CancelResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders")
		return &CancelResponse{}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.L2Headers("DELETE", "/cancel-all", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Delete("/cancel-all")
	if err != nil {
		return nil, fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel all: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Warn("all orders cancelled", "count", len(result.Canceled))
	return &result, nil
}

// DeriveAPIKey derives L2 API credentials via L1 authentication.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(result)
	c.logger.Info("API key derived", "api_key", result.ApiKey)
	return &result, nil
}
