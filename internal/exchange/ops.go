package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	MarginIsolated = "ISOLATED"
	MarginCross    = "CROSS"
)

// Balance returns the available USDT or USDC balance of the futures
// wallet, whichever is found first.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	body, err := c.signed(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{})
	if err != nil {
		return 0, err
	}
	for _, asset := range gjson.ParseBytes(body).Array() {
		name := asset.Get("asset").String()
		if name == "USDT" || name == "USDC" {
			available := asset.Get("availableBalance").Float()
			c.log.Info("exchange: available balance", "asset", name, "balance", available)
			return available, nil
		}
	}
	c.log.Warn("exchange: no USDT/USDC balance found")
	return 0, nil
}

// MarginType reports the current margin mode for symbol. Defaults to
// CROSS when the position risk payload has no entry for the symbol.
func (c *Client) MarginType(ctx context.Context, symbol string) (string, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	body, err := c.signed(ctx, http.MethodGet, "/fapi/v2/positionRisk", q)
	if err != nil {
		return "", err
	}
	for _, pos := range gjson.ParseBytes(body).Array() {
		if pos.Get("symbol").String() == symbol {
			return strings.ToUpper(pos.Get("marginType").String()), nil
		}
	}
	return MarginCross, nil
}

// SetMarginTypeIsolated switches symbol to isolated margin, skipping the
// write when it already is.
func (c *Client) SetMarginTypeIsolated(ctx context.Context, symbol string) error {
	current, err := c.MarginType(ctx, symbol)
	if err != nil {
		return err
	}
	if current == MarginIsolated {
		c.log.Info("exchange: margin type already isolated", "symbol", symbol)
		return nil
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("marginType", MarginIsolated)
	if _, err := c.signed(ctx, http.MethodPost, "/fapi/v1/marginType", q); err != nil {
		return fmt.Errorf("setting isolated margin for %s: %w", symbol, err)
	}
	c.log.Info("exchange: margin type set to isolated", "symbol", symbol)
	return nil
}

// SetLeverage configures the account leverage for symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("leverage", strconv.Itoa(leverage))
	if _, err := c.signed(ctx, http.MethodPost, "/fapi/v1/leverage", q); err != nil {
		return fmt.Errorf("setting leverage for %s: %w", symbol, err)
	}
	c.log.Info("exchange: leverage set", "symbol", symbol, "leverage", leverage)
	return nil
}

// OrderRequest describes a market order. Quantity is the pre-formatted
// wire string produced by the risk sizer.
type OrderRequest struct {
	Symbol     string
	Side       string // BUY or SELL
	Quantity   string
	ReduceOnly bool
	// ClientOrderID deduplicates retried submissions server-side. When
	// empty a uuid is generated once, before any attempt is made.
	ClientOrderID string
}

// PlaceMarketOrder submits a market order and returns the exchange order
// id. The client order id is fixed before the retry loop, so a retry of a
// request that actually filled is rejected as a duplicate rather than
// opening a second position.
func (c *Client) PlaceMarketOrder(ctx context.Context, req OrderRequest) (string, error) {
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}
	q := url.Values{}
	q.Set("symbol", req.Symbol)
	q.Set("side", req.Side)
	q.Set("type", "MARKET")
	q.Set("quantity", req.Quantity)
	q.Set("newClientOrderId", req.ClientOrderID)
	if req.ReduceOnly {
		q.Set("reduceOnly", "true")
	}
	body, err := c.signed(ctx, http.MethodPost, "/fapi/v1/order", q)
	if err != nil {
		return "", fmt.Errorf("placing %s market order for %s: %w", req.Side, req.Symbol, err)
	}
	orderID := gjson.GetBytes(body, "orderId").String()
	if orderID == "" {
		return "", fmt.Errorf("placing order for %s: response missing orderId", req.Symbol)
	}
	c.log.Info("exchange: market order placed",
		"symbol", req.Symbol, "side", req.Side, "quantity", req.Quantity,
		"reduce_only", req.ReduceOnly, "order_id", orderID)
	return orderID, nil
}
