package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/tidwall/gjson"

	"tradebot/internal/logger"
)

const (
	maxKlineLimit            = 1500
	defaultQuantityPrecision = 3
)

// Source serves unsigned futures market data endpoints: candles, last
// price, the 24h volume ranking, and symbol quantity precision. Unsigned
// reads are not serialized; only the signed channel is rate-gated.
type Source struct {
	baseURL string
	httpc   *http.Client
	log     *slog.Logger

	mu        sync.Mutex
	precision map[string]int
}

func NewSource(baseURL string, timeout time.Duration, log *slog.Logger) *Source {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Source{
		baseURL:   strings.TrimRight(baseURL, "/"),
		httpc:     &http.Client{Timeout: timeout},
		log:       log,
		precision: make(map[string]int),
	}
}

// Klines fetches up to limit OHLCV candles for symbol on interval.
func (s *Source) Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", fmt.Sprint(limit))
	body, err := s.get(ctx, "/fapi/v1/klines", q)
	if err != nil {
		return nil, err
	}
	rows := gjson.ParseBytes(body).Array()
	out := make([]Candle, 0, len(rows))
	for _, row := range rows {
		cols := row.Array()
		if len(cols) < 6 {
			continue
		}
		out = append(out, Candle{
			OpenTime: cols[0].Int(),
			Open:     cols[1].Float(),
			High:     cols[2].Float(),
			Low:      cols[3].Float(),
			Close:    cols[4].Float(),
			Volume:   cols[5].Float(),
		})
	}
	return out, nil
}

// LastPrice fetches the latest traded price for symbol.
func (s *Source) LastPrice(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	body, err := s.get(ctx, "/fapi/v1/ticker/price", q)
	if err != nil {
		return 0, err
	}
	price := gjson.GetBytes(body, "price").Float()
	if price <= 0 {
		return 0, fmt.Errorf("market: no price for %s", symbol)
	}
	return price, nil
}

// TopSymbols ranks USDT/USDC perpetual pairs by 24h quote volume and
// returns the top limit symbols. This is the trading universe selection.
func (s *Source) TopSymbols(ctx context.Context, limit int) ([]string, error) {
	body, err := s.get(ctx, "/fapi/v1/ticker/24hr", nil)
	if err != nil {
		return nil, err
	}
	type pair struct {
		symbol string
		volume float64
	}
	var pairs []pair
	for _, item := range gjson.ParseBytes(body).Array() {
		sym := item.Get("symbol").String()
		if !strings.HasSuffix(sym, "USDT") && !strings.HasSuffix(sym, "USDC") {
			continue
		}
		vol := item.Get("quoteVolume").Float()
		if vol <= 0 {
			continue
		}
		pairs = append(pairs, pair{symbol: sym, volume: vol})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].volume > pairs[j].volume })
	if limit > 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.symbol
	}
	s.log.Info("market: fetched top symbols", "count", len(out))
	return out, nil
}

// QuantityPrecision looks up the number of quantity decimals the exchange
// accepts for symbol. Falls back to 3 when the lookup fails, matching the
// exchange default for most USDT perpetuals. Results are cached; the
// filter set only changes on exchange listing updates.
func (s *Source) QuantityPrecision(ctx context.Context, symbol string) int {
	s.mu.Lock()
	if p, ok := s.precision[symbol]; ok {
		s.mu.Unlock()
		return p
	}
	s.mu.Unlock()

	body, err := s.get(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		s.log.Warn("market: exchangeInfo fetch failed, using default precision",
			"symbol", symbol, "default", defaultQuantityPrecision, "err", err)
		return defaultQuantityPrecision
	}
	precision := defaultQuantityPrecision
	found := false
	for _, item := range gjson.GetBytes(body, "symbols").Array() {
		if item.Get("symbol").String() == symbol {
			precision = int(item.Get("quantityPrecision").Int())
			found = true
			break
		}
	}
	if !found {
		s.log.Warn("market: symbol missing from exchangeInfo, using default precision",
			"symbol", symbol, "default", defaultQuantityPrecision)
		return defaultQuantityPrecision
	}
	s.mu.Lock()
	s.precision[symbol] = precision
	s.mu.Unlock()
	return precision
}

func (s *Source) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := s.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("market: %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("market: %s: reading body: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("market: %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
