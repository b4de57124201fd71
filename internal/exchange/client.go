package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/semaphore"

	"tradebot/internal/backoff"
	"tradebot/internal/logger"
)

// Client executes authenticated futures REST operations. All signed calls
// pass through a weight-1 semaphore so at most one is in flight per API
// key; this trades latency for never tripping the per-key rate limit.
// Unsigned reads (server time) bypass the gate.
//
// A failed call means the operation did not happen as far as the caller is
// concerned. The one caveat is a market order whose request reached the
// exchange before a local timeout: retries reuse the same client order id,
// so a server-side duplicate is rejected instead of double-filling.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	httpc     *http.Client
	gate      *semaphore.Weighted
	policy    backoff.Policy
	log       *slog.Logger

	now     func() time.Time
	driftMs atomic.Int64
}

type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	// Timeout bounds a single HTTP attempt, not the whole retry sequence.
	Timeout time.Duration
	Retry   backoff.Policy
	Logger  *slog.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = backoff.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		httpc:     &http.Client{Timeout: cfg.Timeout},
		gate:      semaphore.NewWeighted(1),
		policy:    cfg.Retry,
		log:       cfg.Logger,
		now:       time.Now,
	}
}

// SyncTime fetches the exchange server time and records the offset from
// the local clock. Signed requests stamp themselves with local+drift; a
// stale drift gets the signature rejected by the server's freshness
// window, so this runs before every signed call.
func (c *Client) SyncTime(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fapi/v1/time", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("exchange: time sync: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("exchange: time sync: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("exchange: time sync: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	serverMs := gjson.GetBytes(body, "serverTime").Int()
	localMs := c.now().UnixMilli()
	drift := serverMs - localMs
	c.driftMs.Store(drift)
	c.log.Info("exchange: server time synced", "drift_ms", drift)
	return nil
}

// Drift reports the last recorded server-local clock offset.
func (c *Client) Drift() time.Duration {
	return time.Duration(c.driftMs.Load()) * time.Millisecond
}

// sign computes the hex HMAC-SHA256 signature over the url-encoded
// parameter set. url.Values.Encode sorts keys lexicographically, which is
// exactly the deterministic ordering the exchange verifies against.
func (c *Client) sign(params url.Values) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(params.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}

// signed performs one authenticated call with time sync, retry and the
// admission gate. params must not contain timestamp or signature; both are
// stamped per attempt so a retried request carries a fresh window.
func (c *Client) signed(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.gate.Release(1)

	if err := c.SyncTime(ctx); err != nil {
		// Proceed on the previous drift; the request may still land
		// inside the freshness window.
		c.log.Warn("exchange: time sync failed before signed call", "endpoint", endpoint, "err", err)
	}

	var body []byte
	err := c.policy.Retry(ctx, func(attempt int) error {
		stamped := url.Values{}
		for k, vs := range params {
			for _, v := range vs {
				stamped.Add(k, v)
			}
		}
		stamped.Set("timestamp", strconv.FormatInt(c.now().UnixMilli()+c.driftMs.Load(), 10))
		signature := c.sign(stamped)

		c.log.Debug("exchange: signed request", "method", method, "endpoint", endpoint, "attempt", attempt)
		out, err := c.do(ctx, method, endpoint, stamped, signature)
		if err != nil {
			c.log.Error("exchange: signed request failed",
				"method", method, "endpoint", endpoint, "attempt", attempt, "err", err)
			return err
		}
		body = out
		return nil
	})
	if err != nil {
		c.log.Error("exchange: signed request gave up", "method", method, "endpoint", endpoint, "err", err)
		return nil, err
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, signature string) ([]byte, error) {
	payload := params.Encode() + "&signature=" + signature
	var req *http.Request
	var err error
	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+endpoint+"?"+payload, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, strings.NewReader(payload))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			Status:  resp.StatusCode,
			Code:    gjson.GetBytes(body, "code").Int(),
			Message: strings.TrimSpace(string(body)),
		}
	}
	return body, nil
}

// APIError is a non-200 exchange response. Authentication failures are not
// distinguished from other HTTP errors at this layer.
type APIError struct {
	Status  int
	Code    int64
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange: status %d code %d: %s", e.Status, e.Code, e.Message)
}
