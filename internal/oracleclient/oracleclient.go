// Package oracleclient implements cmd/oracle's two HTTP legs: fetching
// prices from an upstream source and pushing index updates into the
// exchange's RPC surface. Grounded on the teacher's resty-based REST client
// (internal/exchange/client.go) — same base-URL/timeout/retry shape, with
// L1/L2 order-signing replaced by a single unauthenticated price-fetch and
// an RPC-envelope push, since the running system's Non-goals exclude
// authentication.
package oracleclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"derivex/pkg/types"
)

// UpstreamClient fetches a single price from an external source keyed by
// index name (e.g. "BTC/USDC").
type UpstreamClient struct {
	http *resty.Client
}

func NewUpstreamClient(baseURL string) *UpstreamClient {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})
	return &UpstreamClient{http: http}
}

type priceResponse struct {
	Price decimal.Decimal `json:"price"`
}

// FetchPrice gets the current price for indexName (e.g. "BTC/USDC").
func (c *UpstreamClient) FetchPrice(ctx context.Context, indexName string) (decimal.Decimal, error) {
	var result priceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", indexName).
		SetResult(&result).
		ForceContentType("application/json").
		Get("/price")
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch price %s: %w", indexName, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, fmt.Errorf("fetch price %s: status %d: %s", indexName, resp.StatusCode(), resp.String())
	}
	return result.Price, nil
}

// ExchangeClient pushes index updates into the exchange's JSON-RPC surface.
type ExchangeClient struct {
	http *resty.Client
}

func NewExchangeClient(rpcURL string) *ExchangeClient {
	http := resty.New().
		SetBaseURL(rpcURL).
		SetTimeout(5 * time.Second).
		SetHeader("Content-Type", "application/json")
	return &ExchangeClient{http: http}
}

type rpcEnvelope struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// PushIndex submits an index/update RPC call carrying the latest price.
func (c *ExchangeClient) PushIndex(ctx context.Context, update types.IndexUpdate) error {
	envelope := rpcEnvelope{JSONRPC: "2.0", ID: 1, Method: "index/update", Params: update}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(envelope).
		Post("/")
	if err != nil {
		return fmt.Errorf("push index %s: %w", update.Name, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("push index %s: status %d: %s", update.Name, resp.StatusCode(), resp.String())
	}
	return nil
}

// Poller fetches every configured index name on an interval and pushes the
// result into the exchange.
type Poller struct {
	upstream *UpstreamClient
	exchange *ExchangeClient
	names    []string
}

func NewPoller(upstream *UpstreamClient, exchange *ExchangeClient, names []string) *Poller {
	return &Poller{upstream: upstream, exchange: exchange, names: names}
}

// Run polls every name at the given interval until ctx is cancelled.
// A per-name fetch or push error is logged by the caller via onErr and does
// not stop the loop — one bad upstream response must not take every index
// price down.
func (p *Poller) Run(ctx context.Context, interval time.Duration, onErr func(name string, err error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx, onErr)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, onErr func(name string, err error)) {
	for _, name := range p.names {
		price, err := p.upstream.FetchPrice(ctx, name)
		if err != nil {
			if onErr != nil {
				onErr(name, err)
			}
			continue
		}

		update := types.IndexUpdate{Name: name, Price: price, AtMs: time.Now().UnixMilli()}
		if err := p.exchange.PushIndex(ctx, update); err != nil && onErr != nil {
			onErr(name, err)
		}
	}
}
