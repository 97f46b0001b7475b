// Package provider implements the Source Adapter contract: one
// implementation per upstream oracle network, each normalizing its wire
// format into a canonical types.Quote.
package provider

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"price-oracle/oracle/errs"
	"price-oracle/oracle/types"

	"github.com/rs/zerolog"
)

// Name identifies an adapter, e.g. "pyth" or "switchboard".
type Name string

const (
	defaultTimeout = 10 * time.Second
)

// Adapter is the capability set every upstream oracle source implements.
// Adapters never panic; every failure surfaces as an error.
type Adapter interface {
	// GetQuote fetches a single symbol's quote. Must return within a
	// bounded time (the adapter's configured timeout).
	GetQuote(symbol types.Symbol) (types.Quote, error)
	// GetQuotes is the batch form; its result may be a subset of the
	// request (partial success) when the upstream doesn't have all
	// symbols or some individual symbols fail.
	GetQuotes(symbols []types.Symbol) ([]types.Quote, error)
	// Name returns the adapter's tag.
	Name() string
}

// Endpoint carries the network configuration for one adapter instance.
type Endpoint struct {
	Name     Name
	Urls     []string
	Timeout  time.Duration
	// FeedIDs maps a Symbol to the upstream-specific feed identifier
	// (a Pyth price feed id, a Switchboard account address, ...).
	FeedIDs map[types.Symbol]string
}

// base is embedded by concrete adapters; it carries the shared HTTP client,
// multi-URL failover, and symbol->feed lookup every adapter needs.
type base struct {
	name     Name
	endpoint Endpoint
	httpBase string
	http     *http.Client
	logger   zerolog.Logger
}

func newBase(name Name, endpoint Endpoint, logger zerolog.Logger) base {
	if endpoint.Timeout == 0 {
		endpoint.Timeout = defaultTimeout
	}
	httpBase := ""
	if len(endpoint.Urls) > 0 {
		httpBase = strings.TrimRight(endpoint.Urls[0], "/")
	}
	return base{
		name:     name,
		endpoint: endpoint,
		httpBase: httpBase,
		http:     &http.Client{Timeout: endpoint.Timeout},
		logger:   logger.With().Str("provider", string(name)).Logger(),
	}
}

func (b *base) Name() string { return string(b.name) }

// feedID resolves a Symbol to its upstream feed identifier, or
// KindUnknownSymbol if this adapter has no mapping for it.
func (b *base) feedID(symbol types.Symbol) (string, error) {
	id, ok := b.endpoint.FeedIDs[symbol]
	if !ok {
		return "", errs.New(errs.KindUnknownSymbol, fmt.Errorf("unknown symbol %q for adapter %s", symbol, b.name))
	}
	return id, nil
}

// httpGet performs a GET against the current base URL, failing over to the
// remaining configured URLs in order on error (teacher's multi-URL
// failover idiom from oracle/provider/provider.go's httpRequest).
func (b *base) httpGet(path string, headers map[string]string) ([]byte, error) {
	return b.httpRequest(http.MethodGet, path, nil, headers)
}

func (b *base) httpPost(path string, body []byte, headers map[string]string) ([]byte, error) {
	if headers == nil {
		headers = map[string]string{}
	}
	headers["Content-Type"] = "application/json"
	return b.httpRequest(http.MethodPost, path, body, headers)
}

func (b *base) httpRequest(method, path string, body []byte, headers map[string]string) ([]byte, error) {
	res, err := b.makeHTTPRequest(b.httpBase+path, method, body, headers)
	if err == nil {
		return res, nil
	}

	index := 0
	for i, url := range b.endpoint.Urls {
		if strings.TrimRight(url, "/") == b.httpBase {
			index = i
			break
		}
	}
	candidates := append(append([]string{}, b.endpoint.Urls[index+1:]...), b.endpoint.Urls[:index]...)
	for _, url := range candidates {
		url = strings.TrimRight(url, "/")
		b.logger.Warn().Str("endpoint", url).Msg("trying alternate http endpoint")
		res, err = b.makeHTTPRequest(url+path, method, body, headers)
		if err == nil {
			b.logger.Info().Str("endpoint", url).Msg("selected alternate http endpoint")
			b.httpBase = url
			return res, nil
		}
	}
	return nil, errs.New(errs.KindSourceUnavailable, err)
}

func (b *base) makeHTTPRequest(url, method string, body []byte, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := b.http.Do(req)
	if err != nil {
		b.logger.Warn().Err(err).Str("url", url).Msg("http request failed")
		return nil, err
	}
	defer res.Body.Close()

	content, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	if res.StatusCode != http.StatusOK {
		b.logger.Warn().
			Int("code", res.StatusCode).
			Str("url", url).
			Str("method", method).
			Msg("http request returned invalid status")
		if res.StatusCode == http.StatusTooManyRequests || res.StatusCode == 418 {
			b.logger.Warn().Str("url", url).Str("retry_after", res.Header.Get("Retry-After")).Msg("http ratelimited")
		}
		return nil, fmt.Errorf("http request to %s returned status %d", url, res.StatusCode)
	}
	return content, nil
}
