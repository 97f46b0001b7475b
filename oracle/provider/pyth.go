package provider

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"price-oracle/oracle/types"

	"github.com/rs/zerolog"
)

const (
	// PythName tags the HTTPS/REST Pyth-style adapter.
	PythName Name = "pyth"

	pythUserAgent = "price-oracle/1.0"
)

var pythDefaultEndpoint = Endpoint{
	Name: PythName,
	Urls: []string{"https://hermes.pyth.network"},
}

// PythAdapter fetches Hermes-style "parsed" price updates over HTTPS. It
// implements the canonical adapter contract described in spec §6.1.
type PythAdapter struct {
	base
}

// NewPythAdapter builds a Pyth-style adapter. If endpoint.Urls is empty the
// public Hermes mainnet endpoint is used.
func NewPythAdapter(endpoint Endpoint, logger zerolog.Logger) *PythAdapter {
	if len(endpoint.Urls) == 0 {
		endpoint.Urls = pythDefaultEndpoint.Urls
	}
	return &PythAdapter{base: newBase(PythName, endpoint, logger)}
}

type pythResponse struct {
	Parsed []struct {
		Price struct {
			Price       string `json:"price"`
			Conf        string `json:"conf"`
			Expo        int32  `json:"expo"`
			PublishTime int64  `json:"publish_time"`
		} `json:"price"`
	} `json:"parsed"`
}

func (a *PythAdapter) GetQuote(symbol types.Symbol) (types.Quote, error) {
	quotes, err := a.GetQuotes([]types.Symbol{symbol})
	if err != nil {
		return types.Quote{}, err
	}
	if len(quotes) == 0 {
		return types.Quote{}, fmt.Errorf("no quote returned for %s", symbol)
	}
	return quotes[0], nil
}

// GetQuotes requests every symbol it has a feed id for in one call and
// decodes Hermes' positional "parsed" array back onto the symbols in the
// order their ids[] params were sent.
func (a *PythAdapter) GetQuotes(symbols []types.Symbol) ([]types.Quote, error) {
	var ids []string
	idToSymbol := make(map[string]types.Symbol, len(symbols))
	for _, symbol := range symbols {
		id, err := a.feedID(symbol)
		if err != nil {
			a.logger.Warn().Str("symbol", string(symbol)).Msg("unknown symbol, skipping")
			continue
		}
		ids = append(ids, id)
		idToSymbol[id] = symbol
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no known feed ids among requested symbols")
	}

	params := make([]string, len(ids))
	for i, id := range ids {
		params[i] = "ids[]=" + id
	}
	path := "/v2/updates/price/latest?" + strings.Join(params, "&") + "&parsed=true"

	body, err := a.httpGet(path, map[string]string{"User-Agent": pythUserAgent})
	if err != nil {
		return nil, fmt.Errorf("pyth request failed: %w", err)
	}

	var parsed pythResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("pyth response decode failed: %w", err)
	}
	if len(parsed.Parsed) == 0 {
		return nil, fmt.Errorf("pyth returned no parsed updates")
	}

	now := time.Now()
	quotes := make([]types.Quote, 0, len(parsed.Parsed))
	for i, entry := range parsed.Parsed {
		if i >= len(ids) {
			break
		}
		symbol, ok := idToSymbol[ids[i]]
		if !ok {
			continue
		}

		mantissa, err := strconv.ParseInt(entry.Price.Price, 10, 64)
		if err != nil {
			a.logger.Warn().Err(err).Str("symbol", string(symbol)).Msg("malformed pyth price mantissa")
			continue
		}
		confMantissa, err := strconv.ParseUint(entry.Price.Conf, 10, 64)
		if err != nil {
			a.logger.Warn().Err(err).Str("symbol", string(symbol)).Msg("malformed pyth confidence mantissa")
			continue
		}

		price, confidence, err := Normalize(mantissa, confMantissa, entry.Price.Expo)
		if err != nil {
			a.logger.Warn().Err(err).Str("symbol", string(symbol)).Msg("pyth quote failed normalization")
			continue
		}

		ts := now
		if entry.Price.PublishTime > 0 {
			ts = time.Unix(entry.Price.PublishTime, 0)
		}

		quotes = append(quotes, types.Quote{
			Symbol:     symbol,
			Price:      price,
			Confidence: confidence,
			Timestamp:  ts,
			Source:     a.Name(),
		})
	}

	if len(quotes) == 0 {
		return nil, fmt.Errorf("pyth returned parsed updates but none decoded cleanly")
	}
	return quotes, nil
}
