package provider

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"price-oracle/oracle/types"

	"github.com/rs/zerolog"
)

const (
	// SwitchboardName tags the JSON-RPC Switchboard-style adapter.
	SwitchboardName Name = "switchboard"

	switchboardUserAgent       = "price-oracle/1.0"
	switchboardMaxConcurrent   = 2
	switchboardMinRequestGap   = 500 * time.Millisecond
	switchboardStaleRoundS     = 30
	// switchboardConfidenceFrac is the nominal confidence band applied to
	// every decoded account, expressed as a fraction of price. The
	// documented account layout (mantissa, scale, round_open_ts) carries
	// no confidence field of its own.
	switchboardConfidenceFrac = 0.0005
)

var switchboardDefaultEndpoint = Endpoint{
	Name: SwitchboardName,
	Urls: []string{"https://api.mainnet-beta.solana.com"},
}

// SwitchboardAdapter fetches a Switchboard-style on-chain aggregator
// account over Solana's JSON-RPC getAccountInfo method and decodes the
// documented (mantissa u128, scale u32, round_open_ts i64) payload.
//
// It enforces the upstream's rate-limiting contract itself: a semaphore of
// switchboardMaxConcurrent concurrent requests and a minimum
// switchboardMinRequestGap between requests, mirroring the original
// client's Semaphore(2) + 500ms gap.
type SwitchboardAdapter struct {
	base

	sem         chan struct{}
	mu          sync.Mutex
	lastRequest time.Time
}

// NewSwitchboardAdapter builds a Switchboard-style adapter. If
// endpoint.Urls is empty the public Solana mainnet-beta RPC is used.
func NewSwitchboardAdapter(endpoint Endpoint, logger zerolog.Logger) *SwitchboardAdapter {
	if len(endpoint.Urls) == 0 {
		endpoint.Urls = switchboardDefaultEndpoint.Urls
	}
	return &SwitchboardAdapter{
		base: newBase(SwitchboardName, endpoint, logger),
		sem:  make(chan struct{}, switchboardMaxConcurrent),
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Error  json.RawMessage `json:"error"`
	Result struct {
		Value struct {
			Data []string `json:"data"`
		} `json:"value"`
	} `json:"result"`
}

func (a *SwitchboardAdapter) GetQuotes(symbols []types.Symbol) ([]types.Quote, error) {
	quotes := make([]types.Quote, 0, len(symbols))
	for _, symbol := range symbols {
		quote, err := a.GetQuote(symbol)
		if err != nil {
			a.logger.Warn().Err(err).Str("symbol", string(symbol)).Msg("switchboard quote failed")
			continue
		}
		quotes = append(quotes, quote)
	}
	return quotes, nil
}

func (a *SwitchboardAdapter) GetQuote(symbol types.Symbol) (types.Quote, error) {
	address, err := a.feedID(symbol)
	if err != nil {
		return types.Quote{}, err
	}

	a.throttle()
	defer func() { <-a.sem }()
	a.sem <- struct{}{}

	payload := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getAccountInfo",
		Params: []interface{}{
			address,
			map[string]string{"encoding": "base64", "commitment": "finalized"},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return types.Quote{}, err
	}

	raw, err := a.httpPost("", body, map[string]string{"User-Agent": switchboardUserAgent})
	if err != nil {
		return types.Quote{}, fmt.Errorf("switchboard request failed: %w", err)
	}

	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return types.Quote{}, fmt.Errorf("switchboard response decode failed: %w", err)
	}
	if len(resp.Error) > 0 {
		return types.Quote{}, fmt.Errorf("switchboard rpc error: %s", string(resp.Error))
	}
	if len(resp.Result.Value.Data) == 0 {
		return types.Quote{}, fmt.Errorf("switchboard account has no data")
	}

	raw2, err := base64.StdEncoding.DecodeString(resp.Result.Value.Data[0])
	if err != nil {
		return types.Quote{}, fmt.Errorf("switchboard account data not valid base64: %w", err)
	}

	mantissa, scale, roundOpenTS, err := decodeSwitchboardAccount(raw2)
	if err != nil {
		return types.Quote{}, err
	}

	age := time.Since(time.Unix(roundOpenTS, 0))
	if age > switchboardStaleRoundS*time.Second {
		return types.Quote{}, fmt.Errorf("switchboard round is stale (%s old)", age)
	}

	divisor := new(big.Float).SetFloat64(math.Pow(10, float64(scale)))
	priceFloat := new(big.Float).SetInt(mantissa)
	priceFloat.Quo(priceFloat, divisor)
	price, _ := priceFloat.Float64()

	if price <= 0 || price > PriceMax {
		return types.Quote{}, fmt.Errorf("normalized switchboard price %v out of range", price)
	}

	return types.Quote{
		Symbol:     symbol,
		Price:      price,
		Confidence: price * switchboardConfidenceFrac,
		Timestamp:  time.Unix(roundOpenTS, 0),
		Source:     a.Name(),
	}, nil
}

// decodeSwitchboardAccount decodes the documented on-chain aggregator
// payload: a little-endian u128 mantissa (bytes 0-15), a little-endian u32
// scale (bytes 16-19), and a little-endian i64 round_open_ts (bytes 20-27).
func decodeSwitchboardAccount(data []byte) (mantissa *big.Int, scale uint32, roundOpenTS int64, err error) {
	const minLen = 16 + 4 + 8
	if len(data) < minLen {
		return nil, 0, 0, fmt.Errorf("switchboard account data too short: %d bytes", len(data))
	}

	mantissa = new(big.Int)
	// u128 little-endian: low 8 bytes first, then high 8 bytes.
	lo := binary.LittleEndian.Uint64(data[0:8])
	hi := binary.LittleEndian.Uint64(data[8:16])
	mantissa.SetUint64(hi)
	mantissa.Lsh(mantissa, 64)
	mantissa.Or(mantissa, new(big.Int).SetUint64(lo))

	scale = binary.LittleEndian.Uint32(data[16:20])
	roundOpenTS = int64(binary.LittleEndian.Uint64(data[20:28]))
	return mantissa, scale, roundOpenTS, nil
}

func (a *SwitchboardAdapter) throttle() {
	a.mu.Lock()
	defer a.mu.Unlock()
	elapsed := time.Since(a.lastRequest)
	if elapsed < switchboardMinRequestGap {
		time.Sleep(switchboardMinRequestGap - elapsed)
	}
	a.lastRequest = time.Now()
}
