package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultBaseURL = "https://query2.finance.yahoo.com"

// HTTPProvider reads quotes from a Yahoo Finance compatible v7 quote endpoint.
type HTTPProvider struct {
	cli     *http.Client
	baseURL string
	logger  *slog.Logger
}

func NewHTTPProvider(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPProvider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPProvider{
		cli:     &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

type quoteResponse struct {
	QuoteResponse struct {
		Result []struct {
			Symbol             string  `json:"symbol"`
			Bid                float64 `json:"bid"`
			Ask                float64 `json:"ask"`
			RegularMarketPrice float64 `json:"regularMarketPrice"`
			RegularMarketTime  int64   `json:"regularMarketTime"`
		} `json:"result"`
		Error any `json:"error"`
	} `json:"quoteResponse"`
}

func (p *HTTPProvider) Quote(ctx context.Context, symbol string) (Quote, error) {
	symbol = normalize(symbol)
	if symbol == "" {
		return Quote{}, ErrUnknownSymbol
	}
	endpoint := p.baseURL + "/v7/finance/quote?symbols=" + url.QueryEscape(symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("User-Agent", "papertrade/1.0")

	resp, err := p.cli.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("%w: upstream http %d", ErrUnavailable, resp.StatusCode)
	}

	var raw quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Quote{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if len(raw.QuoteResponse.Result) == 0 {
		return Quote{}, ErrUnknownSymbol
	}
	r := raw.QuoteResponse.Result[0]
	bid, ask := r.Bid, r.Ask
	// Outside market hours the book is often empty; fall back to the last trade.
	if bid <= 0 {
		bid = r.RegularMarketPrice
	}
	if ask <= 0 {
		ask = r.RegularMarketPrice
	}
	q := Quote{
		Symbol: symbol,
		Bid:    decimal.NewFromFloat(bid),
		Ask:    decimal.NewFromFloat(ask),
		AsOf:   time.Unix(r.RegularMarketTime, 0).UTC(),
	}
	if r.RegularMarketTime == 0 {
		q.AsOf = time.Now().UTC()
	}
	if !q.Valid() {
		p.logger.Warn("quote without price", "symbol", symbol)
		return Quote{}, fmt.Errorf("%w: no price for %s", ErrUnavailable, symbol)
	}
	return q, nil
}
