// Package yahoo provides historical price fetching from the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/gdportfolio/internal/clientdata"
)

// DefaultBaseURL is the public chart API host
const DefaultBaseURL = "https://query1.finance.yahoo.com"

const userAgent = "Mozilla/5.0 (compatible; gdportfolio/1.0)"

// Bar is one period of price history
type Bar struct {
	Date     time.Time `msgpack:"date"`
	Open     float64   `msgpack:"open"`
	Dividend float64   `msgpack:"dividend"` // Dividends paid during the period
}

// Client for the Yahoo Finance chart API
type Client struct {
	baseURL   string
	client    *http.Client
	log       zerolog.Logger
	cacheRepo *clientdata.Repository
}

// NewClient creates a new Yahoo Finance client.
// baseURL defaults to DefaultBaseURL; cacheRepo is optional.
func NewClient(baseURL string, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: 15 * time.Second},
		log:       log.With().Str("client", "yahoo").Logger(),
		cacheRepo: cacheRepo,
	}
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Timestamp []int64 `json:"timestamp"`
	Events    struct {
		Dividends map[string]struct {
			Amount float64 `json:"amount"`
			Date   int64   `json:"date"`
		} `json:"dividends"`
	} `json:"events"`
	Indicators struct {
		Quote []struct {
			Open []*float64 `json:"open"`
		} `json:"quote"`
	} `json:"indicators"`
}

// GetHistory returns price history for ticker, oldest first.
// Fresh cached data is served without a request; if the API fails, stale
// cached data is returned instead of an error.
func (c *Client) GetHistory(ctx context.Context, ticker, period, interval string) ([]Bar, error) {
	cacheKey := strings.Join([]string{ticker, period, interval}, "|")

	if c.cacheRepo != nil {
		var cached []Bar
		found, err := c.cacheRepo.GetIfFresh(clientdata.TableYahooHistory, cacheKey, &cached)
		if err == nil && found {
			c.log.Debug().Str("ticker", ticker).Int("bars", len(cached)).Msg("Cache hit")
			return cached, nil
		}
	}

	bars, err := c.fetch(ctx, ticker, period, interval)
	if err != nil {
		if stale, ok := c.getStaleFromCache(cacheKey); ok {
			c.log.Warn().
				Err(err).
				Str("ticker", ticker).
				Int("bars", len(stale)).
				Msg("API failed, using stale cached history")
			return stale, nil
		}
		return nil, err
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store(clientdata.TableYahooHistory, cacheKey, bars, clientdata.TTLYahooHistory); err != nil {
			c.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to cache history")
		}
	}

	c.log.Info().
		Str("ticker", ticker).
		Str("period", period).
		Str("interval", interval).
		Int("bars", len(bars)).
		Msg("Fetched history")

	return bars, nil
}

func (c *Client) fetch(ctx context.Context, ticker, period, interval string) ([]Bar, error) {
	query := url.Values{}
	query.Set("range", period)
	query.Set("interval", interval)
	query.Set("events", "div")
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(ticker), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	c.log.Debug().Str("url", endpoint).Msg("Fetching history")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed for %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	var body chartResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && body.Chart.Error != nil {
			return nil, fmt.Errorf("API returned status %d for %s: %s", resp.StatusCode, ticker, body.Chart.Error.Description)
		}
		return nil, fmt.Errorf("API returned status %d for %s", resp.StatusCode, ticker)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to parse response for %s: %w", ticker, decodeErr)
	}
	if body.Chart.Error != nil {
		return nil, fmt.Errorf("API error for %s: %s", ticker, body.Chart.Error.Description)
	}
	if len(body.Chart.Result) == 0 {
		return nil, fmt.Errorf("no data returned for %s", ticker)
	}

	return toBars(body.Chart.Result[0])
}

// toBars pairs timestamps with opens, drops periods without an open and
// assigns each dividend to the period it was paid in.
func toBars(result chartResult) ([]Bar, error) {
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("response has no quote data")
	}
	opens := result.Indicators.Quote[0].Open
	if len(opens) != len(result.Timestamp) {
		return nil, fmt.Errorf("response has %d timestamps but %d opens", len(result.Timestamp), len(opens))
	}

	bars := make([]Bar, 0, len(opens))
	for i, ts := range result.Timestamp {
		if opens[i] == nil {
			continue
		}
		bars = append(bars, Bar{
			Date: time.Unix(ts, 0).UTC(),
			Open: *opens[i],
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })

	for _, div := range result.Events.Dividends {
		paid := time.Unix(div.Date, 0).UTC()
		// Last bar starting at or before the payment date
		idx := sort.Search(len(bars), func(i int) bool { return bars[i].Date.After(paid) }) - 1
		if idx >= 0 {
			bars[idx].Dividend += div.Amount
		}
	}

	return bars, nil
}

// getStaleFromCache retrieves cached history even if expired.
func (c *Client) getStaleFromCache(cacheKey string) ([]Bar, bool) {
	if c.cacheRepo == nil {
		return nil, false
	}

	var cached []Bar
	found, err := c.cacheRepo.Get(clientdata.TableYahooHistory, cacheKey, &cached)
	if err != nil || !found {
		return nil, false
	}

	return cached, true
}
