// Package oracle fetches historical and live prices from a Hermes-compatible
// price service.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://hermes.pyth.network/v2/updates"

// ErrPriceUnavailable means every probe failed. Callers treat it as missing data.
var ErrPriceUnavailable = errors.New("oracle: price unavailable")

var errNoPrice = errors.New("no parsable price in response")

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("oracle API error (%d): %s", e.Status, e.Body)
}

// Quote is a single parsed price observation.
type Quote struct {
	FeedID      string
	Price       decimal.Decimal
	PublishTime time.Time
	// ProbedAt is the unix timestamp that produced this quote; zero for latest.
	ProbedAt int64
}

type Client struct {
	host       string
	httpClient *http.Client

	Policy  RetryPolicy
	Limiter *rate.Limiter
	Logger  *zap.Logger
	Sleep   Sleeper
}

func NewClient(httpClient *http.Client, host string) *Client {
	if host == "" {
		host = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		host:       strings.TrimRight(host, "/"),
		httpClient: httpClient,
		Policy:     DefaultRetryPolicy(),
	}
}

// FetchPriceAt returns the first price found for feedID around target
// (unix seconds). It returns ErrPriceUnavailable once the policy is
// exhausted and ctx.Err() when cancelled.
func (c *Client) FetchPriceAt(ctx context.Context, feedID string, target int64) (Quote, error) {
	feedID = strings.TrimSpace(feedID)
	if feedID == "" {
		return Quote{}, fmt.Errorf("%w: feed id is required", ErrPriceUnavailable)
	}
	sleep := c.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	attempts := c.Policy.Attempts()
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		for _, ts := range c.Policy.Probes(target, attempt) {
			q, err := c.fetch(ctx, feedID, strconv.FormatInt(ts, 10))
			if err == nil {
				q.ProbedAt = ts
				return q, nil
			}
			if ctx.Err() != nil {
				return Quote{}, ctx.Err()
			}
			lastErr = err
			c.logWarn("oracle probe failed",
				zap.String("feed_id", feedID),
				zap.Int64("target", target),
				zap.Int64("probe", ts),
				zap.Int("attempt", attempt+1),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
		}
		if attempt < attempts-1 {
			if err := sleep(ctx, c.Policy.Delay(attempt)); err != nil {
				return Quote{}, err
			}
		}
	}
	return Quote{}, fmt.Errorf("%w: feed %s at %d: %v", ErrPriceUnavailable, feedID, target, lastErr)
}

// FetchLatestPrice makes a single request for the current price. It is
// meant for display and never retries.
func (c *Client) FetchLatestPrice(ctx context.Context, feedID string) (Quote, error) {
	feedID = strings.TrimSpace(feedID)
	if feedID == "" {
		return Quote{}, fmt.Errorf("%w: feed id is required", ErrPriceUnavailable)
	}
	q, err := c.fetch(ctx, feedID, "latest")
	if err != nil {
		c.logWarn("oracle latest price failed", zap.String("feed_id", feedID), zap.Error(err))
		return Quote{}, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	return q, nil
}

func (c *Client) fetch(ctx context.Context, feedID, at string) (Quote, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return Quote{}, err
		}
	}
	query := url.Values{}
	query.Add("ids[]", feedID)
	query.Set("parsed", "true")
	fullURL := c.host + "/price/" + at + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Quote{}, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	q, err := parseQuote(body)
	if err != nil {
		return Quote{}, err
	}
	q.FeedID = feedID
	return q, nil
}

type priceResponse struct {
	Parsed []struct {
		ID    string `json:"id"`
		Price struct {
			Price       string `json:"price"`
			Conf        string `json:"conf"`
			Expo        int32  `json:"expo"`
			PublishTime int64  `json:"publish_time"`
		} `json:"price"`
	} `json:"parsed"`
}

// parseQuote reads the first parsed entry. price = mantissa * 10^expo.
func parseQuote(body []byte) (Quote, error) {
	var payload priceResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Quote{}, fmt.Errorf("decode price response: %w", err)
	}
	if len(payload.Parsed) == 0 {
		return Quote{}, errNoPrice
	}
	entry := payload.Parsed[0]
	raw := strings.TrimSpace(entry.Price.Price)
	if raw == "" {
		return Quote{}, errNoPrice
	}
	mantissa, err := decimal.NewFromString(raw)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", errNoPrice, err)
	}
	price := mantissa.Shift(entry.Price.Expo)
	if !price.IsPositive() {
		return Quote{}, errNoPrice
	}
	q := Quote{Price: price}
	if entry.Price.PublishTime > 0 {
		q.PublishTime = time.Unix(entry.Price.PublishTime, 0).UTC()
	}
	return q, nil
}

func (c *Client) logWarn(msg string, fields ...zap.Field) {
	if c == nil || c.Logger == nil {
		return
	}
	c.Logger.Warn(msg, fields...)
}
