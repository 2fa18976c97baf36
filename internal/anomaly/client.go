package anomaly

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"signalbot/pkg/types"
)

// healthResponse mirrors the wire shape of getMarketHealth() (spec §6):
// {isHealthy, recommendation, highestSeverity, criticalIssues, recentAnomalyTypes}.
type healthResponse struct {
	IsHealthy          bool     `json:"isHealthy"`
	Recommendation     string   `json:"recommendation"`
	HighestSeverity    string   `json:"highestSeverity"`
	CriticalIssues     []string `json:"criticalIssues"`
	RecentAnomalyTypes []string `json:"recentAnomalyTypes"`
}

// Client is the REST client for the external anomaly detector, rate-limited
// and retried the same way the teacher's exchange.Client talks to the CLOB
// REST API.
type Client struct {
	http *resty.Client
	rl   *TokenBucket
}

// NewClient builds a Client pointed at baseURL, rate-limited to ratePerSecond
// requests/sec with the given burst capacity.
func NewClient(baseURL string, capacity, ratePerSecond float64) *Client {
	httpClient := resty.New().
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
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http: httpClient,
		rl:   NewTokenBucket(capacity, ratePerSecond),
	}
}

// GetMarketHealth implements signalmanager.MarketHealthProvider.
func (c *Client) GetMarketHealth(ctx context.Context) (types.MarketHealthSnapshot, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return types.MarketHealthSnapshot{}, err
	}

	var result healthResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/market-health")
	if err != nil {
		return types.MarketHealthSnapshot{}, fmt.Errorf("get market health: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.MarketHealthSnapshot{}, fmt.Errorf("get market health: status %d: %s", resp.StatusCode(), resp.String())
	}

	return types.MarketHealthSnapshot{
		IsHealthy:          result.IsHealthy,
		Recommendation:     result.Recommendation,
		HighestSeverity:    result.HighestSeverity,
		CriticalIssues:     result.CriticalIssues,
		RecentAnomalyTypes: result.RecentAnomalyTypes,
		EvaluatedAt:        time.Now().UnixMilli(),
	}, nil
}
