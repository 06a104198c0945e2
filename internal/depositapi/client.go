// Package depositapi is the HTTP client for the deposit-status endpoint.
package depositapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ads-marketplace/deposit-tracker/internal/models"
	"go.uber.org/zap"
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(baseURL, token string, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

// FetchDepositStatus asks the backend for the current deposit state of a deal.
// The endpoint is idempotent, so callers may repeat it freely.
func (c *Client) FetchDepositStatus(ctx context.Context, dealID string) (*models.DepositStatus, error) {
	u := fmt.Sprintf("%s/deals/%s/deposit", c.baseURL, url.PathEscape(dealID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deposit api unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var status models.DepositStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if !models.IsKnownDepositStatus(status.Status) {
		return nil, &DecodeError{Err: fmt.Errorf("unknown status %q", status.Status)}
	}

	c.log.Debug("deposit status fetched",
		zap.String("deal_id", dealID),
		zap.String("status", status.Status),
	)
	return &status, nil
}
