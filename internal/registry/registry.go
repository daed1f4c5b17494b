// Package registry talks to the procurement-plan registry: paginated plan
// listings and raw spreadsheet downloads.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"

	"zakupbot/internal/config"
	"zakupbot/internal/model"
)

// Spreadsheets can run large; cap reads well above anything seen upstream.
const maxDownloadBytes = 50 * 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client retrieves plan metadata and spreadsheet bytes from the registry.
type Client struct {
	client      HTTPClient
	listURL     string
	downloadURL string
	pageSize    int
	maxPages    int
}

// New creates a Client with the given HTTP client and registry settings.
func New(client HTTPClient, cfg config.RegistryConfig) *Client {
	return &Client{
		client:      client,
		listURL:     cfg.ListURL,
		downloadURL: cfg.DownloadURL,
		pageSize:    cfg.PageSize,
		maxPages:    cfg.MaxPages,
	}
}

// ListPlans pages through the registry listing for the given year and
// concatenates all pages in arrival order. Paging stops at the first page
// shorter than the page size, or after maxPages pages.
func (c *Client) ListPlans(ctx context.Context, year int) ([]model.Plan, error) {
	var all []model.Plan
	for page := 0; page < c.maxPages; page++ {
		plans, err := c.listPage(ctx, year, page)
		if err != nil {
			return nil, fmt.Errorf("list page %d: %w", page, err)
		}
		all = append(all, plans...)
		if len(plans) < c.pageSize {
			break
		}
	}
	return all, nil
}

// listPage fetches one listing page, retrying transient failures.
func (c *Client) listPage(ctx context.Context, year, page int) ([]model.Plan, error) {
	backoff := retry.WithMaxRetries(2, retry.NewExponential(500*time.Millisecond))

	var plans []model.Plan
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		body, err := c.get(ctx, c.pageURL(year, page))
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &plans); err != nil {
			return fmt.Errorf("decode listing: %w", err)
		}
		return nil
	})
	return plans, err
}

func (c *Client) pageURL(year, page int) string {
	q := url.Values{}
	q.Set("year", strconv.Itoa(year))
	q.Set("size", strconv.Itoa(c.pageSize))
	q.Set("page", strconv.Itoa(page))
	return c.listURL + "?" + q.Encode()
}

// Download fetches the raw spreadsheet bytes for a file identifier.
func (c *Client) Download(ctx context.Context, fileUID string) ([]byte, error) {
	body, err := c.get(ctx, c.downloadURL+"/"+url.PathEscape(fileUID))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", fileUID, err)
	}
	return body, nil
}

// get performs one GET request. Network errors and 5xx statuses are marked
// retryable; everything else is permanent.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "ZakupBot/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, retry.RetryableError(fmt.Errorf("http get: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		if resp.StatusCode >= 500 {
			return nil, retry.RetryableError(err)
		}
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, retry.RetryableError(fmt.Errorf("read body: %w", err))
	}
	return body, nil
}
