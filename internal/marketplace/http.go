// internal/marketplace/http.go
package marketplace

import (
	"bytes"
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

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/javajoker/marketsync/internal/models"
)

// HTTPAdapter talks to a JSON gateway in front of the marketplace API.
//
// Endpoints:
//
//	GET  {base}/offers?marketplace=...&asin=...   -> {"notifications":["<xml>", ...]}
//	GET  {base}/prices?marketplace=...&sku=...    -> {"price":"..","shipping_price":"..","fee":".."}, 404 if unknown
//	GET  {base}/catalog?marketplace=...&code=...  -> {"items":[{"id":"..","title":".."}]}
//	POST {base}/feeds?marketplace=...&type=...    -> {"feed_id":".."}
//
// Every request waits on a shared token bucket. 429 and 503 answers are
// retried honoring Retry-After and surface as *ThrottledError once retries
// run out.
type HTTPAdapter struct {
	baseURL    string
	sellerID   string
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
}

type HTTPAdapterOptions struct {
	BaseURL           string
	SellerID          string
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	Timeout           time.Duration
	// Backoff is the first wait when the server sends no Retry-After.
	Backoff time.Duration
}

func NewHTTPAdapter(opts HTTPAdapterOptions) (*HTTPAdapter, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, errors.New("BaseURL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid BaseURL: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &HTTPAdapter{
		baseURL:    strings.TrimRight(base, "/"),
		sellerID:   strings.TrimSpace(opts.SellerID),
		client:     &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		maxRetries: retries,
		backoff:    backoff,
	}, nil
}

func (a *HTTPAdapter) endpoint(path string, query url.Values) string {
	return a.baseURL + path + "?" + query.Encode()
}

func (a *HTTPAdapter) GetOffers(ctx context.Context, marketplaceCode string, asins []string) ([]string, error) {
	q := url.Values{"marketplace": {marketplaceCode}}
	for _, asin := range asins {
		q.Add("asin", asin)
	}
	body, _, err := a.do(ctx, http.MethodGet, a.endpoint("/offers", q), nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Notifications []string `json:"notifications"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("offers payload parse: %w", err)
	}
	return out.Notifications, nil
}

func (a *HTTPAdapter) GetPrice(ctx context.Context, marketplaceCode, sku string) (*PriceInfo, error) {
	q := url.Values{"marketplace": {marketplaceCode}, "sku": {sku}}
	body, status, err := a.do(ctx, http.MethodGet, a.endpoint("/prices", q), nil)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var info PriceInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("price payload parse: %w", err)
	}
	return &info, nil
}

func (a *HTTPAdapter) GetCatalogMatches(ctx context.Context, externalCode, marketplaceCode string) ([]CatalogItem, error) {
	q := url.Values{"marketplace": {marketplaceCode}, "code": {externalCode}}
	body, _, err := a.do(ctx, http.MethodGet, a.endpoint("/catalog", q), nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Items []CatalogItem `json:"items"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("catalog payload parse: %w", err)
	}
	items := out.Items[:0]
	for _, it := range out.Items {
		it.ID = strings.TrimSpace(it.ID)
		it.Title = strings.TrimSpace(it.Title)
		if it.ID != "" {
			items = append(items, it)
		}
	}
	return items, nil
}

func (a *HTTPAdapter) SubmitFeed(ctx context.Context, feedType models.FeedType, marketplaceCode string, document []byte) (string, error) {
	q := url.Values{"marketplace": {marketplaceCode}, "type": {string(feedType)}}
	body, _, err := a.do(ctx, http.MethodPost, a.endpoint("/feeds", q), document)
	if err != nil {
		return "", err
	}
	var out struct {
		FeedID string `json:"feed_id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("feed payload parse: %w", err)
	}
	if out.FeedID == "" {
		return "", errors.New("feed submission returned no feed id")
	}
	return out.FeedID, nil
}

func (a *HTTPAdapter) do(ctx context.Context, method, u string, payload []byte) ([]byte, int, error) {
	for attempt := 0; ; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
		if err != nil {
			return nil, 0, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "text/tab-separated-values")
		}
		if a.sellerID != "" {
			req.Header.Set("X-Seller-Id", a.sellerID)
		}

		resp, err := a.client.Do(req)
		if err != nil {
			return nil, 0, err
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		status := resp.StatusCode

		if status >= 200 && status < 300 {
			if readErr != nil {
				return nil, status, fmt.Errorf("read response: %w", readErr)
			}
			return body, status, nil
		}
		if status != http.StatusTooManyRequests && status != http.StatusServiceUnavailable {
			return nil, status, fmt.Errorf("http status %d", status)
		}

		wait := retryAfter(resp.Header.Get("Retry-After"), a.backoff<<attempt)
		if attempt >= a.maxRetries {
			return nil, status, &ThrottledError{Status: status, RetryAfter: wait}
		}

		logrus.WithFields(logrus.Fields{
			"status":  status,
			"attempt": attempt + 1,
			"wait":    wait,
		}).Warn("Marketplace throttled request, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, status, ctx.Err()
		case <-timer.C:
		}
	}
}

// retryAfter reads a Retry-After header given in seconds or as an HTTP date.
func retryAfter(header string, fallback time.Duration) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
		return 0
	}
	return fallback
}
