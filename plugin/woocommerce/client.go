// Package woocommerce is a read-mostly client for the WooCommerce REST API (wc/v3).
package woocommerce

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	apiPath = "/wp-json/wc/v3"

	// DefaultPerPage is the page size used when fetching every page of a collection.
	DefaultPerPage = 100
	// MaxPages bounds FetchAll against a server that never reports the last page.
	MaxPages = 1000

	headerTotal      = "X-WP-Total"
	headerTotalPages = "X-WP-TotalPages"

	// TimeLayout is the ISO-8601 form the API accepts for after/before filters.
	TimeLayout = "2006-01-02T15:04:05"
)

// ErrMissingCredentials is returned when any part of the credential triple is empty.
var ErrMissingCredentials = errors.New("missing store credentials")

// Credentials bind a client to one store. They are supplied per request and never cached.
type Credentials struct {
	URL            string `json:"url"`
	ConsumerKey    string `json:"consumerKey"`
	ConsumerSecret string `json:"consumerSecret"`
}

// Validate reports which credential fields are missing.
func (c *Credentials) Validate() error {
	if c == nil {
		return errors.Wrap(ErrMissingCredentials, "url, consumerKey and consumerSecret are required")
	}
	var missing []string
	if strings.TrimSpace(c.URL) == "" {
		missing = append(missing, "url")
	}
	if strings.TrimSpace(c.ConsumerKey) == "" {
		missing = append(missing, "consumerKey")
	}
	if strings.TrimSpace(c.ConsumerSecret) == "" {
		missing = append(missing, "consumerSecret")
	}
	if len(missing) > 0 {
		return errors.Wrapf(ErrMissingCredentials, "missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// APIError is a non-2xx response from the store.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("store API returned status %d", e.StatusCode)
	}
	if e.Code == "" {
		return fmt.Sprintf("store API returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("store API returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Params are query parameters. Values are formatted with fmt, slices are joined with commas.
type Params map[string]any

// Page is one page of a collection endpoint.
type Page struct {
	Items      []map[string]any
	Total      int
	TotalPages int
}

// Client talks to a single store.
type Client struct {
	baseURL     string
	credentials Credentials
	httpClient  *http.Client
	limiter     *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit paces requests to rps requests per second. Zero disables pacing.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// NewClient validates creds and returns a client for the store.
func NewClient(creds *Credentials, opts ...Option) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	base := strings.TrimRight(strings.TrimSpace(creds.URL), "/")
	if !strings.HasSuffix(base, apiPath) {
		base += apiPath
	}
	c := &Client{
		baseURL:     base,
		credentials: *creds,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL is the wc/v3 root of the store.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get decodes the JSON body of endpoint into any.
func (c *Client) Get(ctx context.Context, endpoint string, params Params) (any, error) {
	var out any
	if _, err := c.do(ctx, endpoint, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// List fetches one page of a collection endpoint along with the pagination headers.
func (c *Client) List(ctx context.Context, endpoint string, params Params) (*Page, error) {
	var items []map[string]any
	header, err := c.do(ctx, endpoint, params, &items)
	if err != nil {
		return nil, err
	}
	page := &Page{Items: items}
	page.Total, _ = strconv.Atoi(header.Get(headerTotal))
	page.TotalPages, _ = strconv.Atoi(header.Get(headerTotalPages))
	return page, nil
}

// FetchAll follows pagination until the last page, one page at a time.
func (c *Client) FetchAll(ctx context.Context, endpoint string, params Params) ([]map[string]any, error) {
	query := Params{}
	for k, v := range params {
		query[k] = v
	}
	perPage := DefaultPerPage
	if v, ok := query["per_page"]; ok {
		if n, err := strconv.Atoi(fmt.Sprint(v)); err == nil && n > 0 {
			perPage = n
		}
	}
	query["per_page"] = perPage

	var all []map[string]any
	for page := 1; page <= MaxPages; page++ {
		query["page"] = page
		p, err := c.List(ctx, endpoint, query)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to fetch page %d of %s", page, endpoint)
		}
		all = append(all, p.Items...)
		if len(p.Items) == 0 {
			break
		}
		if p.TotalPages > 0 {
			if page >= p.TotalPages {
				break
			}
		} else if len(p.Items) < perPage {
			break
		}
	}
	return all, nil
}

func (c *Client) do(ctx context.Context, endpoint string, params Params, out any) (http.Header, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "rate limiter")
		}
	}
	u := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	query := encodeParams(params)
	query.Set("consumer_key", c.credentials.ConsumerKey)
	query.Set("consumer_secret", c.credentials.ConsumerSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u+"?"+query.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "request to %s failed", endpoint)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &payload) == nil {
			apiErr.Code, apiErr.Message = payload.Code, payload.Message
		}
		return nil, apiErr
	}
	if err := json.Unmarshal(body, out); err != nil {
		return nil, errors.Wrapf(err, "failed to decode response from %s", endpoint)
	}
	return resp.Header, nil
}

func encodeParams(params Params) url.Values {
	values := url.Values{}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := params[k].(type) {
		case nil:
		case string:
			if v != "" {
				values.Set(k, v)
			}
		case float64:
			values.Set(k, strconv.FormatFloat(v, 'f', -1, 64))
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
			values.Set(k, strings.Join(parts, ","))
		case []string:
			values.Set(k, strings.Join(v, ","))
		case []int:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, strconv.Itoa(item))
			}
			values.Set(k, strings.Join(parts, ","))
		case time.Time:
			values.Set(k, v.Format(TimeLayout))
		default:
			values.Set(k, fmt.Sprint(v))
		}
	}
	return values
}
