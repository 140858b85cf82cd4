package gutendex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/bookstore-backend/pkg/errors"
)

const (
	defaultBaseURL              = "https://gutendex.com/books"
	coverImageFormat            = "image/jpeg"
	requestBodyReadLimit  int64 = 1024
	defaultRequestTimeout       = 30 * time.Second
)

// PageSize is fixed by the upstream catalog.
const PageSize = 60

// Client fetches catalog pages from a Gutendex-compatible API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the catalog endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithTimeout sets the timeout on the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

func NewClient(opts ...Option) *Client {
	client := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

// Person is an author record as listed upstream.
type Person struct {
	ID        *int   `json:"id,omitempty"`
	Name      string `json:"name"`
	BirthYear *int   `json:"birth_year"`
	DeathYear *int   `json:"death_year"`
}

// BookSummary is one catalog entry.
type BookSummary struct {
	ID            int               `json:"id"`
	Title         string            `json:"title"`
	Authors       []Person          `json:"authors"`
	Subjects      []string          `json:"subjects"`
	Languages     []string          `json:"languages"`
	DownloadCount int               `json:"download_count"`
	Formats       map[string]string `json:"formats"`
}

// CoverImage returns the jpeg cover URL when the catalog lists one.
func (b BookSummary) CoverImage() string {
	return b.Formats[coverImageFormat]
}

// Page is a single page of catalog results.
type Page struct {
	Count    int           `json:"count"`
	Next     *string       `json:"next"`
	Previous *string       `json:"previous"`
	Results  []BookSummary `json:"results"`
}

// HasNext reports whether the upstream advertises another page.
func (p *Page) HasNext() bool {
	return p != nil && p.Next != nil && strings.TrimSpace(*p.Next) != ""
}

// FetchPage loads the given 1-based page. Non-200 responses, undecodable
// bodies and empty result sets are reported as CodeUpstream errors.
func (c *Client) FetchPage(ctx context.Context, page int) (*Page, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUpstream, "catalog client not configured")
	}
	if page < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "page must be >= 1")
	}

	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "parse catalog url")
	}
	q := endpoint.Query()
	q.Set("page", strconv.Itoa(page))
	endpoint.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "build catalog request")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "execute catalog request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, requestBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeUpstream, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "catalog request failed").
			WithDetails(map[string]any{"page": page, "status": resp.StatusCode})
	}

	var out Page
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "decode catalog response")
	}
	if len(out.Results) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeUpstream, "catalog page returned no results").
			WithDetails(map[string]any{"page": page})
	}
	return &out, nil
}
