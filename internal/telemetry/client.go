// Package telemetry fetches raw behavioral events from the upstream
// analytics provider's query API.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/bugscout/bugscout/internal/event"
)

// maxPages bounds pagination per kind so a misbehaving cursor cannot loop
// forever.
const maxPages = 20

// providerEventNames maps internal kinds to the provider's event names.
var providerEventNames = map[event.Kind]string{
	event.KindException: "$exception",
	event.KindRageClick: "$rageclick",
	event.KindDeadClick: "$dead_click",
}

// Client queries the analytics provider over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	pageLimit  int
	httpClient *http.Client
}

// NewClient creates a provider client. The timeout bounds each page request
// individually.
func NewClient(baseURL, apiKey string, pageLimit int, timeout time.Duration) *Client {
	if pageLimit <= 0 {
		pageLimit = 500
	}
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		apiKey:    apiKey,
		pageLimit: pageLimit,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type eventsPage struct {
	Results []event.RawEvent `json:"results"`
	Next    string           `json:"next"`
}

// Fetch returns all raw events of one kind since the given time, following
// pagination until the provider reports no further page.
func (c *Client) Fetch(ctx context.Context, kind event.Kind, since time.Time) ([]event.RawEvent, error) {
	name, ok := providerEventNames[kind]
	if !ok {
		return nil, fmt.Errorf("fetch: unknown event kind %q", kind)
	}

	query := url.Values{}
	query.Set("event", name)
	query.Set("after", since.UTC().Format(time.RFC3339))
	query.Set("limit", strconv.Itoa(c.pageLimit))
	next := c.baseURL + "/api/events?" + query.Encode()

	var all []event.RawEvent
	for page := 0; next != "" && page < maxPages; page++ {
		events, nextURL, err := c.fetchPage(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("fetch %s page %d: %w", kind, page, err)
		}
		all = append(all, events...)
		next = nextURL
	}
	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) ([]event.RawEvent, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(data))
	}

	var page eventsPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, "", fmt.Errorf("parse response: %w", err)
	}
	return page.Results, page.Next, nil
}

// FetchAll fetches every tracked kind concurrently, one independent call
// chain per kind. A kind whose fetch fails contributes no events but never
// blocks the others; partial results are acceptable.
func (c *Client) FetchAll(ctx context.Context, since time.Time) map[event.Kind][]event.RawEvent {
	var mu sync.Mutex
	results := make(map[event.Kind][]event.RawEvent, len(event.TrackedKinds))

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range event.TrackedKinds {
		kind := kind
		g.Go(func() error {
			events, err := c.Fetch(gctx, kind, since)
			if err != nil {
				log.Error().Err(err).Str("kind", string(kind)).
					Msg("Failed to fetch events, continuing with remaining kinds")
				return nil
			}
			mu.Lock()
			results[kind] = events
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return results
}
