// Package media provides a client for the media download API and the logic
// for deciding how resolved items should be delivered.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.salikov.me/argus/internal/request"
)

// ErrNoMedia is returned when the API response contained no playable URLs.
var ErrNoMedia = errors.New("media: nothing to download")

// Item is a single downloadable media item.
type Item struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Client represents a media download API client.
type Client struct {
	// BaseURL is the base URL of the download service.
	BaseURL string
	// HTTPClient is an optional custom HTTP client object to use for requests.
	// If not provided, request.DefaultClient will be used.
	HTTPClient *http.Client
	// Scrubber is an optional strings.Replacer that scrubs unwanted data from
	// error messages.
	Scrubber *strings.Replacer
}

// response is the known shape of the download API. Services behind the same
// facade disagree on field names, so Resolve falls back to a deep scan of the
// raw payload when none of the known keys are present.
type response struct {
	Items []Item `json:"items"`
	Title string `json:"title"`
}

// Resolve asks the download service for the media behind link on the given
// platform and returns one item per playable URL found.
func (c *Client) Resolve(ctx context.Context, platform, link string) ([]Item, error) {
	raw, err := request.Make[json.RawMessage](ctx, request.Params{
		Method:     http.MethodGet,
		URL:        c.BaseURL + "/" + url.PathEscape(platform) + "?url=" + url.QueryEscape(link),
		HTTPClient: c.HTTPClient,
		Scrubber:   c.Scrubber,
	})
	if err != nil {
		return nil, err
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err == nil && len(resp.Items) > 0 {
		var items []Item
		for _, it := range resp.Items {
			if it.URL == "" {
				continue
			}
			if it.Title == "" {
				it.Title = resp.Title
			}
			items = append(items, it)
		}
		if len(items) > 0 {
			return items, nil
		}
	}

	// Unknown shape: deep-scan the payload for anything that looks like a
	// playable URL.
	urls := ExtractURLs(raw)
	if len(urls) == 0 {
		return nil, ErrNoMedia
	}
	items := make([]Item, 0, len(urls))
	for _, u := range urls {
		items = append(items, Item{URL: u})
	}
	return items, nil
}

const (
	// inlineSizeLimit is the largest media payload sent inline; anything
	// bigger (or of unknown size) is delivered as a plain link.
	inlineSizeLimit = 49 << 20 // 49 MiB
)

// ShouldInline probes url with a HEAD request and reports whether the item
// is small enough, and of the right content type, to be sent inline.
func (c *Client) ShouldInline(ctx context.Context, mediaURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, mediaURL, nil)
	if err != nil {
		return false
	}
	httpc := c.HTTPClient
	if httpc == nil {
		httpc = request.DefaultClient
	}
	res, err := httpc.Do(req)
	if err != nil {
		return false
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return false
	}
	if !strings.HasPrefix(res.Header.Get("Content-Type"), "video/") {
		return false
	}
	return res.ContentLength > 0 && res.ContentLength < inlineSizeLimit
}
