// Package lookup provides a client for the OSINT lookup API.
//
// The wrapped service exposes one endpoint per record kind (phone, email,
// IP and so on); the bot treats all of them identically: a query in, a JSON
// payload out.
package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.salikov.me/argus/internal/request"
)

// ErrNoResult is returned when the API responded but carried no usable
// payload.
var ErrNoResult = errors.New("lookup: no result")

// Client represents a lookup API client.
type Client struct {
	// BaseURL is the base URL of the lookup service.
	BaseURL string
	// APIKey is the access key passed with every request.
	APIKey string
	// HTTPClient is an optional custom HTTP client object to use for requests.
	// If not provided, request.DefaultClient will be used.
	HTTPClient *http.Client
	// Scrubber is an optional strings.Replacer that scrubs the API key from
	// error messages.
	Scrubber *strings.Replacer
}

// Lookup queries the endpoint for the given record kind and returns the raw
// JSON payload. An empty or null payload is reported as [ErrNoResult].
func (c *Client) Lookup(ctx context.Context, kind, query string) (json.RawMessage, error) {
	u := c.BaseURL + "/" + url.PathEscape(kind) + "?q=" + url.QueryEscape(query)
	if c.APIKey != "" {
		u += "&key=" + url.QueryEscape(c.APIKey)
	}
	raw, err := request.Make[json.RawMessage](ctx, request.Params{
		Method:     http.MethodGet,
		URL:        u,
		HTTPClient: c.HTTPClient,
		Scrubber:   c.Scrubber,
	})
	if err != nil {
		return nil, err
	}
	if emptyPayload(raw) {
		return nil, ErrNoResult
	}
	return raw, nil
}

func emptyPayload(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", "{}", "[]", `""`:
		return true
	}
	return false
}
