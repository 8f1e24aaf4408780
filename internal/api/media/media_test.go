package media

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.salikov.me/argus/internal/testutil"
)

func TestResolveKnownShape(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		testutil.AssertEqual(t, r.URL.Path, "/tiktok")
		testutil.AssertEqual(t, r.URL.Query().Get("url"), "https://example.com/v/1")
		fmt.Fprint(w, `{"title":"A video","items":[{"url":"https://cdn.example.com/v.mp4"}]}`)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL}
	items, err := c.Resolve(t.Context(), "tiktok", "https://example.com/v/1")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, items, []Item{{URL: "https://cdn.example.com/v.mp4", Title: "A video"}})
}

func TestResolveUnknownShape(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A shape the client has never seen; the deep scan digs the URLs out.
		fmt.Fprint(w, `{"data":{"media":[{"play":"https://cdn.example.com/a.mp4"},{"play":"https://cdn.example.com/b.mp4"}]}}`)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL}
	items, err := c.Resolve(t.Context(), "instagram", "https://example.com/p/2")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, items, []Item{
		{URL: "https://cdn.example.com/a.mp4"},
		{URL: "https://cdn.example.com/b.mp4"},
	})
}

func TestResolveNoMedia(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok","message":"nothing here"}`)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL}
	_, err := c.Resolve(t.Context(), "instagram", "https://example.com/p/3")
	if !errors.Is(err, ErrNoMedia) {
		t.Fatalf("got %v, want ErrNoMedia", err)
	}
}

func TestExtractURLs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "priority keys win over order",
			raw:  `{"z_first":"https://example.com/other","play":"https://example.com/play.mp4"}`,
			want: []string{"https://example.com/play.mp4", "https://example.com/other"},
		},
		{
			name: "deduplicates",
			raw:  `{"url":"https://example.com/a","link":"https://example.com/a"}`,
			want: []string{"https://example.com/a"},
		},
		{
			name: "skips non-URL strings",
			raw:  `{"url":"not a url","title":"hello","play":"https://example.com/v.mp4"}`,
			want: []string{"https://example.com/v.mp4"},
		},
		{
			name: "walks nested arrays",
			raw:  `[[{"video_url":"https://example.com/1"}],[{"video_url":"https://example.com/2"}]]`,
			want: []string{"https://example.com/1", "https://example.com/2"},
		},
		{
			name: "nothing to find",
			raw:  `{"count":3,"ok":true}`,
			want: nil,
		},
		{
			name: "invalid json",
			raw:  `{broken`,
			want: nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractURLs(json.RawMessage(tc.raw))
			testutil.AssertEqual(t, got, tc.want)
		})
	}
}

func TestShouldInline(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name          string
		contentType   string
		contentLength int64
		status        int
		want          bool
	}{
		{"small video", "video/mp4", 10 << 20, http.StatusOK, true},
		{"too big", "video/mp4", 60 << 20, http.StatusOK, false},
		{"not a video", "image/jpeg", 1 << 20, http.StatusOK, false},
		{"unknown size", "video/mp4", 0, http.StatusOK, false},
		{"not found", "video/mp4", 1 << 20, http.StatusNotFound, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				testutil.AssertEqual(t, r.Method, http.MethodHead)
				w.Header().Set("Content-Type", tc.contentType)
				w.Header().Set("Content-Length", fmt.Sprint(tc.contentLength))
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			c := &Client{}
			testutil.AssertEqual(t, c.ShouldInline(t.Context(), srv.URL), tc.want)
		})
	}
}
