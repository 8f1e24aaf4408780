package request_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.salikov.me/argus/internal/request"
	"go.salikov.me/argus/internal/testutil"
)

func TestMake(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/test" {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"success"}`))
	}))
	defer ts.Close()

	cases := map[string]struct {
		params  request.Params
		want    string
		wantErr bool
	}{
		"successful request": {
			params: request.Params{
				Method: http.MethodPost,
				URL:    ts.URL + "/test",
				Body:   map[string]string{"key": "value"},
			},
			want: "success",
		},
		"successful request with headers": {
			params: request.Params{
				Method: http.MethodPost,
				URL:    ts.URL + "/test",
				Headers: map[string]string{
					"X-Test": "test",
				},
				Body: map[string]string{"key": "value"},
			},
			want: "success",
		},
		"custom HTTP client": {
			params: request.Params{
				Method:     http.MethodPost,
				URL:        ts.URL + "/test",
				HTTPClient: &http.Client{},
				Body:       map[string]string{"key": "value"},
			},
			want: "success",
		},
		"invalid request method": {
			params: request.Params{
				Method: http.MethodGet,
				URL:    ts.URL + "/test",
			},
			wantErr: true,
		},
		"invalid request path": {
			params: request.Params{
				Method: http.MethodPost,
				URL:    ts.URL + "/invalid",
			},
			wantErr: true,
		},
		"invalid value for JSON": {
			params: request.Params{
				Method: http.MethodPost,
				URL:    ts.URL + "/test",
				Body:   make(chan int),
			},
			wantErr: true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			resp, err := request.Make[struct {
				Message string `json:"message"`
			}](t.Context(), tc.params)
			if err != nil {
				if !tc.wantErr {
					t.Errorf("Make() error = %v, wantErr %v", err, tc.wantErr)
				}
				return
			}
			if tc.wantErr {
				t.Errorf("Make() expected error, got none")
			} else if resp.Message != tc.want {
				t.Errorf("Make() got = %v, want %v", resp.Message, tc.want)
			}
		})
	}
}

func TestMakeBlankBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("  \n"))
	}))
	defer ts.Close()

	// A 200 with a whitespace-only body decodes to the zero value instead of
	// failing to unmarshal.
	resp, err := request.Make[struct {
		Message string `json:"message"`
	}](t.Context(), request.Params{
		Method: http.MethodGet,
		URL:    ts.URL,
	})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, resp.Message, "")
}

func TestMakeStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer ts.Close()

	_, err := request.Make[request.IgnoreResponse](t.Context(), request.Params{
		Method: http.MethodGet,
		URL:    ts.URL,
	})

	var se *request.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("got %T, want *request.StatusError", err)
	}
	testutil.AssertEqual(t, se.StatusCode, http.StatusForbidden)
}

func TestMakeScrubsSecrets(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token s3cret", http.StatusUnauthorized)
	}))
	defer ts.Close()

	_, err := request.Make[request.IgnoreResponse](t.Context(), request.Params{
		Method:   http.MethodGet,
		URL:      ts.URL + "/?token=s3cret",
		Scrubber: strings.NewReplacer("s3cret", "[EXPUNGED]"),
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if strings.Contains(err.Error(), "s3cret") {
		t.Fatalf("error leaks the secret: %v", err)
	}
	if !strings.Contains(err.Error(), "[EXPUNGED]") {
		t.Fatalf("error was not scrubbed: %v", err)
	}
}
