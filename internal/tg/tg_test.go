package tg

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.salikov.me/argus/internal/testutil"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func testClient(mux *http.ServeMux) *Client {
	return &Client{
		Token: "test",
		HTTPClient: &http.Client{
			Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, r)
				return w.Result(), nil
			}),
		},
	}
}

func TestSendMessage(t *testing.T) {
	t.Parallel()

	var got OutgoingMessage
	mux := http.NewServeMux()
	mux.HandleFunc("POST api.telegram.org/bottest/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":7}}`)
	})

	c := testClient(mux)
	msg, err := c.SendMessage(t.Context(), &OutgoingMessage{ChatID: 123, Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, msg.ID, int64(7))
	testutil.AssertEqual(t, got.ChatID, int64(123))
	testutil.AssertEqual(t, got.Text, "hi")
}

func TestAPIError(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST api.telegram.org/bottest/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`)
	})

	c := testClient(mux)
	_, err := c.SendMessage(t.Context(), &OutgoingMessage{ChatID: 1, Text: "*oops"})
	if err == nil {
		t.Fatal("expected an error")
	}

	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("got %T, want *Error", err)
	}
	testutil.AssertEqual(t, te.Code, 400)
	testutil.AssertEqual(t, IsParseError(err), true)
	testutil.AssertEqual(t, IsConflict(err), false)
}

func TestIsConflict(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST api.telegram.org/bottest/getUpdates", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"ok":false,"error_code":409,"description":"Conflict: terminated by other getUpdates request"}`)
	})

	c := testClient(mux)
	_, err := c.GetUpdates(t.Context(), 0, 0)
	testutil.AssertEqual(t, IsConflict(err), true)
}

func TestGetUpdates(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST api.telegram.org/bottest/getUpdates", func(w http.ResponseWriter, r *http.Request) {
		var args struct {
			Offset int64 `json:"offset"`
		}
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, args.Offset, int64(42))
		fmt.Fprint(w, `{"ok":true,"result":[{"update_id":42,"message":{"message_id":1,"text":"/start"}}]}`)
	})

	c := testClient(mux)
	updates, err := c.GetUpdates(t.Context(), 42, 0)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(updates), 1)
	testutil.AssertEqual(t, updates[0].ID, int64(42))
	testutil.AssertEqual(t, updates[0].Message.Text, "/start")
}

func TestGetChatMember(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST api.telegram.org/bottest/getChatMember", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true,"result":{"status":"member"}}`)
	})

	c := testClient(mux)
	member, err := c.GetChatMember(t.Context(), "@channel", 1)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, member.IsMember(), true)
}

func TestIsMember(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"creator":       true,
		"administrator": true,
		"member":        true,
		"restricted":    true,
		"left":          false,
		"kicked":        false,
		"":              false,
	}
	for status, want := range cases {
		got := ChatMember{Status: status}.IsMember()
		if got != want {
			t.Errorf("IsMember(%q) = %v, want %v", status, got, want)
		}
	}
}
