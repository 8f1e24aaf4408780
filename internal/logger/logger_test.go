package logger

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.salikov.me/argus/internal/testutil"
)

func TestBufferRetainsLastLines(t *testing.T) {
	t.Parallel()

	b := NewBuffer(3)
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(b, "line %d\n", i)
	}
	testutil.AssertEqual(t, b.Lines(), []string{"line 3", "line 4", "line 5"})
}

func TestBufferPartialWrites(t *testing.T) {
	t.Parallel()

	b := NewBuffer(10)
	b.Write([]byte("hello, "))
	b.Write([]byte("world\nsecond"))
	testutil.AssertEqual(t, b.Lines(), []string{"hello, world"})
	b.Write([]byte(" line\n"))
	testutil.AssertEqual(t, b.Lines(), []string{"hello, world", "second line"})
}

func TestBufferServeHTTP(t *testing.T) {
	t.Parallel()

	b := NewBuffer(10)
	fmt.Fprintln(b, "something happened")

	w := httptest.NewRecorder()
	b.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/log", nil))

	testutil.AssertEqual(t, w.Code, http.StatusOK)
	if !strings.Contains(w.Body.String(), "something happened") {
		t.Fatalf("body doesn't contain the log line: %q", w.Body.String())
	}
}

func TestLogfWriter(t *testing.T) {
	t.Parallel()

	var got string
	f := Logf(func(format string, args ...any) {
		got = fmt.Sprintf(format, args...)
	})
	fmt.Fprint(f, "hello")
	testutil.AssertEqual(t, got, "hello")
}
