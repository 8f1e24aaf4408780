package set

import (
	"testing"

	"go.salikov.me/argus/internal/testutil"
)

func TestSet(t *testing.T) {
	t.Parallel()

	s := New[string](4)
	testutil.AssertEqual(t, s.Has("a"), false)

	testutil.AssertEqual(t, s.Add("a"), true)
	testutil.AssertEqual(t, s.Add("a"), false)
	testutil.AssertEqual(t, s.Has("a"), true)
	testutil.AssertEqual(t, s.Len(), 1)

	s.Add("c")
	s.Add("b")
	testutil.AssertEqual(t, s.ToSortedSlice(), []string{"a", "b", "c"})

	s.Del("a")
	testutil.AssertEqual(t, s.Has("a"), false)
	testutil.AssertEqual(t, s.Len(), 2)
}
