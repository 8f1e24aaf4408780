package register

import (
	"context"
	"errors"
	"testing"

	"go.salikov.me/argus/internal/account"
	"go.salikov.me/argus/internal/testutil"
)

func testPipeline(policy Policy) (*Pipeline, *account.Service) {
	accounts := account.NewService(account.NewMemStore())
	return New(accounts, policy), accounts
}

func TestSubmitQueues(t *testing.T) {
	t.Parallel()

	p, _ := testPipeline(AdminApproval{})
	ctx := t.Context()

	status, err := p.Submit(ctx, Request{ID: "1", DisplayName: "Alice"})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, status, StatusPending)
	testutil.AssertEqual(t, p.IsPending("1"), true)

	// A duplicate submission doesn't queue a second request.
	status, err = p.Submit(ctx, Request{ID: "1"})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, status, StatusAlreadyPending)
	testutil.AssertEqual(t, len(p.Pending()), 1)
}

func TestSubmitAlreadyApproved(t *testing.T) {
	t.Parallel()

	p, accounts := testPipeline(AdminApproval{})
	ctx := t.Context()

	if _, err := accounts.GetOrCreate(ctx, "1", "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := accounts.Update(ctx, "1", func(a *account.Account) error {
		a.Approved = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	status, err := p.Submit(ctx, Request{ID: "1"})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, status, StatusAlreadyApproved)
}

func TestApprove(t *testing.T) {
	t.Parallel()

	p, accounts := testPipeline(AdminApproval{})
	ctx := t.Context()

	if _, err := p.Submit(ctx, Request{ID: "1", DisplayName: "Alice", Handle: "alice"}); err != nil {
		t.Fatal(err)
	}

	a, err := p.Approve(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, a.Approved, true)
	testutil.AssertEqual(t, a.Credits, int64(StartingCredits))
	testutil.AssertEqual(t, a.DisplayName, "Alice")

	// The request is resolved: the queue is empty and re-approving fails.
	testutil.AssertEqual(t, p.IsPending("1"), false)
	if _, err := p.Approve(ctx, "1"); !errors.Is(err, ErrNotPending) {
		t.Fatalf("got %v, want ErrNotPending", err)
	}

	// The approved state is persisted.
	stored, err := accounts.Get(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, stored.Approved, true)
}

func TestReject(t *testing.T) {
	t.Parallel()

	p, accounts := testPipeline(AdminApproval{})
	ctx := t.Context()

	if _, err := p.Submit(ctx, Request{ID: "1"}); err != nil {
		t.Fatal(err)
	}
	if err := p.Reject(ctx, "1"); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, p.IsPending("1"), false)

	// Rejection never creates an account.
	a, err := accounts.Get(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	if a != nil {
		t.Fatalf("account was created by rejection: %+v", a)
	}

	if err := p.Reject(ctx, "1"); !errors.Is(err, ErrNotPending) {
		t.Fatalf("got %v, want ErrNotPending", err)
	}
}

func TestApproveAll(t *testing.T) {
	t.Parallel()

	p, _ := testPipeline(AdminApproval{})
	ctx := t.Context()

	for _, id := range []string{"1", "2", "3"} {
		if _, err := p.Submit(ctx, Request{ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	var notified []string
	approved, failed := p.ApproveAll(ctx, func(a *account.Account) {
		notified = append(notified, a.ID)
	})
	testutil.AssertEqual(t, approved, 3)
	testutil.AssertEqual(t, failed, 0)
	testutil.AssertEqual(t, len(notified), 3)
	testutil.AssertEqual(t, len(p.Pending()), 0)
}

func TestChannelGateAutoApproves(t *testing.T) {
	t.Parallel()

	p, accounts := testPipeline(ChannelGate{
		Check: func(ctx context.Context, id string) (bool, error) {
			return id == "member", nil
		},
	})
	ctx := t.Context()

	status, err := p.Submit(ctx, Request{ID: "member"})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, status, StatusApproved)

	a, err := accounts.Get(ctx, "member")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, a.Approved, true)
	testutil.AssertEqual(t, a.Credits, int64(StartingCredits))

	status, err = p.Submit(ctx, Request{ID: "outsider"})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, status, StatusDenied)
	testutil.AssertEqual(t, p.IsPending("outsider"), false)
}

func TestChannelGateCheckError(t *testing.T) {
	t.Parallel()

	errCheck := errors.New("check failed")
	p, _ := testPipeline(ChannelGate{
		Check: func(context.Context, string) (bool, error) { return false, errCheck },
	})

	if _, err := p.Submit(t.Context(), Request{ID: "1"}); !errors.Is(err, errCheck) {
		t.Fatalf("got %v, want check error", err)
	}
}
