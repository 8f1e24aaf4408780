// Package register implements the registration pipeline that turns an
// unapproved user into an approved account.
//
// Pending requests are ephemeral and live in process memory only; resolved
// requests are deleted, not archived. Approval is driven by a pluggable
// [Policy]: either an admin confirms each request, or submissions
// auto-approve after an external membership check passes.
package register

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.salikov.me/argus/internal/account"
)

// StartingCredits is granted to every freshly approved account.
const StartingCredits = 25

// Request is a pending registration request for one identity.
type Request struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name,omitempty"`
	Handle      string    `json:"handle,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Status describes the result of a submission.
type Status int

const (
	// StatusPending means the request was queued for admin confirmation.
	StatusPending Status = iota
	// StatusApproved means the request was auto-approved by the policy.
	StatusApproved
	// StatusAlreadyPending means a request for this identity is already queued.
	StatusAlreadyPending
	// StatusAlreadyApproved means an approved account already exists.
	StatusAlreadyApproved
	// StatusDenied means the policy rejected the submission; the user should
	// satisfy the precondition and retry.
	StatusDenied
)

// Verdict is a [Policy] decision for a submission.
type Verdict int

const (
	// Queue the request for admin confirmation.
	Queue Verdict = iota
	// Approve the request immediately.
	Approve
	// Deny the submission.
	Deny
)

// Policy decides what happens to a freshly submitted registration request.
type Policy interface {
	Evaluate(ctx context.Context, id string) (Verdict, error)
}

// AdminApproval queues every submission for explicit admin confirmation.
type AdminApproval struct{}

// Evaluate implements the [Policy] interface.
func (AdminApproval) Evaluate(context.Context, string) (Verdict, error) { return Queue, nil }

// ChannelGate auto-approves submissions from identities that pass an external
// membership check and denies the rest.
type ChannelGate struct {
	// Check reports whether the identity currently satisfies the membership
	// precondition.
	Check func(ctx context.Context, id string) (bool, error)
}

// Evaluate implements the [Policy] interface.
func (g ChannelGate) Evaluate(ctx context.Context, id string) (Verdict, error) {
	ok, err := g.Check(ctx, id)
	if err != nil {
		return Deny, err
	}
	if ok {
		return Approve, nil
	}
	return Deny, nil
}

// ErrNotPending is returned when resolving a request that isn't queued.
var ErrNotPending = errors.New("no pending registration request")

// Pipeline runs registration requests through the configured policy.
type Pipeline struct {
	accounts *account.Service
	policy   Policy
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]Request
}

// New returns a new Pipeline.
func New(accounts *account.Service, policy Policy) *Pipeline {
	return &Pipeline{
		accounts: accounts,
		policy:   policy,
		now:      time.Now,
		pending:  make(map[string]Request),
	}
}

// Submit handles a registration command from the given identity.
func (p *Pipeline) Submit(ctx context.Context, req Request) (Status, error) {
	a, err := p.accounts.Get(ctx, req.ID)
	if err != nil {
		return 0, err
	}
	if a != nil && a.Approved {
		return StatusAlreadyApproved, nil
	}

	p.mu.Lock()
	_, alreadyPending := p.pending[req.ID]
	p.mu.Unlock()
	if alreadyPending {
		return StatusAlreadyPending, nil
	}

	verdict, err := p.policy.Evaluate(ctx, req.ID)
	if err != nil {
		return 0, err
	}

	switch verdict {
	case Approve:
		if _, err := p.approve(ctx, req); err != nil {
			return 0, err
		}
		return StatusApproved, nil
	case Deny:
		return StatusDenied, nil
	}

	req.SubmittedAt = p.now()
	p.mu.Lock()
	p.pending[req.ID] = req
	p.mu.Unlock()
	return StatusPending, nil
}

// Pending returns a snapshot of all queued requests.
func (p *Pipeline) Pending() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	reqs := make([]Request, 0, len(p.pending))
	for _, r := range p.pending {
		reqs = append(reqs, r)
	}
	return reqs
}

// IsPending reports whether a request for id is queued.
func (p *Pipeline) IsPending(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[id]
	return ok
}

// Approve resolves the pending request for id: the account is
// created-or-updated with the starting credit grant and the request is
// deleted.
func (p *Pipeline) Approve(ctx context.Context, id string) (*account.Account, error) {
	p.mu.Lock()
	req, ok := p.pending[id]
	p.mu.Unlock()
	if !ok {
		return nil, ErrNotPending
	}

	a, err := p.approve(ctx, req)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
	return a, nil
}

func (p *Pipeline) approve(ctx context.Context, req Request) (*account.Account, error) {
	if _, err := p.accounts.GetOrCreate(ctx, req.ID, req.DisplayName, req.Handle); err != nil {
		return nil, err
	}
	return p.accounts.Update(ctx, req.ID, func(a *account.Account) error {
		a.Approved = true
		a.Credits += StartingCredits
		if a.DisplayName == "" {
			a.DisplayName = req.DisplayName
		}
		if a.Handle == "" {
			a.Handle = req.Handle
		}
		return nil
	})
}

// Reject deletes the pending request for id without touching any account.
func (p *Pipeline) Reject(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[id]; !ok {
		return ErrNotPending
	}
	delete(p.pending, id)
	return nil
}

// ApproveAll resolves every pending request through the same per-item
// transition, calling notify for each approved account. A failure on one item
// doesn't abort the remainder; the aggregate tally is returned.
func (p *Pipeline) ApproveAll(ctx context.Context, notify func(a *account.Account)) (approved, failed int) {
	for _, req := range p.Pending() {
		a, err := p.Approve(ctx, req.ID)
		if err != nil {
			failed++
			continue
		}
		approved++
		if notify != nil {
			notify(a)
		}
	}
	return approved, failed
}
