// Package account holds per-user account records and the credit ledger.
//
// Accounts are kept in a pluggable [Store]. The default in-memory store keeps
// everything in process memory: a restart resets every account except the
// bootstrap admin, which is re-provisioned on startup. Durable stores can be
// substituted without touching the rest of the bot.
package account

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Account is a single user of the bot, keyed by the stable Telegram identity.
type Account struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"display_name,omitempty"`
	Handle       string    `json:"handle,omitempty"`
	Approved     bool      `json:"approved"`
	Credits      int64     `json:"credits"`
	Premium      bool      `json:"premium"`
	Admin        bool      `json:"admin"`
	TotalQueries int64     `json:"total_queries"`
	CreatedAt    time.Time `json:"created_at"`
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// Store is a generic interface for account storage.
type Store interface {
	// Get retrieves an account by ID.
	// It must return (nil, nil) if the account is not found.
	Get(ctx context.Context, id string) (*Account, error)
	// Set stores an account, overwriting any existing record with the same ID.
	Set(ctx context.Context, a *Account) error
	// All returns every stored account, in no particular order.
	All(ctx context.Context) ([]*Account, error)
	// Close closes the store and releases any resources.
	Close() error
}

var (
	// ErrNotFound is returned when the account doesn't exist.
	ErrNotFound = errors.New("account not found")
	// ErrInvalidAmount is returned for credit mutations with an out-of-range
	// amount.
	ErrInvalidAmount = errors.New("invalid credit amount")
)

// Service wraps a [Store] with per-identity serialization and implements the
// credit ledger. All mutations of a single account go through its lock, so
// two near-simultaneous commands from the same user can't interleave a debit
// and a refund.
type Service struct {
	store Store
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService returns a new Service backed by store.
func NewService(store Store) *Service {
	return &Service{
		store: store,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Service) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = new(sync.Mutex)
		s.locks[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Get retrieves an account by ID, returning (nil, nil) if it doesn't exist.
func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	return s.store.Get(ctx, id)
}

// All returns every stored account.
func (s *Service) All(ctx context.Context) ([]*Account, error) {
	return s.store.All(ctx)
}

// Close closes the underlying store.
func (s *Service) Close() error { return s.store.Close() }

// GetOrCreate retrieves the account for id, creating an unapproved
// zero-credit one if it doesn't exist yet. It is the sole creation path and
// is idempotent: repeated calls for the same id return the same record.
func (s *Service) GetOrCreate(ctx context.Context, id, displayName, handle string) (*Account, error) {
	defer s.lock(id)()

	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a != nil {
		return a, nil
	}

	a = &Account{
		ID:          id,
		DisplayName: displayName,
		Handle:      handle,
		CreatedAt:   s.now(),
	}
	if err := s.store.Set(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Update applies f to the account with the given id under its lock and
// persists the result. It returns [ErrNotFound] if the account doesn't exist.
func (s *Service) Update(ctx context.Context, id string, f func(*Account) error) (*Account, error) {
	defer s.lock(id)()
	return s.update(ctx, id, f)
}

// update is Update without locking; the caller must hold the identity lock.
func (s *Service) update(ctx context.Context, id string, f func(*Account) error) (*Account, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNotFound
	}
	if err := f(a); err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// TryDebit attempts to consume amount credits from the account. Premium
// accounts always pass with no balance mutation. A false return means the
// balance was insufficient and nothing was subtracted.
func (s *Service) TryDebit(ctx context.Context, id string, amount int64) (bool, error) {
	defer s.lock(id)()

	a, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if a == nil {
		return false, ErrNotFound
	}
	if a.Premium {
		return true, nil
	}
	if a.Credits < amount {
		return false, nil
	}
	a.Credits -= amount
	if err := s.store.Set(ctx, a); err != nil {
		return false, err
	}
	return true, nil
}

// Refund adds amount credits back after a debited operation failed.
//
// Refund adds unconditionally, even for premium accounts whose debit did not
// touch the balance; repeated failures inflate a premium balance.
func (s *Service) Refund(ctx context.Context, id string, amount int64) error {
	defer s.lock(id)()
	_, err := s.update(ctx, id, func(a *Account) error {
		a.Credits += amount
		return nil
	})
	return err
}

// Grant adds amount credits to the account. The amount must be positive.
func (s *Service) Grant(ctx context.Context, id string, amount int64) (*Account, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	defer s.lock(id)()
	return s.update(ctx, id, func(a *Account) error {
		a.Credits += amount
		return nil
	})
}

// Take subtracts up to amount credits from the account, flooring the balance
// at zero. The amount must be positive.
func (s *Service) Take(ctx context.Context, id string, amount int64) (*Account, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	defer s.lock(id)()
	return s.update(ctx, id, func(a *Account) error {
		a.Credits = max(0, a.Credits-amount)
		return nil
	})
}

// SetBalance sets the account balance to amount. The amount must be
// non-negative.
func (s *Service) SetBalance(ctx context.Context, id string, amount int64) (*Account, error) {
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	defer s.lock(id)()
	return s.update(ctx, id, func(a *Account) error {
		a.Credits = amount
		return nil
	})
}

// RecordQuery increments the successful-query counter.
func (s *Service) RecordQuery(ctx context.Context, id string) error {
	defer s.lock(id)()
	_, err := s.update(ctx, id, func(a *Account) error {
		a.TotalQueries++
		return nil
	})
	return err
}
