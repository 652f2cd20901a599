package store

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/otpkeep/otpkeep/db"
	"github.com/otpkeep/otpkeep/pkg/clock"
	"github.com/otpkeep/otpkeep/pkg/models"
	"github.com/otpkeep/otpkeep/pkg/totp"
)

// Store is the authoritative in-memory account collection. All mutations
// are serialized behind a single mutex; reads return copies so callers
// never alias internal state. Every committed mutation bumps a monotonic
// revision counter and notifies subscribers exactly once.
type Store struct {
	mu        sync.RWMutex
	accounts  []models.Account
	revision  uint64
	engine    *totp.Engine
	clk       clock.Clock
	database  db.DBInterface
	listeners []func()
}

// UpdateFields carries the mutable fields for Update. Nil means unchanged.
type UpdateFields struct {
	AccountName *string
	Issuer      *string
	// SecretKey is here only so attempts to set it can be rejected; the
	// secret is immutable after creation.
	SecretKey *string
}

// New creates a Store. database may be nil for a purely in-memory store
// (tests); pass a db handle to persist across restarts.
func New(engine *totp.Engine, clk clock.Clock, database db.DBInterface) *Store {
	return &Store{
		engine:   engine,
		clk:      clk,
		database: database,
	}
}

// Load seeds the store from the database. Intended to be called once at
// startup, before any writers run.
func (s *Store) Load() error {
	if s.database == nil {
		return nil
	}

	accounts, err := s.database.GetAccounts()
	if err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}

	s.mu.Lock()
	s.accounts = accounts
	s.revision++
	s.mu.Unlock()
	s.notify()
	return nil
}

// Insert adds an account. An empty ID gets a fresh uuid; ChangedAt is
// stamped from the store clock. Returns the id, or ErrDuplicateAccount if
// the (issuer, name, secret) triple collides with an existing entry.
func (s *Store) Insert(account models.Account) (string, error) {
	var id string
	err := s.ApplyBatch(func(txn *Txn) error {
		var err error
		id, err = txn.Insert(account)
		return err
	})
	return id, err
}

// Update applies the given fields to the account with the given id and
// stamps ChangedAt. The secret key cannot be changed in place.
func (s *Store) Update(id string, fields UpdateFields) error {
	return s.ApplyBatch(func(txn *Txn) error {
		return txn.Update(id, fields)
	})
}

// Delete removes the account with the given id. There is no tombstone.
func (s *Store) Delete(id string) error {
	return s.ApplyBatch(func(txn *Txn) error {
		return txn.Delete(id)
	})
}

// List returns a copy of the collection in list order.
func (s *Store) List() []models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Account, len(s.accounts))
	copy(out, s.accounts)
	return out
}

// Get returns the account with the given id.
func (s *Store) Get(id string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return models.Account{}, models.ErrNotFound
}

// Revision returns the monotonic mutation counter. Downstream views
// compare revisions to detect "did the set change" without deep
// comparison.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Subscribe registers a listener invoked once per committed mutation
// batch, after the commit. Listeners must not mutate the store
// re-entrantly from the callback.
func (s *Store) Subscribe(listener func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// ApplyBatch runs apply against a scratch copy of the collection and
// commits the result in one swap: either every mutation in the batch
// lands (single revision bump, single notification, single persistence
// write) or the store is left exactly as it was.
func (s *Store) ApplyBatch(apply func(*Txn) error) error {
	s.mu.Lock()

	txn := s.newTxn()
	if err := apply(txn); err != nil {
		s.mu.Unlock()
		return err
	}

	if !txn.dirty {
		s.mu.Unlock()
		return nil
	}

	if s.database != nil {
		if err := s.database.SaveAccounts(txn.accounts); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to persist accounts: %w", err)
		}
	}

	s.accounts = txn.accounts
	s.revision++
	s.mu.Unlock()

	s.notify()
	return nil
}

func (s *Store) notify() {
	s.mu.RLock()
	listeners := make([]func(), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, listener := range listeners {
		listener()
	}
}

// Txn is a scratch view of the collection used inside ApplyBatch. It is
// not safe for use outside the batch callback.
type Txn struct {
	store    *Store
	accounts []models.Account
	keys     map[string]struct{}
	dirty    bool
}

func (s *Store) newTxn() *Txn {
	accounts := make([]models.Account, len(s.accounts))
	copy(accounts, s.accounts)

	keys := make(map[string]struct{}, len(accounts))
	for i := range accounts {
		keys[accounts[i].DuplicateKey()] = struct{}{}
	}

	return &Txn{
		store:    s,
		accounts: accounts,
		keys:     keys,
	}
}

// List returns the batch's current view of the collection.
func (t *Txn) List() []models.Account {
	out := make([]models.Account, len(t.accounts))
	copy(out, t.accounts)
	return out
}

// Insert validates and appends an account within the batch.
func (t *Txn) Insert(account models.Account) (string, error) {
	secret, err := t.store.engine.ValidateSecret(account.SecretKey)
	if err != nil {
		return "", err
	}
	account.SecretKey = secret

	if _, exists := t.keys[account.DuplicateKey()]; exists {
		return "", fmt.Errorf("%w: %s", models.ErrDuplicateAccount, account.Label())
	}

	if account.ID == "" {
		account.ID = uuid.NewString()
	} else if _, err := t.index(account.ID); err == nil {
		return "", fmt.Errorf("%w: id %s already present", models.ErrDuplicateAccount, account.ID)
	}
	if account.ChangedAt.IsZero() {
		account.ChangedAt = t.store.clk.Now().UTC()
	}

	t.accounts = append(t.accounts, account)
	t.keys[account.DuplicateKey()] = struct{}{}
	t.dirty = true
	return account.ID, nil
}

// Update applies fields to the account with the given id within the batch.
func (t *Txn) Update(id string, fields UpdateFields) error {
	if fields.SecretKey != nil {
		return models.ErrSecretImmutable
	}

	i, err := t.index(id)
	if err != nil {
		return err
	}

	account := t.accounts[i]
	delete(t.keys, account.DuplicateKey())

	if fields.AccountName != nil {
		account.AccountName = *fields.AccountName
	}
	if fields.Issuer != nil {
		account.Issuer = *fields.Issuer
	}
	account.ChangedAt = t.store.clk.Now().UTC()

	t.accounts[i] = account
	t.keys[account.DuplicateKey()] = struct{}{}
	t.dirty = true
	return nil
}

// Replace overwrites the account with the given id wholesale, keeping its
// id. Used by the sync apply step where the remote copy wins.
func (t *Txn) Replace(id string, account models.Account) error {
	i, err := t.index(id)
	if err != nil {
		return err
	}

	delete(t.keys, t.accounts[i].DuplicateKey())
	account.ID = id
	t.accounts[i] = account
	t.keys[account.DuplicateKey()] = struct{}{}
	t.dirty = true
	return nil
}

// Delete removes the account with the given id within the batch.
func (t *Txn) Delete(id string) error {
	i, err := t.index(id)
	if err != nil {
		return err
	}

	delete(t.keys, t.accounts[i].DuplicateKey())
	t.accounts = append(t.accounts[:i], t.accounts[i+1:]...)
	t.dirty = true
	return nil
}

// Reorder rearranges the collection to match the given id order. Ids not
// present in order keep their current relative order and are appended at
// the end; unknown ids are ignored.
func (t *Txn) Reorder(order []string) {
	rank := make(map[string]int, len(order))
	for i, id := range order {
		rank[id] = i
	}

	ordered := make([]models.Account, 0, len(t.accounts))
	var rest []models.Account
	for _, a := range t.accounts {
		if _, ok := rank[a.ID]; ok {
			ordered = append(ordered, a)
		} else {
			rest = append(rest, a)
		}
	}

	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && rank[ordered[j-1].ID] > rank[ordered[j].ID]; j-- {
			ordered[j-1], ordered[j] = ordered[j], ordered[j-1]
		}
	}

	next := append(ordered, rest...)
	for i := range next {
		if next[i].ID != t.accounts[i].ID {
			t.dirty = true
			break
		}
	}
	t.accounts = next
}

func (t *Txn) index(id string) (int, error) {
	for i := range t.accounts {
		if t.accounts[i].ID == id {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", models.ErrNotFound, id)
}
