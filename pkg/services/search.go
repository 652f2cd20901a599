package services

import (
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/otpkeep/otpkeep/pkg/models"
	"github.com/otpkeep/otpkeep/pkg/store"
)

// Filter returns the accounts whose name contains query,
// case-insensitively, preserving input order. A blank or whitespace-only
// query returns the input unchanged.
func Filter(accounts []models.Account, query string) []models.Account {
	q := strings.TrimSpace(query)
	if q == "" {
		return accounts
	}

	q = strings.ToLower(q)
	return lo.Filter(accounts, func(a models.Account, _ int) bool {
		return strings.Contains(strings.ToLower(a.AccountName), q)
	})
}

// Index is a derived, read-only view over the store: the last filter
// result is cached per (store revision, query), so unrelated churn such
// as countdown ticks never triggers a recomputation.
type Index struct {
	store *store.Store

	mu       sync.Mutex
	query    string
	revision uint64
	cached   []models.Account
	valid    bool
}

// NewIndex creates an Index bound to the store.
func NewIndex(st *store.Store) *Index {
	idx := &Index{store: st}
	st.Subscribe(idx.invalidate)
	return idx
}

// SetQuery replaces the active query. Setting the same query again is a
// no-op and keeps the cache.
func (i *Index) SetQuery(query string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if query == i.query {
		return
	}
	i.query = query
	i.valid = false
}

// Results returns the filtered view, recomputing only when the account
// set revision or the query changed since the last call.
func (i *Index) Results() []models.Account {
	i.mu.Lock()
	defer i.mu.Unlock()

	revision := i.store.Revision()
	if i.valid && revision == i.revision {
		return i.cached
	}

	i.cached = Filter(i.store.List(), i.query)
	i.revision = revision
	i.valid = true
	return i.cached
}

func (i *Index) invalidate() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.valid = false
}
