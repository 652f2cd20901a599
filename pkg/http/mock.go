package http

import (
	"context"
	"sync"

	"github.com/otpkeep/otpkeep/pkg/models"
)

// MockClient is a mock implementation of SyncClient for testing
type MockClient struct {
	mu sync.Mutex

	// Accounts returned from FetchAccounts
	Accounts []models.RemoteAccount
	// Pushed collects every batch passed to PushAccounts
	Pushed [][]models.RemoteAccount

	// Number of times FetchAccounts was called
	FetchCalls int

	// Error values to return
	FetchAccountsErr error
	PushAccountsErr  error

	// FetchStarted, when non-nil, is closed on the first fetch
	FetchStarted chan struct{}
	// FetchRelease, when non-nil, blocks the fetch until closed
	FetchRelease chan struct{}
}

// FetchAccounts returns the canned account list
func (m *MockClient) FetchAccounts(ctx context.Context) ([]models.RemoteAccount, error) {
	m.mu.Lock()
	m.FetchCalls++
	first := m.FetchCalls == 1
	started := m.FetchStarted
	release := m.FetchRelease
	m.mu.Unlock()

	if first && started != nil {
		close(started)
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.FetchAccountsErr != nil {
		return nil, m.FetchAccountsErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	accounts := make([]models.RemoteAccount, len(m.Accounts))
	copy(accounts, m.Accounts)
	return accounts, nil
}

// Fetches returns how many times FetchAccounts was called
func (m *MockClient) Fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.FetchCalls
}

// PushAccounts records the pushed batch
func (m *MockClient) PushAccounts(ctx context.Context, batch []models.RemoteAccount) error {
	if m.PushAccountsErr != nil {
		return m.PushAccountsErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pushed = append(m.Pushed, batch)
	return nil
}
