package db

import (
	"github.com/otpkeep/otpkeep/pkg/models"
)

// MockDB is a mock implementation of the DB for testing
type MockDB struct {
	// Mock data storage
	Accounts []models.Account

	// Number of times SaveAccounts was called
	SaveCalls int

	// Error values to return
	InitializeErr   error
	GetAccountsErr  error
	SaveAccountsErr error
}

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{}
}

// Initialize is a no-op for the mock database
func (m *MockDB) Initialize() error {
	return m.InitializeErr
}

// Close is a no-op for the mock database
func (m *MockDB) Close() error {
	return nil
}

// GetAccounts returns all accounts in the mock database
func (m *MockDB) GetAccounts() ([]models.Account, error) {
	if m.GetAccountsErr != nil {
		return nil, m.GetAccountsErr
	}

	accounts := make([]models.Account, len(m.Accounts))
	copy(accounts, m.Accounts)
	return accounts, nil
}

// SaveAccounts replaces the mock collection
func (m *MockDB) SaveAccounts(accounts []models.Account) error {
	if m.SaveAccountsErr != nil {
		return m.SaveAccountsErr
	}

	m.SaveCalls++
	m.Accounts = make([]models.Account, len(accounts))
	copy(m.Accounts, accounts)
	return nil
}
