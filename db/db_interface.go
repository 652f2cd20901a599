package db

import (
	"github.com/otpkeep/otpkeep/pkg/models"
)

// DBInterface defines the interface for account persistence
type DBInterface interface {
	Initialize() error
	Close() error
	GetAccounts() ([]models.Account, error)
	SaveAccounts(accounts []models.Account) error
}

// Ensure DB implements DBInterface
var _ DBInterface = (*DB)(nil)

// Ensure MockDB implements DBInterface
var _ DBInterface = (*MockDB)(nil)
