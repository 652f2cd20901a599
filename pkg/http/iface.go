package http

import (
	"context"

	"github.com/otpkeep/otpkeep/pkg/models"
)

// SyncClient is the contract the sync scheduler needs from the remote
// account service.
type SyncClient interface {
	FetchAccounts(ctx context.Context) ([]models.RemoteAccount, error)
	PushAccounts(ctx context.Context, batch []models.RemoteAccount) error
}

var (
	_ SyncClient = &Client{}
	_ SyncClient = &MockClient{}
)
