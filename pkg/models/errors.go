package models

import "errors"

// Error taxonomy shared across the store, token engine, sync and import
// paths. Callers classify with errors.Is.
var (
	// ErrInvalidSecret indicates a malformed base32 secret
	ErrInvalidSecret = errors.New("invalid secret: not valid base32")
	// ErrDuplicateAccount indicates an (issuer, name, secret) collision
	ErrDuplicateAccount = errors.New("duplicate account")
	// ErrNotFound indicates the account id is absent from the store
	ErrNotFound = errors.New("account not found")
	// ErrSecretImmutable indicates an attempt to edit a secret in place
	ErrSecretImmutable = errors.New("secret key is immutable; delete and recreate the account")

	// ErrSyncNetwork indicates a transport-level sync failure
	ErrSyncNetwork = errors.New("sync: network error")
	// ErrSyncAuth indicates the server rejected the credentials
	ErrSyncAuth = errors.New("sync: authentication error")
	// ErrSyncServer indicates a server-side failure
	ErrSyncServer = errors.New("sync: server error")
	// ErrSyncTimeout indicates the fetch exceeded its deadline
	ErrSyncTimeout = errors.New("sync: timed out")

	// ErrImportValidation indicates an import payload could not be decoded
	ErrImportValidation = errors.New("import: invalid payload")
)
