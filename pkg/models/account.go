package models

import (
	"fmt"
	"strings"
	"time"
)

// Account represents a single TOTP account in the local collection.
type Account struct {
	// ID is a stable opaque identifier, assigned at creation and never reused
	ID string `json:"id"`
	// AccountName is the display label shown to the user; renamable
	AccountName string `json:"accountName"`
	// Issuer identifies the originating service; cosmetic only, not part
	// of identity
	Issuer string `json:"issuer"`
	// SecretKey is the base32-encoded shared secret; immutable once created
	SecretKey string `json:"secretKey"`
	// ChangedAt is the time of the last local mutation, used for
	// last-writer-wins conflict resolution during sync
	ChangedAt time.Time `json:"changedAt"`
}

// RemoteAccount is the wire shape returned by the sync service.
type RemoteAccount struct {
	ID          string `json:"id"`
	AccountName string `json:"accountName"`
	Issuer      string `json:"issuer"`
	SecretKey   string `json:"secretKey"`
	ChangedAt   int64  `json:"changedAt"`
}

// ToAccount converts the wire shape to a local account.
func (r *RemoteAccount) ToAccount() Account {
	return Account{
		ID:          r.ID,
		AccountName: r.AccountName,
		Issuer:      r.Issuer,
		SecretKey:   r.SecretKey,
		ChangedAt:   time.Unix(r.ChangedAt, 0).UTC(),
	}
}

// FromAccount converts a local account to the wire shape.
func FromAccount(a Account) RemoteAccount {
	return RemoteAccount{
		ID:          a.ID,
		AccountName: a.AccountName,
		Issuer:      a.Issuer,
		SecretKey:   a.SecretKey,
		ChangedAt:   a.ChangedAt.Unix(),
	}
}

// DuplicateKey returns the identity triple used for duplicate detection.
// Issuer and name keep their case; the secret is compared normalized.
func (a *Account) DuplicateKey() string {
	return a.Issuer + "\x00" + a.AccountName + "\x00" + NormalizeSecret(a.SecretKey)
}

// NormalizeSecret upper-cases a base32 secret and strips spaces and padding
// so that cosmetically different spellings of the same secret compare equal.
func NormalizeSecret(secret string) string {
	s := strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
	return strings.TrimRight(s, "=")
}

// Label returns the display label for the account.
func (a *Account) Label() string {
	if a.Issuer != "" {
		return fmt.Sprintf("%s (%s)", a.AccountName, a.Issuer)
	}
	return a.AccountName
}

// PrintFormatted prints the account in a formatted way, with the secret
// redacted.
func (a *Account) PrintFormatted() {
	fmt.Printf("Account Details:\n")
	fmt.Printf("	ID: %s\n", a.ID)
	fmt.Printf("	Name: %s\n", a.AccountName)
	if a.Issuer != "" {
		fmt.Printf("	Issuer: %s\n", a.Issuer)
	}
	fmt.Printf("	Secret: %s\n", redactSecret(a.SecretKey))
	if !a.ChangedAt.IsZero() {
		fmt.Printf("	Changed At: %s\n", a.ChangedAt.Format(time.RFC3339))
	}
}

func redactSecret(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:4] + strings.Repeat("*", len(secret)-4)
}
