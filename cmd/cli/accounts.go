package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/otpkeep/otpkeep/pkg/models"
	"github.com/otpkeep/otpkeep/pkg/services"
	"github.com/otpkeep/otpkeep/pkg/store"
	"github.com/otpkeep/otpkeep/pkg/utils"
)

func (r *replState) listCodes(trimmedLine string) {
	query := strings.TrimSpace(strings.TrimPrefix(trimmedLine, "list"))
	r.index.SetQuery(query)
	accounts := r.index.Results()

	if len(accounts) == 0 {
		fmt.Println("No accounts.")
		return
	}

	now := time.Now()
	for _, account := range accounts {
		code, err := r.engine.Compute(account.SecretKey, now)
		if err != nil {
			log.Warn().Err(err).Str("id", account.ID).Msg("Error computing code")
			continue
		}
		fmt.Printf("%-8s  %s  (%2ds)  %s\n",
			code.Value, shortID(account.ID), code.SecondsRemaining, displayLabel(account))
	}
}

func (r *replState) searchAccounts(trimmedLine string) {
	parts := strings.Fields(trimmedLine)
	if len(parts) < 2 {
		fmt.Println("Usage: search <query>")
		return
	}

	query := strings.Join(parts[1:], " ")
	matches := services.Filter(r.store.List(), query)
	if len(matches) == 0 {
		fmt.Printf("No accounts matching %q.\n", query)
		return
	}

	for _, account := range matches {
		fmt.Printf("%s  %s\n", shortID(account.ID), displayLabel(account))
	}
}

func (r *replState) addAccount(trimmedLine string) {
	parts := strings.Fields(trimmedLine)
	if len(parts) < 3 {
		fmt.Println("Invalid add command format.")
		fmt.Println("Usage: add <name> <secret> [issuer]")
		return
	}

	account := models.Account{
		AccountName: parts[1],
		SecretKey:   parts[2],
	}
	if len(parts) > 3 {
		account.Issuer = strings.Join(parts[3:], " ")
	}

	id, err := r.store.Insert(account)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidSecret):
			fmt.Println("The secret is not valid base32.")
		case errors.Is(err, models.ErrDuplicateAccount):
			fmt.Println("That account already exists.")
		default:
			log.Error().Err(err).Msg("Error adding account")
		}
		return
	}

	fmt.Printf("Added account %s (%s)\n", account.AccountName, shortID(id))
}

func (r *replState) renameAccount(trimmedLine string) {
	parts := strings.Fields(trimmedLine)
	if len(parts) < 3 {
		fmt.Println("Usage: rename <id> <new name>")
		return
	}

	id, err := r.resolveID(parts[1])
	if err != nil {
		fmt.Println(err)
		return
	}

	name := strings.Join(parts[2:], " ")
	if err := r.store.Update(id, store.UpdateFields{AccountName: &name}); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			fmt.Printf("No account with id %s.\n", parts[1])
			return
		}
		log.Error().Err(err).Msg("Error renaming account")
		return
	}

	fmt.Printf("Renamed %s to %s\n", shortID(id), name)
}

func (r *replState) removeAccount(trimmedLine string) {
	parts := strings.Fields(trimmedLine)
	if len(parts) != 2 {
		fmt.Println("Usage: rm <id>")
		return
	}

	id, err := r.resolveID(parts[1])
	if err != nil {
		fmt.Println(err)
		return
	}

	if err := r.store.Delete(id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			fmt.Printf("No account with id %s.\n", parts[1])
			return
		}
		log.Error().Err(err).Msg("Error removing account")
		return
	}

	fmt.Printf("Removed account %s\n", shortID(id))
}

func (r *replState) importFile(trimmedLine string) {
	parts := strings.Fields(trimmedLine)
	if len(parts) != 2 {
		fmt.Println("Usage: import <file.json>")
		return
	}

	f, err := os.Open(parts[1])
	if err != nil {
		log.Error().Err(err).Msg("Error opening import file")
		return
	}
	defer f.Close()

	batch, err := services.ReadJSON(f)
	if err != nil {
		log.Error().Err(err).Msg("Error reading import file")
		return
	}

	r.applyImport(batch)
}

func (r *replState) importURI(trimmedLine string) {
	parts := strings.Fields(trimmedLine)
	if len(parts) != 2 {
		fmt.Println("Usage: scan <otpauth-uri>")
		return
	}

	account, err := services.ParseURI(parts[1])
	if err != nil {
		fmt.Printf("Could not decode URI: %v\n", err)
		return
	}

	r.applyImport([]models.Account{account})
}

func (r *replState) applyImport(batch []models.Account) {
	result, err := r.importer.MergeInto(r.store, batch)
	if err != nil {
		log.Error().Err(err).Msg("Error applying import")
		return
	}

	fmt.Printf("Imported %d account(s), rejected %d.\n", len(result.Accepted), len(result.Rejected))
	for _, rejection := range result.Rejected {
		fmt.Printf("  rejected %s: %s\n", rejection.Input.AccountName, rejection.Reason)
	}
}

func (r *replState) syncNow() {
	if err := r.syncer.Sync(context.Background()); err != nil {
		fmt.Printf("Sync failed: %v\n", err)
		return
	}
	r.showSyncStatus()
}

func (r *replState) showSyncStatus() {
	state := r.syncer.State()
	fmt.Printf("Sync state: %s\n", state.Phase())
	if !state.LastSyncAt.IsZero() {
		fmt.Printf("  Last sync: %s\n", state.LastSyncAt.Format(time.RFC3339))
	}
	if state.LastError != nil {
		fmt.Printf("  Last error: %v\n", state.LastError)
	}
}

// resolveID accepts either a full account id or an unambiguous prefix.
func (r *replState) resolveID(input string) (string, error) {
	var match string
	for _, account := range r.store.List() {
		if account.ID == input {
			return input, nil
		}
		if strings.HasPrefix(account.ID, input) {
			if match != "" {
				return "", fmt.Errorf("id prefix %q is ambiguous", input)
			}
			match = account.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no account with id %q", input)
	}
	return match, nil
}

func displayLabel(account models.Account) string {
	if account.Issuer != "" {
		return fmt.Sprintf("%s (%s)", account.AccountName, utils.Capitalize(account.Issuer))
	}
	return account.AccountName
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
