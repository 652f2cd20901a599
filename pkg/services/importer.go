package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pquerna/otp"
	"github.com/rs/zerolog/log"

	"github.com/otpkeep/otpkeep/pkg/models"
	"github.com/otpkeep/otpkeep/pkg/store"
	"github.com/otpkeep/otpkeep/pkg/totp"
)

// Rejection reasons reported by Merge.
const (
	ReasonInvalidSecret = "invalid secret"
	ReasonDuplicate     = "duplicate"
)

// Rejection records one incoming record that was not accepted and why.
type Rejection struct {
	Input  models.Account
	Reason string
}

// MergeResult is the outcome of reconciling an incoming batch: accepted
// records ready for insertion and per-record rejections. Duplicates are
// reported rather than silently dropped so callers can surface counts.
type MergeResult struct {
	Accepted []models.Account
	Rejected []Rejection
}

// Importer reconciles externally sourced account batches (scans, file
// imports) into the store.
type Importer struct {
	engine *totp.Engine
}

// NewImporter creates an Importer validating secrets with the given
// engine.
func NewImporter(engine *totp.Engine) *Importer {
	return &Importer{engine: engine}
}

// Merge validates each incoming record against the existing collection.
// Acceptance is per item: one bad record never blocks the rest. A record
// duplicating either an existing account or an earlier record in the same
// batch is rejected as a duplicate.
func (im *Importer) Merge(existing []models.Account, batch []models.Account) MergeResult {
	keys := make(map[string]struct{}, len(existing))
	for i := range existing {
		keys[existing[i].DuplicateKey()] = struct{}{}
	}

	var result MergeResult
	for _, record := range batch {
		secret, err := im.engine.ValidateSecret(record.SecretKey)
		if err != nil {
			result.Rejected = append(result.Rejected, Rejection{Input: record, Reason: ReasonInvalidSecret})
			continue
		}
		record.SecretKey = secret

		if _, dup := keys[record.DuplicateKey()]; dup {
			result.Rejected = append(result.Rejected, Rejection{Input: record, Reason: ReasonDuplicate})
			continue
		}

		keys[record.DuplicateKey()] = struct{}{}
		result.Accepted = append(result.Accepted, record)
	}

	return result
}

// MergeInto merges the batch and inserts the accepted records into the
// store as one batch. The store write is atomic; the per-record
// accept/reject split has already happened in Merge.
func (im *Importer) MergeInto(st *store.Store, batch []models.Account) (MergeResult, error) {
	result := im.Merge(st.List(), batch)
	if len(result.Accepted) == 0 {
		return result, nil
	}

	err := st.ApplyBatch(func(txn *store.Txn) error {
		for _, record := range result.Accepted {
			if _, err := txn.Insert(record); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	log.Info().Int("accepted", len(result.Accepted)).Int("rejected", len(result.Rejected)).
		Msg("Import merged")
	return result, nil
}

// ParseURI decodes an otpauth:// provisioning URI (the payload of a
// scanned QR code) into an account record.
func ParseURI(uri string) (models.Account, error) {
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return models.Account{}, fmt.Errorf("%w: %v", models.ErrImportValidation, err)
	}

	if key.Type() != "totp" {
		return models.Account{}, fmt.Errorf("%w: unsupported type %q", models.ErrImportValidation, key.Type())
	}

	return models.Account{
		AccountName: key.AccountName(),
		Issuer:      key.Issuer(),
		SecretKey:   key.Secret(),
	}, nil
}

// ReadJSON decodes an exported account batch. Ids and timestamps in the
// file are ignored; imported records are treated as new local accounts.
func ReadJSON(r io.Reader) ([]models.Account, error) {
	var batch []models.Account
	if err := json.NewDecoder(r).Decode(&batch); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty input", models.ErrImportValidation)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrImportValidation, err)
	}

	for i := range batch {
		batch[i].ID = ""
		batch[i].ChangedAt = time.Time{}
	}
	return batch, nil
}
