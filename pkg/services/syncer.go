package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/otpkeep/otpkeep/pkg/clock"
	"github.com/otpkeep/otpkeep/pkg/connectivity"
	"github.com/otpkeep/otpkeep/pkg/http"
	"github.com/otpkeep/otpkeep/pkg/models"
	"github.com/otpkeep/otpkeep/pkg/store"
)

// SyncState is the scheduler's externally visible state. It is owned by
// the Syncer; callers read a copy via State().
type SyncState struct {
	LastSyncAt time.Time
	InFlight   bool
	LastError  error
}

// Phase reports the state machine position: idle, syncing or failed.
func (s SyncState) Phase() string {
	switch {
	case s.InFlight:
		return "syncing"
	case s.LastError != nil:
		return "failed"
	default:
		return "idle"
	}
}

// SyncerOptions tune the scheduler cadence and fetch deadline.
type SyncerOptions struct {
	// Interval between periodic sync attempts; default 60s
	Interval time.Duration
	// FetchTimeout bounds a single remote round trip; default 15s
	FetchTimeout time.Duration
}

// Syncer reconciles the local account store against the remote service.
// Its InFlight flag doubles as the lock against re-entrant network calls:
// overlapping triggers are coalesced into a no-op, never queued. Local
// edits stay permitted during a sync; the diff runs against a fresh read
// of the store at apply time, inside the store's batch boundary, so edits
// made during the fetch are never clobbered.
type Syncer struct {
	client   http.SyncClient
	store    *store.Store
	observer connectivity.Observer
	clk      clock.Clock

	interval     time.Duration
	fetchTimeout time.Duration

	mu            sync.Mutex
	state         SyncState
	refreshWanted bool
}

// NewSyncer creates a Syncer. client may be nil when credentials are
// incomplete; every sync attempt is then a no-op.
func NewSyncer(client http.SyncClient, st *store.Store, observer connectivity.Observer,
	clk clock.Clock, opts SyncerOptions) *Syncer {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 15 * time.Second
	}

	return &Syncer{
		client:       client,
		store:        st,
		observer:     observer,
		clk:          clk,
		interval:     opts.Interval,
		fetchTimeout: opts.FetchTimeout,
	}
}

// State returns a copy of the current sync state.
func (s *Syncer) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RequestRefresh flags that the next natural tick should sync even if the
// interval has not elapsed. It never aborts in-flight I/O.
func (s *Syncer) RequestRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshWanted = true
}

// Sync performs one reconciliation pass. Entry guard: offline, missing
// credentials, or a pass already in flight all return immediately without
// queueing. Failures leave the store exactly as it was.
func (s *Syncer) Sync(ctx context.Context) error {
	if s.client == nil || s.observer != nil && !s.observer.IsOnline() {
		return nil
	}

	s.mu.Lock()
	if s.state.InFlight {
		s.mu.Unlock()
		return nil
	}
	s.state.InFlight = true
	s.mu.Unlock()

	err := s.sync(ctx)

	s.mu.Lock()
	s.state.InFlight = false
	s.state.LastError = err
	if err == nil {
		s.state.LastSyncAt = s.clk.Now()
	}
	s.mu.Unlock()
	return err
}

func (s *Syncer) sync(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	remote, err := s.client.FetchAccounts(fetchCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = models.ErrSyncTimeout
		}
		log.Warn().Err(err).Msg("Fetching remote accounts failed")
		return err
	}

	var push []models.Account
	err = s.store.ApplyBatch(func(txn *store.Txn) error {
		push = s.applyRemote(txn, remote)
		return nil
	})
	if err != nil {
		return err
	}

	if len(push) > 0 {
		if err := s.pushLocal(ctx, push); err != nil {
			log.Warn().Err(err).Int("count", len(push)).Msg("Pushing local accounts failed")
			return err
		}
	}

	log.Debug().Int("remote", len(remote)).Int("pushed", len(push)).Msg("Sync completed")
	return nil
}

// applyRemote diffs the remote list against the store's state at apply
// time and mutates the batch: remote-only entries are inserted, entries
// present on both sides resolve last-writer-wins by ChangedAt (equal
// timestamps keep the local copy), and local-only entries are left alone.
// Returns the accounts the server is missing or holds stale copies of, so
// they can be pushed upstream. On success the collection is reordered to
// the remote order with local-only accounts appended.
func (s *Syncer) applyRemote(txn *store.Txn, remote []models.RemoteAccount) []models.Account {
	var push []models.Account
	local := txn.List()
	localByID := make(map[string]models.Account, len(local))
	for _, a := range local {
		localByID[a.ID] = a
	}

	remoteIDs := make(map[string]struct{}, len(remote))
	order := make([]string, 0, len(remote))
	for _, r := range remote {
		remoteIDs[r.ID] = struct{}{}
		order = append(order, r.ID)

		existing, ok := localByID[r.ID]
		if !ok {
			if _, err := txn.Insert(r.ToAccount()); err != nil {
				// A malformed or colliding remote record must not sink
				// the whole pass; surface it and move on.
				log.Warn().Err(err).Str("id", r.ID).Msg("Skipping remote account")
			}
			continue
		}

		account := r.ToAccount()
		if account.ChangedAt.After(existing.ChangedAt) {
			if err := txn.Replace(r.ID, account); err != nil {
				log.Warn().Err(err).Str("id", r.ID).Msg("Skipping remote update")
			}
		} else if existing.ChangedAt.After(account.ChangedAt) {
			// Local edit is newer; keep it and upload it.
			push = append(push, existing)
		}
	}

	txn.Reorder(order)

	for _, a := range local {
		if _, ok := remoteIDs[a.ID]; !ok {
			// Accounts created offline are never deleted by a sync,
			// only uploaded.
			push = append(push, a)
		}
	}
	return push
}

func (s *Syncer) pushLocal(ctx context.Context, accounts []models.Account) error {
	pushCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	batch := make([]models.RemoteAccount, 0, len(accounts))
	for _, a := range accounts {
		batch = append(batch, models.FromAccount(a))
	}

	err := s.client.PushAccounts(pushCtx, batch)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return models.ErrSyncTimeout
	}
	return err
}

// pollInterval is how often Run re-evaluates its schedule. Computing the
// next due time from the wall clock on every poll keeps the cadence
// correct across process suspension, where a single long timer would
// fire late or not at all.
const pollInterval = time.Second

// Run drives periodic syncs until ctx is cancelled: one attempt per
// interval while online, an immediate attempt when connectivity returns,
// and an early attempt when a refresh was requested. Errors land in the
// sync state, never across the timer boundary.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	lastOnline := false
	var nextDue time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		online := s.observer == nil || s.observer.IsOnline()
		regained := online && !lastOnline
		lastOnline = online
		if !online {
			continue
		}

		now := s.clk.Now()
		if !regained && now.Before(nextDue) && !s.consumeRefresh() {
			continue
		}

		if err := s.Sync(ctx); err != nil {
			log.Warn().Err(err).Msg("Periodic sync failed")
		}
		nextDue = s.clk.Now().Add(s.interval)
	}
}

func (s *Syncer) consumeRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := s.refreshWanted
	s.refreshWanted = false
	return wanted
}
