package services

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otpkeep/otpkeep/pkg/clock"
	"github.com/otpkeep/otpkeep/pkg/connectivity"
	"github.com/otpkeep/otpkeep/pkg/http"
	"github.com/otpkeep/otpkeep/pkg/models"
	"github.com/otpkeep/otpkeep/pkg/store"
	"github.com/otpkeep/otpkeep/pkg/totp"
)

const (
	secretA = "JBSWY3DPEHPK3PXP"
	secretB = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"
)

func newSyncFixture(t *testing.T, client http.SyncClient) (*Syncer, *store.Store, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0).UTC())
	st := store.New(totp.NewEngine(30, 6), clk, nil)
	syncer := NewSyncer(client, st, connectivity.NewManual(true), clk, SyncerOptions{})
	return syncer, st, clk
}

func TestSyncInsertsRemoteOnlyAccounts(t *testing.T) {
	client := &http.MockClient{
		Accounts: []models.RemoteAccount{
			{ID: "r1", AccountName: "alice", Issuer: "github", SecretKey: secretA, ChangedAt: 100},
		},
	}
	syncer, st, _ := newSyncFixture(t, client)

	require.NoError(t, syncer.Sync(context.Background()))

	listed := st.List()
	require.Len(t, listed, 1)
	assert.Equal(t, "r1", listed[0].ID)
	assert.Equal(t, time.Unix(100, 0).UTC(), listed[0].ChangedAt)
	assert.Equal(t, "idle", syncer.State().Phase())
	assert.False(t, syncer.State().LastSyncAt.IsZero())
}

func TestSyncKeepsAndPushesLocalOnlyAccounts(t *testing.T) {
	client := &http.MockClient{}
	syncer, st, _ := newSyncFixture(t, client)

	id, err := st.Insert(models.Account{AccountName: "offline", SecretKey: secretA})
	require.NoError(t, err)

	require.NoError(t, syncer.Sync(context.Background()))

	// Accounts created offline survive the sync and get uploaded.
	_, err = st.Get(id)
	require.NoError(t, err)
	require.Len(t, client.Pushed, 1)
	require.Len(t, client.Pushed[0], 1)
	assert.Equal(t, id, client.Pushed[0][0].ID)
}

func TestSyncLastWriterWins(t *testing.T) {
	client := &http.MockClient{
		Accounts: []models.RemoteAccount{
			{ID: "newer", AccountName: "remote-name", SecretKey: secretA, ChangedAt: 2_000_000_000},
			{ID: "older", AccountName: "remote-name", Issuer: "b", SecretKey: secretB, ChangedAt: 100},
		},
	}
	syncer, st, _ := newSyncFixture(t, client)

	_, err := st.Insert(models.Account{ID: "newer", AccountName: "local-name", SecretKey: secretA,
		ChangedAt: time.Unix(1_000_000, 0).UTC()})
	require.NoError(t, err)
	_, err = st.Insert(models.Account{ID: "older", AccountName: "local-name", Issuer: "b", SecretKey: secretB,
		ChangedAt: time.Unix(1_000_000, 0).UTC()})
	require.NoError(t, err)

	require.NoError(t, syncer.Sync(context.Background()))

	newer, err := st.Get("newer")
	require.NoError(t, err)
	assert.Equal(t, "remote-name", newer.AccountName, "newer remote edit wins")

	older, err := st.Get("older")
	require.NoError(t, err)
	assert.Equal(t, "local-name", older.AccountName, "newer local edit wins")

	// The stale server copy gets the local version pushed back.
	require.Len(t, client.Pushed, 1)
	require.Len(t, client.Pushed[0], 1)
	assert.Equal(t, "older", client.Pushed[0][0].ID)
}

func TestSyncReordersToRemoteOrder(t *testing.T) {
	client := &http.MockClient{
		Accounts: []models.RemoteAccount{
			{ID: "2", AccountName: "b", Issuer: "b", SecretKey: secretA, ChangedAt: 100},
			{ID: "1", AccountName: "a", Issuer: "a", SecretKey: secretA, ChangedAt: 100},
		},
	}
	syncer, st, _ := newSyncFixture(t, client)

	_, err := st.Insert(models.Account{ID: "1", AccountName: "a", Issuer: "a", SecretKey: secretA,
		ChangedAt: time.Unix(100, 0).UTC()})
	require.NoError(t, err)
	_, err = st.Insert(models.Account{ID: "2", AccountName: "b", Issuer: "b", SecretKey: secretA,
		ChangedAt: time.Unix(100, 0).UTC()})
	require.NoError(t, err)
	_, err = st.Insert(models.Account{ID: "local", AccountName: "c", Issuer: "c", SecretKey: secretA})
	require.NoError(t, err)

	require.NoError(t, syncer.Sync(context.Background()))

	listed := st.List()
	require.Len(t, listed, 3)
	assert.Equal(t, "2", listed[0].ID, "remote order wins")
	assert.Equal(t, "1", listed[1].ID)
	assert.Equal(t, "local", listed[2].ID, "local-only appended")
}

func TestSyncFailureLeavesStoreUntouched(t *testing.T) {
	client := &http.MockClient{FetchAccountsErr: models.ErrSyncServer}
	syncer, st, _ := newSyncFixture(t, client)

	_, err := st.Insert(models.Account{AccountName: "alice", SecretKey: secretA})
	require.NoError(t, err)
	before := st.List()
	rev := st.Revision()

	err = syncer.Sync(context.Background())
	require.ErrorIs(t, err, models.ErrSyncServer)

	assert.True(t, reflect.DeepEqual(before, st.List()))
	assert.Equal(t, rev, st.Revision())
	assert.Equal(t, "failed", syncer.State().Phase())
	assert.ErrorIs(t, syncer.State().LastError, models.ErrSyncServer)
	assert.True(t, syncer.State().LastSyncAt.IsZero())
}

func TestSyncCoalescesConcurrentCalls(t *testing.T) {
	client := &http.MockClient{
		FetchStarted: make(chan struct{}),
		FetchRelease: make(chan struct{}),
	}
	syncer, _, _ := newSyncFixture(t, client)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = syncer.Sync(context.Background())
	}()

	<-client.FetchStarted
	assert.Equal(t, "syncing", syncer.State().Phase())

	// Second call while the first is in flight: coalesced no-op.
	require.NoError(t, syncer.Sync(context.Background()))

	close(client.FetchRelease)
	wg.Wait()

	assert.Equal(t, 1, client.Fetches(), "exactly one network fetch")
}

func TestSyncMergesEditsMadeDuringFetch(t *testing.T) {
	client := &http.MockClient{
		Accounts: []models.RemoteAccount{
			{ID: "r1", AccountName: "alice", SecretKey: secretA, ChangedAt: 100},
		},
		FetchStarted: make(chan struct{}),
		FetchRelease: make(chan struct{}),
	}
	syncer, st, _ := newSyncFixture(t, client)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = syncer.Sync(context.Background())
	}()

	<-client.FetchStarted
	// A user edit lands while the fetch is on the wire.
	id, err := st.Insert(models.Account{AccountName: "during-fetch", SecretKey: secretB})
	require.NoError(t, err)
	close(client.FetchRelease)
	wg.Wait()

	// The diff ran against the store state at apply time, so the edit
	// survives alongside the fetched account.
	_, err = st.Get(id)
	assert.NoError(t, err)
	_, err = st.Get("r1")
	assert.NoError(t, err)
}

func TestSyncOfflineIsNoOp(t *testing.T) {
	client := &http.MockClient{}
	clk := clock.NewFake(time.Unix(1_700_000_000, 0).UTC())
	st := store.New(totp.NewEngine(30, 6), clk, nil)
	observer := connectivity.NewManual(false)
	syncer := NewSyncer(client, st, observer, clk, SyncerOptions{})

	require.NoError(t, syncer.Sync(context.Background()))
	assert.Equal(t, 0, client.Fetches())
	assert.Equal(t, "idle", syncer.State().Phase())
}

func TestSyncWithoutCredentialsIsNoOp(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0).UTC())
	st := store.New(totp.NewEngine(30, 6), clk, nil)
	syncer := NewSyncer(nil, st, connectivity.NewManual(true), clk, SyncerOptions{})

	require.NoError(t, syncer.Sync(context.Background()))
	assert.Equal(t, "idle", syncer.State().Phase())
}

func TestSyncSkipsMalformedRemoteRecord(t *testing.T) {
	client := &http.MockClient{
		Accounts: []models.RemoteAccount{
			{ID: "bad", AccountName: "broken", SecretKey: "not base32!!", ChangedAt: 100},
			{ID: "good", AccountName: "alice", SecretKey: secretA, ChangedAt: 100},
		},
	}
	syncer, st, _ := newSyncFixture(t, client)

	require.NoError(t, syncer.Sync(context.Background()))

	_, err := st.Get("good")
	assert.NoError(t, err)
	_, err = st.Get("bad")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRunHonorsRefreshRequest(t *testing.T) {
	client := &http.MockClient{}
	syncer, _, _ := newSyncFixture(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go syncer.Run(ctx)

	// First tick syncs immediately; a refresh request forces another
	// attempt well before the 60s interval elapses.
	require.Eventually(t, func() bool { return client.Fetches() >= 1 }, 5*time.Second, 10*time.Millisecond)
	syncer.RequestRefresh()
	require.Eventually(t, func() bool { return client.Fetches() >= 2 }, 5*time.Second, 10*time.Millisecond)
}
