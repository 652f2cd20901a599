package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otpkeep/otpkeep/pkg/models"
)

func TestFetchAccounts(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]models.RemoteAccount{
			{ID: "1", AccountName: "alice", Issuer: "github", SecretKey: "JBSWY3DPEHPK3PXP", ChangedAt: 100},
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "tok", false)
	require.NoError(t, err)

	accounts, err := client.FetchAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "alice", accounts[0].AccountName)
	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestPushAccounts(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody []models.RemoteAccount
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "tok", false)
	require.NoError(t, err)

	batch := []models.RemoteAccount{{ID: "1", AccountName: "alice", SecretKey: "JBSWY3DPEHPK3PXP"}}
	require.NoError(t, client.PushAccounts(context.Background(), batch))

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/v1/accounts", gotPath)
	require.Len(t, gotBody, 1)
	assert.Equal(t, "1", gotBody[0].ID)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, models.ErrSyncAuth},
		{"forbidden", http.StatusForbidden, models.ErrSyncAuth},
		{"server error", http.StatusInternalServerError, models.ErrSyncServer},
		{"bad request", http.StatusBadRequest, models.ErrSyncServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client, err := NewClient(server.URL, "tok", false)
			require.NoError(t, err)

			_, err = client.FetchAccounts(context.Background())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNetworkErrorClassification(t *testing.T) {
	// A closed server yields a transport error, not a status code.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client, err := NewClient(url, "tok", false)
	require.NoError(t, err)

	_, err = client.FetchAccounts(context.Background())
	assert.ErrorIs(t, err, models.ErrSyncNetwork)
}

func TestTimeoutClassification(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		server.Close()
	}()

	client, err := NewClient(server.URL, "tok", false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.FetchAccounts(ctx)
	assert.ErrorIs(t, err, models.ErrSyncTimeout)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("not a url", "tok", false)
	assert.Error(t, err)
}

func TestFetchAccountsBadJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "tok", false)
	require.NoError(t, err)

	_, err = client.FetchAccounts(context.Background())
	assert.ErrorIs(t, err, models.ErrSyncServer)
}
