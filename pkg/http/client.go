package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/otpkeep/otpkeep/pkg/models"
	"github.com/otpkeep/otpkeep/pkg/utils"
)

const defaultTimeout = 15 * time.Second

// Client talks JSON to the remote account-sync service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a sync client for the given server. The token is sent
// as a bearer credential on every request. Every request is bounded by a
// per-request timeout so a stalled server surfaces as ErrSyncTimeout
// instead of hanging the scheduler.
func NewClient(serverURL, token string, debug bool) (*Client, error) {
	if _, err := url.ParseRequestURI(serverURL); err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}

	transport := http.DefaultTransport
	if debug {
		transport = utils.DebugRoundTripperWithUnderlying(transport)
	}

	return &Client{
		baseURL: serverURL,
		token:   token,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: transport,
		},
	}, nil
}

// FetchAccounts retrieves the remote canonical account list.
func (c *Client) FetchAccounts(ctx context.Context) ([]models.RemoteAccount, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/accounts", nil)
	if err != nil {
		return nil, err
	}

	var accounts []models.RemoteAccount
	if err := json.Unmarshal(body, &accounts); err != nil {
		return nil, fmt.Errorf("%w: decoding account list: %v", models.ErrSyncServer, err)
	}

	return accounts, nil
}

// PushAccounts uploads a batch of local accounts to the server.
func (c *Client) PushAccounts(ctx context.Context, batch []models.RemoteAccount) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encoding account batch: %w", err)
	}

	_, err = c.do(ctx, http.MethodPut, "/v1/accounts", payload)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", models.ErrSyncNetwork, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: server returned %s", models.ErrSyncAuth, resp.Status)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: server returned %s", models.ErrSyncServer, resp.Status)
	}

	return body, nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrSyncTimeout, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %v", models.ErrSyncTimeout, err)
	}
	return fmt.Errorf("%w: %v", models.ErrSyncNetwork, err)
}
