package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/upb/tma-auth-gateway/identity"
)

// APIError is a non-2xx Identity Toolkit response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("identity toolkit: status %d: %s", e.Status, e.Message)
}

// Temporary reports whether the call may succeed when retried.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type userRecord struct {
	LocalID     string `json:"localId"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoUrl,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
}

type lookupRequest struct {
	LocalID []string `json:"localId"`
}

type lookupResponse struct {
	Users []userRecord `json:"users"`
}

type createRequest struct {
	LocalID     string `json:"localId"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoUrl,omitempty"`
}

// AccountStore is an identity.AccountStore backed by Firebase Authentication.
type AccountStore struct {
	client *Client
}

// NewAccountStore creates a store over client.
func NewAccountStore(client *Client) *AccountStore {
	return &AccountStore{client: client}
}

// LookupAccount implements identity.AccountStore. Firebase reports a missing
// user as a response without "users".
func (s *AccountStore) LookupAccount(ctx context.Context, subject string) (*identity.Account, bool, error) {
	var resp lookupResponse
	if err := s.client.call(ctx, "accounts:lookup", lookupRequest{LocalID: []string{subject}}, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == "USER_NOT_FOUND" {
			return nil, false, nil
		}
		return nil, false, err
	}

	for _, user := range resp.Users {
		if user.LocalID != subject {
			continue
		}
		return toAccount(user), true, nil
	}
	return nil, false, nil
}

// CreateAccount implements identity.AccountStore.
func (s *AccountStore) CreateAccount(ctx context.Context, account *identity.Account) error {
	req := createRequest{
		LocalID:     account.Subject,
		DisplayName: account.DisplayName,
		PhotoURL:    account.PhotoURL,
	}
	if err := s.client.call(ctx, "accounts", req, nil); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == "DUPLICATE_LOCAL_ID" {
			return identity.ErrAccountExists
		}
		return err
	}
	return nil
}

func toAccount(user userRecord) *identity.Account {
	account := &identity.Account{
		Subject:     user.LocalID,
		DisplayName: user.DisplayName,
		PhotoURL:    user.PhotoURL,
	}
	if id, ok := strings.CutPrefix(user.LocalID, identity.SubjectPrefix); ok {
		account.ExternalID, _ = strconv.ParseInt(id, 10, 64)
	}
	if ms, err := strconv.ParseInt(user.CreatedAt, 10, 64); err == nil {
		account.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return account
}

// call POSTs a JSON body to a project scoped Identity Toolkit method.
func (c *Client) call(ctx context.Context, method string, in, out interface{}) error {
	if err := c.Init(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	endpoint := fmt.Sprintf("%s/v1/projects/%s/%s", c.baseURL, c.account.ProjectID, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse %s response: %w", method, err)
	}
	return nil
}

// decodeAPIError keeps the upstream code but never the raw body.
func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Message: http.StatusText(status)}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error.Message != "" {
		// messages look like "DUPLICATE_LOCAL_ID" or "INVALID_ID_TOKEN : detail"
		code, _, _ := strings.Cut(eb.Error.Message, " ")
		apiErr.Code = code
		apiErr.Message = code
	}
	return apiErr
}
