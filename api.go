package bifrost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// apiEnvelope is the backend's uniform response wrapper.
type apiEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// tokenGrant is the payload of a successful login or refresh. Refresh
// responses omit the user.
type tokenGrant struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresIn   int64      `json:"expires_in"`
	User        *Principal `json:"user,omitempty"`
}

func (b *Bifrost) endpoint(path string) string {
	return strings.TrimSuffix(b.config.BaseURL, "/") + b.config.APIPrefix + path
}

// exchangeAssertion trades an identity-provider assertion for a token
// grant. Single attempt; a backend-provided message is surfaced verbatim.
func (b *Bifrost) exchangeAssertion(ctx context.Context, assertion string) (*tokenGrant, error) {
	body, err := json.Marshal(map[string]string{"azure_token": assertion})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint("/admin/auth/azure"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.base.Do(req)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: invalid response", ErrAuthenticationFailed)
	}
	if !env.Success || resp.StatusCode >= http.StatusBadRequest {
		if env.Message != "" {
			return nil, fmt.Errorf("%w: %s", ErrAuthenticationFailed, env.Message)
		}
		return nil, ErrAuthenticationFailed
	}

	var grant tokenGrant
	if err := json.Unmarshal(env.Data, &grant); err != nil {
		return nil, fmt.Errorf("%w: invalid grant payload", ErrAuthenticationFailed)
	}
	return &grant, nil
}

// exchangeRefresh renews the token using the current one as credential.
// Each call is bounded by the shorter refresh timeout.
func (b *Bifrost) exchangeRefresh(ctx context.Context, currentToken string) (*tokenGrant, error) {
	b.mu.Lock()
	timeout := b.config.RefreshTimeout
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint("/admin/auth/refresh"), strings.NewReader("{}"))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+currentToken)

	resp, err := b.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("bifrost: invalid refresh response: %w", err)
	}
	if !env.Success || resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("bifrost: refresh rejected: %s", env.Message)
	}

	var grant tokenGrant
	if err := json.Unmarshal(env.Data, &grant); err != nil {
		return nil, fmt.Errorf("bifrost: invalid refresh grant: %w", err)
	}
	if grant.AccessToken == "" {
		return nil, fmt.Errorf("bifrost: refresh grant carried no token")
	}
	return &grant, nil
}

// fetchCurrentUser asks the backend who the token belongs to.
func (b *Bifrost) fetchCurrentUser(ctx context.Context, token string) (*Principal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint("/admin/auth/me"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := b.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("bifrost: invalid user response: %w", err)
	}
	if !env.Success || resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("bifrost: fetch current user rejected: %s", env.Message)
	}

	var principal Principal
	if err := json.Unmarshal(env.Data, &principal); err != nil {
		return nil, fmt.Errorf("bifrost: invalid principal payload: %w", err)
	}
	return &principal, nil
}

// Users lists all users. Requires an admin-capable session; the call goes
// through the authorized client and so participates in refresh-and-replay.
func (b *Bifrost) Users(ctx context.Context) ([]Principal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint("/admin/users/"), nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.authed.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("bifrost: invalid users response: %w", err)
	}
	if !env.Success || resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("bifrost: list users rejected: %s", env.Message)
	}

	var users []Principal
	if err := json.Unmarshal(env.Data, &users); err != nil {
		return nil, fmt.Errorf("bifrost: invalid users payload: %w", err)
	}
	return users, nil
}

// UpdateUserRole changes a user's role through the admin endpoint.
func (b *Bifrost) UpdateUserRole(ctx context.Context, userID string, role Role) (*Principal, error) {
	body, err := json.Marshal(map[string]Role{"role": role})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.endpoint("/admin/users/"+userID), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.authed.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("bifrost: invalid update response: %w", err)
	}
	if !env.Success || resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("bifrost: update user rejected: %s", env.Message)
	}

	var principal Principal
	if err := json.Unmarshal(env.Data, &principal); err != nil {
		return nil, fmt.Errorf("bifrost: invalid principal payload: %w", err)
	}
	return &principal, nil
}
