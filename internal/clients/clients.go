// Package clients holds the interfaces for collaborating services and
// their HTTP implementations.
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// CaseDirectory answers whether a case exists before a document is
// accepted for it.
type CaseDirectory interface {
	Exists(ctx context.Context, caseID string) (bool, error)
}

// User identifies the caller as reported by the identity service.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Identity resolves the current user from a request token.
type Identity interface {
	Current(ctx context.Context, token string) (*User, error)
}

// HTTPCaseDirectory talks to the case directory service.
type HTTPCaseDirectory struct {
	baseURL string
	client  *http.Client
}

func NewHTTPCaseDirectory(baseURL string, timeout time.Duration) *HTTPCaseDirectory {
	return &HTTPCaseDirectory{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPCaseDirectory) Exists(ctx context.Context, caseID string) (bool, error) {
	url := fmt.Sprintf("%s/api/v1/cases/%s", c.baseURL, caseID)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("case directory request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("case directory returned %d", resp.StatusCode)
	}
}

// HTTPIdentity talks to the identity service.
type HTTPIdentity struct {
	baseURL string
	client  *http.Client
}

func NewHTTPIdentity(baseURL string, timeout time.Duration) *HTTPIdentity {
	return &HTTPIdentity{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPIdentity) Current(ctx context.Context, token string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/me", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity service returned %d", resp.StatusCode)
	}
	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode identity response: %w", err)
	}
	return &user, nil
}
