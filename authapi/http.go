// Package authapi wraps the two remote authentication endpoints: the
// identity service that turns credentials into an identity token, and the
// backend session service that turns an identity token into a session and
// renews it.
package authapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"golang.org/x/oauth2"
)

// Timeouts for the individual calls.
const (
	identityTimeout       = 10 * time.Second
	sessionCreateTimeout  = 10 * time.Second
	sessionRefreshTimeout = 10 * time.Second
)

// Doer sends a request. *retry.Client satisfies it.
type Doer interface {
	DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns the TLS 1.2+ client every backend call is built on.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// NewRetryClient wraps NewHTTPClient with go-httpretry for the
// authentication endpoints.
func NewRetryClient() (*retry.Client, error) {
	client, err := retry.NewBackgroundClient(retry.WithHTTPClient(NewHTTPClient()))
	if err != nil {
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}
	return client, nil
}

// postJSON sends payload as JSON and returns the response body. Non-2xx
// responses are returned as *oauth2.RetrieveError so callers can inspect
// the status and body.
func postJSON(
	ctx context.Context,
	doer Doer,
	timeout time.Duration,
	target string,
	header http.Header,
	payload any,
) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := doer.DoWithContext(reqCtx, req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &oauth2.RetrieveError{
			Response: resp,
			Body:     body,
		}
	}

	return body, nil
}
