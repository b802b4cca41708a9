package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxTokenResponseBytes bounds the token endpoint response body.
const maxTokenResponseBytes = 64 * 1024

// NewClientCredentialsSource returns a Source that performs the OAuth2
// client-credentials grant against tokenURL. httpClient may be nil, in
// which case a client with a 10s timeout is used.
func NewClientCredentialsSource(httpClient *http.Client, tokenURL, clientID, clientSecret string) Source {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return func(ctx context.Context) (Token, error) {
		form := url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {clientID},
			"client_secret": {clientSecret},
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return Token{}, fmt.Errorf("building token request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := httpClient.Do(req)
		if err != nil {
			return Token{}, fmt.Errorf("requesting token: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
		if err != nil {
			return Token{}, fmt.Errorf("reading token response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return Token{}, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
		}

		var payload struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int64  `json:"expires_in"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return Token{}, fmt.Errorf("decoding token response: %w", err)
		}
		if payload.AccessToken == "" {
			return Token{}, fmt.Errorf("token endpoint returned no access_token")
		}

		return Token{
			Value:     payload.AccessToken,
			ExpiresAt: time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second),
		}, nil
	}
}
