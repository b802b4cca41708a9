package token

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientCredentialsSource(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parsing form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "client_credentials" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostForm.Get("client_id"); got != "svc" {
			t.Errorf("client_id = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-abc","expires_in":3600}`))
	}))
	defer srv.Close()

	source := NewClientCredentialsSource(srv.Client(), srv.URL, "svc", "secret")

	tok, err := source(context.Background())
	if err != nil {
		t.Fatalf("source() error: %v", err)
	}
	if tok.Value != "tok-abc" {
		t.Errorf("token value = %q, want tok-abc", tok.Value)
	}
	if remaining := time.Until(tok.ExpiresAt); remaining < 59*time.Minute {
		t.Errorf("token expiry too soon: %v", remaining)
	}
}

func TestClientCredentialsSourceErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{}`, wantErr: "returned 401"},
		{name: "missing token", status: http.StatusOK, body: `{"expires_in":60}`, wantErr: "no access_token"},
		{name: "invalid json", status: http.StatusOK, body: `not json`, wantErr: "decoding"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			source := NewClientCredentialsSource(srv.Client(), srv.URL, "svc", "secret")

			_, err := source(context.Background())
			if err == nil {
				t.Fatal("source() = nil, want error")
			}
		})
	}
}
