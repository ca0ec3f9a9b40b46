package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"auth_session/internal/models"

	"golang.org/x/oauth2"
)

func testCreds() Credentials {
	return Credentials{ClientID: "client", ClientSecret: "secret", RedirectURL: "http://localhost/callback"}
}

func TestAuthCodeURL(t *testing.T) {
	o := NewOAuth(testCreds(), Credentials{})

	raw, err := o.AuthCodeURL(models.ProviderGoogle, "state-1")
	if err != nil {
		t.Fatalf("AuthCodeURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if got := u.Query().Get("state"); got != "state-1" {
		t.Fatalf("state: got %q", got)
	}
	if got := u.Query().Get("client_id"); got != "client" {
		t.Fatalf("client_id: got %q", got)
	}

	if _, err := o.AuthCodeURL(models.ProviderGitHub, "state-1"); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "provider-access",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	o := NewOAuth(Credentials{}, testCreds(),
		WithHTTPClient(srv.Client()),
		WithEndpoint(models.ProviderGitHub, oauth2.Endpoint{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token"}),
	)

	token, err := o.Exchange(context.Background(), models.ProviderGitHub, "good-code")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if token != "provider-access" {
		t.Fatalf("unexpected token %q", token)
	}

	if _, err := o.Exchange(context.Background(), models.ProviderGitHub, "bad-code"); err == nil {
		t.Fatalf("expected an error for a rejected code")
	}
}

func TestEmail_Google(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("access_token") {
		case "verified":
			_, _ = w.Write([]byte(`{"aud":"client","email":"g@example.com","email_verified":"true"}`))
		case "authorized-party":
			_, _ = w.Write([]byte(`{"aud":"other-api","azp":"client","email":"g@example.com","email_verified":"true"}`))
		case "foreign":
			_, _ = w.Write([]byte(`{"aud":"someone-elses-client","email":"victim@example.com","email_verified":"true"}`))
		case "unverified":
			_, _ = w.Write([]byte(`{"aud":"client","email":"g@example.com","email_verified":"false"}`))
		default:
			http.Error(w, `{"error":"invalid_token"}`, http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	o := NewOAuth(testCreds(), Credentials{}, WithHTTPClient(srv.Client()), WithGoogleTokenInfoURL(srv.URL))
	ctx := context.Background()

	email, err := o.Email(ctx, models.ProviderGoogle, "verified")
	if err != nil {
		t.Fatalf("Email: %v", err)
	}
	if email != "g@example.com" {
		t.Fatalf("unexpected email %q", email)
	}

	if email, err := o.Email(ctx, models.ProviderGoogle, "authorized-party"); err != nil || email != "g@example.com" {
		t.Fatalf("azp match: got %q, %v", email, err)
	}
	if email, err := o.Email(ctx, models.ProviderGoogle, "foreign"); !errors.Is(err, ErrForeignToken) {
		t.Fatalf("token for another client: expected ErrForeignToken, got %q, %v", email, err)
	}
	if _, err := o.Email(ctx, models.ProviderGoogle, "unverified"); !errors.Is(err, ErrEmailUnavailable) {
		t.Fatalf("expected ErrEmailUnavailable, got %v", err)
	}
	if _, err := o.Email(ctx, models.ProviderGoogle, "revoked"); err == nil {
		t.Fatalf("expected an error for a rejected token")
	}
}

func TestEmail_GitHub(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ") {
		case "ok":
			_, _ = w.Write([]byte(`[
				{"email":"old@example.com","primary":false,"verified":true},
				{"email":"gh@example.com","primary":true,"verified":true}
			]`))
		default:
			_, _ = w.Write([]byte(`[{"email":"gh@example.com","primary":true,"verified":false}]`))
		}
	}))
	defer srv.Close()

	o := NewOAuth(Credentials{}, testCreds(), WithHTTPClient(srv.Client()), WithGitHubEmailsURL(srv.URL))
	ctx := context.Background()

	email, err := o.Email(ctx, models.ProviderGitHub, "ok")
	if err != nil {
		t.Fatalf("Email: %v", err)
	}
	if email != "gh@example.com" {
		t.Fatalf("unexpected email %q", email)
	}

	if _, err := o.Email(ctx, models.ProviderGitHub, "unverified"); !errors.Is(err, ErrEmailUnavailable) {
		t.Fatalf("expected ErrEmailUnavailable, got %v", err)
	}
	if _, err := o.Email(ctx, models.ProviderGoogle, "ok"); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    models.Provider
		wantErr bool
	}{
		{in: "google", want: models.ProviderGoogle},
		{in: "GitHub", want: models.ProviderGitHub},
		{in: "none", wantErr: true},
		{in: "facebook", wantErr: true},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("Parse(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("Parse(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestNewState(t *testing.T) {
	a, err := NewState()
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	b, _ := NewState()
	if a == "" || a == b {
		t.Fatalf("states must be random and non-empty: %q %q", a, b)
	}
}
