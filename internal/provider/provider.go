// Package provider talks to third-party identity providers: it builds the
// consent URL, exchanges the authorization code and resolves the verified
// email address of the account.
package provider

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"auth_session/internal/models"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

const (
	defaultGoogleTokenInfoURL = "https://www.googleapis.com/oauth2/v3/tokeninfo"
	defaultGitHubEmailsURL    = "https://api.github.com/user/emails"
)

var (
	ErrUnsupportedProvider = errors.New("provider is not configured")
	ErrEmailUnavailable    = errors.New("provider returned no verified email")
	ErrForeignToken        = errors.New("token was issued to another client")
)

// Exchanger is what the transport needs to run a provider login.
type Exchanger interface {
	AuthCodeURL(p models.Provider, state string) (string, error)
	Exchange(ctx context.Context, p models.Provider, code string) (string, error)
	Email(ctx context.Context, p models.Provider, accessToken string) (string, error)
}

type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type OAuth struct {
	configs map[models.Provider]*oauth2.Config
	client  *http.Client

	googleTokenInfoURL string
	githubEmailsURL    string
}

type Option func(*OAuth)

func WithHTTPClient(client *http.Client) Option {
	return func(o *OAuth) {
		o.client = client
	}
}

func WithGoogleTokenInfoURL(u string) Option {
	return func(o *OAuth) {
		o.googleTokenInfoURL = u
	}
}

func WithGitHubEmailsURL(u string) Option {
	return func(o *OAuth) {
		o.githubEmailsURL = u
	}
}

// WithEndpoint overrides the authorization server of a configured provider.
func WithEndpoint(p models.Provider, endpoint oauth2.Endpoint) Option {
	return func(o *OAuth) {
		if conf, ok := o.configs[p]; ok {
			conf.Endpoint = endpoint
		}
	}
}

// NewOAuth configures every provider that has a client id. Providers left
// blank are reported as unsupported.
func NewOAuth(googleCreds, githubCreds Credentials, opts ...Option) *OAuth {
	o := &OAuth{
		configs:            make(map[models.Provider]*oauth2.Config),
		client:             http.DefaultClient,
		googleTokenInfoURL: defaultGoogleTokenInfoURL,
		githubEmailsURL:    defaultGitHubEmailsURL,
	}

	if googleCreds.ClientID != "" {
		o.configs[models.ProviderGoogle] = &oauth2.Config{
			ClientID:     googleCreds.ClientID,
			ClientSecret: googleCreds.ClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  googleCreds.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
		}
	}
	if githubCreds.ClientID != "" {
		o.configs[models.ProviderGitHub] = &oauth2.Config{
			ClientID:     githubCreds.ClientID,
			ClientSecret: githubCreds.ClientSecret,
			Endpoint:     github.Endpoint,
			RedirectURL:  githubCreds.RedirectURL,
			Scopes:       []string{"user:email"},
		}
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

func (o *OAuth) AuthCodeURL(p models.Provider, state string) (string, error) {
	const op = "provider.AuthCodeURL"

	conf, ok := o.configs[p]
	if !ok {
		return "", fmt.Errorf("%s: %s: %w", op, p, ErrUnsupportedProvider)
	}

	return conf.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

func (o *OAuth) Exchange(ctx context.Context, p models.Provider, code string) (string, error) {
	const op = "provider.Exchange"

	conf, ok := o.configs[p]
	if !ok {
		return "", fmt.Errorf("%s: %s: %w", op, p, ErrUnsupportedProvider)
	}

	token, err := conf.Exchange(context.WithValue(ctx, oauth2.HTTPClient, o.client), code)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return token.AccessToken, nil
}

// Email returns the verified address behind a provider access token.
func (o *OAuth) Email(ctx context.Context, p models.Provider, accessToken string) (string, error) {
	const op = "provider.Email"

	if _, ok := o.configs[p]; !ok {
		return "", fmt.Errorf("%s: %s: %w", op, p, ErrUnsupportedProvider)
	}

	var (
		email string
		err   error
	)
	switch p {
	case models.ProviderGoogle:
		email, err = o.googleEmail(ctx, accessToken)
	case models.ProviderGitHub:
		email, err = o.githubEmail(ctx, accessToken)
	default:
		err = ErrUnsupportedProvider
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return email, nil
}

func (o *OAuth) googleEmail(ctx context.Context, accessToken string) (string, error) {
	u, err := url.Parse(o.googleTokenInfoURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("access_token", accessToken)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}

	var info struct {
		Audience      string `json:"aud"`
		AuthorizedBy  string `json:"azp"`
		Email         string `json:"email"`
		EmailVerified string `json:"email_verified"`
	}
	if err := o.getJSON(req, &info); err != nil {
		return "", err
	}

	// Tokens issued to another client must not log anyone in here.
	clientID := o.configs[models.ProviderGoogle].ClientID
	if info.Audience != clientID && info.AuthorizedBy != clientID {
		return "", ErrForeignToken
	}
	if info.Email == "" || info.EmailVerified != "true" {
		return "", ErrEmailUnavailable
	}

	return info.Email, nil
}

func (o *OAuth) githubEmail(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.githubEmailsURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := o.getJSON(req, &emails); err != nil {
		return "", err
	}

	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}

	return "", ErrEmailUnavailable
}

func (o *OAuth) getJSON(req *http.Request, dst any) error {
	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, req.URL.Host)
	}

	return json.NewDecoder(resp.Body).Decode(dst)
}

// NewState returns a random value for the OAuth state parameter.
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Parse maps a URL segment such as "google" to a provider.
func Parse(s string) (models.Provider, error) {
	p, ok := models.ParseProvider(strings.ToUpper(s))
	if !ok || p == models.ProviderNone {
		return "", fmt.Errorf("%q: %w", s, ErrUnsupportedProvider)
	}
	return p, nil
}
