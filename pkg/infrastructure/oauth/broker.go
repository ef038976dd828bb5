package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/desirelines/pipeline/pkg/apperrors"
	"github.com/desirelines/pipeline/pkg/retry"
)

// DefaultTokenURL is the Strava token endpoint.
const DefaultTokenURL = "https://www.strava.com/oauth/token"

// TokenSet is the credential bundle for one athlete. Values are immutable;
// a refresh returns a new TokenSet.
type TokenSet struct {
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// valid reports whether the access token can be used for at least another minute.
func (t TokenSet) valid(now time.Time) bool {
	if t.AccessToken == "" {
		return false
	}
	return t.Expiry.IsZero() || now.Add(time.Minute).Before(t.Expiry)
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, tokens TokenSet) (TokenSet, error)
}

// Broker refreshes access tokens against an OAuth token endpoint.
type Broker struct {
	TokenURL   string
	HTTPClient *http.Client
	Policy     retry.Policy
	Timeout    time.Duration
	Logger     *slog.Logger
}

func NewBroker(tokenURL string, client *http.Client, policy retry.Policy, timeout time.Duration, logger *slog.Logger) *Broker {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{TokenURL: tokenURL, HTTPClient: client, Policy: policy, Timeout: timeout, Logger: logger}
}

// Refresh performs a refresh_token grant. Network failures and 5xx answers
// are retried per Policy. A 401 is a CredentialError and is never retried.
func (b *Broker) Refresh(ctx context.Context, tokens TokenSet) (TokenSet, error) {
	if tokens.RefreshToken == "" {
		return TokenSet{}, &apperrors.CredentialError{Operation: "refresh_token", Err: errors.New("refresh token is not set")}
	}

	policy := b.Policy.WithRetryable(isServerSide)
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		b.Logger.Warn("Token refresh failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	}

	return retry.DoValue(ctx, policy, func(ctx context.Context) (TokenSet, error) {
		return b.exchange(ctx, tokens)
	})
}

func (b *Broker) exchange(ctx context.Context, tokens TokenSet) (TokenSet, error) {
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}
	if b.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, b.HTTPClient)
	}

	cfg := oauth2.Config{
		ClientID:     tokens.ClientID,
		ClientSecret: tokens.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  b.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: tokens.RefreshToken}).Token()
	if err != nil {
		return TokenSet{}, classify(err)
	}

	refreshed := tokens
	refreshed.AccessToken = tok.AccessToken
	refreshed.Expiry = tok.Expiry
	if tok.RefreshToken != "" {
		refreshed.RefreshToken = tok.RefreshToken
	}
	return refreshed, nil
}

func classify(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		code := retrieveErr.Response.StatusCode
		if code == http.StatusUnauthorized {
			return &apperrors.CredentialError{Operation: "refresh_token", StatusCode: code, Err: err}
		}
		return &apperrors.UpstreamAPIError{Operation: "refresh_token", StatusCode: code, Err: err}
	}
	return &apperrors.UpstreamAPIError{Operation: "refresh_token", Err: fmt.Errorf("token request: %w", err)}
}

// isServerSide limits internal retries to network errors and 5xx answers.
func isServerSide(err error) bool {
	var upstream *apperrors.UpstreamAPIError
	if !errors.As(err, &upstream) {
		return false
	}
	return upstream.StatusCode == 0 || upstream.StatusCode >= http.StatusInternalServerError
}

// TokenSource returns an access token ready for use.
type TokenSource interface {
	Token(ctx context.Context) (TokenSet, error)
}

// RefreshingSource refreshes on first use and reuses the result until it
// nears expiry. It is owned by the service that constructed it.
type RefreshingSource struct {
	refresher Refresher
	now       func() time.Time

	mu      sync.Mutex
	current TokenSet
}

func NewRefreshingSource(r Refresher, initial TokenSet) *RefreshingSource {
	return &RefreshingSource{refresher: r, now: time.Now, current: initial}
}

func (s *RefreshingSource) Token(ctx context.Context) (TokenSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.valid(s.now()) {
		return s.current, nil
	}

	refreshed, err := s.refresher.Refresh(ctx, s.current)
	if err != nil {
		return TokenSet{}, err
	}
	s.current = refreshed
	return refreshed, nil
}
