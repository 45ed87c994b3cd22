// Package eventsource fetches security events from Azure Log Analytics and
// keeps the OpenSearch event indices in sync with it.
package eventsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/telhawk-systems/secops-alerts/detect/internal/metrics"
)

// ErrNotConfigured is returned when Log Analytics credentials are missing.
var ErrNotConfigured = errors.New("log analytics is not configured")

const (
	DefaultAuthority     = "https://login.microsoftonline.com"
	DefaultScope         = "https://api.loganalytics.io/.default"
	DefaultRefreshBuffer = 60 * time.Second
	DefaultFetchTimeout  = 30 * time.Second
)

// TokenFetcher obtains a fresh access token.
// clientcredentials.Config satisfies it.
type TokenFetcher interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// Credentials identify the Azure AD application used for Log Analytics.
type Credentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Authority    string
	Scope        string
}

// Configured reports whether all required fields are set.
func (c Credentials) Configured() bool {
	return c.TenantID != "" && c.ClientID != "" && c.ClientSecret != ""
}

// TokenURL is the OAuth2 v2 token endpoint for the tenant.
func (c Credentials) TokenURL() string {
	authority := strings.TrimRight(c.Authority, "/")
	if authority == "" {
		authority = DefaultAuthority
	}
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", authority, c.TenantID)
}

// TokenProvider caches an access token and refreshes it shortly before it
// expires. It is safe for concurrent use: readers share the cached token
// under a read lock and concurrent refreshes collapse into one request.
type TokenProvider struct {
	fetcher TokenFetcher
	buffer  time.Duration
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	token string
	// expiresAt already has the refresh buffer subtracted.
	expiresAt time.Time

	group singleflight.Group
}

// NewTokenProvider creates a provider using the OAuth2 client-credentials
// flow against Azure AD.
func NewTokenProvider(creds Credentials, logger *slog.Logger) (*TokenProvider, error) {
	if !creds.Configured() {
		return nil, ErrNotConfigured
	}
	scope := creds.Scope
	if scope == "" {
		scope = DefaultScope
	}
	cc := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.TokenURL(),
		Scopes:       []string{scope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	return NewTokenProviderWithFetcher(cc, DefaultRefreshBuffer, logger), nil
}

// NewTokenProviderWithFetcher creates a provider around any token fetcher.
func NewTokenProviderWithFetcher(fetcher TokenFetcher, buffer time.Duration, logger *slog.Logger) *TokenProvider {
	if buffer < 0 {
		buffer = DefaultRefreshBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenProvider{
		fetcher: fetcher,
		buffer:  buffer,
		timeout: DefaultFetchTimeout,
		logger:  logger,
		now:     time.Now,
	}
}

// Token returns a valid access token, fetching a new one when the cached
// token is missing or within the refresh buffer of expiry.
//
// The shared refresh runs detached from any single caller's context and is
// bounded by the fetch timeout. Each caller stops waiting when its own ctx
// is done.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	if tok, ok := p.cached(); ok {
		return tok, nil
	}

	ch := p.group.DoChan("token", func() (interface{}, error) {
		// Another caller may have refreshed while we waited.
		if tok, ok := p.cached(); ok {
			return tok, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		return p.refresh(fetchCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("failed to acquire access token: %w", ctx.Err())
	}
}

// Invalidate drops the cached token so the next call refreshes.
func (p *TokenProvider) Invalidate() {
	p.mu.Lock()
	p.token = ""
	p.expiresAt = time.Time{}
	p.mu.Unlock()
}

func (p *TokenProvider) cached() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.token == "" || !p.now().Before(p.expiresAt) {
		return "", false
	}
	return p.token, true
}

func (p *TokenProvider) refresh(ctx context.Context) (string, error) {
	tok, err := p.fetcher.Token(ctx)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return "", fmt.Errorf("failed to acquire access token: %w", err)
	}
	if tok == nil || tok.AccessToken == "" {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return "", errors.New("token endpoint returned an empty access token")
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = p.now().Add(time.Hour)
	}

	p.mu.Lock()
	p.token = tok.AccessToken
	p.expiresAt = expiry.Add(-p.buffer)
	p.mu.Unlock()

	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	p.logger.Debug("refreshed access token", slog.Time("expires_at", expiry))
	return tok.AccessToken, nil
}
