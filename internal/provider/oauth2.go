package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/lggm33/afp-vault/internal/config"
	"github.com/lggm33/afp-vault/internal/models"
)

// Providers that omit expires_in get this validity window; the vault never
// stores a token without one.
const defaultTokenValidity = 1 * time.Hour

// OAuth2Refresher performs refresh-grant exchanges against the real provider
// token endpoints (Google for gmail, Microsoft for outlook).
type OAuth2Refresher struct {
	configs    map[models.Provider]*oauth2.Config
	httpClient *http.Client
}

// NewOAuth2Refresher builds a refresher from the configured OAuth
// applications. Providers without configured client credentials are left out
// and reject refresh calls.
func NewOAuth2Refresher(cfg *config.Config) *OAuth2Refresher {
	configs := make(map[models.Provider]*oauth2.Config)

	if cfg.GoogleClientID != "" {
		configs[models.ProviderGmail] = &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			Endpoint:     endpoints.Google,
		}
	}
	if cfg.MicrosoftClientID != "" {
		configs[models.ProviderOutlook] = &oauth2.Config{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			Endpoint:     endpoints.AzureAD(cfg.MicrosoftTenant),
		}
	}

	return &OAuth2Refresher{
		configs:    configs,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Refresh exchanges the refresh secret for new token material.
func (r *OAuth2Refresher) Refresh(
	ctx context.Context,
	p models.Provider,
	refreshSecret string,
) (*RefreshResult, error) {
	conf, ok := r.configs[p]
	if !ok {
		return nil, fmt.Errorf("%w: no OAuth application configured for provider %q",
			ErrRefreshRejected, p)
	}

	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}

	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshSecret})
	token, err := src.Token()
	if err != nil {
		return nil, classify(err)
	}

	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(defaultTokenValidity)
	}

	result := &RefreshResult{
		AccessSecret: token.AccessToken,
		ExpiresAt:    expiresAt,
	}
	// The provider may rotate the refresh secret or keep the old one;
	// oauth2 leaves RefreshToken empty in the latter case.
	if token.RefreshToken != refreshSecret {
		result.RefreshSecret = token.RefreshToken
	}
	return result, nil
}

// classify maps a token endpoint failure onto the two caller-visible
// outcomes. Definitive 4xx responses mean the grant is dead; everything
// else (network errors, 5xx, 429) is worth retrying.
func classify(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		code := retrieveErr.Response.StatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", ErrRefreshRejected, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrRefreshTransient, err)
}
