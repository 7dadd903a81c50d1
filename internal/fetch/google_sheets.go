package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/rpattn/csvmodels/internal/config"
)

// SheetsReadonlyScope grants read access to the operator's spreadsheets.
const SheetsReadonlyScope = "https://www.googleapis.com/auth/spreadsheets.readonly"

// ErrOAuthNotConfigured is returned when the Google client id or secret is
// missing.
var ErrOAuthNotConfigured = errors.New("google oauth client is not configured")

// Settings resolves named settings at call time.
type Settings interface {
	Get(name string) string
}

// GoogleOAuth exchanges authorization codes and refresh tokens for the OAuth
// client named by the GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET settings.
type GoogleOAuth struct {
	settings Settings
	endpoint oauth2.Endpoint
	client   *http.Client
}

// NewGoogleOAuth builds an installed-app style OAuth client. client is used
// for token endpoint calls; nil selects http.DefaultClient.
func NewGoogleOAuth(settings Settings, client *http.Client) *GoogleOAuth {
	return &GoogleOAuth{settings: settings, endpoint: google.Endpoint, client: client}
}

// WithEndpoint overrides the token endpoint.
func (g *GoogleOAuth) WithEndpoint(endpoint oauth2.Endpoint) *GoogleOAuth {
	return &GoogleOAuth{settings: g.settings, endpoint: endpoint, client: g.client}
}

// oauthConfig reads the credentials afresh. ok is false when either the id or
// the secret is missing.
func (g *GoogleOAuth) oauthConfig() (*oauth2.Config, bool) {
	cfg := &oauth2.Config{
		ClientID:     g.settings.Get(config.GoogleClientID),
		ClientSecret: g.settings.Get(config.GoogleClientSecret),
		RedirectURL:  g.settings.Get(config.GoogleRedirectURL),
		Scopes:       []string{SheetsReadonlyScope},
		Endpoint:     g.endpoint,
	}
	return cfg, cfg.ClientID != "" && cfg.ClientSecret != ""
}

func (g *GoogleOAuth) context(ctx context.Context) context.Context {
	if g.client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, g.client)
}

// AuthCodeURL is the consent URL shown on the begin page. Offline access with
// a forced consent prompt guarantees a refresh token on exchange.
func (g *GoogleOAuth) AuthCodeURL() string {
	cfg, ok := g.oauthConfig()
	if !ok {
		return ""
	}
	return cfg.AuthCodeURL("csvmodels", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a refresh token.
func (g *GoogleOAuth) Exchange(ctx context.Context, code string) (string, error) {
	cfg, ok := g.oauthConfig()
	if !ok {
		return "", ErrOAuthNotConfigured
	}
	token, err := cfg.Exchange(g.context(ctx), code)
	if err != nil {
		return "", fmt.Errorf("exchange auth code: %w", err)
	}
	if token.RefreshToken == "" {
		return "", errors.New("exchange auth code: no refresh token granted")
	}
	return token.RefreshToken, nil
}

// AccessToken uses refreshToken to mint a fresh access token.
func (g *GoogleOAuth) AccessToken(ctx context.Context, refreshToken string) (string, error) {
	cfg, ok := g.oauthConfig()
	if !ok {
		return "", ErrOAuthNotConfigured
	}
	source := cfg.TokenSource(g.context(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return "", fmt.Errorf("refresh access token: %w", err)
	}
	return token.AccessToken, nil
}

// PrivateSheetImporter downloads sheets that require an OAuth bearer token.
type PrivateSheetImporter struct {
	client *http.Client
	logger *zap.Logger
}

func NewPrivateSheetImporter(client *http.Client, logger *zap.Logger) *PrivateSheetImporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrivateSheetImporter{client: client, logger: logger}
}

// GetCSVFromURL fetches the CSV export of sheetURL as the token's owner.
func (p *PrivateSheetImporter) GetCSVFromURL(ctx context.Context, sheetURL, accessToken string) ([]byte, error) {
	target, err := ExportURL(sheetURL)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("fetching private sheet", zap.String("url", target))

	header := http.Header{}
	header.Set("Authorization", "Bearer "+accessToken)
	payload, err := get(ctx, p.client, target, header)
	if err != nil {
		return nil, fmt.Errorf("fetch private sheet: %w", err)
	}
	return payload, nil
}
