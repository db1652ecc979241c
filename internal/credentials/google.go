package credentials

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

// GoogleProvider refreshes Google OAuth2 access tokens (Drive, Gmail,
// Sheets, Calendar triggers and executors all share this token) using
// the standard x/oauth2/google refresh-token flow.
type GoogleProvider struct {
	config *oauth2.Config
}

func NewGoogleProvider(clientID, clientSecret string, scopes []string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		},
	}
}

func (g *GoogleProvider) Refresh(ctx context.Context, refreshToken string) (TokenSet, error) {
	src := g.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return TokenSet{}, schema.NewError(schema.ErrCodeAuthError, "google: refresh token exchange failed").WithCause(err)
	}
	return TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}
