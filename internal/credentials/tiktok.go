package credentials

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

const tiktokRefreshURL = "https://open.tiktokapis.com/v2/oauth/token/"

// TikTokProvider refreshes TikTok access tokens. TikTok's OAuth2 token
// endpoint does not fit the standard x/oauth2 client (it requires
// client_key instead of client_id and returns a non-standard expiry
// field), so this is a direct form-encoded POST.
type TikTokProvider struct {
	clientKey    string
	clientSecret string
	httpClient   *http.Client
}

func NewTikTokProvider(clientKey, clientSecret string) *TikTokProvider {
	return &TikTokProvider{
		clientKey:    clientKey,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}
}

type tiktokRefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

func (t *TikTokProvider) Refresh(ctx context.Context, refreshToken string) (TokenSet, error) {
	form := url.Values{
		"client_key":    {t.clientKey},
		"client_secret": {t.clientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tiktokRefreshURL, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenSet{}, schema.NewError(schema.ErrCodeAuthError, "tiktok: failed to build refresh request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return TokenSet{}, schema.NewError(schema.ErrCodeAuthError, "tiktok: refresh request failed").WithCause(err)
	}
	defer resp.Body.Close()

	var body tiktokRefreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return TokenSet{}, schema.NewError(schema.ErrCodeAuthError, "tiktok: malformed refresh response").WithCause(err)
	}
	if body.Error != "" {
		return TokenSet{}, schema.NewErrorf(schema.ErrCodeAuthError, "tiktok: %s: %s", body.Error, body.ErrorDesc)
	}
	if resp.StatusCode != http.StatusOK || body.AccessToken == "" {
		return TokenSet{}, schema.NewErrorf(schema.ErrCodeAuthError, "tiktok: refresh failed with status %s", strconv.Itoa(resp.StatusCode))
	}

	return TokenSet{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		Expiry:       time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
	}, nil
}
