package credentials

import (
	"context"
	"log/slog"
	"time"

	"github.com/Dalaqa25/automation-runner/pkg/schema"
)

// expirySkew is how far ahead of an access token's recorded expiry the
// refresher treats it as already expired, so a token doesn't go stale
// mid-execution.
const expirySkew = 5 * time.Minute

// TokenSet is the credential state tracked per (userId, automationId, provider).
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// expired reports whether t is due for refresh: either its expiry falls
// within the skew window of now, or no expiry was ever recorded — a
// missing expiry is refresh-eligible, not fresh-forever.
func (t TokenSet) expired(now time.Time) bool {
	if t.Expiry.IsZero() {
		return true
	}
	return now.Add(expirySkew).After(t.Expiry)
}

// Provider refreshes one credential type's access token from its refresh
// token. Implementations must not assume Refresh is called from any
// particular goroutine.
type Provider interface {
	Refresh(ctx context.Context, refreshToken string) (TokenSet, error)
}

// Store persists the refreshed token back to durable storage. Satisfied
// by internal/store.Store.
type Store interface {
	UpdateCredentialTokens(ctx context.Context, userID, automationID, provider string, tokens TokenSet) error
}

// Refresher dispatches credential refresh by provider name and writes
// successful refreshes back to the store.
type Refresher struct {
	providers map[string]Provider
	store     Store
	log       *slog.Logger
}

func NewRefresher(store Store, log *slog.Logger) *Refresher {
	if log == nil {
		log = slog.Default()
	}
	return &Refresher{providers: make(map[string]Provider), store: store, log: log}
}

// Register associates a provider name (e.g. "google", "tiktok") with its
// refresh implementation.
func (r *Refresher) Register(provider string, p Provider) {
	r.providers[provider] = p
}

// EnsureFresh returns a token guaranteed not to expire within the skew
// window, refreshing it first if necessary. A refresh failure is a hard
// AuthError: the caller cannot proceed without a valid token. A
// write-back failure after a successful refresh is only logged — the
// caller still gets the fresh token for this invocation.
func (r *Refresher) EnsureFresh(ctx context.Context, userID, automationID, provider string, current TokenSet) (TokenSet, error) {
	if !current.expired(time.Now()) {
		return current, nil
	}

	p, ok := r.providers[provider]
	if !ok {
		r.log.Warn("no refresh provider registered, using existing access token as-is",
			"user_id", userID, "automation_id", automationID, "provider", provider)
		return current, nil
	}
	if current.RefreshToken == "" {
		return TokenSet{}, schema.NewErrorf(schema.ErrCodeAuthError, "%s: access token expired and no refresh token is stored", provider)
	}

	refreshed, err := p.Refresh(ctx, current.RefreshToken)
	if err != nil {
		return TokenSet{}, schema.NewErrorf(schema.ErrCodeAuthError, "%s: token refresh failed", provider).WithCause(err)
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = current.RefreshToken
	}

	if err := r.store.UpdateCredentialTokens(ctx, userID, automationID, provider, refreshed); err != nil {
		r.log.Warn("credential refresh succeeded but write-back failed",
			"user_id", userID, "automation_id", automationID, "provider", provider, "error", err)
	}

	return refreshed, nil
}
