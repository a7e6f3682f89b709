// Package oauth keeps the stored bot token fresh. It wakes up on a jittered
// interval and refreshes the token when its expiry falls within a window.
package oauth

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/globalworming/low-tech-ai-pocs/db"
)

// TokenStore is the subset of db.TokenStore the refresher needs.
type TokenStore interface {
	Get(ctx context.Context, provider string) (db.Token, error)
	Upsert(ctx context.Context, tok db.Token) error
}

// RefreshFunc exchanges a refresh token for a new token.
type RefreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

// TwitchConfig returns the oauth2 config for Twitch's token endpoint.
func TwitchConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{ClientID: clientID, ClientSecret: clientSecret, Endpoint: endpoints.Twitch}
}

// RefreshWith returns a RefreshFunc backed by cfg's token endpoint.
func RefreshWith(cfg *oauth2.Config) RefreshFunc {
	return func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		// An expired access token forces the TokenSource to hit the endpoint.
		return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)}).Token()
	}
}

// StartRefresher launches a goroutine that checks the stored token for
// provider every interval (±20% jitter) and refreshes it when it expires
// within window.
func StartRefresher(ctx context.Context, store TokenStore, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	go func() {
		for {
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			nextSleep := interval + time.Duration(rand.Int63n(jitterRange*2+1)-jitterRange)
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			if _, err := RefreshIfDue(ctx, store, provider, window, fn); err != nil {
				slog.Warn("token refresh failed", slog.String("component", "oauth"), slog.String("provider", provider), slog.Any("err", err))
			}
		}
	}()
}

// RefreshIfDue refreshes the stored token when it expires within window and
// reports whether a refresh happened. Tokens without a refresh token or
// without a known expiry are left alone.
func RefreshIfDue(ctx context.Context, store TokenStore, provider string, window time.Duration, fn RefreshFunc) (bool, error) {
	cur, err := store.Get(ctx, provider)
	if errors.Is(err, db.ErrNoToken) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if cur.RefreshToken == "" || cur.Expiry.IsZero() || time.Until(cur.Expiry) > window {
		return false, nil
	}

	rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	next, err := fn(rctx, cur.RefreshToken)
	if err != nil {
		return false, err
	}

	updated := db.Token{
		Provider:     provider,
		AccessToken:  next.AccessToken,
		RefreshToken: next.RefreshToken,
		Expiry:       next.Expiry,
		Scope:        cur.Scope,
	}
	if updated.RefreshToken == "" {
		updated.RefreshToken = cur.RefreshToken
	}
	if err := store.Upsert(ctx, updated); err != nil {
		return false, err
	}
	slog.Info("token refreshed", slog.String("component", "oauth"), slog.String("provider", provider), slog.Time("expires_at", updated.Expiry))
	return true, nil
}
