// Package newsfilter talks to the newsfilter.io provider: auth0-style
// login with token persistence and cooldown, and the article search
// endpoint with rate limiting and a narrow-query retry.
package newsfilter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/catowabisabi/newsfilter/pkg/config"
	"github.com/catowabisabi/newsfilter/pkg/domain"
)

// ErrCooldown is returned when login recently failed and the cooldown
// window has not elapsed. Callers surface this as a provider outage
// without touching the network.
var ErrCooldown = errors.New("newsfilter: login cooldown active")

// ErrLoginFailed is returned when the provider rejects the credentials
var ErrLoginFailed = errors.New("newsfilter: login failed")

const auth0Client = "eyJuYW1lIjoiYXV0aDAuanMiLCJ2ZXJzaW9uIjoiOS4xMi4xIn0="

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// TokenStore persists provider tokens between restarts
type TokenStore interface {
	Save(ctx context.Context, accessToken, refreshToken string, expiresAt time.Time) error
	GetActive(ctx context.Context) (*domain.AuthToken, error)
	Invalidate(ctx context.Context) error
}

// StatusStore keeps process-wide markers, used for the cooldown timestamp
type StatusStore interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
}

// Auth manages the provider session: stored tokens are preferred, login
// happens only when no usable token exists, and a failed login puts the
// whole process into a cooldown during which no login is attempted.
type Auth struct {
	cfg    config.NewsFilterConfig
	tokens TokenStore
	status StatusStore
	client *http.Client

	loginMu    sync.Mutex // one login in flight at a time
	refreshing atomic.Bool
	nowFn      func() time.Time
}

const statusLoginFailure = "login_failure"

// NewAuth creates the auth manager
func NewAuth(cfg config.NewsFilterConfig, tokens TokenStore, status StatusStore) *Auth {
	return &Auth{
		cfg:    cfg,
		tokens: tokens,
		status: status,
		client: &http.Client{Timeout: cfg.Timeout},
		nowFn:  time.Now,
	}
}

// Headers returns the authenticated request headers for the articles
// endpoint. Returns ErrCooldown when login is not currently possible.
func (a *Auth) Headers(ctx context.Context) (map[string]string, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"Authorization": "Bearer " + token,
		"Content-Type":  "application/json;charset=UTF-8",
		"Accept":        "application/json, text/plain, */*",
		"Origin":        "https://newsfilter.io",
		"Referer":       "https://newsfilter.io/",
		"User-Agent":    userAgent,
	}, nil
}

// accessToken returns a usable token. Preference order: a token inside its
// validity margin, then any stored token even when close to expiry (a
// stale token beats a login attempt that may trip the cooldown), then a
// fresh login. An expiring stored token also kicks off a background
// replacement login.
func (a *Auth) accessToken(ctx context.Context) (string, error) {
	tok, err := a.tokens.GetActive(ctx)
	if err != nil {
		return "", fmt.Errorf("load stored token: %w", err)
	}
	if tok != nil {
		// a token inside its expiry margin is still served, but a
		// replacement login starts in the background so later requests
		// get a fresh one
		if !tok.Valid(a.nowFn()) && a.RemainingCooldown(ctx) == 0 {
			a.refreshAsync()
		}
		return tok.Value, nil
	}

	if remaining := a.RemainingCooldown(ctx); remaining > 0 {
		return "", ErrCooldown
	}

	return a.login(ctx)
}

// IsInCooldown reports whether a recent login failure blocks new attempts
func (a *Auth) IsInCooldown(ctx context.Context) bool {
	return a.RemainingCooldown(ctx) > 0
}

// RemainingCooldown returns how long until login may be attempted again,
// zero when not in cooldown.
func (a *Auth) RemainingCooldown(ctx context.Context) time.Duration {
	value, err := a.status.Get(ctx, statusLoginFailure)
	if err != nil {
		lgr.Printf("[WARN] read login failure status: %v", err)
		return 0
	}
	if value == "" {
		return 0
	}

	failedAt, err := time.Parse(time.RFC3339, value)
	if err != nil {
		lgr.Printf("[WARN] bad login failure timestamp %q: %v", value, err)
		return 0
	}

	remaining := a.cfg.Cooldown - a.nowFn().Sub(failedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ResetFailure clears the cooldown without touching tokens, the admin
// escape hatch when a failure was a provider-side fluke.
func (a *Auth) ResetFailure(ctx context.Context) error {
	return a.clearFailure(ctx)
}

// ForceRefresh drops the stored token and logs in again, bypassing the
// cooldown. Used by the admin reset endpoint after credentials change.
func (a *Auth) ForceRefresh(ctx context.Context) error {
	if err := a.tokens.Invalidate(ctx); err != nil {
		return fmt.Errorf("invalidate tokens: %w", err)
	}
	if err := a.clearFailure(ctx); err != nil {
		return err
	}
	_, err := a.login(ctx)
	return err
}

// AuthStatus describes the current auth state for the stats endpoint
type AuthStatus struct {
	HasValidToken     int64 `json:"has_valid_token"` // 1 or 0, matches stats schema
	InCooldown        bool  `json:"in_cooldown"`
	CooldownRemaining int64 `json:"cooldown_remaining_seconds"`
}

// Status reports the auth state
func (a *Auth) Status(ctx context.Context) AuthStatus {
	st := AuthStatus{}
	if tok, err := a.tokens.GetActive(ctx); err == nil && tok != nil && tok.Valid(a.nowFn()) {
		st.HasValidToken = 1
	}
	if remaining := a.RemainingCooldown(ctx); remaining > 0 {
		st.InCooldown = true
		st.CooldownRemaining = int64(remaining.Seconds())
	}
	return st
}

// refreshAsync replaces an expiring token without blocking the caller.
// At most one background login runs at a time.
func (a *Auth) refreshAsync() {
	if !a.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer a.refreshing.Store(false)
		if _, err := a.login(context.Background()); err != nil {
			lgr.Printf("[WARN] background token refresh: %v", err)
		}
	}()
}

// login performs the two-step provider login and persists the token.
// Single flight: a second caller waits and reuses the fresh token.
func (a *Auth) login(ctx context.Context) (string, error) {
	a.loginMu.Lock()
	defer a.loginMu.Unlock()

	// another goroutine may have logged in while we waited
	if tok, err := a.tokens.GetActive(ctx); err == nil && tok != nil && tok.Valid(a.nowFn()) {
		return tok.Value, nil
	}

	lgr.Printf("[INFO] attempting provider login")

	token, err := a.authenticate(ctx)
	if err != nil {
		a.markFailure(ctx)
		return "", err
	}

	if err := a.clearFailure(ctx); err != nil {
		lgr.Printf("[WARN] clear login failure status: %v", err)
	}
	lgr.Printf("[INFO] provider login successful, token valid until %s", token.expiresAt.Format(time.RFC3339))
	return token.access, nil
}

type obtainedToken struct {
	access    string
	refresh   string
	expiresAt time.Time
}

// authenticate runs the credential exchange. The auth endpoint either
// returns tokens directly or a login ticket that must be exchanged at the
// public actions endpoint.
func (a *Auth) authenticate(ctx context.Context) (obtainedToken, error) {
	payload := map[string]string{
		"client_id":       a.cfg.ClientID,
		"username":        a.cfg.Username,
		"password":        a.cfg.Password,
		"credential_type": "http://auth0.com/oauth/grant-type/password-realm",
		"realm":           "Username-Password-Authentication",
	}

	headers := map[string]string{
		"Accept":       "*/*",
		"Content-Type": "application/json",
		"Origin":       "https://newsfilter.io",
		"User-Agent":   userAgent,
		"auth0-client": auth0Client,
	}

	body, status, err := a.post(ctx, a.cfg.AuthURL, headers, payload)
	if err != nil {
		return obtainedToken{}, fmt.Errorf("auth request: %w", err)
	}
	if status != http.StatusOK {
		return obtainedToken{}, fmt.Errorf("%w: status %d", ErrLoginFailed, status)
	}

	var authResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		LoginTicket  string `json:"login_ticket"`
	}
	if err := json.Unmarshal(body, &authResp); err != nil {
		return obtainedToken{}, fmt.Errorf("parse auth response: %w", err)
	}

	switch {
	case authResp.AccessToken != "":
		return a.saveToken(ctx, authResp.AccessToken, authResp.RefreshToken, authResp.ExpiresIn)
	case authResp.LoginTicket != "":
		return a.exchangeTicket(ctx, authResp.LoginTicket)
	default:
		return obtainedToken{}, fmt.Errorf("%w: no token or ticket in response", ErrLoginFailed)
	}
}

// exchangeTicket trades a login ticket for tokens at the public endpoint
func (a *Auth) exchangeTicket(ctx context.Context, ticket string) (obtainedToken, error) {
	payload := map[string]any{
		"isPublic":    true,
		"type":        "getTokens",
		"code":        ticket,
		"redirectUri": "https://newsfilter.io/callback",
	}

	headers := map[string]string{
		"Accept":       "application/json, text/plain, */*",
		"Content-Type": "application/json;charset=UTF-8",
		"Origin":       "https://newsfilter.io",
		"User-Agent":   userAgent,
	}

	body, status, err := a.post(ctx, a.cfg.TokenURL, headers, payload)
	if err != nil {
		return obtainedToken{}, fmt.Errorf("token exchange: %w", err)
	}
	if status != http.StatusOK {
		return obtainedToken{}, fmt.Errorf("%w: token exchange status %d", ErrLoginFailed, status)
	}

	var tokenResp struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    int    `json:"expiresIn"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return obtainedToken{}, fmt.Errorf("parse token exchange response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return obtainedToken{}, fmt.Errorf("%w: no access token in exchange response", ErrLoginFailed)
	}

	return a.saveToken(ctx, tokenResp.AccessToken, tokenResp.RefreshToken, tokenResp.ExpiresIn)
}

func (a *Auth) saveToken(ctx context.Context, access, refresh string, expiresIn int) (obtainedToken, error) {
	if expiresIn <= 0 {
		expiresIn = 86400
	}
	expiresAt := a.nowFn().Add(time.Duration(expiresIn) * time.Second)

	if err := a.tokens.Save(ctx, access, refresh, expiresAt); err != nil {
		return obtainedToken{}, fmt.Errorf("persist token: %w", err)
	}
	return obtainedToken{access: access, refresh: refresh, expiresAt: expiresAt}, nil
}

func (a *Auth) markFailure(ctx context.Context) {
	if err := a.status.Set(ctx, statusLoginFailure, a.nowFn().Format(time.RFC3339)); err != nil {
		lgr.Printf("[WARN] persist login failure status: %v", err)
	}
	lgr.Printf("[WARN] provider login failed, cooling down for %s", a.cfg.Cooldown)
}

func (a *Auth) clearFailure(ctx context.Context) error {
	if err := a.status.Set(ctx, statusLoginFailure, ""); err != nil {
		return fmt.Errorf("clear login failure status: %w", err)
	}
	return nil
}

// post sends a JSON request and returns the raw body and status code
func (a *Auth) post(ctx context.Context, url string, headers map[string]string, payload any) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}
