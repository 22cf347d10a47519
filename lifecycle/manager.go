// Package lifecycle orchestrates the login/refresh/logout state machine
// on top of the flow, token, and session packages, and publishes every
// login-result transition to subscribers.
package lifecycle

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"oidcflow"
	"oidcflow/browser"
	"oidcflow/config"
	"oidcflow/flow"
	"oidcflow/session"
	"oidcflow/token"
)

// Status is the lifecycle state.
type Status int

const (
	// StatusLoggedOut is the initial state.
	StatusLoggedOut Status = iota
	// StatusLoggedIn holds a valid login result.
	StatusLoggedIn
	// StatusRefreshing marks a refresh in flight. Further refresh
	// triggers are no-ops until it settles.
	StatusRefreshing
)

// String names the status.
func (s Status) String() string {
	switch s {
	case StatusLoggedIn:
		return "logged-in"
	case StatusRefreshing:
		return "refreshing"
	default:
		return "logged-out"
	}
}

const resultKey = "oidcflow.result"

// Manager is the engine's public face. All login-result transitions are
// serialized through it; it is the only writer of the persisted result.
type Manager struct {
	client  config.ClientIdentity
	meta    *config.ProviderMetadata
	refresh config.RefreshConfig
	browser browser.Browser
	storage browser.Storage
	clock   browser.Clock
	logger  *slog.Logger

	builder   *flow.Builder
	exchanger *token.Exchanger
	processor *token.Processor
	silent    *session.SilentLogin
	monitor   *session.Monitor

	hub *hub

	mu      sync.Mutex
	status  Status
	current oidcflow.LoginResult

	bgOnce sync.Once
	stopBg chan struct{}
	bgDone chan struct{}
}

// NewManager wires the engine from configuration and the host ports.
// httpClient, storage, clock, and logger may be nil; sensible defaults
// are used then.
func NewManager(cfg config.Config, meta *config.ProviderMetadata, b browser.Browser, storage browser.Storage, httpClient *http.Client, clock browser.Clock, logger *slog.Logger) *Manager {
	if storage == nil {
		storage = browser.NewMemoryStorage()
	}
	if clock == nil {
		clock = browser.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	builder := flow.NewBuilder(cfg.Client, meta, storage, logger)
	exchanger := token.NewExchanger(cfg.Client, meta, httpClient, logger)
	validator := token.NewValidator(cfg.Client.ClientID, meta, clock, logger)
	processor := token.NewProcessor(exchanger, validator, clock, logger)

	return &Manager{
		client:    cfg.Client,
		meta:      meta,
		refresh:   cfg.Refresh,
		browser:   b,
		storage:   storage,
		clock:     clock,
		logger:    logger,
		builder:   builder,
		exchanger: exchanger,
		processor: processor,
		silent:    session.NewSilentLogin(builder, processor, b, cfg.Client, cfg.Silent.Timeout, logger),
		monitor:   session.NewMonitor(cfg.Client.ClientID, meta, cfg.Session.CheckInterval, b, logger),
		hub:       newHub(),
		stopBg:    make(chan struct{}),
		bgDone:    make(chan struct{}),
	}
}

// Start processes the current page URL. A redirect response on it is
// completed with interactive semantics (errors surface to the caller);
// otherwise a persisted result from a previous load is restored when it
// is still valid. Either way the background refresh/session loop starts.
func (m *Manager) Start(ctx context.Context, currentURL string) (oidcflow.LoginResult, error) {
	defer m.startBackground()

	resp := flow.Classify(currentURL, urlPath(m.client.RedirectURI))
	if resp.Kind != flow.NoResponse {
		attempt, _ := m.builder.ConsumeAttempt()
		result, err := m.processor.Complete(ctx, resp, attempt, m.client.RedirectURI)
		if err != nil {
			m.transition(oidcflow.LoggedOut())
			return oidcflow.LoggedOut(), err
		}
		m.transition(result)
		return result, nil
	}

	if restored, ok := m.restore(); ok {
		m.transition(restored)
		return restored, nil
	}
	return m.Current(), nil
}

// Login starts an interactive login by navigating the host context to
// the authorization endpoint. The page is expected to unload; an error
// is returned only when the request could not be built or navigation
// could not be started.
func (m *Manager) Login(ctx context.Context, opts flow.Options) error {
	req, err := m.builder.Build(opts, m.client.RedirectURI)
	if err != nil {
		return err
	}
	m.logger.Info("starting interactive login")
	return m.browser.Navigate(req.URL)
}

// SilentLogin attempts a non-interactive login. Background semantics
// apply: any protocol, exchange, or validation failure is logged and
// downgraded to a LoggedOut transition rather than surfaced.
func (m *Manager) SilentLogin(ctx context.Context) (oidcflow.LoginResult, error) {
	result, err := m.silent.Attempt(ctx, flow.Options{})
	if err != nil {
		m.logger.Warn("silent login failed", "error", err)
		result = oidcflow.LoggedOut()
	}
	m.transition(result)
	return result, nil
}

// Logout drops the session. When the provider advertises an end-session
// endpoint the host context is navigated there so the provider session
// ends too.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	prior := m.current
	m.mu.Unlock()

	m.transition(oidcflow.LoggedOut())
	m.logger.Info("logged out")

	if m.meta.EndSessionEndpoint != "" && prior.IDToken != "" {
		return m.browser.Navigate(endSessionURL(m.meta.EndSessionEndpoint, prior.IDToken, m.client.RedirectURI))
	}
	return nil
}

// Refresh triggers a refresh now. It is a no-op unless currently logged
// in; in particular a refresh already in flight suppresses the trigger.
func (m *Manager) Refresh(ctx context.Context) {
	m.triggerRefresh(ctx, "manual")
}

// Current returns the login result of the present state.
func (m *Manager) Current() oidcflow.LoginResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Status returns the lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe returns a channel of login-result transitions holding at
// most the newest unread value, and a function to unsubscribe.
func (m *Manager) Subscribe() (<-chan oidcflow.LoginResult, func()) {
	return m.hub.subscribe()
}

// Close stops the background loop and the session monitor.
func (m *Manager) Close() {
	// Claim the once so the loop cannot start after Close.
	m.bgOnce.Do(func() { close(m.bgDone) })
	select {
	case <-m.stopBg:
	default:
		close(m.stopBg)
	}
	<-m.bgDone
	m.monitor.Stop()
}

func (m *Manager) startBackground() {
	m.bgOnce.Do(func() {
		go m.background()
	})
}

func (m *Manager) background() {
	defer close(m.bgDone)

	ticker := time.NewTicker(m.refresh.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopBg:
			return

		case <-ticker.C:
			m.mu.Lock()
			due := m.status == StatusLoggedIn &&
				!m.current.ExpiresAt.IsZero() &&
				m.current.Remaining(m.clock.Now()) < m.refresh.Ahead
			m.mu.Unlock()
			if due {
				m.triggerRefresh(context.Background(), "expiry")
			}

		case <-m.monitor.Changed():
			m.triggerRefresh(context.Background(), "session-changed")
		}
	}
}

// triggerRefresh enforces the single-flight guarantee: the state flips to
// Refreshing under the lock, so a second trigger while one is in flight
// falls through as a no-op.
func (m *Manager) triggerRefresh(ctx context.Context, reason string) {
	m.mu.Lock()
	if m.status != StatusLoggedIn {
		m.mu.Unlock()
		return
	}
	m.status = StatusRefreshing
	prior := m.current
	m.mu.Unlock()

	m.logger.Info("refresh started", "reason", reason)
	m.settleRefresh(m.doRefresh(ctx, prior), prior)
}

func (m *Manager) doRefresh(ctx context.Context, prior oidcflow.LoginResult) oidcflow.LoginResult {
	if prior.RefreshToken != "" {
		grant, err := m.exchanger.Refresh(ctx, prior)
		if err != nil {
			m.logger.Warn("refresh grant failed", "error", err)
			return oidcflow.LoggedOut()
		}
		result, err := m.processor.Finish(grant)
		if err != nil {
			m.logger.Warn("refreshed token rejected", "error", err)
			return oidcflow.LoggedOut()
		}
		return result
	}

	result, err := m.silent.Attempt(ctx, flow.Options{})
	if err != nil {
		m.logger.Warn("silent refresh failed", "error", err)
		return oidcflow.LoggedOut()
	}
	return result
}

func (m *Manager) settleRefresh(result, prior oidcflow.LoginResult) {
	// A provider-side identity change is a forced logout, never a
	// silent identity swap.
	if result.LoggedIn && prior.Subject != "" && result.Subject != prior.Subject {
		m.logger.Warn("refresh returned a different subject, forcing logout",
			"prior_subject", prior.Subject, "new_subject", result.Subject)
		result = oidcflow.LoggedOut()
	}

	m.mu.Lock()
	if m.status != StatusRefreshing {
		// An explicit logout won the race; the refresh result is
		// discarded.
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.transition(result)
}

func (m *Manager) transition(result oidcflow.LoginResult) {
	m.mu.Lock()
	m.current = result
	if result.LoggedIn {
		m.status = StatusLoggedIn
		if b, err := json.Marshal(result); err == nil {
			m.storage.Set(resultKey, string(b))
		}
	} else {
		m.status = StatusLoggedOut
		m.storage.Remove(resultKey)
	}
	m.mu.Unlock()

	m.monitor.Stop()
	if result.LoggedIn {
		if err := m.monitor.Start(result.SessionState); err != nil {
			m.logger.Warn("session monitoring unavailable", "error", err)
		}
	}
	m.hub.publish(result)
}

func (m *Manager) restore() (oidcflow.LoginResult, bool) {
	raw, ok := m.storage.Get(resultKey)
	if !ok {
		return oidcflow.LoggedOut(), false
	}
	var result oidcflow.LoginResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil || !result.LoggedIn {
		m.storage.Remove(resultKey)
		return oidcflow.LoggedOut(), false
	}
	if result.Expired(m.clock.Now()) {
		m.logger.Info("persisted login expired, discarding")
		m.storage.Remove(resultKey)
		return oidcflow.LoggedOut(), false
	}
	m.logger.Info("persisted login restored", "subject", result.Subject)
	return result, true
}

func endSessionURL(endpoint, idToken, postLogoutRedirect string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	q.Set("id_token_hint", idToken)
	if postLogoutRedirect != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirect)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func urlPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path
}
