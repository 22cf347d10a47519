// Package session covers the provider-session side of the engine: the
// silent (non-interactive) login attempt and the check-session monitor.
package session

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"oidcflow"
	"oidcflow/browser"
	"oidcflow/config"
	"oidcflow/flow"
	"oidcflow/token"
)

// SilentLogin performs a login attempt with prompt=none inside a hidden
// browsing context. It succeeds only when the user already has a provider
// session; it never shows UI.
type SilentLogin struct {
	builder     *flow.Builder
	processor   *token.Processor
	browser     browser.Browser
	redirectURI string
	timeout     time.Duration
	logger      *slog.Logger
}

// NewSilentLogin constructs the coordinator. The dedicated silent
// redirect URI is used when configured, the regular one otherwise.
func NewSilentLogin(builder *flow.Builder, processor *token.Processor, b browser.Browser, client config.ClientIdentity, timeout time.Duration, logger *slog.Logger) *SilentLogin {
	redirectURI := client.SilentRedirectURI
	if redirectURI == "" {
		redirectURI = client.RedirectURI
	}
	return &SilentLogin{
		builder:     builder,
		processor:   processor,
		browser:     b,
		redirectURI: redirectURI,
		timeout:     timeout,
		logger:      logger,
	}
}

// Attempt races the hidden-context login against the configured timeout.
// The sub-context may never answer (third-party cookie blocking, provider
// requires interaction), so the timeout resolving to LoggedOut is part of
// the contract, not an optimization. Messages from other origins never
// reach the wait: the subscription is filtered at the port, and unrelated
// same-origin payloads classify to NoResponse and are skipped.
func (s *SilentLogin) Attempt(ctx context.Context, opts flow.Options) (oidcflow.LoginResult, error) {
	opts.Prompt = "none"
	req, err := s.builder.Build(opts, s.redirectURI)
	if err != nil {
		return oidcflow.LoggedOut(), err
	}

	messages, cancel := s.browser.Subscribe(browser.Origin(s.redirectURI))
	defer cancel()

	hidden, err := s.browser.CreateHidden(req.URL)
	if err != nil {
		return oidcflow.LoggedOut(), err
	}
	defer hidden.Destroy()

	expectedPath := urlPath(s.redirectURI)
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return oidcflow.LoggedOut(), ctx.Err()

		case <-timer.C:
			s.logger.Info("silent login timed out", "timeout", s.timeout)
			return oidcflow.LoggedOut(), nil

		case msg, ok := <-messages:
			if !ok {
				return oidcflow.LoggedOut(), nil
			}
			resp := flow.Classify(msg.Data, expectedPath)
			if resp.Kind == flow.NoResponse {
				continue
			}
			attempt, _ := s.builder.ConsumeAttempt()
			return s.processor.Complete(ctx, resp, attempt, s.redirectURI)
		}
	}
}

func urlPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path
}
