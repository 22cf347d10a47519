package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"oidcflow"
	"oidcflow/config"
)

// Grant is the normalized reply of a token-endpoint call.
type Grant struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	ExpiresAt    time.Time
	SessionState string
}

// Exchanger runs the back-channel token grants for a public client. The
// HTTP transport is injected; there is no client secret, so client_id
// travels in the form body.
type Exchanger struct {
	clientID      string
	tokenEndpoint string
	httpClient    *http.Client
	logger        *slog.Logger
}

// NewExchanger constructs an Exchanger. A nil httpClient falls back to
// http.DefaultClient.
func NewExchanger(client config.ClientIdentity, meta *config.ProviderMetadata, httpClient *http.Client, logger *slog.Logger) *Exchanger {
	return &Exchanger{
		clientID:      client.ClientID,
		tokenEndpoint: meta.TokenEndpoint,
		httpClient:    httpClient,
		logger:        logger,
	}
}

// ExchangeCode runs the authorization-code grant. codeVerifier is sent
// exactly when the request carried a code challenge; the builder hands it
// through the persisted attempt.
func (e *Exchanger) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (Grant, error) {
	if e.tokenEndpoint == "" {
		return Grant{}, fmt.Errorf("token endpoint not configured")
	}

	cfg := e.oauthConfig(redirectURI)
	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	}

	tok, err := cfg.Exchange(e.clientContext(ctx), code, opts...)
	if err != nil {
		return Grant{}, asExchangeError(err)
	}
	e.logger.Debug("authorization code exchanged")
	return grantFromToken(tok), nil
}

// Refresh runs the refresh-token grant for the prior session. Providers
// may omit unchanged fields in the reply; those are carried forward from
// the prior result.
func (e *Exchanger) Refresh(ctx context.Context, prior oidcflow.LoginResult) (Grant, error) {
	if e.tokenEndpoint == "" {
		return Grant{}, fmt.Errorf("token endpoint not configured")
	}
	if prior.RefreshToken == "" {
		return Grant{}, fmt.Errorf("no refresh token held")
	}

	cfg := e.oauthConfig("")
	src := cfg.TokenSource(e.clientContext(ctx), &oauth2.Token{RefreshToken: prior.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return Grant{}, asExchangeError(err)
	}

	grant := grantFromToken(tok)
	if grant.IDToken == "" {
		grant.IDToken = prior.IDToken
	}
	if grant.RefreshToken == "" {
		grant.RefreshToken = prior.RefreshToken
	}
	if grant.SessionState == "" {
		grant.SessionState = prior.SessionState
	}
	e.logger.Debug("refresh grant completed")
	return grant, nil
}

func (e *Exchanger) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    e.clientID,
		RedirectURL: redirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL: e.tokenEndpoint,
			// Public client: credentials go into the form body.
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (e *Exchanger) clientContext(ctx context.Context) context.Context {
	if e.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
}

func grantFromToken(tok *oauth2.Token) Grant {
	grant := Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if v, ok := tok.Extra("id_token").(string); ok {
		grant.IDToken = v
	}
	if v, ok := tok.Extra("session_state").(string); ok {
		grant.SessionState = v
	}
	return grant
}

func asExchangeError(err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		status := 0
		if retrieve.Response != nil {
			status = retrieve.Response.StatusCode
		}
		return &ExchangeError{
			Code:        retrieve.ErrorCode,
			Description: retrieve.ErrorDescription,
			URI:         retrieve.ErrorURI,
			Status:      status,
			Err:         err,
		}
	}
	return &ExchangeError{Err: err}
}
