package flow

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"oidcflow/browser"
	"oidcflow/config"
)

// Storage keys for the pending login attempt. The nonce and code verifier
// must survive the full page reload between request and response.
const (
	attemptKey       = "oidcflow.attempt"
	attemptKeyPrefix = "oidcflow.attempt."
)

// Options are the caller-supplied parameters of a single login attempt.
type Options struct {
	// Scopes overrides the default scope set when non-empty.
	Scopes []string

	// ResponseType defaults to "code". A type containing "code"
	// enables PKCE.
	ResponseType string

	Prompt      string
	Display     string
	MaxAge      time.Duration
	UILocales   string
	IDTokenHint string
	LoginHint   string
	ACRValues   string

	// FinalRoute and StateMessage travel through the provider inside
	// the state parameter.
	FinalRoute   string
	StateMessage string
}

// Request is a fully resolved authorization request.
type Request struct {
	ID            string
	URL           string
	Nonce         string
	CodeVerifier  string
	CodeChallenge string
	State         string
	ResponseType  string
}

// Attempt is the persisted half of a request, recovered when the response
// arrives after the page reload.
type Attempt struct {
	ID           string
	Nonce        string
	CodeVerifier string
}

// Builder assembles authorization request URLs and persists the per
// attempt secrets.
type Builder struct {
	client config.ClientIdentity
	meta   *config.ProviderMetadata
	store  browser.Storage
	logger *slog.Logger
}

// NewBuilder constructs a Builder.
func NewBuilder(client config.ClientIdentity, meta *config.ProviderMetadata, store browser.Storage, logger *slog.Logger) *Builder {
	return &Builder{client: client, meta: meta, store: store, logger: logger}
}

// Build creates an authorization request aimed at redirectURI. It
// generates and persists the nonce, and for the code flow a PKCE pair,
// then resolves the final URL. No other side effects.
func (b *Builder) Build(opts Options, redirectURI string) (Request, error) {
	if b.meta.AuthorizationEndpoint == "" {
		return Request{}, fmt.Errorf("authorization endpoint not configured")
	}

	responseType := opts.ResponseType
	if responseType == "" {
		responseType = "code"
	}
	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = config.DefaultScopes
	}

	nonce, err := randomHex(16)
	if err != nil {
		return Request{}, fmt.Errorf("generate nonce: %w", err)
	}
	state := State{FinalRoute: opts.FinalRoute, Message: opts.StateMessage}.Encode()

	req := Request{
		ID:           uuid.NewString(),
		Nonce:        nonce,
		State:        state,
		ResponseType: responseType,
	}

	cfg := oauth2.Config{
		ClientID:    b.client.ClientID,
		RedirectURL: redirectURI,
		Endpoint:    oauth2.Endpoint{AuthURL: b.meta.AuthorizationEndpoint},
		Scopes:      scopes,
	}

	params := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("response_type", responseType),
		oauth2.SetAuthURLParam("nonce", nonce),
	}

	if strings.Contains(responseType, "code") {
		verifier, challenge, err := newPKCEPair()
		if err != nil {
			return Request{}, fmt.Errorf("generate pkce pair: %w", err)
		}
		req.CodeVerifier = verifier
		req.CodeChallenge = challenge
		params = append(params,
			oauth2.SetAuthURLParam("code_challenge", challenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}

	for key, value := range map[string]string{
		"prompt":        opts.Prompt,
		"display":       opts.Display,
		"ui_locales":    opts.UILocales,
		"id_token_hint": opts.IDTokenHint,
		"login_hint":    opts.LoginHint,
		"acr_values":    opts.ACRValues,
	} {
		if value != "" {
			params = append(params, oauth2.SetAuthURLParam(key, value))
		}
	}
	if opts.MaxAge > 0 {
		params = append(params, oauth2.SetAuthURLParam("max_age", strconv.FormatInt(int64(opts.MaxAge.Seconds()), 10)))
	}

	req.URL = cfg.AuthCodeURL(state, params...)

	b.persistAttempt(req)
	b.logger.Debug("authorization request built", "attempt", req.ID, "response_type", responseType, "pkce", req.CodeVerifier != "")
	return req, nil
}

// ConsumeAttempt removes and returns the pending attempt, if any. The
// secrets are single use: once consumed they are gone, matching the
// one-response-per-request protocol contract.
func (b *Builder) ConsumeAttempt() (Attempt, bool) {
	id, ok := b.store.Get(attemptKey)
	if !ok || id == "" {
		return Attempt{}, false
	}
	nonce, _ := b.store.Get(attemptKeyPrefix + id + ".nonce")
	verifier, _ := b.store.Get(attemptKeyPrefix + id + ".verifier")

	b.store.Remove(attemptKey)
	b.store.Remove(attemptKeyPrefix + id + ".nonce")
	b.store.Remove(attemptKeyPrefix + id + ".verifier")

	return Attempt{ID: id, Nonce: nonce, CodeVerifier: verifier}, true
}

func (b *Builder) persistAttempt(req Request) {
	b.store.Set(attemptKey, req.ID)
	b.store.Set(attemptKeyPrefix+req.ID+".nonce", req.Nonce)
	if req.CodeVerifier != "" {
		b.store.Set(attemptKeyPrefix+req.ID+".verifier", req.CodeVerifier)
	}
}

// newPKCEPair generates a high-entropy code verifier and its S256
// challenge: base64url(sha256(verifier)), no padding.
func newPKCEPair() (verifier, challenge string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	verifier = base64.RawURLEncoding.EncodeToString(buf)
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
