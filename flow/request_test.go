package flow

import (
	"crypto/sha256"
	"encoding/base64"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"oidcflow/browser"
	"oidcflow/config"
)

func newTestBuilder(t *testing.T) (*Builder, *browser.MemoryStorage) {
	t.Helper()
	store := browser.NewMemoryStorage()
	meta := &config.ProviderMetadata{
		Issuer:                "https://idp.test",
		AuthorizationEndpoint: "https://idp.test/authorize",
		TokenEndpoint:         "https://idp.test/token",
	}
	client := config.ClientIdentity{
		ClientID:    "client1",
		RedirectURI: "https://app.test/callback",
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBuilder(client, meta, store, logger), store
}

func mustParseQuery(t *testing.T, rawURL string) url.Values {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse request url: %v", err)
	}
	return u.Query()
}

func TestBuildDefaultRequest(t *testing.T) {
	b, _ := newTestBuilder(t)

	req, err := b.Build(Options{}, "https://app.test/callback")
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if !strings.HasPrefix(req.URL, "https://idp.test/authorize?") {
		t.Fatalf("unexpected request url: %q", req.URL)
	}

	q := mustParseQuery(t, req.URL)
	if got := q.Get("response_type"); got != "code" {
		t.Fatalf("response_type = %q", got)
	}
	if got := q.Get("client_id"); got != "client1" {
		t.Fatalf("client_id = %q", got)
	}
	if got := q.Get("redirect_uri"); got != "https://app.test/callback" {
		t.Fatalf("redirect_uri = %q", got)
	}
	if got := q.Get("scope"); got != "openid profile email phone" {
		t.Fatalf("scope = %q", got)
	}
	if got := q.Get("state"); got != "{}" {
		t.Fatalf("state = %q", got)
	}
	if q.Get("nonce") == "" {
		t.Fatalf("nonce missing from request")
	}
	if q.Get("nonce") != req.Nonce {
		t.Fatalf("nonce in url %q != returned nonce %q", q.Get("nonce"), req.Nonce)
	}
	if q.Get("prompt") != "" || q.Get("login_hint") != "" || q.Get("max_age") != "" {
		t.Fatalf("optional parameters present without being set: %v", q)
	}
}

func TestBuildCodeFlowPKCE(t *testing.T) {
	b, _ := newTestBuilder(t)

	req, err := b.Build(Options{}, "https://app.test/callback")
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if req.CodeVerifier == "" {
		t.Fatalf("code flow without a code verifier")
	}

	q := mustParseQuery(t, req.URL)
	if got := q.Get("code_challenge_method"); got != "S256" {
		t.Fatalf("code_challenge_method = %q", got)
	}
	sum := sha256.Sum256([]byte(req.CodeVerifier))
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	if got := q.Get("code_challenge"); got != want {
		t.Fatalf("code_challenge = %q, want %q", got, want)
	}
}

func TestBuildImplicitFlowSkipsPKCE(t *testing.T) {
	b, _ := newTestBuilder(t)

	req, err := b.Build(Options{ResponseType: "id_token token"}, "https://app.test/callback")
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if req.CodeVerifier != "" {
		t.Fatalf("implicit flow generated a code verifier")
	}

	q := mustParseQuery(t, req.URL)
	if q.Get("code_challenge") != "" {
		t.Fatalf("implicit flow carries a code challenge")
	}
	if got := q.Get("response_type"); got != "id_token token" {
		t.Fatalf("response_type = %q", got)
	}
}

func TestBuildOptionalParameters(t *testing.T) {
	b, _ := newTestBuilder(t)

	req, err := b.Build(Options{
		Prompt:       "consent",
		Display:      "page",
		MaxAge:       2 * time.Minute,
		UILocales:    "de-CH",
		LoginHint:    "user@example.com",
		ACRValues:    "urn:mace:silver",
		FinalRoute:   "/after",
		StateMessage: "msg",
	}, "https://app.test/callback")
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}

	q := mustParseQuery(t, req.URL)
	for key, want := range map[string]string{
		"prompt":     "consent",
		"display":    "page",
		"max_age":    "120",
		"ui_locales": "de-CH",
		"login_hint": "user@example.com",
		"acr_values": "urn:mace:silver",
	} {
		if got := q.Get(key); got != want {
			t.Fatalf("%s = %q, want %q", key, got, want)
		}
	}

	st := DecodeState(q.Get("state"))
	if st.FinalRoute != "/after" || st.Message != "msg" {
		t.Fatalf("state decoded as %+v", st)
	}
}

func TestBuildUniquePerAttempt(t *testing.T) {
	b, _ := newTestBuilder(t)

	first, err := b.Build(Options{}, "https://app.test/callback")
	if err != nil {
		t.Fatalf("first Build: %v", err)
	}
	second, err := b.Build(Options{}, "https://app.test/callback")
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if first.Nonce == second.Nonce {
		t.Fatalf("nonce reused across attempts")
	}
	if first.CodeVerifier == second.CodeVerifier {
		t.Fatalf("code verifier reused across attempts")
	}
}

func TestConsumeAttemptSingleUse(t *testing.T) {
	b, _ := newTestBuilder(t)

	req, err := b.Build(Options{}, "https://app.test/callback")
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}

	attempt, ok := b.ConsumeAttempt()
	if !ok {
		t.Fatalf("expected a pending attempt")
	}
	if attempt.Nonce != req.Nonce {
		t.Fatalf("attempt nonce %q != request nonce %q", attempt.Nonce, req.Nonce)
	}
	if attempt.CodeVerifier != req.CodeVerifier {
		t.Fatalf("attempt verifier does not match request")
	}

	if _, ok := b.ConsumeAttempt(); ok {
		t.Fatalf("attempt consumable twice")
	}
}

func TestConsumeAttemptEmpty(t *testing.T) {
	b, _ := newTestBuilder(t)
	if _, ok := b.ConsumeAttempt(); ok {
		t.Fatalf("attempt reported without a prior Build")
	}
}

func TestBuildWithoutAuthorizationEndpoint(t *testing.T) {
	store := browser.NewMemoryStorage()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := NewBuilder(config.ClientIdentity{ClientID: "client1"}, &config.ProviderMetadata{}, store, logger)

	if _, err := b.Build(Options{}, "https://app.test/callback"); err == nil {
		t.Fatalf("expected error without authorization endpoint")
	}
}
