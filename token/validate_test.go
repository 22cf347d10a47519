package token

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"

	"oidcflow/config"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type validatorFixture struct {
	validator *Validator
	key       *rsa.PrivateKey
}

func newValidatorFixture(t *testing.T, mutate func(*config.ProviderMetadata)) validatorFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	meta := &config.ProviderMetadata{
		Issuer: "https://idp.test",
		Keys: &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
			{Key: &key.PublicKey, KeyID: "k1", Use: "sig", Algorithm: "RS256"},
		}},
	}
	if mutate != nil {
		mutate(meta)
	}
	v := NewValidator("client1", meta, fixedClock{now: testNow}, testLogger())
	return validatorFixture{validator: v, key: key}
}

func baseClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   "https://idp.test",
		"aud":   "client1",
		"sub":   "user-1",
		"exp":   testNow.Add(time.Hour).Unix(),
		"iat":   testNow.Add(-time.Minute).Unix(),
		"nonce": "nonce-1",
	}
}

func mint(t *testing.T, key *rsa.PrivateKey, method jwt.SigningMethod, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	signed, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func wantKind(t *testing.T, err error, kind ValidationKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	if verr.Kind != kind {
		t.Fatalf("error kind = %s, want %s (%v)", verr.Kind, kind, err)
	}
}

func TestValidateAcceptsValidToken(t *testing.T) {
	f := newValidatorFixture(t, nil)
	raw := mint(t, f.key, jwt.SigningMethodRS256, "k1", baseClaims())

	claims, err := f.validator.Validate(raw, "nonce-1", "")
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("subject = %q", claims.Subject)
	}
	if claims.Issuer != "https://idp.test" {
		t.Fatalf("issuer = %q", claims.Issuer)
	}
	if !claims.ExpiresAt.Equal(testNow.Add(time.Hour)) {
		t.Fatalf("expires at = %s", claims.ExpiresAt)
	}
	if claims.Nonce != "nonce-1" {
		t.Fatalf("nonce = %q", claims.Nonce)
	}
}

func TestValidateNoIDToken(t *testing.T) {
	f := newValidatorFixture(t, nil)
	_, err := f.validator.Validate("", "", "")
	wantKind(t, err, KindNoIDToken)
}

func TestValidateMalformedToken(t *testing.T) {
	f := newValidatorFixture(t, nil)
	_, err := f.validator.Validate("not.a.jwt", "", "")
	wantKind(t, err, KindSignature)
}

func TestValidateWrongSignature(t *testing.T) {
	f := newValidatorFixture(t, nil)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate second key: %v", err)
	}
	raw := mint(t, other, jwt.SigningMethodRS256, "k1", baseClaims())

	_, verr := f.validator.Validate(raw, "nonce-1", "")
	wantKind(t, verr, KindSignature)
}

func TestValidateIssuerMismatch(t *testing.T) {
	f := newValidatorFixture(t, nil)
	claims := baseClaims()
	claims["iss"] = "https://evil.test"
	raw := mint(t, f.key, jwt.SigningMethodRS256, "k1", claims)

	_, err := f.validator.Validate(raw, "nonce-1", "")
	wantKind(t, err, KindIssuerMismatch)
}

func TestValidateAudienceMismatch(t *testing.T) {
	f := newValidatorFixture(t, nil)
	claims := baseClaims()
	claims["aud"] = "someone-else"
	raw := mint(t, f.key, jwt.SigningMethodRS256, "k1", claims)

	_, err := f.validator.Validate(raw, "nonce-1", "")
	wantKind(t, err, KindAudienceMismatch)
}

func TestValidateAudienceArray(t *testing.T) {
	f := newValidatorFixture(t, nil)
	claims := baseClaims()
	claims["aud"] = []string{"other", "client1"}
	raw := mint(t, f.key, jwt.SigningMethodRS256, "k1", claims)

	got, err := f.validator.Validate(raw, "nonce-1", "")
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if len(got.Audience) != 2 {
		t.Fatalf("audience = %v", got.Audience)
	}
}

func TestValidateDisallowedAlgorithm(t *testing.T) {
	// The key matches any algorithm, so the signature verifies and the
	// failure is attributed to the algorithm policy, not key resolution.
	f := newValidatorFixture(t, func(meta *config.ProviderMetadata) {
		meta.Keys.Keys[0].Algorithm = ""
	})
	raw := mint(t, f.key, jwt.SigningMethodRS384, "k1", baseClaims())

	_, err := f.validator.Validate(raw, "nonce-1", "")
	wantKind(t, err, KindAlgorithm)
}

func TestValidateExpired(t *testing.T) {
	f := newValidatorFixture(t, nil)
	claims := baseClaims()
	claims["exp"] = testNow.Add(-time.Minute).Unix()
	raw := mint(t, f.key, jwt.SigningMethodRS256, "k1", claims)

	_, err := f.validator.Validate(raw, "nonce-1", "")
	wantKind(t, err, KindTime)
}

func TestValidateMissingExp(t *testing.T) {
	f := newValidatorFixture(t, nil)
	claims := baseClaims()
	delete(claims, "exp")
	raw := mint(t, f.key, jwt.SigningMethodRS256, "k1", claims)

	_, err := f.validator.Validate(raw, "nonce-1", "")
	wantKind(t, err, KindTime)
}

func TestValidateFutureIat(t *testing.T) {
	f := newValidatorFixture(t, nil)
	claims := baseClaims()
	claims["iat"] = testNow.Add(time.Hour).Unix()
	raw := mint(t, f.key, jwt.SigningMethodRS256, "k1", claims)

	_, err := f.validator.Validate(raw, "nonce-1", "")
	wantKind(t, err, KindTime)
}

func TestValidateMaxTokenAge(t *testing.T) {
	f := newValidatorFixture(t, func(meta *config.ProviderMetadata) {
		meta.MaxTokenAge = 10 * time.Minute
	})
	claims := baseClaims()
	claims["iat"] = testNow.Add(-time.Hour).Unix()
	raw := mint(t, f.key, jwt.SigningMethodRS256, "k1", claims)

	_, err := f.validator.Validate(raw, "nonce-1", "")
	wantKind(t, err, KindTime)
}

func TestValidateNonceMismatch(t *testing.T) {
	f := newValidatorFixture(t, nil)
	raw := mint(t, f.key, jwt.SigningMethodRS256, "k1", baseClaims())

	_, err := f.validator.Validate(raw, "other-nonce", "")
	wantKind(t, err, KindNonceMismatch)
}

func TestValidateNonceCheckSkipped(t *testing.T) {
	// Refresh grants carry no request nonce; an empty expectation
	// disables the check.
	f := newValidatorFixture(t, nil)
	raw := mint(t, f.key, jwt.SigningMethodRS256, "k1", baseClaims())

	if _, err := f.validator.Validate(raw, "", ""); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
}

func TestValidateUnknownKid(t *testing.T) {
	f := newValidatorFixture(t, nil)
	raw := mint(t, f.key, jwt.SigningMethodRS256, "missing", baseClaims())

	_, err := f.validator.Validate(raw, "nonce-1", "")
	wantKind(t, err, KindKeyResolution)
}

func TestValidateNoKidSingleCandidate(t *testing.T) {
	f := newValidatorFixture(t, nil)
	raw := mint(t, f.key, jwt.SigningMethodRS256, "", baseClaims())

	if _, err := f.validator.Validate(raw, "nonce-1", ""); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
}

func TestValidateNoKidAmbiguous(t *testing.T) {
	f := newValidatorFixture(t, func(meta *config.ProviderMetadata) {
		second, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate second key: %v", err)
		}
		meta.Keys.Keys = append(meta.Keys.Keys,
			jose.JSONWebKey{Key: &second.PublicKey, KeyID: "k2", Use: "sig", Algorithm: "RS256"})
	})
	raw := mint(t, f.key, jwt.SigningMethodRS256, "", baseClaims())

	_, err := f.validator.Validate(raw, "nonce-1", "")
	wantKind(t, err, KindKeyResolution)
}

func TestValidateEncryptionKeysIgnored(t *testing.T) {
	f := newValidatorFixture(t, func(meta *config.ProviderMetadata) {
		second, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate second key: %v", err)
		}
		meta.Keys.Keys = append(meta.Keys.Keys,
			jose.JSONWebKey{Key: &second.PublicKey, KeyID: "enc", Use: "enc"})
	})
	raw := mint(t, f.key, jwt.SigningMethodRS256, "", baseClaims())

	// The enc key is filtered out, leaving one candidate despite the
	// missing kid.
	if _, err := f.validator.Validate(raw, "nonce-1", ""); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
}

func TestValidateWithoutKeySet(t *testing.T) {
	f := newValidatorFixture(t, func(meta *config.ProviderMetadata) {
		meta.Keys = nil
	})
	raw := mint(t, f.key, jwt.SigningMethodRS256, "k1", baseClaims())

	claims, err := f.validator.Validate(raw, "nonce-1", "")
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("subject = %q", claims.Subject)
	}
}

func TestValidateWithoutKeySetStillChecksClaims(t *testing.T) {
	f := newValidatorFixture(t, func(meta *config.ProviderMetadata) {
		meta.Keys = nil
	})
	claims := baseClaims()
	claims["iss"] = "https://evil.test"
	raw := mint(t, f.key, jwt.SigningMethodRS256, "k1", claims)

	_, err := f.validator.Validate(raw, "nonce-1", "")
	wantKind(t, err, KindIssuerMismatch)
}
