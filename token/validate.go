package token

import (
	"log/slog"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"

	"oidcflow/browser"
	"oidcflow/config"
)

// Claims is the validated view of an ID token.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	Nonce     string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Raw       map[string]any
}

// Validator verifies ID-token signatures against the provider key set and
// validates the registered claims. Every failed step yields a
// ValidationError with its own kind so callers can tell them apart.
//
// Binding the access token to the ID token via at_hash is not
// implemented.
type Validator struct {
	issuer     string
	clientID   string
	keys       *jose.JSONWebKeySet
	algorithms []string
	maxAge     time.Duration
	clock      browser.Clock
	logger     *slog.Logger
}

// NewValidator constructs a Validator bound to the provider metadata.
func NewValidator(clientID string, meta *config.ProviderMetadata, clock browser.Clock, logger *slog.Logger) *Validator {
	return &Validator{
		issuer:     meta.Issuer,
		clientID:   clientID,
		keys:       meta.Keys,
		algorithms: meta.AllowedAlgorithms(),
		maxAge:     meta.MaxTokenAge,
		clock:      clock,
		logger:     logger,
	}
}

// Validate checks the raw ID token and returns its claims. expectedNonce
// is the nonce persisted for the originating request; pass "" on flows
// without one (refresh) to skip the nonce check. accessToken is accepted
// for the eventual at_hash binding, which is currently not validated.
func (v *Validator) Validate(rawIDToken, expectedNonce, accessToken string) (*Claims, error) {
	_ = accessToken // at_hash binding not implemented

	if rawIDToken == "" {
		return nil, validationErr(KindNoIDToken, "no id token in response")
	}

	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	unverified, _, err := parser.ParseUnverified(rawIDToken, jwt.MapClaims{})
	if err != nil {
		return nil, &ValidationError{Kind: KindSignature, Reason: "malformed token", Err: err}
	}
	alg, _ := unverified.Header["alg"].(string)
	kid, _ := unverified.Header["kid"].(string)

	claims := unverified.Claims.(jwt.MapClaims)

	if v.keys == nil || len(v.keys.Keys) == 0 {
		// Trust-on-first-use: without a configured key set the
		// signature cannot be checked. Loud, never silent.
		v.logger.Warn("no key set configured, accepting ID token without signature verification", "issuer", v.issuer)
	} else {
		key, verr := v.resolveKey(alg, kid)
		if verr != nil {
			return nil, verr
		}
		verified, err := parser.Parse(rawIDToken, func(*jwt.Token) (any, error) {
			return key.Key, nil
		})
		if err != nil {
			return nil, &ValidationError{Kind: KindSignature, Reason: "signature verification failed", Err: err}
		}
		claims = verified.Claims.(jwt.MapClaims)
	}

	if err := v.validateIssuer(claims); err != nil {
		return nil, err
	}
	audience, err := v.validateAudience(claims)
	if err != nil {
		return nil, err
	}
	if err := v.validateAlgorithm(alg); err != nil {
		return nil, err
	}
	exp, iat, err := v.validateTime(claims)
	if err != nil {
		return nil, err
	}
	nonce, _ := claims["nonce"].(string)
	if expectedNonce != "" && nonce != expectedNonce {
		return nil, validationErr(KindNonceMismatch, "nonce claim does not match the stored request nonce")
	}

	subject, _ := claims.GetSubject()
	issuer, _ := claims.GetIssuer()
	raw := make(map[string]any, len(claims))
	for k, val := range claims {
		raw[k] = val
	}

	return &Claims{
		Subject:   subject,
		Issuer:    issuer,
		Audience:  audience,
		Nonce:     nonce,
		ExpiresAt: exp,
		IssuedAt:  iat,
		Raw:       raw,
	}, nil
}

// resolveKey picks the verification key: candidates are filtered by
// algorithm and signing use, then the kid rules apply — exact match when
// the header names one, a single remaining candidate otherwise.
func (v *Validator) resolveKey(alg, kid string) (*jose.JSONWebKey, *ValidationError) {
	var candidates []jose.JSONWebKey
	for _, key := range v.keys.Keys {
		if key.Use != "" && key.Use != "sig" {
			continue
		}
		if key.Algorithm != "" && key.Algorithm != alg {
			continue
		}
		candidates = append(candidates, key)
	}

	if kid == "" {
		if len(candidates) == 1 {
			return &candidates[0], nil
		}
		return nil, validationErr(KindKeyResolution, "%d candidate keys and no kid in token header", len(candidates))
	}
	for i := range candidates {
		if candidates[i].KeyID == kid {
			return &candidates[i], nil
		}
	}
	return nil, validationErr(KindKeyResolution, "no key with kid %q in key set", kid)
}

func (v *Validator) validateIssuer(claims jwt.MapClaims) error {
	issuer, err := claims.GetIssuer()
	if err != nil || issuer == "" || issuer != v.issuer {
		return validationErr(KindIssuerMismatch, "issuer %q does not match configured %q", issuer, v.issuer)
	}
	return nil
}

func (v *Validator) validateAudience(claims jwt.MapClaims) ([]string, error) {
	audience, err := claims.GetAudience()
	if err != nil {
		return nil, validationErr(KindAudienceMismatch, "malformed aud claim")
	}
	for _, aud := range audience {
		if aud == v.clientID {
			return audience, nil
		}
	}
	return nil, validationErr(KindAudienceMismatch, "aud %v does not contain client id %q", []string(audience), v.clientID)
}

func (v *Validator) validateAlgorithm(alg string) error {
	for _, allowed := range v.algorithms {
		if alg == allowed {
			return nil
		}
	}
	return validationErr(KindAlgorithm, "alg %q not in allowed set %v", alg, v.algorithms)
}

func (v *Validator) validateTime(claims jwt.MapClaims) (exp, iat time.Time, err error) {
	now := v.clock.Now()

	expDate, derr := claims.GetExpirationTime()
	if derr != nil || expDate == nil {
		return exp, iat, validationErr(KindTime, "exp claim missing")
	}
	if !expDate.Time.After(now) {
		return exp, iat, validationErr(KindTime, "token expired at %s", expDate.Time.Format(time.RFC3339))
	}

	iatDate, derr := claims.GetIssuedAt()
	if derr != nil || iatDate == nil {
		return exp, iat, validationErr(KindTime, "iat claim missing")
	}
	if iatDate.Time.After(now) {
		return exp, iat, validationErr(KindTime, "iat is in the future")
	}
	if v.maxAge > 0 && iatDate.Time.Before(now.Add(-v.maxAge)) {
		return exp, iat, validationErr(KindTime, "token older than max age %s", v.maxAge)
	}

	nbfDate, derr := claims.GetNotBefore()
	if derr == nil && nbfDate != nil && nbfDate.Time.After(now) {
		return exp, iat, validationErr(KindTime, "nbf is in the future")
	}

	return expDate.Time, iatDate.Time, nil
}
