// Package token exchanges authorization codes and refresh tokens at the
// provider's token endpoint and validates the ID tokens coming back.
package token

import (
	"errors"
	"fmt"
)

// ErrHybridRejected marks a response mixing an authorization code with
// tokens. The hybrid flow is unsupported, so such responses are refused
// outright instead of being partially processed.
var ErrHybridRejected = errors.New("hybrid flow response rejected")

// ValidationKind discriminates the ID-token validation failures.
type ValidationKind int

const (
	// KindNoIDToken: validation was asked to run with no ID token.
	KindNoIDToken ValidationKind = iota
	// KindKeyResolution: no usable verification key in the key set.
	KindKeyResolution
	// KindSignature: the signature did not verify.
	KindSignature
	// KindIssuerMismatch: iss differs from the configured issuer.
	KindIssuerMismatch
	// KindAudienceMismatch: aud does not contain the client id.
	KindAudienceMismatch
	// KindAlgorithm: the header alg is not allowed.
	KindAlgorithm
	// KindTime: exp/iat/nbf/max-age constraint violated.
	KindTime
	// KindNonceMismatch: the nonce claim differs from the expected one.
	KindNonceMismatch
)

// String names the kind.
func (k ValidationKind) String() string {
	switch k {
	case KindNoIDToken:
		return "no_id_token"
	case KindKeyResolution:
		return "key_resolution"
	case KindSignature:
		return "signature"
	case KindIssuerMismatch:
		return "issuer_mismatch"
	case KindAudienceMismatch:
		return "audience_mismatch"
	case KindAlgorithm:
		return "algorithm"
	case KindTime:
		return "time"
	case KindNonceMismatch:
		return "nonce_mismatch"
	default:
		return "unknown"
	}
}

// ValidationError reports exactly one failed validation step.
type ValidationError struct {
	Kind   ValidationKind
	Reason string
	Err    error
}

// Error renders the failure.
func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("id token %s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("id token %s: %s", e.Kind, e.Reason)
}

// Unwrap exposes the underlying cause.
func (e *ValidationError) Unwrap() error { return e.Err }

func validationErr(kind ValidationKind, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// ProviderError is an error the provider reported through the redirect
// response (error, error_description, error_uri parameters).
type ProviderError struct {
	Code        string
	Description string
	URI         string
}

// Error renders the provider error.
func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("provider error %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("provider error %s", e.Code)
}

// ExchangeError is a failed token-endpoint call. Code carries the
// provider's error code when the reply body contained one.
type ExchangeError struct {
	Code        string
	Description string
	URI         string
	Status      int
	Err         error
}

// Error renders the failure.
func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("token exchange failed (%d %s): %s", e.Status, e.Code, e.Description)
	}
	return fmt.Sprintf("token exchange failed: %v", e.Err)
}

// Unwrap exposes the underlying transport error.
func (e *ExchangeError) Unwrap() error { return e.Err }
