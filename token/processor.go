package token

import (
	"context"
	"log/slog"
	"time"

	"oidcflow"
	"oidcflow/browser"
	"oidcflow/flow"
)

// Processor turns a classified front-channel response into a LoginResult:
// exchange when the response carries a code, then validation, then the
// state decode. It is the shared tail of interactive, silent, and startup
// login paths.
type Processor struct {
	exchanger *Exchanger
	validator *Validator
	clock     browser.Clock
	logger    *slog.Logger
}

// NewProcessor constructs a Processor.
func NewProcessor(exchanger *Exchanger, validator *Validator, clock browser.Clock, logger *slog.Logger) *Processor {
	return &Processor{exchanger: exchanger, validator: validator, clock: clock, logger: logger}
}

// Complete processes resp. attempt carries the persisted nonce and code
// verifier of the originating request; redirectURI must match the one the
// code was issued for.
func (p *Processor) Complete(ctx context.Context, resp flow.Response, attempt flow.Attempt, redirectURI string) (oidcflow.LoginResult, error) {
	switch resp.Kind {
	case flow.ErrorResponse:
		return oidcflow.LoggedOut(), &ProviderError{
			Code:        resp.ErrorCode,
			Description: resp.ErrorDescription,
			URI:         resp.ErrorURI,
		}

	case flow.HybridRejected:
		return oidcflow.LoggedOut(), ErrHybridRejected

	case flow.CodeResponse:
		grant, err := p.exchanger.ExchangeCode(ctx, resp.Code, redirectURI, attempt.CodeVerifier)
		if err != nil {
			return oidcflow.LoggedOut(), err
		}
		if grant.SessionState == "" {
			grant.SessionState = resp.SessionState
		}
		return p.finish(grant, attempt.Nonce, resp.State)

	case flow.TokenResponse:
		grant := Grant{
			AccessToken:  resp.AccessToken,
			IDToken:      resp.IDToken,
			SessionState: resp.SessionState,
		}
		if resp.ExpiresIn > 0 {
			grant.ExpiresAt = p.clock.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
		}
		return p.finish(grant, attempt.Nonce, resp.State)

	default:
		return oidcflow.LoggedOut(), nil
	}
}

// Finish validates a grant obtained outside the front channel (refresh)
// and folds it into a result. No nonce is expected on such grants.
func (p *Processor) Finish(grant Grant) (oidcflow.LoginResult, error) {
	return p.finish(grant, "", "")
}

func (p *Processor) finish(grant Grant, nonce, state string) (oidcflow.LoginResult, error) {
	claims, err := p.validator.Validate(grant.IDToken, nonce, grant.AccessToken)
	if err != nil {
		return oidcflow.LoggedOut(), err
	}

	expiresAt := grant.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = claims.ExpiresAt
	}

	st := flow.DecodeState(state)
	result := oidcflow.LoginResult{
		LoggedIn:     true,
		IDToken:      grant.IDToken,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    expiresAt,
		Subject:      claims.Subject,
		SessionState: grant.SessionState,
		FinalRoute:   st.FinalRoute,
		StateMessage: st.Message,
	}
	p.logger.Info("login completed", "subject", result.Subject, "expires_at", result.ExpiresAt)
	return result, nil
}
