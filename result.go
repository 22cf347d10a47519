package oidcflow

import "time"

// LoginResult is the externally visible outcome of an authentication
// attempt. It is immutable once produced; every state transition replaces
// the record wholesale instead of mutating it in place.
type LoginResult struct {
	LoggedIn     bool      `json:"logged_in"`
	IDToken      string    `json:"id_token,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Subject      string    `json:"subject,omitempty"`
	SessionState string    `json:"session_state,omitempty"`
	FinalRoute   string    `json:"final_route,omitempty"`
	StateMessage string    `json:"state_message,omitempty"`
}

// LoggedOut is the zero login result.
func LoggedOut() LoginResult {
	return LoginResult{}
}

// Remaining reports how much validity the result still has at the given
// instant. Results without an expiry never run out.
func (r LoginResult) Remaining(now time.Time) time.Duration {
	if !r.LoggedIn || r.ExpiresAt.IsZero() {
		return 0
	}
	return r.ExpiresAt.Sub(now)
}

// Expired reports whether the result carries an expiry in the past.
func (r LoginResult) Expired(now time.Time) bool {
	return r.LoggedIn && !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}
