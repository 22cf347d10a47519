package flow

import (
	"net/url"
	"strconv"
	"strings"
)

// Kind tags the classification of a redirect or message payload. Exactly
// one kind applies per payload.
type Kind int

const (
	// NoResponse means the payload is not a login response at all.
	NoResponse Kind = iota
	// ErrorResponse carries a provider error.
	ErrorResponse
	// CodeResponse carries an authorization code.
	CodeResponse
	// TokenResponse carries tokens directly (implicit flow).
	TokenResponse
	// HybridRejected marks a payload mixing code and tokens; the
	// hybrid flow is unsupported here on purpose.
	HybridRejected
)

// String names the kind for logs.
func (k Kind) String() string {
	switch k {
	case ErrorResponse:
		return "error"
	case CodeResponse:
		return "code"
	case TokenResponse:
		return "token"
	case HybridRejected:
		return "hybrid-rejected"
	default:
		return "none"
	}
}

// Response is a classified redirect or message payload.
type Response struct {
	Kind  Kind
	State string

	Code string

	IDToken      string
	AccessToken  string
	ExpiresIn    int64
	SessionState string

	ErrorCode        string
	ErrorDescription string
	ErrorURI         string
}

// Classify parses a redirect URL or raw query/fragment payload into a
// typed outcome. Every page load funnels through here, so nothing in this
// path returns an error: anything that is not a login response, including
// a URL whose path is not the expected redirect target, is NoResponse.
//
// Parameters are read from the fragment when one is present, from the
// query string otherwise. An error parameter always wins; a payload
// carrying both a code and tokens is rejected as hybrid.
func Classify(raw, expectedPath string) Response {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Response{Kind: NoResponse}
	}

	// A bare "?code=..." or "#id_token=..." payload has no path and is
	// considered addressed to us.
	if u.Path != "" && expectedPath != "" && u.Path != expectedPath {
		return Response{Kind: NoResponse}
	}

	params := u.Query()
	if u.Fragment != "" {
		fragment, err := url.ParseQuery(u.Fragment)
		if err != nil {
			return Response{Kind: NoResponse}
		}
		params = fragment
	}
	return classifyParams(params)
}

func classifyParams(params url.Values) Response {
	resp := Response{State: params.Get("state")}

	if code := params.Get("error"); code != "" {
		resp.Kind = ErrorResponse
		resp.ErrorCode = code
		resp.ErrorDescription = params.Get("error_description")
		resp.ErrorURI = params.Get("error_uri")
		return resp
	}

	code := params.Get("code")
	idToken := params.Get("id_token")
	accessToken := params.Get("access_token")

	switch {
	case code != "" && (idToken != "" || accessToken != ""):
		resp.Kind = HybridRejected
	case code != "":
		resp.Kind = CodeResponse
		resp.Code = code
	case idToken != "" || accessToken != "":
		resp.Kind = TokenResponse
		resp.IDToken = idToken
		resp.AccessToken = accessToken
		resp.SessionState = params.Get("session_state")
		if v := params.Get("expires_in"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				resp.ExpiresIn = n
			}
		}
	default:
		resp.Kind = NoResponse
	}
	return resp
}
