package connect

import (
	"context"
	"net/url"
)

// CallbackParams are the query parameters of an authorization callback.
type CallbackParams struct {
	Code             string
	State            string
	ErrorCode        string
	ErrorDescription string
}

// ParamsFromQuery extracts callback parameters from a query string.
func ParamsFromQuery(q url.Values) CallbackParams {
	return CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		ErrorCode:        q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
}

// Completion is a finished code exchange.
type Completion struct {
	AppSlug     string
	UserID      string
	AccessToken string
	TokenType   string
	ExpiresIn   int
}

// Exchanger swaps a validated code+state pair for a completed connection.
type Exchanger interface {
	Exchange(ctx context.Context, code, state string) (*Completion, error)
}

// ProcessCallback resolves a callback into a completion, handling the three
// cases: an explicit error parameter, a usable code+state pair, and a
// malformed invocation missing either. Exchange failures surface as a
// generic authentication failure; the provider's error parameter surfaces
// verbatim.
func ProcessCallback(ctx context.Context, p CallbackParams, ex Exchanger) (*Completion, error) {
	if p.ErrorCode != "" {
		detail := "OAuth error: " + p.ErrorCode
		if p.ErrorDescription != "" {
			detail += " - " + p.ErrorDescription
		}
		return nil, &RequestError{Detail: detail}
	}

	if p.Code == "" || p.State == "" {
		return nil, &MalformedCallbackError{Reason: "missing code or state parameter"}
	}

	completion, err := ex.Exchange(ctx, p.Code, p.State)
	if err != nil {
		return nil, &RequestError{Detail: "authentication failed", Cause: err}
	}
	return completion, nil
}
