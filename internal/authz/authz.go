// Package authz extracts the requester's user id from incoming requests.
// Tokens are decoded but never verified; verification belongs to the gateway.
package authz

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Veraticus/expense-flow/internal/common"
	"github.com/aws/aws-lambda-go/events"
)

// DevBypassHeader carries a user id directly when the dev bypass is enabled.
const DevBypassHeader = "x-user-sub"

// headerLookup returns the value of a header key from a map.
func headerLookup(h map[string]string, key string) string {
	if len(h) == 0 {
		return ""
	}
	lk := strings.ToLower(key)
	for k, v := range h {
		if strings.ToLower(k) == lk {
			return v
		}
	}
	return ""
}

// stringIf returns v if it is a non-empty string.
func stringIf(v any) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return ""
}

// subFromAuthHeader decodes the "sub" claim of a bearer JWT.
func subFromAuthHeader(auth string) string {
	if auth == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		auth = strings.TrimSpace(auth[len("bearer "):])
	}
	parts := strings.Split(auth, ".")
	if len(parts) != 3 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return ""
	}
	var m map[string]any
	if json.Unmarshal(payload, &m) != nil {
		return ""
	}
	return stringIf(m["sub"])
}

// FromHeaders resolves the user id from a header map: the dev bypass header
// first (when allowed), then the bearer token.
func FromHeaders(headers map[string]string, devBypass bool) (string, error) {
	if devBypass {
		if sub := strings.TrimSpace(headerLookup(headers, DevBypassHeader)); sub != "" {
			return sub, nil
		}
	}
	if sub := subFromAuthHeader(headerLookup(headers, "Authorization")); sub != "" {
		return sub, nil
	}
	return "", common.ErrUnauthorized
}

// FromHTTPRequest resolves the user id of a plain HTTP request.
func FromHTTPRequest(r *http.Request, devBypass bool) (string, error) {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	return FromHeaders(headers, devBypass)
}

// FromAPIGWv2 resolves the user id of an HTTP API (v2) request, preferring
// claims the gateway authorizer already validated.
func FromAPIGWv2(req events.APIGatewayV2HTTPRequest, devBypass bool) (string, error) {
	if devBypass {
		if sub := strings.TrimSpace(headerLookup(req.Headers, DevBypassHeader)); sub != "" {
			return sub, nil
		}
	}

	if a := req.RequestContext.Authorizer; a != nil {
		if a.JWT != nil {
			if sub := a.JWT.Claims["sub"]; sub != "" {
				return sub, nil
			}
		}
		if sub := stringIf(a.Lambda["sub"]); sub != "" {
			return sub, nil
		}
	}

	if sub := subFromAuthHeader(headerLookup(req.Headers, "Authorization")); sub != "" {
		return sub, nil
	}
	return "", common.ErrUnauthorized
}
