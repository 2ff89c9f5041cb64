package tools

import (
	"context"
	"net/http"
	"strings"
)

// UserIDHeader identifies the calling user on MCP HTTP requests.
const UserIDHeader = "X-User-ID"

// anonymousUserID is used when neither the arguments nor the transport name a user.
const anonymousUserID = "mcp"

type userIDKey struct{}

// trimString removes leading and trailing whitespace from a string.
func trimString(s string) string {
	return strings.TrimSpace(s)
}

// UserContextFromRequest copies the caller's user id header into ctx. It is
// installed on the HTTP transport with server.WithHTTPContextFunc.
func UserContextFromRequest(ctx context.Context, r *http.Request) context.Context {
	if id := trimString(r.Header.Get(UserIDHeader)); id != "" {
		return context.WithValue(ctx, userIDKey{}, id)
	}
	return ctx
}

// resolveUserID prefers an explicit argument, then the transport header.
func resolveUserID(ctx context.Context, arg string) string {
	if arg = trimString(arg); arg != "" {
		return arg
	}
	if id, ok := ctx.Value(userIDKey{}).(string); ok {
		return id
	}
	return anonymousUserID
}
