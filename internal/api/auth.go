package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"mediavault/internal/auth"
)

type contextKey string

const sessionContextKey contextKey = "authenticatedSession"

// ErrUnauthenticated reports a request that carries no live session. It is
// distinct from store failures, which must surface as internal errors rather
// than a silent 401.
var ErrUnauthenticated = errors.New("authentication required")

// ContextWithSession stores the authenticated session in the provided context.
func ContextWithSession(ctx context.Context, record auth.SessionRecord) context.Context {
	return context.WithValue(ctx, sessionContextKey, record)
}

// SessionFromContext retrieves the authenticated session from context if present.
func SessionFromContext(ctx context.Context) (auth.SessionRecord, bool) {
	record, ok := ctx.Value(sessionContextKey).(auth.SessionRecord)
	return record, ok
}

// AuthenticateRequest validates the session token on the request and returns
// the live session. A missing, unknown, or expired token yields
// ErrUnauthenticated; a session store I/O failure is returned as-is so the
// caller can map it to a 500.
func (h *Handler) AuthenticateRequest(r *http.Request) (auth.SessionRecord, error) {
	token := ExtractToken(r)
	if token == "" {
		return auth.SessionRecord{}, ErrUnauthenticated
	}
	record, ok, err := h.sessionManager().Validate(token)
	if err != nil {
		return auth.SessionRecord{}, fmt.Errorf("validate session: %w", err)
	}
	if !ok {
		return auth.SessionRecord{}, ErrUnauthenticated
	}
	return record, nil
}

func (h *Handler) requireAuthenticatedSession(w http.ResponseWriter, r *http.Request) (auth.SessionRecord, bool) {
	record, ok := SessionFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return auth.SessionRecord{}, false
	}
	return record, true
}

// requireOperation enforces the authorization policy for the operation. Denial
// is reported as 401, matching the error contract of this API.
func (h *Handler) requireOperation(w http.ResponseWriter, r *http.Request, op Operation) (auth.SessionRecord, bool) {
	record, ok := h.requireAuthenticatedSession(w, r)
	if !ok {
		return auth.SessionRecord{}, false
	}
	if !Allowed(record.Role, op) {
		writeUnauthorized(w)
		return auth.SessionRecord{}, false
	}
	return record, true
}
