package auth

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
)

// ErrMalformedCredentials reports an Authorization header that is missing,
// does not carry the Basic scheme, or cannot be decoded.
var ErrMalformedCredentials = errors.New("authorization header missing or invalid")

// ParseBasicCredentials extracts the username and password from an HTTP Basic
// Authorization header. A missing header, a non-Basic scheme, invalid base64,
// or a payload without a colon separator all yield ErrMalformedCredentials;
// callers must not distinguish between these cases in responses.
func ParseBasicCredentials(r *http.Request) (string, string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", "", ErrMalformedCredentials
	}
	const prefix = "Basic "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", ErrMalformedCredentials
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", ErrMalformedCredentials
	}
	username, password, found := strings.Cut(string(decoded), ":")
	if !found || username == "" {
		return "", "", ErrMalformedCredentials
	}
	return username, password, nil
}
