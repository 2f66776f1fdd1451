package token

import "strings"

const bearerPrefix = "Bearer "

// FromHeader extracts the token from an Authorization header value of the
// form "Bearer <token>". ok is false for an absent or differently shaped value.
func FromHeader(h string) (tok string, ok bool) {
	if len(h) <= len(bearerPrefix) || !strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	tok = strings.TrimSpace(h[len(bearerPrefix):])
	return tok, tok != ""
}
