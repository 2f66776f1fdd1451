package oidc

// Identity is the assertion an external provider makes about a user
// after a successful code exchange.
type Identity struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}
