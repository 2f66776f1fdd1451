package oidc

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/ovaphlow/docnet/internal/config"
)

const testClientID = "docnet-client"

// fakeIdP is a minimal authorization server: one code endpoint, one
// userinfo endpoint, RS256 id_tokens.
type fakeIdP struct {
	srv *httptest.Server
	key *rsa.PrivateKey

	mu       sync.Mutex
	identity Identity
	code     string
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	f := &fakeIdP{
		key:      key,
		code:     "good-code",
		identity: Identity{Subject: "g-123", Email: "new@x.com", EmailVerified: true, Name: "New User"},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", f.token)
	mux.HandleFunc("GET /userinfo", f.userinfo)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeIdP) setIdentity(id Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identity = id
}

func (f *fakeIdP) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.Form.Get("code") != f.code {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		return
	}
	f.mu.Lock()
	id := f.identity
	f.mu.Unlock()

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":            f.srv.URL,
		"aud":            testClientID,
		"sub":            id.Subject,
		"email":          id.Email,
		"email_verified": id.EmailVerified,
		"name":           id.Name,
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	}
	idTok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(f.key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": "access-" + id.Subject,
		"token_type":   "Bearer",
		"expires_in":   3600,
		"id_token":     idTok,
	})
}

func (f *fakeIdP) userinfo(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	id := f.identity
	f.mu.Unlock()
	if r.Header.Get("Authorization") != "Bearer access-"+id.Subject {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(id)
}

func (f *fakeIdP) providerConfig() config.Provider {
	return config.Provider{
		ClientID:     testClientID,
		ClientSecret: "secret",
		RedirectURL:  "http://docnet.local/auth/oauth-success",
		AuthURL:      f.srv.URL + "/auth",
		TokenURL:     f.srv.URL + "/token",
		UserInfoURL:  f.srv.URL + "/userinfo",
		Scopes:       []string{"openid", "email", "profile"},
	}
}

func (f *fakeIdP) oidcProvider(name string) *OIDCProvider {
	pc := f.providerConfig()
	oc := oauth2Config(pc, oauth2.Endpoint{AuthURL: pc.AuthURL, TokenURL: pc.TokenURL})
	keys := &gooidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&f.key.PublicKey}}
	return NewOIDCProviderWithVerifier(name, oc, gooidc.NewVerifier(f.srv.URL, keys, &gooidc.Config{ClientID: testClientID}))
}
