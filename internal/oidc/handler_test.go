package oidc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oidcrepo "github.com/ovaphlow/docnet/internal/oidc/repo"
	"github.com/ovaphlow/docnet/internal/token"
	"github.com/ovaphlow/docnet/internal/user/entity"
	userrepo "github.com/ovaphlow/docnet/internal/user/repo"
	"github.com/ovaphlow/docnet/pkg/utilities"
)

type flowFixture struct {
	idp   *fakeIdP
	store *userrepo.MemoryRepo
	codec *token.Codec
	svc   *Service
	mux   *http.ServeMux
}

func newFlowFixture(t *testing.T, providers func(*fakeIdP) []Provider) *flowFixture {
	t.Helper()
	idp := newFakeIdP(t)
	store := userrepo.NewMemoryRepo()
	codec := token.NewCodec([]byte("0123456789abcdef0123456789abcdef"), nil)
	prov := NewProvisioner(store, utilities.NewIDGenerator(2), entity.RoleDoctor, nil, nil)
	svc := NewService(oidcrepo.NewMemoryStateRepo(clockwork.NewRealClock()), time.Minute, prov, codec, time.Hour, nil, nil, providers(idp)...)
	h := NewHandler(svc, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /oauth2/authorization/{provider}", h.Authorize)
	mux.HandleFunc("GET /auth/oauth-success", h.Callback)
	return &flowFixture{idp: idp, store: store, codec: codec, svc: svc, mux: mux}
}

func withOIDC(idp *fakeIdP) []Provider { return []Provider{idp.oidcProvider("google")} }

func (f *flowFixture) do(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

// begin starts a login and returns the state from the redirect.
func (f *flowFixture) begin(t *testing.T) string {
	t.Helper()
	rec := f.do(t, "/oauth2/authorization/google")
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, f.idp.srv.URL+"/auth", loc.Scheme+"://"+loc.Host+loc.Path)
	assert.Equal(t, testClientID, loc.Query().Get("client_id"))
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func (f *flowFixture) callback(t *testing.T, state, code string) *httptest.ResponseRecorder {
	t.Helper()
	q := url.Values{}
	q.Set("state", state)
	q.Set("code", code)
	return f.do(t, "/auth/oauth-success?"+q.Encode())
}

func TestFederatedLogin_ProvisionsOnceAndIssuesToken(t *testing.T) {
	f := newFlowFixture(t, withOIDC)

	rec := f.callback(t, f.begin(t), "good-code")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	claims, err := f.codec.Decode(body["token"])
	require.NoError(t, err)
	assert.Equal(t, "new@x.com", claims.Subject)

	u, err := f.store.GetByEmail(context.Background(), "new@x.com")
	require.NoError(t, err)
	assert.Equal(t, entity.RoleDoctor, u.Role)
	assert.True(t, u.Verified)
	assert.Equal(t, "New User", u.Name)

	rec = f.callback(t, f.begin(t), "good-code")
	require.Equal(t, http.StatusOK, rec.Code)
	again, err := f.store.GetByEmail(context.Background(), "new@x.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)

	doctors, err := f.store.ListByRole(context.Background(), entity.RoleDoctor)
	require.NoError(t, err)
	assert.Len(t, doctors, 1)
}

func TestFederatedLogin_StateIsSingleUse(t *testing.T) {
	f := newFlowFixture(t, withOIDC)
	state := f.begin(t)

	require.Equal(t, http.StatusOK, f.callback(t, state, "good-code").Code)
	assert.Equal(t, http.StatusBadRequest, f.callback(t, state, "good-code").Code)
}

func TestFederatedLogin_Rejections(t *testing.T) {
	f := newFlowFixture(t, withOIDC)

	assert.Equal(t, http.StatusNotFound, f.do(t, "/oauth2/authorization/unknown").Code)
	assert.Equal(t, http.StatusBadRequest, f.callback(t, "never-issued", "good-code").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "/auth/oauth-success?code=good-code").Code)
	assert.Equal(t, http.StatusBadRequest, f.callback(t, f.begin(t), "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.callback(t, f.begin(t), "bad-code").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, "/auth/oauth-success?error=access_denied&state="+f.begin(t)).Code)

	f.idp.setIdentity(Identity{Subject: "u-1", Email: "unverified@x.com", EmailVerified: false})
	assert.Equal(t, http.StatusUnauthorized, f.callback(t, f.begin(t), "good-code").Code)

	f.idp.setIdentity(Identity{Subject: "u-2", EmailVerified: true})
	assert.Equal(t, http.StatusUnauthorized, f.callback(t, f.begin(t), "good-code").Code)

	_, err := f.store.GetByEmail(context.Background(), "unverified@x.com")
	assert.ErrorIs(t, err, userrepo.ErrNotFound)
}

func TestFederatedLogin_ForeignSignatureRejected(t *testing.T) {
	f := newFlowFixture(t, func(idp *fakeIdP) []Provider {
		other := newFakeIdP(t)
		// verifier trusts another key than the one signing id_tokens
		p := idp.oidcProvider("google")
		p.verifier = other.oidcProvider("google").verifier
		return []Provider{p}
	})
	assert.Equal(t, http.StatusUnauthorized, f.callback(t, f.begin(t), "good-code").Code)
}

func TestFederatedLogin_UserInfoProvider(t *testing.T) {
	f := newFlowFixture(t, func(idp *fakeIdP) []Provider {
		p, err := NewUserInfoProvider("google", idp.providerConfig())
		require.NoError(t, err)
		return []Provider{p}
	})
	f.idp.setIdentity(Identity{Subject: "u-9", Email: "info@x.com", EmailVerified: true, Name: "Info"})

	rec := f.callback(t, f.begin(t), "good-code")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	u, err := f.store.GetByEmail(context.Background(), "info@x.com")
	require.NoError(t, err)
	assert.Equal(t, "Info", u.Name)
}

func TestNewProvider_SelectsByIssuer(t *testing.T) {
	idp := newFakeIdP(t)
	pc := idp.providerConfig()
	p, err := NewProvider(context.Background(), "google", pc)
	require.NoError(t, err)
	assert.IsType(t, &UserInfoProvider{}, p)

	pc.UserInfoURL = ""
	_, err = NewProvider(context.Background(), "google", pc)
	assert.Error(t, err)
}
