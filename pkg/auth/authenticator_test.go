package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	chatstore "github.com/go-go-golems/sardonic/pkg/persistence/chatstore"
)

const testSecret = "test-secret"

type authFixture struct {
	store *chatstore.InMemoryStore
	auth  *Authenticator
	alice chatstore.Account
}

func newAuthFixture(t *testing.T, opts ...Option) authFixture {
	t.Helper()
	store := chatstore.NewInMemoryStore()
	alice, err := store.CreateAccount(context.Background(), "alice")
	require.NoError(t, err)
	v, err := NewJWTValidator(testSecret, "", "")
	require.NoError(t, err)
	a, err := NewAuthenticator(v, store, opts...)
	require.NoError(t, err)
	return authFixture{store: store, auth: a, alice: alice}
}

func issue(t *testing.T, userID string, ttl time.Duration) string {
	t.Helper()
	tok, err := IssueAccessToken(testSecret, "user_id", userID, ttl)
	require.NoError(t, err)
	return tok
}

func queryHandshake(token string) Handshake {
	return Handshake{Query: url.Values{"token": {token}}, Header: http.Header{}}
}

func cookieHandshake(name, token string) Handshake {
	h := http.Header{}
	h.Add("Cookie", "theme=dark; "+name+"="+token+"; other=1")
	return Handshake{Query: url.Values{}, Header: h}
}

func TestAuthenticate_QueryToken(t *testing.T) {
	f := newAuthFixture(t)
	res := f.auth.Authenticate(context.Background(), queryHandshake(issue(t, f.alice.ID, time.Hour)))
	require.NoError(t, res.Err)
	require.Equal(t, Authenticated, res.Identity.Kind)
	require.Equal(t, f.alice.ID, res.Identity.UserID)
	require.Equal(t, "alice", res.Identity.Username)
	require.Equal(t, SourceQuery, res.Source)
}

func TestAuthenticate_CookieToken(t *testing.T) {
	f := newAuthFixture(t)
	res := f.auth.Authenticate(context.Background(), cookieHandshake(DefaultCookieName, issue(t, f.alice.ID, time.Hour)))
	require.NoError(t, res.Err)
	require.False(t, res.Identity.IsAnonymous())
	require.Equal(t, SourceCookie, res.Source)
}

func TestAuthenticate_CustomCookieName(t *testing.T) {
	f := newAuthFixture(t, WithCookieName("jwt"))
	tok := issue(t, f.alice.ID, time.Hour)

	res := f.auth.Authenticate(context.Background(), cookieHandshake(DefaultCookieName, tok))
	require.True(t, res.Identity.IsAnonymous())

	res = f.auth.Authenticate(context.Background(), cookieHandshake("jwt", tok))
	require.False(t, res.Identity.IsAnonymous())
}

func TestAuthenticate_SentinelQueryFallsBackToCookie(t *testing.T) {
	f := newAuthFixture(t)
	tok := issue(t, f.alice.ID, time.Hour)
	for _, sentinel := range []string{"", "null", "undefined"} {
		hs := cookieHandshake(DefaultCookieName, tok)
		hs.Query.Set("token", sentinel)
		res := f.auth.Authenticate(context.Background(), hs)
		require.Equal(t, SourceCookie, res.Source, "sentinel %q", sentinel)
		require.False(t, res.Identity.IsAnonymous())
	}
}

func TestAuthenticate_QueryWinsOverCookie(t *testing.T) {
	f := newAuthFixture(t)
	hs := cookieHandshake(DefaultCookieName, issue(t, f.alice.ID, time.Hour))
	hs.Query.Set("token", "garbage")
	res := f.auth.Authenticate(context.Background(), hs)
	require.Equal(t, SourceQuery, res.Source)
	require.True(t, res.Identity.IsAnonymous())
	require.ErrorIs(t, res.Err, ErrInvalidToken)
}

func TestAuthenticate_FailuresDegradeToAnonymous(t *testing.T) {
	f := newAuthFixture(t)
	bob, err := f.store.CreateAccount(context.Background(), "bob")
	require.NoError(t, err)
	require.NoError(t, f.store.SetAccountActive(context.Background(), bob.ID, false))

	wrongSecret, err := IssueAccessToken("other-secret", "user_id", f.alice.ID, time.Hour)
	require.NoError(t, err)
	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":    f.alice.ID,
		"token_type": "refresh",
		"exp":        time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": f.alice.ID,
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	cases := []struct {
		name string
		hs   Handshake
		want error
	}{
		{name: "absent", hs: Handshake{}, want: ErrNoCredential},
		{name: "malformed", hs: queryHandshake("not-a-jwt"), want: ErrInvalidToken},
		{name: "expired", hs: queryHandshake(issue(t, f.alice.ID, -time.Minute)), want: ErrInvalidToken},
		{name: "wrong secret", hs: queryHandshake(wrongSecret), want: ErrInvalidToken},
		{name: "refresh token", hs: queryHandshake(refresh), want: ErrInvalidToken},
		{name: "no expiry", hs: queryHandshake(noExp), want: ErrInvalidToken},
		{name: "unknown subject", hs: queryHandshake(issue(t, "ghost", time.Hour)), want: ErrUnknownAccount},
		{name: "inactive account", hs: queryHandshake(issue(t, bob.ID, time.Hour)), want: ErrInactiveAccount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var res Result
			require.NotPanics(t, func() {
				res = f.auth.Authenticate(context.Background(), tc.hs)
			})
			require.Equal(t, Anonymous, res.Identity.Kind)
			require.True(t, res.Identity.IsAnonymous())
			require.ErrorIs(t, res.Err, tc.want)
		})
	}
}

func TestAuthenticate_BearerOnlyWhenEnabled(t *testing.T) {
	f := newAuthFixture(t)
	h := http.Header{}
	h.Set("Authorization", "Bearer "+issue(t, f.alice.ID, time.Hour))
	hs := Handshake{Header: h}

	res := f.auth.Authenticate(context.Background(), hs)
	require.True(t, res.Identity.IsAnonymous())

	res = f.auth.WithBearer(true).Authenticate(context.Background(), hs)
	require.False(t, res.Identity.IsAnonymous())
	require.Equal(t, SourceHeader, res.Source)
}

func TestAuthenticate_BearerOrderSkipsQuery(t *testing.T) {
	f := newAuthFixture(t)
	rest := f.auth.WithBearer(true)
	aliceTok := issue(t, f.alice.ID, time.Hour)

	// a query token alone is not a credential on the request/response surface
	res := rest.Authenticate(context.Background(), Handshake{Query: url.Values{"token": {aliceTok}}})
	require.True(t, res.Identity.IsAnonymous())
	require.ErrorIs(t, res.Err, ErrNoCredential)

	// the header wins over a bad query token and a bad cookie
	h := http.Header{}
	h.Set("Authorization", "Bearer "+aliceTok)
	h.Set("Cookie", DefaultCookieName+"=garbage")
	res = rest.Authenticate(context.Background(), Handshake{Query: url.Values{"token": {"garbage"}}, Header: h})
	require.Equal(t, f.alice.ID, res.Identity.UserID)
	require.Equal(t, SourceHeader, res.Source)

	// without a header the cookie is used
	h = http.Header{}
	h.Set("Cookie", DefaultCookieName+"="+aliceTok)
	res = rest.Authenticate(context.Background(), Handshake{Query: url.Values{"token": {"garbage"}}, Header: h})
	require.Equal(t, f.alice.ID, res.Identity.UserID)
	require.Equal(t, SourceCookie, res.Source)
}

func TestJWTValidator_NumericClaimAndIssuer(t *testing.T) {
	v, err := NewJWTValidator(testSecret, "user_id", "sardonic")
	require.NoError(t, err)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 42,
		"iss":     "sardonic",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	sub, err := v.Subject(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, "42", sub)

	tok, err = jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 42,
		"iss":     "someone-else",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = v.Subject(context.Background(), tok)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewJWTValidator("", "", "")
	require.Error(t, err)
}

func TestMiddleware_AttachesIdentity(t *testing.T) {
	f := newAuthFixture(t)
	var seen Identity
	h := Middleware(f.auth.WithBearer(true), RequireIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+issue(t, f.alice.ID, time.Hour))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, f.alice.ID, seen.UserID)
}
