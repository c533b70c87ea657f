package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewTokenVerifier("secret", "vibin")
	token, err := v.Issue("u1", time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Principal())
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	v := NewTokenVerifier("secret", "vibin")

	expired, err := v.Issue("u1", -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.Error(t, err)

	otherSecret, err := NewTokenVerifier("other", "vibin").Issue("u1", time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(otherSecret)
	assert.Error(t, err)

	otherIssuer, err := NewTokenVerifier("secret", "someone-else").Issue("u1", time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(otherIssuer)
	assert.Error(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{Issuer: "vibin"}}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.Verify(noExpiry)
	assert.Error(t, err)

	_, err = v.Verify("not.a.token")
	assert.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	v := NewTokenVerifier("secret", "")
	token, err := v.Issue("u42", time.Hour)
	require.NoError(t, err)

	handler := NewAuthMiddleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r)
		require.True(t, ok)
		_, _ = w.Write([]byte(userID))
	}))

	cases := []struct {
		name   string
		setup  func(r *http.Request)
		status int
		body   string
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK, "u42"},
		{"query token", func(r *http.Request) { r.URL.RawQuery = "token=" + token }, http.StatusOK, "u42"},
		{"missing", func(r *http.Request) {}, http.StatusUnauthorized, ""},
		{"wrong scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }, http.StatusUnauthorized, ""},
		{"garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }, http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/matches", nil)
			tc.setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}
