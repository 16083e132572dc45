package gateway

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestContextBuilder_CookieToken(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{"id": "0", "role": "slc"})

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.AddCookie(&http.Cookie{Name: "Authorization", Value: token})
	r.AddCookie(&http.Cookie{Name: "theme", Value: "dark"})

	rc := NewContextBuilder(testSecret).Build(r)
	require.True(t, rc.Authenticated())
	assert.Equal(t, "0", rc.Identity["id"])
	assert.Equal(t, "slc", rc.Identity["role"])
	require.NotNil(t, rc.Session)
	assert.Equal(t, token, *rc.Session)
	assert.Equal(t, map[string]string{"Authorization": token, "theme": "dark"}, rc.Cookies)
	assert.Same(t, r, rc.Request)
	assert.NotNil(t, rc.Response)
}

func TestContextBuilder_EscapedBearerCookie(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{"id": "7"})

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Cookie", "Authorization="+url.QueryEscape("Bearer "+token))

	rc := NewContextBuilder(testSecret).Build(r)
	require.True(t, rc.Authenticated())
	assert.Equal(t, "7", rc.Identity["id"])
	assert.Equal(t, token, *rc.Session)
}

func TestContextBuilder_HeaderFallback(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{"id": "1"})

	for _, value := range []string{"Bearer " + token, "bearer " + token, token} {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.Header.Set("Authorization", value)

		rc := NewContextBuilder(testSecret).Build(r)
		require.True(t, rc.Authenticated(), value)
		assert.Equal(t, "1", rc.Identity["id"])
		assert.Nil(t, rc.Cookies)
	}
}

func TestContextBuilder_CustomCookieName(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{"id": "2"})

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.AddCookie(&http.Cookie{Name: "jwt", Value: token})

	rc := NewContextBuilder(testSecret, WithCookieName("jwt")).Build(r)
	assert.True(t, rc.Authenticated())
}

func TestContextBuilder_Anonymous(t *testing.T) {
	rc := NewContextBuilder(testSecret).Build(httptest.NewRequest(http.MethodGet, "/", nil))

	assert.False(t, rc.Authenticated())
	assert.Nil(t, rc.Identity)
	assert.Nil(t, rc.Session)
	assert.Nil(t, rc.Cookies)
}

func TestContextBuilder_InvalidTokensAreAnonymous(t *testing.T) {
	tests := []struct {
		name  string
		token func(t *testing.T) string
		opts  []BuilderOption
	}{
		{
			name:  "wrong secret",
			token: func(t *testing.T) string { return signToken(t, "other", jwt.MapClaims{"id": "0"}) },
		},
		{
			name: "expired",
			token: func(t *testing.T) string {
				return signToken(t, testSecret, jwt.MapClaims{"id": "0", "exp": time.Now().Add(-time.Hour).Unix()})
			},
		},
		{
			name: "wrong algorithm",
			token: func(t *testing.T) string {
				s, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"id": "0"}).SignedString([]byte(testSecret))
				require.NoError(t, err)
				return s
			},
		},
		{
			name:  "garbage",
			token: func(*testing.T) string { return "not.a.token" },
		},
		{
			name:  "issuer mismatch",
			token: func(t *testing.T) string { return signToken(t, testSecret, jwt.MapClaims{"iss": "evil"}) },
			opts:  []BuilderOption{WithIssuer("fedgateway")},
		},
		{
			name:  "audience mismatch",
			token: func(t *testing.T) string { return signToken(t, testSecret, jwt.MapClaims{"aud": "other"}) },
			opts:  []BuilderOption{WithAudience("api")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := tt.token(t)
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			r.AddCookie(&http.Cookie{Name: "Authorization", Value: token})

			rc := NewContextBuilder(testSecret, tt.opts...).Build(r)
			assert.False(t, rc.Authenticated())
			// 令牌原样作为 session 转发
			require.NotNil(t, rc.Session)
			assert.Equal(t, token, *rc.Session)
		})
	}
}

func TestContextBuilder_EmptySecret(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{"id": "0"})
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	rc := NewContextBuilder("").Build(r)
	assert.False(t, rc.Authenticated())
	assert.NotNil(t, rc.Session)
}

func TestContextBuilder_IssuerAudienceAccepted(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{"iss": "fedgateway", "aud": "api", "id": "3"})
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	rc := NewContextBuilder(testSecret, WithIssuer("fedgateway"), WithAudience("api")).Build(r)
	require.True(t, rc.Authenticated())
	assert.Equal(t, "3", rc.Identity["id"])
}
