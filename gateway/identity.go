package gateway

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// DefaultCookieName is the cookie that carries the identity token.
const DefaultCookieName = "Authorization"

// ContextBuilder derives a RequestContext from request credentials.
// Credentials are optional: a missing or invalid token yields an anonymous
// context and the request proceeds.
type ContextBuilder struct {
	secret     []byte
	cookieName string
	issuer     string
	audience   string
	parser     *jwt.Parser
	logger     *zap.Logger
}

// BuilderOption configures a ContextBuilder.
type BuilderOption func(*ContextBuilder)

// WithCookieName sets the token cookie name.
func WithCookieName(name string) BuilderOption {
	return func(b *ContextBuilder) {
		if name != "" {
			b.cookieName = name
		}
	}
}

// WithIssuer requires the iss claim.
func WithIssuer(issuer string) BuilderOption {
	return func(b *ContextBuilder) { b.issuer = issuer }
}

// WithAudience requires the aud claim.
func WithAudience(audience string) BuilderOption {
	return func(b *ContextBuilder) { b.audience = audience }
}

// WithIdentityLogger sets the logger.
func WithIdentityLogger(logger *zap.Logger) BuilderOption {
	return func(b *ContextBuilder) { b.logger = logger }
}

// NewContextBuilder creates a builder verifying HS256 tokens with secret.
// An empty secret makes every caller anonymous.
func NewContextBuilder(secret string, opts ...BuilderOption) *ContextBuilder {
	b := &ContextBuilder{
		secret:     []byte(secret),
		cookieName: DefaultCookieName,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if b.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(b.issuer))
	}
	if b.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(b.audience))
	}
	b.parser = jwt.NewParser(parserOpts...)
	return b
}

// Build never fails.
func (b *ContextBuilder) Build(r *http.Request) *RequestContext {
	rc := &RequestContext{
		Request:  r,
		Response: NewResponseHeaders(),
	}

	if cookies := r.Cookies(); len(cookies) > 0 {
		rc.Cookies = make(map[string]string, len(cookies))
		for _, c := range cookies {
			rc.Cookies[c.Name] = c.Value
		}
	}

	token := b.token(r, rc.Cookies)
	if token == "" {
		return rc
	}
	rc.Session = &token
	rc.Identity = b.verify(token)
	return rc
}

// token reads the cookie first, then the Authorization header.
func (b *ContextBuilder) token(r *http.Request, cookies map[string]string) string {
	if v := cookies[b.cookieName]; v != "" {
		if unescaped, err := url.QueryUnescape(v); err == nil {
			v = unescaped
		}
		return stripBearer(v)
	}
	return stripBearer(r.Header.Get("Authorization"))
}

func stripBearer(v string) string {
	v = strings.TrimSpace(v)
	const prefix = "bearer "
	if len(v) >= len(prefix) && strings.EqualFold(v[:len(prefix)], prefix) {
		v = strings.TrimSpace(v[len(prefix):])
	}
	return v
}

func (b *ContextBuilder) verify(token string) Claims {
	if len(b.secret) == 0 {
		return nil
	}
	claims := jwt.MapClaims{}
	_, err := b.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return b.secret, nil
	})
	if err != nil {
		b.logger.Debug("identity token rejected, continuing anonymously", zap.Error(err))
		return nil
	}
	return Claims(claims)
}
