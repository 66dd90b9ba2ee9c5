// Package auth turns request credentials into the identity claimed by the identity provider.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/victornm/examroom/internal/domain"
	"github.com/victornm/examroom/internal/errors"
)

const (
	// CookieName is the cookie the identity provider stores the token in.
	CookieName = "access_token"

	identityKey = "auth.identity"
)

type Claims struct {
	ID   string      `json:"id"`
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func New(c Config) *Authenticator {
	a := &Authenticator{
		secret: []byte(c.Secret),
		issuer: c.Issuer,
		ttl:    c.TTL,
		now:    time.Now,
	}

	if a.ttl == 0 {
		a.ttl = 24 * time.Hour
	}

	return a
}

// Issue signs a token for the identity. The service never logs anyone in itself; tokens are
// issued here for tools and tests.
func (a *Authenticator) Issue(id domain.Identity) (string, error) {
	now := a.now()
	claims := &Claims{
		ID:   id.UserID,
		Role: id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(a.secret)
}

// Verify checks the token signature and expiry and returns the identity it carries.
func (a *Authenticator) Verify(token string) (domain.Identity, error) {
	var claims Claims
	t, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil || !t.Valid {
		return domain.Identity{}, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid token"),
			errors.WithCause(err),
		)
	}

	if claims.ID == "" {
		return domain.Identity{}, errors.Unauthenticated("token has no user id")
	}

	if claims.Role != domain.RoleStudent && claims.Role != domain.RoleTeacher {
		return domain.Identity{}, errors.Unauthenticated("token has unknown role: %q", claims.Role)
	}

	return domain.Identity{UserID: claims.ID, Role: claims.Role}, nil
}

// Middleware authenticates every request from the access_token cookie or a bearer token.
// Failures are attached to the context with c.Error so the error renderer can write the body.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearer(c.GetHeader("Authorization"))
		if token == "" {
			token, _ = c.Cookie(CookieName)
		}

		if token == "" {
			abort(c, errors.Unauthenticated("missing access token"))
			return
		}

		id, err := a.Verify(token)
		if err != nil {
			abort(c, err)
			return
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

// Identity returns the identity set by Middleware.
func Identity(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return domain.Identity{}, false
	}

	id, ok := v.(domain.Identity)
	return id, ok
}

// abort records the status without writing the header, so the error renderer can still set the
// body and its content type.
func abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Status(errors.Convert(err).HTTPStatusCode())
	c.Abort()
}

func bearer(h string) string {
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(after)
	}

	return ""
}
