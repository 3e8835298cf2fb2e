package echoapi

import (
	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/core/session"
)

var (
	tokenContextKey   = "token"
	sessionContextKey = "session"
)

// Claims represents the authorization claims transmitted via a JWT.
// The subject is the session id: the session itself lives server side.
type Claims struct {
	jwt.RegisteredClaims
	Role     string `json:"role"`
	SchoolID string `json:"schoolId,omitempty"`
}

type authenticator struct {
	conf     *core.Config
	sessions *session.Service
	key      []byte
	jwt      echo.MiddlewareFunc
}

func newAuthenticator(conf *core.Config, sessions *session.Service) *authenticator {
	a := &authenticator{
		conf:     conf,
		sessions: sessions,
		key:      []byte(conf.SecretKey),
	}
	a.jwt = echojwt.WithConfig(echojwt.Config{
		SigningKey:    a.key,
		SigningMethod: echojwt.AlgorithmHS256,
		ContextKey:    tokenContextKey,
		// websocket clients cannot set headers
		TokenLookup:   "header:Authorization:Bearer ,query:token",
		NewClaimsFunc: func(echo.Context) jwt.Claims { return new(Claims) },
		ErrorHandler: func(_ echo.Context, err error) error {
			return errUnauthorized.WithInternal(err)
		},
	})
	return a
}

func sessionClaims(sess session.Session, issuer string) *Claims {
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   sess.ID,
			IssuedAt:  jwt.NewNumericDate(sess.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
		Role:     sess.Role,
		SchoolID: sess.SchoolID,
	}
}

// GenerateToken generates a signed JWT token string representing the session.
func (a *authenticator) GenerateToken(sess session.Session) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims(sess, a.conf.AppName))
	ss, err := token.SignedString(a.key)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(tokenContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

func contextSession(ctx echo.Context) (session.Session, bool) {
	sess, ok := ctx.Get(sessionContextKey).(session.Session)
	return sess, ok
}

func mustSession(ctx echo.Context) (session.Session, error) {
	if sess, ok := contextSession(ctx); ok {
		return sess, nil
	}
	return session.Session{}, errUnauthorized
}
