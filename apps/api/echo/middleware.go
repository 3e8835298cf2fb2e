package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/edusmart/core/session"
)

// sessionMiddleware loads the session named by the token. When roles are given, the session must
// have one of them.
func (a *authenticator) sessionMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			sess, err := a.sessions.Get(ctx.Request().Context(), claims.Subject)
			if err != nil {
				if errors.Cause(err) == session.ErrNotFound {
					return errSessionEnded
				}
				return errors.Wrap(err, "loading session")
			}
			if !hasAnyRole(sess, roles) {
				return errHttpForbidden
			}
			ctx.Set(sessionContextKey, sess)
			return next(ctx)
		}
	}
}

// authed returns the middlewares guarding a group: a valid token, then a live session.
func (a *authenticator) authed(roles ...string) []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{a.jwt, a.sessionMiddleware(roles...)}
}

func hasAnyRole(sess session.Session, roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, role := range roles {
		if sess.Role == role {
			return true
		}
	}
	return false
}
