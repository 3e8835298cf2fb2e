package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/core/livesync"
	"github.com/trezcool/edusmart/core/portal"
	"github.com/trezcool/edusmart/core/school"
	"github.com/trezcool/edusmart/core/session"
)

var (
	errUnauthorized  = echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	errSessionEnded  = echo.NewHTTPError(http.StatusUnauthorized, "session expired, sign in again")
	errHttpForbidden = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound  = echo.NewHTTPError(http.StatusNotFound, "not found")
)

// domainStatus returns the HTTP status of a known domain error, 0 otherwise.
func domainStatus(err error) int {
	switch err {
	case portal.ErrInvalidCredentials, session.ErrNotFound:
		return http.StatusUnauthorized
	case portal.ErrTenantMismatch, session.ErrNotStudent:
		return http.StatusForbidden
	case session.ErrProfileExists:
		return http.StatusConflict
	case session.ErrProfileNotFound:
		return http.StatusNotFound
	case portal.ErrMissingLink, livesync.ErrNoTenant, session.ErrInvalidTheme,
		school.ErrInvalidDate, school.ErrInvalidStatus, school.ErrInvalidMonth, school.ErrInvalidScore:
		return http.StatusBadRequest
	}
	if school.IsNotFound(err) {
		return http.StatusNotFound
	}
	return 0
}

// errorStatus returns the status code newAppHTTPErrorHandler answers err with.
func errorStatus(err error) int {
	switch origErr := errors.Cause(err).(type) {
	case *echo.HTTPError:
		return origErr.Code
	case validator.ValidationErrors, *core.ValidationError:
		return http.StatusBadRequest
	default:
		if code := domainStatus(origErr); code != 0 {
			return code
		}
		return http.StatusInternalServerError
	}
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			code = http.StatusBadRequest
			message = core.TranslateValidationErrors(origErr, translator)
		case *core.ValidationError:
			if origErr.Fields != nil {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		default:
			if code = domainStatus(origErr); code != 0 {
				message = origErr.Error()
				break
			}

			// any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg

			var person *core.LogPerson
			if sess, ok := contextSession(ctx); ok {
				person = sess.LogPerson()
			}
			logger.Error(msg, errors.Wrap(err, msg), person)

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug && code == http.StatusInternalServerError {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
