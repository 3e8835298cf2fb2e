package echoapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/core/portal"
)

var errTooManyLookups = echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, slow down")

// linkRateLimiter limits tenant lookups per client IP.
func linkRateLimiter(conf *core.Config, logger core.Logger) echo.MiddlewareFunc {
	limit := conf.Server.LinkRateLimit
	if limit <= 0 {
		limit = 5
	}
	burst := int(limit) * 2
	if burst < 1 {
		burst = 1
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(limit),
			Burst:     burst,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			logger.Warn("magic link lookups rate limited", map[string]interface{}{"ip": identifier})
			linkLookups.WithLabelValues("limited").Inc()
			return errTooManyLookups
		},
	})
}

type linkApi struct {
	portal *portal.Service
	logger core.Logger
}

// resolve answers the entry page: the tenant of the link, or the generic entry.
func (api *linkApi) resolve(ctx echo.Context) error {
	info, ok := api.portal.ResolveLink(ctx.Request().Context(), ctx.QueryParam("schoolId"))
	if ok {
		linkLookups.WithLabelValues("found").Inc()
	} else {
		linkLookups.WithLabelValues("generic").Inc()
	}
	return ctx.JSON(http.StatusOK, echo.Map{"found": ok, "school": info})
}

// qrCode serves the magic link of a tenant as a PNG QR code.
func (api *linkApi) qrCode(ctx echo.Context) error {
	info, ok := api.portal.ResolveLink(ctx.Request().Context(), ctx.QueryParam("schoolId"))
	if !ok {
		linkLookups.WithLabelValues("generic").Inc()
		return errHttpNotFound
	}
	linkLookups.WithLabelValues("found").Inc()
	png, err := core.LinkQRCode(info.Link, core.QRSize)
	if err != nil {
		return err
	}
	ctx.Response().Header().Set("Content-Disposition", `inline; filename="`+info.SchoolID+`.png"`)
	return ctx.Blob(http.StatusOK, "image/png", png)
}
