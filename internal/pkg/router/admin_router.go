package router

import (
	"github.com/ManuelReschke/PayFox/internal/pkg/constants"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"
)

type AdminRouter struct {
	deps Dependencies
}

// InstallRouter mounts the operator endpoints. Without an admin password they
// are not mounted at all.
func (h AdminRouter) InstallRouter(app *fiber.App) {
	if h.deps.AdminPassword == "" {
		log.Warn("[Admin] ADMIN_PASSWORD is not set, admin routes are disabled")
		return
	}

	auth := basicauth.New(basicauth.Config{
		Users: map[string]string{
			h.deps.AdminUser: h.deps.AdminPassword,
		},
	})

	// fiber metrics
	app.Get(constants.MetricsRoute, auth, monitor.New())

	adminGroup := app.Group(constants.AdminPrefix, auth)
	adminGroup.Get(constants.AdminFailedEventsRoute, h.deps.Admin.HandleListFailedEvents)
	adminGroup.Post(constants.AdminRetryRoute, h.deps.Admin.HandleRetryFailedEvent)
	adminGroup.Get(constants.AdminProviderStatusRoute, h.deps.Admin.HandleProviderStatus)
	adminGroup.Get(constants.AdminStatsRoute, h.deps.Admin.HandlePaymentStats)
}

func NewAdminRouter(deps Dependencies) *AdminRouter {
	return &AdminRouter{deps: deps}
}
