package router

import (
	"github.com/ManuelReschke/PayFox/app/controllers"
	"github.com/gofiber/fiber/v2"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the handlers and settings the routes are wired to.
type Dependencies struct {
	Payments *controllers.PaymentController
	Admin    *controllers.AdminPaymentController

	AdminUser     string
	AdminPassword string

	// WebhookRateLimit is the number of webhook requests per minute and IP.
	WebhookRateLimit int
	// LimiterStorage shares limiter state between replicas. nil keeps it in memory.
	LimiterStorage fiber.Storage
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	setup(app, NewApiRouter(deps), NewAdminRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
