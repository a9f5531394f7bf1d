package router

import (
	"time"

	"github.com/ManuelReschke/PayFox/app/controllers"
	"github.com/ManuelReschke/PayFox/internal/pkg/constants"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIPrefix)
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group(constants.APIV1)

	rate := h.deps.WebhookRateLimit
	if rate <= 0 {
		rate = 120
	}
	webhookLimiter := limiter.New(limiter.Config{
		Max:          rate,
		Expiration:   time.Minute,
		Storage:      h.deps.LimiterStorage,
		KeyGenerator: controllers.ClientIP,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
		},
	})
	v1.Post(constants.PaymentWebhookRoute, webhookLimiter, h.deps.Payments.HandlePaymentWebhook)

	v1.Post(constants.CheckoutRoute, limiter.New(limiter.Config{Storage: h.deps.LimiterStorage, KeyGenerator: controllers.ClientIP}), h.deps.Payments.HandleStartCheckout)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
