package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ManuelReschke/PayFox/internal/pkg/checkout"
	"github.com/ManuelReschke/PayFox/internal/pkg/payment"
	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// WebhookHandler processes one authenticated provider notification.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, rawBody []byte, header http.Header) (*webhook.Result, error)
}

// CheckoutStarter opens a provider checkout for an order.
type CheckoutStarter interface {
	Start(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

// PaymentController handles the public payment endpoints
type PaymentController struct {
	webhooks WebhookHandler
	checkout CheckoutStarter
}

// NewPaymentController creates a new payment controller
func NewPaymentController(webhooks WebhookHandler, checkout CheckoutStarter) *PaymentController {
	return &PaymentController{
		webhooks: webhooks,
		checkout: checkout,
	}
}

// HandlePaymentWebhook receives provider notifications. Everything that was
// authenticated is acknowledged with 200, including events that were queued
// for retry, so the provider stops redelivering.
func (pc *PaymentController) HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	header := http.Header{}
	for k, values := range c.GetReqHeaders() {
		for _, v := range values {
			header.Add(k, v)
		}
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 30*time.Second)
	defer cancel()

	res, err := pc.webhooks.HandleWebhook(ctx, rawBody, header)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrSignatureInvalid):
			log.Warnf("[Security] Rejected webhook from %s: %v", ClientIP(c), err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
		default:
			log.Errorf("[Webhook] Processing failed and could not be queued: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed"})
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "outcome": res.Outcome})
}

type checkoutBody struct {
	UserID     uint   `json:"user_id"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

// HandleStartCheckout creates a payment attempt and returns the hosted checkout URL
func (pc *PaymentController) HandleStartCheckout(c *fiber.Ctx) error {
	orderID, err := c.ParamsInt("id")
	if err != nil || orderID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_order_id"})
	}

	var body checkoutBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 15*time.Second)
	defer cancel()

	res, err := pc.checkout.Start(ctx, checkout.Request{
		OrderID:    uint(orderID),
		UserID:     body.UserID,
		SuccessURL: body.SuccessURL,
		CancelURL:  body.CancelURL,
	})
	if err != nil {
		switch {
		case errors.Is(err, checkout.ErrInvalidRequest):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
		case errors.Is(err, checkout.ErrOrderNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order_not_found"})
		case errors.Is(err, checkout.ErrOrderNotPayable):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "order_not_payable", "message": err.Error()})
		default:
			log.Errorf("[Checkout] Order %d: %v", orderID, err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "checkout_failed"})
		}
	}

	return c.Status(fiber.StatusCreated).JSON(res)
}
