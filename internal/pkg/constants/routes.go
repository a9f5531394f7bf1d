package constants

// Route constants shared by the router and the API documentation
const (
	APIPrefix = "/api"
	APIV1     = "/v1"

	PaymentWebhookRoute = "/payments/webhook"
	CheckoutRoute       = "/orders/:id/checkout"

	AdminPrefix              = "/admin"
	AdminFailedEventsRoute   = "/payments/failed-events"
	AdminRetryRoute          = "/payments/failed-events/:id/retry"
	AdminProviderStatusRoute = "/payments/attempts/:id/provider-status"
	AdminStatsRoute          = "/payments/stats"

	MetricsRoute = "/metrics"
)
