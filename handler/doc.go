// Package handler provides the HTTP handlers of the DonatePay API.
//
// Handlers decode and validate requests, call the payment service, webhook
// ingestor or reconciliation engine, and answer with the response envelope from
// infra/response. Taxonomy errors from the provider package are mapped to HTTP
// statuses with provider.HTTPStatus.
//
// # Endpoints
//
//	POST /payments                          PaymentHandler.CreatePayment
//	GET  /payments/{transactionId}/status   PaymentHandler.GetPaymentStatus
//	GET  /payment-methods/available         PaymentHandler.GetAvailableMethods
//	GET  /payment-methods/health            PaymentHandler.GetProviderHealth
//	POST /webhooks/{providerType}           WebhookHandler.HandleWebhook
//	POST /reconciliation/run                ReconciliationHandler.Run
//	POST /reconciliation/run/{paymentId}    ReconciliationHandler.RunPayment
//	GET  /reconciliation/stats              ReconciliationHandler.Stats
//	GET  /health                            HealthHandler.CheckHealth
//
// # Creating a Payment
//
//	POST /payments
//	Content-Type: application/json
//
//	{
//	  "provider": "myfatoorah",
//	  "amount": 25.000,
//	  "currency": "KWD",
//	  "referenceId": "donation-1042",
//	  "customer": {"name": "Jane Doe", "email": "jane@example.com"}
//	}
//
// provider is optional; the active provider is used when it is omitted.
//
// # Webhooks
//
// Webhooks always answer {"received": true, "success": bool} with status 200 once
// the signature and payload are accepted, including callbacks for transactions
// that are not stored locally. A bad signature is 401, an unreadable payload 400.
//
// # Response Format
//
//	{
//	  "code": 201,
//	  "success": true,
//	  "message": "Payment created",
//	  "data": {...}
//	}
package handler
