// Package provider hides payment gateways behind one interface and one outcome model.
//
// # Core Concepts
//
//   - Outcome: the canonical status, one of pending, paid and failed
//   - PaymentProvider: the capability set every gateway adapter implements
//   - WebhookValidator: optional signature check, run before a webhook is parsed
//   - Router: bounded registry of initialized providers with an active provider
//   - Error: taxonomy error carrying a Kind sentinel such as ErrValidation or ErrUpstream
//
// # Registration
//
// Adapter packages register a factory from init, so importing them is enough:
//
//	import (
//	    "github.com/mstgnz/donatepay/provider"
//	    _ "github.com/mstgnz/donatepay/provider/myfatoorah"
//	    _ "github.com/mstgnz/donatepay/provider/stripe"
//	)
//
//	router := provider.NewRouter(10)
//	router.LoadProviders(provider.DefaultFactories, map[string]map[string]string{
//	    "stripe": {"secretKey": "sk_test_...", "returnUrl": "https://donate.example.org/done"},
//	}, "stripe")
//
// A provider is only registered when IsConfigured reports true. The first registered
// provider becomes active unless a preferred one is named.
//
// # Status Mapping
//
// DeriveOutcome folds an invoice status and its payment attempts into an Outcome.
// Any successful attempt means paid; when every attempt failed the payment is failed
// even if the invoice itself claims otherwise. Gateways without an invoice layer
// use OutcomeFromKeyword.
//
//	outcome := provider.DeriveOutcome("Pending", []string{"Failed", "Captured"}) // OutcomePaid
//	outcome = provider.OutcomeFromKeyword("declined")                          // OutcomeFailed
//
// # Expiry
//
// Router.GetStatus converts a pending status into failed once the gateway reported
// expiry time has passed.
//
// # Errors
//
//	_, err := router.GetStatus(ctx, provider.Stripe, "pi_123")
//	if errors.Is(err, provider.ErrUpstreamNotFound) {
//	    // unknown transaction
//	}
//	status := provider.HTTPStatus(err)
package provider
