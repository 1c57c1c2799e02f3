package stripe

import "github.com/mstgnz/donatepay/provider"

// Register Stripe provider with the gateway registry
func init() {
	provider.RegisterFactory(provider.Stripe, NewProvider)
}
