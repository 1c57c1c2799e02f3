package papara

import "github.com/mstgnz/donatepay/provider"

// Register Papara provider with the gateway registry
func init() {
	provider.RegisterFactory(provider.Papara, NewProvider)
}
