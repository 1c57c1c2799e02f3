package myfatoorah

import "github.com/mstgnz/donatepay/provider"

// Register MyFatoorah provider with the gateway registry
func init() {
	provider.RegisterFactory(provider.MyFatoorah, NewProvider)
}
