package catalog

import "github.com/dmitrymomot/paygate/svc/subscription"

var defaultPrices = []struct {
	name    string
	cadence subscription.Cadence
	amount  string
}{
	{"oneday", subscription.CadenceOneDay, "$19.00"},
	{"weekly", subscription.CadenceWeekly, "$49.00"},
	{"monthly", subscription.CadenceMonthly, "$99.00"},
	{"quarterly", subscription.CadenceQuarterly, "$199.00"},
	{"semiannual", subscription.CadenceSemiannual, "$299.00"},
	{"annual", subscription.CadenceAnnual, "$409.00"},
}

// Default is the built-in catalog: one product per cadence on each store,
// named "premium.<cadence>", with the duration left to renewal policies.
func Default() *Catalog {
	var products []Product
	for _, platform := range []subscription.Platform{subscription.PlatformAndroid, subscription.PlatformAppStore} {
		for _, p := range defaultPrices {
			products = append(products, Product{
				Platform:  platform,
				ProductID: "premium." + p.name,
				Cadence:   p.cadence,
				Amount:    p.amount,
			})
		}
	}
	c, err := New(products...)
	if err != nil {
		panic(err)
	}
	return c
}
