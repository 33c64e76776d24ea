package pricing

import (
	"sort"

	"ledger-svc/apperr"
	"ledger-svc/models"

	"github.com/shopspring/decimal"
)

type Package struct {
	Type    string
	Name    string
	Credits int
	Price   decimal.Decimal
}

var catalog = map[string]Package{
	"SINGLE":  {Type: "SINGLE", Name: "Single report", Credits: 1, Price: decimal.RequireFromString("9.90")},
	"PACK_6":  {Type: "PACK_6", Name: "6-report pack", Credits: 6, Price: decimal.RequireFromString("29.00")},
	"PACK_20": {Type: "PACK_20", Name: "20-report pack", Credits: 20, Price: decimal.RequireFromString("79.00")},
}

// Lookup returns the catalog entry for packageType.
func Lookup(packageType string) (Package, bool) {
	p, ok := catalog[packageType]
	return p, ok
}

// Packages lists the catalog ordered by credits.
func Packages() []Package {
	out := make([]Package, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Credits < out[j].Credits })
	return out
}

// Calculate prices packageType with an optional percentage discount. The
// discount amount is rounded to cents and the final price never goes below zero.
func Calculate(packageType string, discountPercent int) (models.PriceInfo, error) {
	pkg, ok := Lookup(packageType)
	if !ok {
		return models.PriceInfo{}, apperr.ErrInvalidPackage
	}
	if discountPercent < 0 || discountPercent > 100 {
		return models.PriceInfo{}, apperr.ErrInvalidPromo
	}

	discount := pkg.Price.
		Mul(decimal.NewFromInt(int64(discountPercent))).
		Div(decimal.NewFromInt(100)).
		Round(2)
	final := pkg.Price.Sub(discount)
	if final.IsNegative() {
		final = decimal.Zero
	}

	return models.PriceInfo{
		PackageType:     pkg.Type,
		Credits:         pkg.Credits,
		OriginalPrice:   pkg.Price,
		DiscountPercent: discountPercent,
		DiscountAmount:  discount,
		FinalPrice:      final,
	}, nil
}

// AmountTolerance is the largest difference between a reported payment and
// an order's final price that still counts as a match.
var AmountTolerance = decimal.RequireFromString("0.01")

// AmountMatches reports whether paid settles an order priced at expected.
func AmountMatches(paid, expected decimal.Decimal) bool {
	return paid.Sub(expected).Abs().LessThanOrEqual(AmountTolerance)
}
