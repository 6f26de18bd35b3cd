package pricelist

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// TakaSign prefixes formatted BDT amounts.
const TakaSign = "৳"

var displayPrinter = message.NewPrinter(language.English)

// FormatBDT renders an amount for display, e.g. "৳1,200" or "৳99.50". Whole amounts drop the
// fraction.
func FormatBDT(amount decimal.Decimal) string {
	amount = amount.Round(2)
	f := amount.InexactFloat64()
	if amount.Equal(amount.Truncate(0)) {
		return TakaSign + displayPrinter.Sprint(number.Decimal(f, number.MaxFractionDigits(0)))
	}
	return TakaSign + displayPrinter.Sprint(number.Decimal(f, number.MinFractionDigits(2), number.MaxFractionDigits(2)))
}
