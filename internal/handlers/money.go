package handlers

import (
	"github.com/shopspring/decimal"

	"github.com/deshtopup/storefront/internal/pricelist"
)

// amount is a BDT value that encodes as a bare JSON number. decimal.Decimal quotes itself by
// default, which storefront clients would read as a string.
type amount struct {
	decimal.Decimal
}

func newAmount(d decimal.Decimal) amount {
	return amount{Decimal: d.Round(2)}
}

func (a amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.Round(2).String()), nil
}

func displayAmount(d decimal.Decimal) string {
	return pricelist.FormatBDT(d)
}
