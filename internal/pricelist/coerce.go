package pricelist

import (
	"encoding/json"
	"math"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

var currencyMarkers = []string{"৳", "bdt", "tk.", "tk", "taka", "$", "usd"}

var bengaliDigits = strings.NewReplacer(
	"০", "0", "১", "1", "২", "2", "৩", "3", "৪", "4",
	"৫", "5", "৬", "6", "৭", "7", "৮", "8", "৯", "9",
)

// CoercePrice converts a number or price-like string to BDT with two decimal places. Currency
// markers, thousands separators and Bengali digits are accepted. Anything unparseable or
// negative becomes zero.
func CoercePrice(v any) decimal.Decimal {
	var d decimal.Decimal
	switch t := v.(type) {
	case decimal.Decimal:
		d = t
	case float64:
		if !finite(t) {
			return decimal.Zero
		}
		d = decimal.NewFromFloat(t)
	case float32:
		if !finite(float64(t)) {
			return decimal.Zero
		}
		d = decimal.NewFromFloat32(t)
	case int:
		d = decimal.NewFromInt(int64(t))
	case int64:
		d = decimal.NewFromInt(t)
	case int32:
		d = decimal.NewFromInt32(t)
	case json.Number:
		parsed, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.Zero
		}
		d = parsed
	case string:
		parsed, ok := parsePriceString(t)
		if !ok {
			return decimal.Zero
		}
		d = parsed
	default:
		return decimal.Zero
	}
	if d.IsNegative() {
		return decimal.Zero
	}
	return d.Round(2)
}

func parsePriceString(s string) (decimal.Decimal, bool) {
	s = strings.ToLower(bengaliDigits.Replace(strings.TrimSpace(s)))
	for _, marker := range currencyMarkers {
		s = strings.ReplaceAll(s, marker, "")
	}
	// "120/-" and "120/=" are common local price notations.
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimSuffix(s, "/-"), "/=")
	s = strings.Map(func(r rune) rune {
		if r == ',' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimRight(s, ".")
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// CoerceBool interprets the promotional flag. Strings "true", "1", "yes", "y" and "hot" are
// true; numbers are true when non-zero.
func CoerceBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "y", "hot":
			return true
		}
		return false
	case float64:
		return finite(t) && t != 0
	case float32:
		return finite(float64(t)) && t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case int32:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err == nil && finite(f) && f != 0
	default:
		return false
	}
}

// finite rejects the NaN and infinity values Firestore doubles can carry; decimal panics on them.
func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
