// Package pricelist turns the loosely typed price lists stored on catalog documents into
// domain.PriceListItem values.
//
// Two encodings exist in the catalog. Older documents hold delimited strings
// ("100 Diamonds|120|true|topup"); newer ones hold objects. Both may be mixed in one array.
package pricelist

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/deshtopup/storefront/internal/domain"
)

const fieldSeparator = "|"

var (
	labelKeys = []string{"label", "name", "title"}
	priceKeys = []string{"price", "amount"}
	hotKeys   = []string{"hot", "ishot", "popular"}
	typeKeys  = []string{"type", "kind"}
)

// Normalize converts any supported price list encoding. Entries without a label are dropped,
// order is preserved, and nil input yields an empty (non-nil) slice.
func Normalize(raw any) []domain.PriceListItem {
	out := []domain.PriceListItem{}
	for _, entry := range entries(raw) {
		if item, ok := ParseEntry(entry); ok {
			out = append(out, item)
		}
	}
	return out
}

// ParseEntry converts a single string or object entry.
func ParseEntry(raw any) (domain.PriceListItem, bool) {
	switch v := raw.(type) {
	case nil:
		return domain.PriceListItem{}, false
	case string:
		return parseDelimited(v)
	case map[string]any:
		return parseObject(v)
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, s := range v {
			m[k] = s
		}
		return parseObject(m)
	case domain.PriceListItem:
		return v, strings.TrimSpace(v.Label) != ""
	default:
		return domain.PriceListItem{}, false
	}
}

func entries(raw any) []any {
	switch v := raw.(type) {
	case nil:
		return nil
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case []map[string]any:
		out := make([]any, len(v))
		for i, m := range v {
			out[i] = m
		}
		return out
	case string:
		return splitListString(v)
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return nil
		}
		return entries(decoded)
	default:
		return []any{v}
	}
}

// splitListString handles a whole price list stored as one string: a JSON array, or delimited
// entries separated by newlines, semicolons or commas.
func splitListString(s string) []any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var decoded []any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			return decoded
		}
	}
	lines := strings.FieldsFunc(trimmed, func(r rune) bool { return r == '\n' || r == ';' })
	out := make([]any, 0, len(lines))
	for _, line := range lines {
		for _, entry := range splitCommaEntries(line) {
			out = append(out, entry)
		}
	}
	return out
}

// splitCommaEntries splits "A|85|true,B|165|false" into entries. A comma inside the label
// ("Diamonds, Weekly|…") or a thousands separator inside the price ("A|1,450|true") stays
// part of the current entry.
func splitCommaEntries(line string) []string {
	parts := strings.Split(line, ",")
	out := make([]string, 0, len(parts))
	current := parts[0]
	for _, next := range parts[1:] {
		if startsNewEntry(current, next) {
			out = append(out, current)
			current = next
			continue
		}
		current += "," + next
	}
	return append(out, current)
}

func startsNewEntry(current, next string) bool {
	switch strings.Count(current, fieldSeparator) {
	case 0:
		// Still inside the label.
		return false
	case 1:
		// Inside the price: a three-digit group continues it.
		return !isThousandsGroup(next)
	default:
		// Hot flag and type never contain commas.
		return true
	}
}

func isThousandsGroup(s string) bool {
	s = bengaliDigits.Replace(s)
	if len(s) < 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	rest := strings.TrimSpace(s[3:])
	return rest == "" || strings.ContainsRune("|./", rune(rest[0]))
}
