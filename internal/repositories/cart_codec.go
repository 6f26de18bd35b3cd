package repositories

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/deshtopup/storefront/internal/domain"
	"github.com/deshtopup/storefront/internal/platform/textutil"
	"github.com/deshtopup/storefront/internal/pricelist"
)

// cartItemRecord is the persisted shape of a cart line. It matches the array browsers keep in
// local storage, so a client-side cart can be uploaded and stored without translation.
type cartItemRecord struct {
	ID           string            `json:"id"`
	ProductName  string            `json:"productName"`
	ProductImage string            `json:"productImage,omitempty"`
	Label        string            `json:"label,omitempty"`
	Price        any               `json:"price"`
	Quantity     int               `json:"quantity"`
	ProductType  string            `json:"productType,omitempty"`
	GameInfo     map[string]string `json:"gameInfo,omitempty"`
}

// EncodeCartItems serialises items as a JSON array. An empty cart encodes as [].
func EncodeCartItems(items []domain.CartItem) ([]byte, error) {
	records := make([]cartItemRecord, 0, len(items))
	for _, item := range items {
		records = append(records, cartItemRecord{
			ID:           item.ID,
			ProductName:  item.ProductName,
			ProductImage: item.ProductImage,
			Label:        item.Label,
			Price:        json.Number(item.Price.String()),
			Quantity:     item.Quantity,
			ProductType:  item.ProductType,
			GameInfo:     textutil.NormalizeStringMap(item.GameInfo),
		})
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode cart items: %w", err)
	}
	return data, nil
}

// DecodeCartItems parses a serialised cart. Prices given as strings ("৳95") are coerced the same
// way catalog prices are; rows without a product name or with quantity below one are dropped.
func DecodeCartItems(data []byte) ([]domain.CartItem, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return []domain.CartItem{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var records []cartItemRecord
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode cart items: %w", err)
	}

	items := make([]domain.CartItem, 0, len(records))
	for _, record := range records {
		name := strings.TrimSpace(record.ProductName)
		if name == "" || record.Quantity < 1 {
			continue
		}
		items = append(items, domain.CartItem{
			ID:           strings.TrimSpace(record.ID),
			ProductName:  name,
			ProductImage: strings.TrimSpace(record.ProductImage),
			Label:        strings.TrimSpace(record.Label),
			Price:        coerceCartPrice(record.Price),
			Quantity:     record.Quantity,
			ProductType:  strings.TrimSpace(record.ProductType),
			GameInfo:     textutil.NormalizeStringMap(record.GameInfo),
		})
	}
	return items, nil
}

func coerceCartPrice(v any) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return pricelist.CoercePrice(v)
}
