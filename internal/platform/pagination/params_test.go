package pagination

import (
	"errors"
	"net/http"
	"net/url"
	"reflect"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" || params.Cursor != (Cursor{}) {
		t.Fatalf("expected empty cursor, got %q %#v", params.PageToken, params.Cursor)
	}
	if params.Orders != nil {
		t.Fatalf("expected nil orders, got %#v", params.Orders)
	}
}

func TestParsePageSize(t *testing.T) {
	opts := Options{DefaultPageSize: 12, MaxPageSize: 40}
	values := url.Values{}
	values.Set("pageSize", "30")

	params, err := Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 30 {
		t.Fatalf("expected page size 30 got %d", params.PageSize)
	}

	values.Set("pageSize", "400")
	params, err = Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != opts.MaxPageSize {
		t.Fatalf("expected page size clamped to %d got %d", opts.MaxPageSize, params.PageSize)
	}
}

func TestParseInvalidPageSize(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-3"} {
		values := url.Values{}
		values.Set("pageSize", raw)
		if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("pageSize=%q: expected ErrInvalidPageSize got %v", raw, err)
		}
	}
}

func TestParsePageToken(t *testing.T) {
	token, err := EncodeToken(Cursor{Offset: 48})
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}
	values := url.Values{}
	values.Set("pageToken", token)

	params, err := Parse(values, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageToken != token || params.Cursor.Offset != 48 {
		t.Fatalf("unexpected cursor %q %#v", params.PageToken, params.Cursor)
	}
}

func TestParseInvalidPageToken(t *testing.T) {
	values := url.Values{}
	values.Set("pageToken", "!!!invalid!!!")
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken got %v", err)
	}
}

func TestParseOrderBy(t *testing.T) {
	values := url.Values{}
	values.Add("orderBy", "price desc")
	values.Add("orderBy", "name:asc,price asc")

	params, err := Parse(values, Options{AllowedOrderFields: []string{"price", "name"}})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	expected := []Order{{Field: "price", Desc: true}, {Field: "name"}}
	if !reflect.DeepEqual(params.Orders, expected) {
		t.Fatalf("expected orders %#v got %#v", expected, params.Orders)
	}
}

func TestParseOrderByInvalid(t *testing.T) {
	values := url.Values{}
	values.Add("orderBy", "price desc")
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidOrderBy) {
		t.Fatalf("expected ErrInvalidOrderBy got %v", err)
	}

	opts := Options{AllowedOrderFields: []string{"price"}}
	for _, raw := range []string{"price sideways", "rating desc", "price desc extra", "pri$ce"} {
		values = url.Values{}
		values.Add("orderBy", raw)
		if _, err := Parse(values, opts); !errors.Is(err, ErrInvalidOrderBy) {
			t.Fatalf("orderBy=%q: expected ErrInvalidOrderBy got %v", raw, err)
		}
	}
}

func TestTokens(t *testing.T) {
	if token, err := EncodeToken(Cursor{}); err != nil || token != "" {
		t.Fatalf("expected empty token for zero cursor, got %q %v", token, err)
	}
	if NextToken(24, 24) != "" {
		t.Fatal("expected no next token on last page")
	}
	next := NextToken(24, 30)
	cursor, err := DecodeToken(next)
	if err != nil {
		t.Fatalf("DecodeToken returned error: %v", err)
	}
	if cursor.Offset != 24 {
		t.Fatalf("expected offset 24 got %d", cursor.Offset)
	}
	if _, err := DecodeToken("eyJvIjotNX0"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected negative offset rejected, got %v", err)
	}
}

func TestWindow(t *testing.T) {
	cases := []struct {
		params     Params
		total      int
		start, end int
	}{
		{Params{PageSize: 10}, 25, 0, 10},
		{Params{PageSize: 10, Cursor: Cursor{Offset: 20}}, 25, 20, 25},
		{Params{PageSize: 10, Cursor: Cursor{Offset: 40}}, 25, 25, 25},
		{Params{}, 5, 0, 5},
	}
	for _, tc := range cases {
		start, end := tc.params.Window(tc.total)
		if start != tc.start || end != tc.end {
			t.Fatalf("Window(%d) with %#v = [%d,%d), want [%d,%d)", tc.total, tc.params, start, end, tc.start, tc.end)
		}
	}
}

func TestFromRequest(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "/?pageSize=20", nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	params, err := FromRequest(req, Options{})
	if err != nil {
		t.Fatalf("FromRequest returned error: %v", err)
	}
	if params.PageSize != 20 {
		t.Fatalf("expected page size 20 got %d", params.PageSize)
	}
}
