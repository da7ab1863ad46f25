package persist

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/utafrali/cartsync/internal/domain"
)

// Record is one stored cart item in whatever shape an older client wrote it.
type Record = map[string]any

// rule extracts a typed value from one field of a Record. Rules are tried in
// order and the first one whose field holds a valid value wins.
type rule[T any] struct {
	field string
	parse func(any) (T, bool)
}

// Every historical field name the storefront has used for each line attribute.
// Keep these tables short: a missing alias silently drops the user's items.
var (
	productIDRules = []rule[int64]{
		{"productId", parsePositiveInt},
		{"id", parsePositiveInt},
		{"_id", parsePositiveInt},
		{"product_id", parsePositiveInt},
		{"sku", parsePositiveInt},
	}
	quantityRules = []rule[int]{
		{"qty", parseQuantity},
		{"quantity", parseQuantity},
		{"count", parseQuantity},
	}
	priceRules = []rule[int64]{
		{"unitPrice", parsePrice},
		{"price", parsePrice},
	}
	imageRules = []rule[string]{
		{"imageUrl", parseNonEmptyString},
		{"image_url", parseNonEmptyString},
		{"image", parseNonEmptyString},
	}
)

// extract applies rules to rec. present reports whether any rule's field
// exists in rec at all, valid or not.
func extract[T any](rec Record, rules []rule[T]) (value T, ok, present bool) {
	for _, r := range rules {
		raw, exists := rec[r.field]
		if !exists || raw == nil {
			continue
		}
		present = true
		if v, valid := r.parse(raw); valid {
			return v, true, true
		}
	}
	return value, false, present
}

// NormalizeRecord converts a stored record into a cart line. It rejects
// records without a positive integer product id, without a positive quantity,
// or with a price field that is negative or not a finite number.
func NormalizeRecord(rec Record) (domain.CartLine, bool) {
	if rec == nil {
		return domain.CartLine{}, false
	}

	id, ok, _ := extract(rec, productIDRules)
	if !ok {
		return domain.CartLine{}, false
	}
	qty, ok, _ := extract(rec, quantityRules)
	if !ok {
		return domain.CartLine{}, false
	}
	price, ok, present := extract(rec, priceRules)
	if !ok && present {
		return domain.CartLine{}, false
	}
	name, _ := rec["name"].(string)
	image, _, _ := extract(rec, imageRules)

	return domain.CartLine{
		ProductID: id,
		Name:      name,
		UnitPrice: price,
		ImageURL:  image,
		Quantity:  qty,
	}, true
}

// PriceRounded reports whether the price NormalizeRecord would take from rec
// has a fractional part that rounding to whole cents discards.
func PriceRounded(rec Record) bool {
	for _, r := range priceRules {
		raw, exists := rec[r.field]
		if !exists || raw == nil {
			continue
		}
		if _, valid := parsePrice(raw); !valid {
			continue
		}
		f, _ := toFloat(raw)
		return f != math.Trunc(f)
	}
	return false
}

// CountRoundedPrices counts the records NormalizeRecord keeps whose price was
// rounded.
func CountRoundedPrices(records []Record) int {
	n := 0
	for _, rec := range records {
		if _, ok := NormalizeRecord(rec); ok && PriceRounded(rec) {
			n++
		}
	}
	return n
}

// NormalizeRecords converts every record, dropping the invalid ones and
// merging duplicates. It returns the lines and how many records were dropped.
func NormalizeRecords(records []Record) ([]domain.CartLine, int) {
	lines := make([]domain.CartLine, 0, len(records))
	dropped := 0
	for _, rec := range records {
		line, ok := NormalizeRecord(rec)
		if !ok {
			dropped++
			continue
		}
		lines = append(lines, line)
	}
	return mergeDuplicates(lines), dropped
}

// NormalizeLines validates already-typed lines: non-positive product ids,
// negative prices and non-positive quantities are dropped and duplicate
// products merged. It returns the lines and the number dropped.
func NormalizeLines(in []domain.CartLine) ([]domain.CartLine, int) {
	lines := make([]domain.CartLine, 0, len(in))
	dropped := 0
	for _, line := range in {
		if line.ProductID <= 0 || line.UnitPrice < 0 || line.Quantity <= 0 {
			dropped++
			continue
		}
		lines = append(lines, line)
	}
	return mergeDuplicates(lines), dropped
}

// mergeDuplicates sums quantities of repeated products into the first
// occurrence, keeping that occurrence's name, price and image.
func mergeDuplicates(lines []domain.CartLine) []domain.CartLine {
	index := make(map[int64]int, len(lines))
	out := lines[:0]
	for _, line := range lines {
		if i, seen := index[line.ProductID]; seen {
			out[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(out)
		out = append(out, line)
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// parsePositiveInt accepts integral numbers and numeric strings above zero.
func parsePositiveInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, n > 0
	case int:
		return int64(n), n > 0
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, i > 0
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i, i > 0
		}
	}
	f, ok := toFloat(v)
	if !ok || !finite(f) || f != math.Trunc(f) || f <= 0 || f > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// parseQuantity accepts positive finite numbers, truncating fractions. A
// value that truncates to zero is rejected.
func parseQuantity(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok || !finite(f) || f > math.MaxInt32 {
		return 0, false
	}
	q := int(math.Trunc(f))
	return q, q >= 1
}

// parsePrice accepts finite non-negative amounts, rounded to whole cents.
// CountRoundedPrices reports how many stored prices lost a fraction here.
func parsePrice(v any) (int64, bool) {
	f, ok := toFloat(v)
	if !ok || !finite(f) || f < 0 || f > math.MaxInt64 {
		return 0, false
	}
	return int64(math.Round(f)), true
}

func parseNonEmptyString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok && s != ""
}
