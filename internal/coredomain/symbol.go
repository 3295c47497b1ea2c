package coredomain

import "github.com/shopspring/decimal"

// PriceFilter constrains the price granularity an order may use.
type PriceFilter struct {
	Min  decimal.Decimal
	Max  decimal.Decimal
	Tick decimal.Decimal
}

// LotFilter constrains the quantity granularity an order may use.
type LotFilter struct {
	Min  decimal.Decimal
	Max  decimal.Decimal
	Step decimal.Decimal
}

// Filters bundles the per-symbol trading rules spec.md §3.1 names.
type Filters struct {
	Price       PriceFilter
	Lot         LotFilter
	MinNotional decimal.Decimal
}

// SymbolSpec describes one tradable pair.
type SymbolSpec struct {
	Symbol         string
	BaseAsset      string
	QuoteAsset     string
	BasePrecision  int32
	QuotePrecision int32
	Filters        Filters
}

// conformsToStep reports whether value is at least min and lies an exact
// whole number of steps above min, the shared helper behind both the
// price-tick and quantity-lot checks.
func conformsToStep(value, min, step decimal.Decimal) bool {
	if step.IsZero() {
		return true
	}
	if value.LessThan(min) {
		return false
	}
	diff := value.Sub(min)
	mod := diff.Mod(step)
	return mod.IsZero()
}

// ValidatePrice checks a price against the symbol's price filter.
func (s *SymbolSpec) ValidatePrice(price decimal.Decimal) bool {
	f := s.Filters.Price
	if price.LessThan(f.Min) {
		return false
	}
	if !f.Max.IsZero() && price.GreaterThan(f.Max) {
		return false
	}
	return conformsToStep(price, f.Min, f.Tick)
}

// ValidateQuantity checks a quantity against the symbol's lot filter.
func (s *SymbolSpec) ValidateQuantity(qty decimal.Decimal) bool {
	f := s.Filters.Lot
	if qty.LessThan(f.Min) {
		return false
	}
	if !f.Max.IsZero() && qty.GreaterThan(f.Max) {
		return false
	}
	return conformsToStep(qty, f.Min, f.Step)
}

// ValidateNotional checks price*quantity against the minimum notional.
func (s *SymbolSpec) ValidateNotional(price, qty decimal.Decimal) bool {
	if s.Filters.MinNotional.IsZero() {
		return true
	}
	return price.Mul(qty).GreaterThanOrEqual(s.Filters.MinNotional)
}
