package models

// Product is a read-only catalog record. Several price fields may be set at
// once; UnitPriceCents picks the canonical one.
type Product struct {
	ID                   string `json:"id"`
	Slug                 string `json:"slug"`
	Title                string `json:"title"`
	Image                string `json:"image,omitempty"`
	PriceCents           int64  `json:"price,omitempty"`
	PresalePriceCents    int64  `json:"presalePrice,omitempty"`
	DiscountedPriceCents int64  `json:"discountedPrice,omitempty"`
	MRPCents             int64  `json:"mrp,omitempty"`
}

// priceAccessors is the fixed precedence order for the canonical unit price.
var priceAccessors = []func(*Product) int64{
	func(p *Product) int64 { return p.PriceCents },
	func(p *Product) int64 { return p.PresalePriceCents },
	func(p *Product) int64 { return p.DiscountedPriceCents },
	func(p *Product) int64 { return p.MRPCents },
}

// UnitPriceCents returns the first positive price in precedence order:
// price, presalePrice, discountedPrice, mrp. Zero if none is set.
func (p *Product) UnitPriceCents() int64 {
	if p == nil {
		return 0
	}
	for _, price := range priceAccessors {
		if v := price(p); v > 0 {
			return v
		}
	}
	return 0
}
