// Package catalog resolves client-submitted cart lines against the
// canonical product catalog and computes authoritative prices.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/loomshop/loomshop/internal/db"
	"github.com/loomshop/loomshop/internal/models"
)

// CheckoutLine is one client-submitted cart line. UnitPriceCents is an
// advisory hint only; the resolver replaces it with the catalog price.
type CheckoutLine struct {
	ID             string
	Slug           string
	Title          string
	Size           string
	Qty            int
	UnitPriceCents int64
	Image          string
}

// ProductNotFoundError identifies the cart line that no candidate key could
// resolve. The whole request is rejected; there are no partial orders.
type ProductNotFoundError struct {
	Index int
	Line  CheckoutLine
}

func (e *ProductNotFoundError) Error() string {
	ref := e.Line.ID
	if ref == "" {
		ref = e.Line.Slug
	}
	if ref == "" {
		ref = e.Line.Title
	}
	return fmt.Sprintf("product not found for cart line %d (%q)", e.Index, ref)
}

type productLookup interface {
	GetByKey(ctx context.Context, key string) (*models.Product, error)
}

type Resolver struct {
	products productLookup
}

func NewResolver(products productLookup) *Resolver {
	return &Resolver{products: products}
}

// Resolve maps every cart line to a catalog product and replaces price,
// title and image with the catalog-authoritative values. Candidate keys are
// tried in a fixed order and resolution stops at the first hit.
func (r *Resolver) Resolve(ctx context.Context, lines []CheckoutLine) ([]models.OrderItem, error) {
	items := make([]models.OrderItem, 0, len(lines))

	for i, line := range lines {
		product, err := r.resolveLine(ctx, line)
		if err != nil {
			return nil, err
		}
		if product == nil {
			return nil, &ProductNotFoundError{Index: i, Line: line}
		}

		qty := line.Qty
		if qty < 1 {
			qty = 1
		}
		image := product.Image
		if image == "" {
			image = line.Image
		}

		items = append(items, models.OrderItem{
			ProductRef:     product.ID,
			Title:          product.Title,
			Size:           line.Size,
			Qty:            qty,
			UnitPriceCents: product.UnitPriceCents(),
			Image:          image,
		})
	}

	return items, nil
}

func (r *Resolver) resolveLine(ctx context.Context, line CheckoutLine) (*models.Product, error) {
	tried := make(map[string]bool)

	for _, candidate := range candidateKeys(line) {
		if candidate == "" || tried[candidate] {
			continue
		}
		tried[candidate] = true

		product, err := r.products.GetByKey(ctx, candidate)
		if errors.Is(err, db.ErrProductNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return product, nil
	}

	return nil, nil
}

// candidateKeys lists the fallback key chain for one line, in resolution
// order.
func candidateKeys(line CheckoutLine) []string {
	return []string{
		line.ID,
		line.Slug,
		Slugify(line.ID),
		Slugify(line.Title),
		slugFromImagePath(line.Image),
	}
}

// Slugify lowercases, maps every non-alphanumeric run to a single hyphen,
// and trims leading/trailing hyphens.
func Slugify(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastHyphen = false
			continue
		}
		if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

var imageSlugPattern = regexp.MustCompile(`/products/([^/]+)/`)

// slugFromImagePath extracts the slug segment from the conventional
// .../products/<slug>/... image path layout.
func slugFromImagePath(path string) string {
	matches := imageSlugPattern.FindStringSubmatch(path)
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}

// ClampShipping coerces the client-submitted shipping amount to one of the
// two allowed values: free or the configured flat rate.
func ClampShipping(requested, flatRate int64) int64 {
	if requested == flatRate {
		return flatRate
	}
	return 0
}

// ComputeAmounts builds the authoritative amounts block from resolved items.
func ComputeAmounts(items []models.OrderItem, shippingCents int64, currency string) models.Amounts {
	var subtotal int64
	for _, item := range items {
		subtotal += item.UnitPriceCents * int64(item.Qty)
	}
	return models.Amounts{
		SubtotalCents: subtotal,
		ShippingCents: shippingCents,
		TotalCents:    subtotal + shippingCents,
		Currency:      currency,
	}
}
