package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/nghednh/flowershop-checkout/internal/domain/catalog"
	"github.com/nghednh/flowershop-checkout/internal/domain/pricing"
)

// PricedLine is a cart line with its price resolved at a particular instant.
type PricedLine struct {
	Line
	Category      string
	EffectiveUnit decimal.Decimal
	LineTotal     decimal.Decimal
	AppliedRuleID string
}

// Totals is a priced snapshot of a cart. It is advisory: nothing is frozen
// until checkout resolves prices one final time.
type Totals struct {
	Lines []PricedLine
	// Subtotal is the sum of effective line totals before cart-scoped rules.
	Subtotal decimal.Decimal
	// Total is the subtotal after cart-scoped rules, floored at zero.
	Total decimal.Decimal
	// CartRuleID is the cart-scoped rule that adjusted the subtotal, if any.
	CartRuleID string
	At         time.Time
}

// Service owns cart mutations and priced reads. All mutations are
// version-checked; see Repository.
type Service struct {
	carts   Repository
	catalog catalog.Repository
	pricing *pricing.Engine
	now     func() time.Time
}

// NewService creates a cart Service.
func NewService(carts Repository, cat catalog.Repository, engine *pricing.Engine) *Service {
	return &Service{
		carts:   carts,
		catalog: cat,
		pricing: engine,
		now:     time.Now,
	}
}

// Get returns the owner's cart without pricing.
func (s *Service) Get(ctx context.Context, ownerID string) (*Cart, error) {
	return s.carts.Get(ctx, ownerID)
}

// AddLine adds quantity of a product to the cart. If the product is already
// in the cart the quantities are summed and the original base-price snapshot
// is kept. Quantity zero is rejected here (use RemoveLine).
func (s *Service) AddLine(ctx context.Context, ownerID, productID string, qty int, version int64) error {
	if qty <= 0 {
		return &InvalidQuantityError{ProductID: productID, Quantity: qty}
	}

	p, err := s.catalog.GetByID(ctx, productID)
	if err != nil {
		return errors.Wrap(err, "lookup product")
	}

	c, err := s.carts.Get(ctx, ownerID)
	if err != nil {
		return errors.Wrap(err, "get cart")
	}

	line := Line{
		ProductID:     productID,
		Quantity:      qty,
		UnitBasePrice: p.Price,
		AddedAt:       s.now(),
	}
	if existing := c.Line(productID); existing != nil {
		line.Quantity += existing.Quantity
		line.UnitBasePrice = existing.UnitBasePrice
		line.AddedAt = existing.AddedAt
	}

	return s.carts.UpsertLine(ctx, ownerID, line, version)
}

// SetQuantity replaces a line's quantity. Quantity zero removes the line.
func (s *Service) SetQuantity(ctx context.Context, ownerID, productID string, qty int, version int64) error {
	if qty < 0 {
		return &InvalidQuantityError{ProductID: productID, Quantity: qty}
	}
	if qty == 0 {
		return s.RemoveLine(ctx, ownerID, productID, version)
	}

	c, err := s.carts.Get(ctx, ownerID)
	if err != nil {
		return errors.Wrap(err, "get cart")
	}
	existing := c.Line(productID)
	if existing == nil {
		return ErrLineNotFound
	}

	line := *existing
	line.Quantity = qty
	return s.carts.UpsertLine(ctx, ownerID, line, version)
}

// RemoveLine deletes a line from the cart.
func (s *Service) RemoveLine(ctx context.Context, ownerID, productID string, version int64) error {
	c, err := s.carts.Get(ctx, ownerID)
	if err != nil {
		return errors.Wrap(err, "get cart")
	}
	if c.Line(productID) == nil {
		return ErrLineNotFound
	}
	return s.carts.RemoveLine(ctx, ownerID, productID, version)
}

// Clear removes every line. The empty cart remains.
func (s *Service) Clear(ctx context.Context, ownerID string, version int64) error {
	return s.carts.Clear(ctx, ownerID, version)
}

// SnapshotTotal prices the cart at the given instant. It mutates nothing and
// freezes nothing: the same call at a different instant may return different
// totals when time-windowed rules open or close.
func (s *Service) SnapshotTotal(ctx context.Context, ownerID string, at time.Time) (*Totals, error) {
	c, err := s.carts.Get(ctx, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	return s.Price(ctx, c, at)
}

// Price resolves every line of the given cart at the given instant and
// applies cart-scoped rules to the summed line totals.
func (s *Service) Price(ctx context.Context, c *Cart, at time.Time) (*Totals, error) {
	totals := &Totals{
		Lines:    make([]PricedLine, 0, len(c.Lines)),
		Subtotal: decimal.Zero,
		At:       at,
	}

	categories, err := s.lineCategories(ctx, c)
	if err != nil {
		return nil, err
	}

	for _, line := range c.Lines {
		quote, err := s.pricing.ResolveLinePrice(ctx, pricing.Subject{
			ProductID: line.ProductID,
			Category:  categories[line.ProductID],
		}, line.UnitBasePrice, at)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve price for %s", line.ProductID)
		}

		priced := PricedLine{
			Line:          line,
			Category:      categories[line.ProductID],
			EffectiveUnit: quote.EffectivePrice,
			LineTotal:     quote.EffectivePrice.Mul(decimal.NewFromInt(int64(line.Quantity))),
		}
		if quote.AppliedRule != nil {
			priced.AppliedRuleID = quote.AppliedRule.ID
		}

		totals.Lines = append(totals.Lines, priced)
		totals.Subtotal = totals.Subtotal.Add(priced.LineTotal)
	}

	cartQuote, err := s.pricing.ResolveCartAdjustment(ctx, totals.Subtotal, at)
	if err != nil {
		return nil, errors.Wrap(err, "resolve cart adjustment")
	}
	totals.Total = cartQuote.EffectivePrice
	if cartQuote.AppliedRule != nil {
		totals.CartRuleID = cartQuote.AppliedRule.ID
	}

	return totals, nil
}

// lineCategories batch-fetches categories for the cart's products. Products
// removed from the catalog after being added to the cart keep an empty
// category: the line still prices from its base-price snapshot.
func (s *Service) lineCategories(ctx context.Context, c *Cart) (map[string]string, error) {
	if c.IsEmpty() {
		return nil, nil
	}
	ids := make([]string, len(c.Lines))
	for i, line := range c.Lines {
		ids[i] = line.ProductID
	}
	products, err := s.catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	categories := make(map[string]string, len(products))
	for _, p := range products {
		categories[p.ID] = p.Category
	}
	return categories, nil
}
