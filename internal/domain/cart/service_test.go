package cart

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nghednh/flowershop-checkout/internal/domain/catalog"
	"github.com/nghednh/flowershop-checkout/internal/domain/pricing"
)

// --- Mock implementations ---

type mockCartRepo struct {
	cart       *Cart
	upserted   []Line
	removed    []string
	cleared    bool
	mutateErr  error
	versionReq int64
}

func (m *mockCartRepo) Get(_ context.Context, ownerID string) (*Cart, error) {
	if m.cart != nil {
		return m.cart, nil
	}
	return &Cart{OwnerID: ownerID}, nil
}

func (m *mockCartRepo) UpsertLine(_ context.Context, _ string, line Line, version int64) error {
	if m.mutateErr != nil {
		return m.mutateErr
	}
	m.upserted = append(m.upserted, line)
	m.versionReq = version
	return nil
}

func (m *mockCartRepo) RemoveLine(_ context.Context, _, productID string, version int64) error {
	if m.mutateErr != nil {
		return m.mutateErr
	}
	m.removed = append(m.removed, productID)
	m.versionReq = version
	return nil
}

func (m *mockCartRepo) Clear(_ context.Context, _ string, version int64) error {
	if m.mutateErr != nil {
		return m.mutateErr
	}
	m.cleared = true
	m.versionReq = version
	return nil
}

type mockCatalog struct {
	byID map[string]*catalog.Product
}

func (m *mockCatalog) GetByID(_ context.Context, id string) (*catalog.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return p, nil
}

func (m *mockCatalog) GetByIDs(_ context.Context, ids []string) ([]catalog.Product, error) {
	var out []catalog.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockCatalog) List(_ context.Context) ([]catalog.Product, error) {
	return nil, nil
}

type mockRuleRepo struct {
	rules []pricing.Rule
}

func (m *mockRuleRepo) ActiveRules(_ context.Context, scope pricing.Scope, targetID string, _ time.Time) ([]pricing.Rule, error) {
	var out []pricing.Rule
	for _, r := range m.rules {
		if r.Scope == scope && r.TargetID == targetID {
			out = append(out, r)
		}
	}
	return out, nil
}

// --- Helpers ---

var testNow = time.Date(2025, time.June, 10, 15, 0, 0, 0, time.UTC)

func newTestCatalog(products ...catalog.Product) *mockCatalog {
	byID := make(map[string]*catalog.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return &mockCatalog{byID: byID}
}

func newTestService(carts *mockCartRepo, cat *mockCatalog, rules ...pricing.Rule) *Service {
	svc := NewService(carts, cat, pricing.NewEngine(&mockRuleRepo{rules: rules}))
	svc.now = func() time.Time { return testNow }
	return svc
}

func roses() catalog.Product {
	return catalog.Product{
		ID:       "rose-dozen",
		Name:     "Dozen Red Roses",
		Category: "bouquets",
		Price:    decimal.RequireFromString("20.00"),
		Active:   true,
	}
}

// --- AddLine ---

func TestAddLine_NewProduct(t *testing.T) {
	carts := &mockCartRepo{}
	svc := newTestService(carts, newTestCatalog(roses()))

	err := svc.AddLine(context.Background(), "u1", "rose-dozen", 2, 0)

	require.NoError(t, err)
	require.Len(t, carts.upserted, 1)
	line := carts.upserted[0]
	assert.Equal(t, 2, line.Quantity)
	assert.True(t, decimal.RequireFromString("20.00").Equal(line.UnitBasePrice))
	assert.Equal(t, int64(0), carts.versionReq)
}

func TestAddLine_ExistingProductSumsQuantity(t *testing.T) {
	addedAt := testNow.Add(-time.Hour)
	carts := &mockCartRepo{cart: &Cart{
		OwnerID: "u1",
		Version: 3,
		Lines: []Line{{
			ProductID:     "rose-dozen",
			Quantity:      1,
			UnitBasePrice: decimal.RequireFromString("18.00"), // old catalog price
			AddedAt:       addedAt,
		}},
	}}
	svc := newTestService(carts, newTestCatalog(roses()))

	err := svc.AddLine(context.Background(), "u1", "rose-dozen", 2, 3)

	require.NoError(t, err)
	require.Len(t, carts.upserted, 1)
	line := carts.upserted[0]
	assert.Equal(t, 3, line.Quantity)
	assert.True(t, decimal.RequireFromString("18.00").Equal(line.UnitBasePrice),
		"original base-price snapshot is kept")
	assert.Equal(t, addedAt, line.AddedAt)
}

func TestAddLine_InvalidQuantity(t *testing.T) {
	svc := newTestService(&mockCartRepo{}, newTestCatalog(roses()))

	err := svc.AddLine(context.Background(), "u1", "rose-dozen", 0, 0)

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "rose-dozen", iqErr.ProductID)
}

func TestAddLine_UnknownProduct(t *testing.T) {
	svc := newTestService(&mockCartRepo{}, newTestCatalog())

	err := svc.AddLine(context.Background(), "u1", "missing", 1, 0)

	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestAddLine_StaleVersion(t *testing.T) {
	carts := &mockCartRepo{mutateErr: ErrConcurrentModification}
	svc := newTestService(carts, newTestCatalog(roses()))

	err := svc.AddLine(context.Background(), "u1", "rose-dozen", 1, 7)

	require.ErrorIs(t, err, ErrConcurrentModification)
}

// --- SetQuantity / RemoveLine ---

func TestSetQuantity(t *testing.T) {
	carts := &mockCartRepo{cart: &Cart{
		OwnerID: "u1",
		Version: 1,
		Lines:   []Line{{ProductID: "rose-dozen", Quantity: 1, UnitBasePrice: decimal.RequireFromString("20.00")}},
	}}
	svc := newTestService(carts, newTestCatalog(roses()))

	err := svc.SetQuantity(context.Background(), "u1", "rose-dozen", 5, 1)

	require.NoError(t, err)
	require.Len(t, carts.upserted, 1)
	assert.Equal(t, 5, carts.upserted[0].Quantity)
}

func TestSetQuantity_ZeroRemovesLine(t *testing.T) {
	carts := &mockCartRepo{cart: &Cart{
		OwnerID: "u1",
		Version: 1,
		Lines:   []Line{{ProductID: "rose-dozen", Quantity: 1}},
	}}
	svc := newTestService(carts, newTestCatalog(roses()))

	err := svc.SetQuantity(context.Background(), "u1", "rose-dozen", 0, 1)

	require.NoError(t, err)
	assert.Empty(t, carts.upserted)
	assert.Equal(t, []string{"rose-dozen"}, carts.removed)
}

func TestSetQuantity_LineNotFound(t *testing.T) {
	svc := newTestService(&mockCartRepo{}, newTestCatalog(roses()))

	err := svc.SetQuantity(context.Background(), "u1", "rose-dozen", 2, 0)

	require.ErrorIs(t, err, ErrLineNotFound)
}

func TestRemoveLine_NotFound(t *testing.T) {
	svc := newTestService(&mockCartRepo{}, newTestCatalog(roses()))

	err := svc.RemoveLine(context.Background(), "u1", "rose-dozen", 0)

	require.ErrorIs(t, err, ErrLineNotFound)
}

// --- Pricing ---

func TestSnapshotTotal_AppliesProductDiscount(t *testing.T) {
	carts := &mockCartRepo{cart: &Cart{
		OwnerID: "u1",
		Version: 1,
		Lines: []Line{{
			ProductID:     "rose-dozen",
			Quantity:      1,
			UnitBasePrice: decimal.RequireFromString("20.00"),
		}},
	}}
	rule := pricing.Rule{
		ID:        "r1",
		Scope:     pricing.ScopeProduct,
		TargetID:  "rose-dozen",
		Kind:      pricing.KindDiscount,
		ValueType: pricing.ValuePercent,
		Value:     decimal.NewFromInt(10),
		StartsAt:  testNow.Add(-time.Hour),
		CreatedAt: testNow.Add(-time.Hour),
	}
	svc := newTestService(carts, newTestCatalog(roses()), rule)

	totals, err := svc.SnapshotTotal(context.Background(), "u1", testNow)

	require.NoError(t, err)
	require.Len(t, totals.Lines, 1)
	assert.True(t, decimal.RequireFromString("18.00").Equal(totals.Lines[0].EffectiveUnit))
	assert.True(t, decimal.RequireFromString("18.00").Equal(totals.Subtotal))
	assert.True(t, decimal.RequireFromString("18.00").Equal(totals.Total))
	assert.Equal(t, "r1", totals.Lines[0].AppliedRuleID)
}

func TestSnapshotTotal_CartRuleOnSummedLines(t *testing.T) {
	carts := &mockCartRepo{cart: &Cart{
		OwnerID: "u1",
		Version: 1,
		Lines: []Line{
			{ProductID: "rose-dozen", Quantity: 2, UnitBasePrice: decimal.RequireFromString("20.00")},
			{ProductID: "ceramic-vase", Quantity: 1, UnitBasePrice: decimal.RequireFromString("15.00")},
		},
	}}
	cartRule := pricing.Rule{
		ID:        "cart-10",
		Scope:     pricing.ScopeCart,
		Kind:      pricing.KindDiscount,
		ValueType: pricing.ValuePercent,
		Value:     decimal.NewFromInt(10),
		StartsAt:  testNow.Add(-time.Hour),
		CreatedAt: testNow.Add(-time.Hour),
	}
	vase := catalog.Product{ID: "ceramic-vase", Category: "accessories", Price: decimal.RequireFromString("15.00")}
	svc := newTestService(carts, newTestCatalog(roses(), vase), cartRule)

	totals, err := svc.SnapshotTotal(context.Background(), "u1", testNow)

	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("55.00").Equal(totals.Subtotal))
	assert.True(t, decimal.RequireFromString("49.50").Equal(totals.Total))
	assert.Equal(t, "cart-10", totals.CartRuleID)
}

func TestSnapshotTotal_EmptyCart(t *testing.T) {
	svc := newTestService(&mockCartRepo{}, newTestCatalog())

	totals, err := svc.SnapshotTotal(context.Background(), "u1", testNow)

	require.NoError(t, err)
	assert.Empty(t, totals.Lines)
	assert.True(t, totals.Subtotal.IsZero())
	assert.True(t, totals.Total.IsZero())
}

func TestSnapshotTotal_ProductGoneFromCatalog(t *testing.T) {
	// The product was removed from the catalog after being added to the
	// cart; the line still prices from its base-price snapshot.
	carts := &mockCartRepo{cart: &Cart{
		OwnerID: "u1",
		Version: 1,
		Lines: []Line{{
			ProductID:     "discontinued",
			Quantity:      1,
			UnitBasePrice: decimal.RequireFromString("9.99"),
		}},
	}}
	svc := newTestService(carts, newTestCatalog())

	totals, err := svc.SnapshotTotal(context.Background(), "u1", testNow)

	require.NoError(t, err)
	require.Len(t, totals.Lines, 1)
	assert.True(t, decimal.RequireFromString("9.99").Equal(totals.Total))
}

func TestSnapshotTotal_DifferentInstantsDifferentPrices(t *testing.T) {
	carts := &mockCartRepo{cart: &Cart{
		OwnerID: "u1",
		Version: 1,
		Lines: []Line{{
			ProductID:     "rose-dozen",
			Quantity:      1,
			UnitBasePrice: decimal.RequireFromString("20.00"),
		}},
	}}
	end := testNow.Add(time.Hour)
	windowed := pricing.Rule{
		ID:        "flash",
		Scope:     pricing.ScopeProduct,
		TargetID:  "rose-dozen",
		Kind:      pricing.KindDiscount,
		ValueType: pricing.ValuePercent,
		Value:     decimal.NewFromInt(50),
		StartsAt:  testNow.Add(-time.Hour),
		EndsAt:    &end,
		CreatedAt: testNow.Add(-time.Hour),
	}
	svc := newTestService(carts, newTestCatalog(roses()), windowed)

	during, err := svc.SnapshotTotal(context.Background(), "u1", testNow)
	require.NoError(t, err)
	after, err := svc.SnapshotTotal(context.Background(), "u1", testNow.Add(2*time.Hour))
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("10.00").Equal(during.Total))
	assert.True(t, decimal.RequireFromString("20.00").Equal(after.Total))
}
