//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"regexp"
	"testing"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Seeded fixtures: 7 products (see db/seed/products.json), the demo address
// addr-demo, and three pricing rules — a 10% discount on the bouquets
// category, a 5% stackable happy-hour discount on the whole cart, and a
// stackable 1.50 handling fee. The happy-hour window recurs daily from
// midnight with no end, so it is active whenever the suite runs.
//
// The compose stack has no payment provider, so checkout lands every order in
// payment_failed. That is itself the behavior under test: payment initiation
// failing must not lose the order.
//
// All tests share the single demo owner's cart; each starts from a cleared
// cart at whatever version the row has reached.

func TestCart_NoAuth(t *testing.T) {
	resp := doGet(t, "/api/cart")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestCart_InvalidKey(t *testing.T) {
	resp := doGetWithAuth(t, "/api/cart", "wrong-key")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestCart_Lifecycle(t *testing.T) {
	version := resetCart(t)

	// Two greeting cards (4.50 each, accessories — no category rule).
	// Cart rules: 9.00 - 5% + 1.50 handling = 10.05.
	resp := doPostWithAuth(t, "/api/cart/items", map[string]any{
		"product_id": "greeting-card",
		"quantity":   2,
		"version":    version,
	}, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	c := decodeJSON[cartResponse](t, resp)
	if c.Version != version+1 {
		t.Errorf("version: got %d, want %d", c.Version, version+1)
	}
	if len(c.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(c.Lines))
	}
	if c.Lines[0].UnitPrice != "4.5" {
		t.Errorf("unit price: got %q, want %q", c.Lines[0].UnitPrice, "4.5")
	}
	if c.Subtotal != "9" {
		t.Errorf("subtotal: got %q, want %q", c.Subtotal, "9")
	}
	if c.Total != "10.05" {
		t.Errorf("total: got %q, want %q", c.Total, "10.05")
	}

	t.Run("stale version rejected", func(t *testing.T) {
		resp := doPostWithAuth(t, "/api/cart/items", map[string]any{
			"product_id": "greeting-card",
			"quantity":   1,
			"version":    version,
		}, testAPIKey)
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("expected 409, got %d", resp.StatusCode)
		}
	})

	t.Run("unknown product rejected", func(t *testing.T) {
		resp := doPostWithAuth(t, "/api/cart/items", map[string]any{
			"product_id": "no-such-product",
			"quantity":   1,
			"version":    c.Version,
		}, testAPIKey)
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", resp.StatusCode)
		}
	})

	// Quantity zero removes the line.
	resp2 := doRequest(t, http.MethodPut, "/api/cart/items/greeting-card", map[string]any{
		"quantity": 0,
		"version":  c.Version,
	}, testAPIKey)
	defer resp2.Body.Close()

	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp2.StatusCode)
	}
	c = decodeJSON[cartResponse](t, resp2)
	if len(c.Lines) != 0 {
		t.Errorf("expected empty cart, got %d lines", len(c.Lines))
	}
	if c.Total != "0" {
		t.Errorf("total: got %q, want %q", c.Total, "0")
	}
}

func TestCart_CategoryDiscount(t *testing.T) {
	version := resetCart(t)

	// rose-dozen is 34.99 in bouquets: 10% category discount gives 31.49/unit.
	resp := doPostWithAuth(t, "/api/cart/items", map[string]any{
		"product_id": "rose-dozen",
		"quantity":   1,
		"version":    version,
	}, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	c := decodeJSON[cartResponse](t, resp)
	if len(c.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(c.Lines))
	}
	if c.Lines[0].UnitBasePrice != "34.99" {
		t.Errorf("base price: got %q, want %q", c.Lines[0].UnitBasePrice, "34.99")
	}
	if c.Lines[0].UnitPrice != "31.49" {
		t.Errorf("unit price: got %q, want %q", c.Lines[0].UnitPrice, "31.49")
	}
	if c.Lines[0].AppliedRuleID != "bouquets-10-off" {
		t.Errorf("applied rule: got %q, want %q", c.Lines[0].AppliedRuleID, "bouquets-10-off")
	}
}

func TestCheckout_SurvivesPaymentOutage(t *testing.T) {
	version := resetCart(t)

	resp := doPostWithAuth(t, "/api/cart/items", map[string]any{
		"product_id": "greeting-card",
		"quantity":   2,
		"version":    version,
	}, testAPIKey)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add line: expected 200, got %d", resp.StatusCode)
	}

	// No provider is reachable, so the order must come back payment_failed
	// with its prices frozen rather than an error.
	resp = doPostWithAuth(t, "/api/checkout", map[string]any{
		"address_id":     "addr-demo",
		"payment_method": "card",
	}, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	ord := decodeJSON[orderJSON](t, resp)
	if ord.ID == "" {
		t.Fatal("order ID is empty")
	}
	if !uuidPattern.MatchString(ord.ID) {
		t.Errorf("order ID %q is not a UUID", ord.ID)
	}
	if ord.Status != "payment_failed" {
		t.Errorf("status: got %q, want %q", ord.Status, "payment_failed")
	}
	if ord.Subtotal != "10.05" || ord.Total != "10.05" {
		t.Errorf("totals: got subtotal %q total %q, want 10.05", ord.Subtotal, ord.Total)
	}
	if ord.Discount != "0" {
		t.Errorf("discount: got %q, want %q", ord.Discount, "0")
	}

	t.Run("checkout cleared the cart", func(t *testing.T) {
		c := getCart(t)
		if len(c.Lines) != 0 {
			t.Errorf("expected empty cart, got %d lines", len(c.Lines))
		}
	})

	t.Run("order is readable", func(t *testing.T) {
		resp := doGetWithAuth(t, "/api/orders/"+ord.ID, testAPIKey)
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		got := decodeJSON[orderJSON](t, resp)
		if got.ID != ord.ID || got.Status != "payment_failed" {
			t.Errorf("got order %q status %q", got.ID, got.Status)
		}
	})

	t.Run("retry still fails without a provider", func(t *testing.T) {
		resp := doPostWithAuth(t, fmt.Sprintf("/api/orders/%s/retry-payment", ord.ID), nil, testAPIKey)
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		got := decodeJSON[orderJSON](t, resp)
		if got.Status != "payment_failed" {
			t.Errorf("status: got %q, want %q", got.Status, "payment_failed")
		}
	})

	t.Run("cancel from payment_failed", func(t *testing.T) {
		resp := doPostWithAuth(t, fmt.Sprintf("/api/orders/%s/cancel", ord.ID), nil, testAPIKey)
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		got := decodeJSON[orderJSON](t, resp)
		if got.Status != "cancelled" {
			t.Errorf("status: got %q, want %q", got.Status, "cancelled")
		}
	})

	t.Run("no points accrued for an unpaid order", func(t *testing.T) {
		resp := doGetWithAuth(t, "/api/loyalty", testAPIKey)
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		bal := decodeJSON[loyaltyJSON](t, resp)
		if bal.PointBalance != 0 {
			t.Errorf("point balance: got %d, want 0", bal.PointBalance)
		}
	})
}

func TestCheckout_EmptyCart(t *testing.T) {
	resetCart(t)

	resp := doPostWithAuth(t, "/api/checkout", map[string]any{
		"address_id":     "addr-demo",
		"payment_method": "card",
	}, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestCheckout_MissingAddress(t *testing.T) {
	resp := doPostWithAuth(t, "/api/checkout", map[string]any{
		"payment_method": "card",
	}, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCheckout_UnknownAddress(t *testing.T) {
	version := resetCart(t)

	resp := doPostWithAuth(t, "/api/cart/items", map[string]any{
		"product_id": "tulip-mix",
		"quantity":   1,
		"version":    version,
	}, testAPIKey)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add line: expected 200, got %d", resp.StatusCode)
	}

	resp = doPostWithAuth(t, "/api/checkout", map[string]any{
		"address_id":     "addr-of-somebody-else",
		"payment_method": "card",
	}, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestCallback_NoSecret(t *testing.T) {
	resp := doCallback(t, map[string]any{"provider_ref": "ref-x", "outcome": "success"}, "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestCallback_WrongSecret(t *testing.T) {
	resp := doCallback(t, map[string]any{"provider_ref": "ref-x", "outcome": "success"}, "wrong-secret")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestCallback_UnknownReferenceAcknowledged(t *testing.T) {
	// Unknown references are acknowledged so the provider stops redelivering.
	resp := doCallback(t, map[string]any{
		"provider_ref": "ref-never-issued",
		"outcome":      "success",
	}, callbackSecret)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func getCart(t *testing.T) cartResponse {
	t.Helper()

	resp := doGetWithAuth(t, "/api/cart", testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get cart: expected 200, got %d", resp.StatusCode)
	}
	return decodeJSON[cartResponse](t, resp)
}

// resetCart empties the shared demo cart and returns its current version.
func resetCart(t *testing.T) int64 {
	t.Helper()

	c := getCart(t)
	if len(c.Lines) == 0 {
		return c.Version
	}

	resp := doRequest(t, http.MethodDelete,
		fmt.Sprintf("/api/cart?version=%d", c.Version), nil, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("clear cart: expected 204, got %d", resp.StatusCode)
	}
	return c.Version + 1
}
