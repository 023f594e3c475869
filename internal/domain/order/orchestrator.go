package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nghednh/flowershop-checkout/internal/domain/address"
	"github.com/nghednh/flowershop-checkout/internal/domain/cart"
)

// ErrMissingPaymentMethod is returned when checkout is requested without a
// payment method.
var ErrMissingPaymentMethod = errors.New("payment method required")

// LoyaltyPolicy converts between currency amounts and loyalty points.
type LoyaltyPolicy struct {
	// AccrualUnit is the currency amount that earns one point; accrual is
	// floor(paidAmount / AccrualUnit), credited only on payment capture.
	AccrualUnit decimal.Decimal
	// RedeemValue is the currency value of one redeemed point.
	RedeemValue decimal.Decimal
}

// DefaultLoyaltyPolicy earns one point per currency unit paid and values a
// redeemed point at 0.01.
func DefaultLoyaltyPolicy() LoyaltyPolicy {
	return LoyaltyPolicy{
		AccrualUnit: decimal.NewFromInt(1),
		RedeemValue: decimal.New(1, -2),
	}
}

// CheckoutRequest is the input to Checkout.
type CheckoutRequest struct {
	OwnerID       string
	AddressID     string
	PaymentMethod string
	RedeemPoints  int64
}

// CallbackResult reports the end state after a payment callback. Duplicate
// is set when the delivery was a repeat and nothing was applied.
type CallbackResult struct {
	Order     *Order
	Payment   *Payment
	Duplicate bool
}

// Orchestrator converts carts into orders and drives the order state machine
// through payment and loyalty settlement.
type Orchestrator struct {
	carts     *cart.Service
	addresses address.Repository
	orders    Repository
	gateway   Gateway
	policy    LoyaltyPolicy
	now       func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	carts *cart.Service,
	addresses address.Repository,
	orders Repository,
	gateway Gateway,
	policy LoyaltyPolicy,
) *Orchestrator {
	return &Orchestrator{
		carts:     carts,
		addresses: addresses,
		orders:    orders,
		gateway:   gateway,
		policy:    policy,
		now:       time.Now,
	}
}

// Checkout freezes the cart into an order, debits redeemed points, clears
// the cart and initiates payment. The price freeze happening here is the one
// and only price resolution for the order; later rule changes never affect it.
//
// The loyalty debit, order creation and cart clear are one atomic unit: a
// failure anywhere leaves the cart and the point balance untouched. When
// payment initiation fails after that unit committed, the order is returned
// in StatusPaymentFailed and the client retries via RetryPayment.
func (o *Orchestrator) Checkout(ctx context.Context, req CheckoutRequest) (*Order, error) {
	if req.RedeemPoints < 0 {
		return nil, ErrInvalidRedeemPoints
	}
	if req.PaymentMethod == "" {
		return nil, ErrMissingPaymentMethod
	}

	c, err := o.carts.Get(ctx, req.OwnerID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	if c.IsEmpty() {
		return nil, cart.ErrEmptyCart
	}

	if _, err := o.addresses.GetForOwner(ctx, req.AddressID, req.OwnerID); err != nil {
		if errors.Is(err, address.ErrNotFound) {
			return nil, ErrAddressNotFound
		}
		return nil, errors.Wrap(err, "get address")
	}

	at := o.now()
	totals, err := o.carts.Price(ctx, c, at)
	if err != nil {
		return nil, errors.Wrap(err, "freeze prices")
	}

	lines := make([]Line, len(totals.Lines))
	for i, pl := range totals.Lines {
		lines[i] = Line{
			ProductID:     pl.ProductID,
			Quantity:      pl.Quantity,
			UnitBasePrice: pl.UnitBasePrice,
			UnitPrice:     pl.EffectiveUnit,
			AppliedRuleID: pl.AppliedRuleID,
		}
	}

	subtotal := totals.Total.Round(2)
	redeemPoints := req.RedeemPoints
	discount := o.policy.RedeemValue.Mul(decimal.NewFromInt(redeemPoints)).Round(2)
	if discount.GreaterThan(subtotal) {
		// The discount caps at the subtotal, and only the points needed to
		// cover it are debited; the rest stay on the account.
		discount = subtotal
		redeemPoints = subtotal.Div(o.policy.RedeemValue).Ceil().IntPart()
	}

	ord := &Order{
		ID:             uuid.New().String(),
		OwnerID:        req.OwnerID,
		AddressID:      req.AddressID,
		PaymentMethod:  req.PaymentMethod,
		Lines:          lines,
		Subtotal:       subtotal,
		Discount:       discount,
		Total:          subtotal.Sub(discount),
		PointsRedeemed: redeemPoints,
		Status:         StatusAwaitingPayment,
		CreatedAt:      at,
		UpdatedAt:      at,
	}

	err = o.orders.CreateCheckout(ctx, CheckoutUnit{
		Order:        ord,
		RedeemPoints: redeemPoints,
		CartVersion:  c.Version,
	})
	if err != nil {
		return nil, err
	}

	if err := o.initiatePayment(ctx, ord); err != nil {
		// The order exists and the cart is gone; the payment attempt is what
		// failed. Surface the order in payment_failed rather than an error.
		if stateErr := o.orders.SetOrderPaymentState(ctx, ord.ID, StatusAwaitingPayment, StatusPaymentFailed); stateErr != nil {
			return nil, errors.Wrap(stateErr, "mark payment failed")
		}
		ord.Status = StatusPaymentFailed
	}

	return ord, nil
}

// initiatePayment asks the gateway for a payment intent and records the
// pending payment. Initiate is idempotent per order, so gateway retries are
// handled inside the client.
func (o *Orchestrator) initiatePayment(ctx context.Context, ord *Order) error {
	ref, err := o.gateway.Initiate(ctx, ord.ID, ord.Total)
	if err != nil {
		return errors.Wrap(err, "initiate payment")
	}

	now := o.now()
	p := &Payment{
		ID:          uuid.New().String(),
		OrderID:     ord.ID,
		Amount:      ord.Total,
		Status:      PaymentPending,
		ProviderRef: ref,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.orders.CreatePayment(ctx, p); err != nil {
		return errors.Wrap(err, "record payment")
	}
	return nil
}

// RetryPayment re-initiates payment for an order stuck in payment_failed.
// The failed payment stays terminal; a fresh pending payment is created,
// preserving the one-live-payment-per-order invariant.
//
// The failure callback refunded any redeemed points, so the retry debits them
// again: the frozen discount must be paid for while the order awaits payment.
// A balance shortfall rejects the retry with loyalty.ErrInsufficientPoints.
func (o *Orchestrator) RetryPayment(ctx context.Context, ownerID, orderID string) (*Order, error) {
	ord, err := o.orders.GetForOwner(ctx, orderID, ownerID)
	if err != nil {
		return nil, err
	}
	if ord.Status != StatusPaymentFailed {
		return nil, ErrInvalidTransition
	}

	if err := o.orders.ResumeOrderPayment(ctx, orderID, ownerID, ord.PointsRedeemed); err != nil {
		return nil, err
	}
	ord.Status = StatusAwaitingPayment
	ord.PointsRefunded = false

	if err := o.initiatePayment(ctx, ord); err != nil {
		if stateErr := o.orders.SetOrderPaymentState(ctx, orderID, StatusAwaitingPayment, StatusPaymentFailed); stateErr != nil {
			return nil, errors.Wrap(stateErr, "mark payment failed")
		}
		ord.Status = StatusPaymentFailed
	}

	return ord, nil
}

// HandlePaymentCallback applies a gateway callback. Delivery is at-least-once
// and unordered, so the whole operation is idempotent on the provider
// reference: repeats of an already-settled payment are no-ops reporting the
// existing terminal state.
//
// On success the payment captures, the order moves paid -> fulfilling, and
// points accrue for the paid amount. On failure the order moves to
// payment_failed and any provisionally redeemed points are refunded, at most
// once per order no matter how often the payment fails. Each branch is one
// atomic unit with the payment transition.
func (o *Orchestrator) HandlePaymentCallback(ctx context.Context, providerRef string, outcome CallbackOutcome) (*CallbackResult, error) {
	p, ord, err := o.orders.PaymentByProviderRef(ctx, providerRef)
	if err != nil {
		return nil, err
	}
	if p.Status.Terminal() {
		return &CallbackResult{Order: ord, Payment: p, Duplicate: true}, nil
	}

	unit := FinalizeUnit{
		PaymentID: p.ID,
		OrderID:   ord.ID,
		OwnerID:   ord.OwnerID,
	}
	switch outcome {
	case OutcomeSuccess:
		unit.PaymentStatus = PaymentCaptured
		unit.OrderStatus = StatusFulfilling
		unit.AccruePoints = o.accrualFor(p.Amount)
	case OutcomeFailure:
		unit.PaymentStatus = PaymentFailed
		unit.OrderStatus = StatusPaymentFailed
		unit.RefundPoints = ord.PointsRedeemed
	default:
		return nil, errors.Errorf("unknown callback outcome %q", outcome)
	}

	applied, err := o.orders.FinalizePayment(ctx, unit)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Lost a race against a concurrent delivery of the same callback;
		// report whatever state won.
		p, ord, err = o.orders.PaymentByProviderRef(ctx, providerRef)
		if err != nil {
			return nil, err
		}
		return &CallbackResult{Order: ord, Payment: p, Duplicate: true}, nil
	}

	p.Status = unit.PaymentStatus
	ord.Status = unit.OrderStatus
	return &CallbackResult{Order: ord, Payment: p}, nil
}

// accrualFor computes floor(amount / AccrualUnit).
func (o *Orchestrator) accrualFor(amount decimal.Decimal) int64 {
	if !o.policy.AccrualUnit.IsPositive() {
		return 0
	}
	return amount.Div(o.policy.AccrualUnit).Floor().IntPart()
}

// Cancel cancels an order that has not been paid. From awaiting_payment the
// upstream payment intent is voided first; when the provider reports the
// payment already captured, cancellation loses the race: the order proceeds
// as paid and the caller gets ErrAlreadyPaid.
//
// The source cart was cleared at checkout and is not restored. Provisionally
// redeemed points are refunded as part of the cancellation unit, unless a
// payment failure already refunded them.
func (o *Orchestrator) Cancel(ctx context.Context, ownerID, orderID string) (*Order, error) {
	ord, err := o.orders.GetForOwner(ctx, orderID, ownerID)
	if err != nil {
		return nil, err
	}
	if !ord.Cancellable() {
		switch ord.Status {
		case StatusPaid, StatusFulfilling:
			return nil, ErrAlreadyPaid
		default:
			return nil, ErrInvalidTransition
		}
	}

	if ord.Status == StatusAwaitingPayment {
		p, err := o.orders.PendingPayment(ctx, orderID)
		if err != nil {
			return nil, errors.Wrap(err, "find pending payment")
		}
		if p != nil {
			if err := o.gateway.Void(ctx, p.ProviderRef); err != nil {
				if errors.Is(err, ErrAlreadyCaptured) {
					return o.settleCaptured(ctx, ord, p)
				}
				return nil, errors.Wrap(err, "void payment")
			}
		}
	}

	err = o.orders.CancelOrder(ctx, CancelUnit{
		OrderID:      orderID,
		OwnerID:      ownerID,
		RefundPoints: ord.PointsRedeemed,
	})
	if err != nil {
		return nil, err
	}

	ord.Status = StatusCancelled
	return ord, nil
}

// settleCaptured resolves the cancel-vs-capture race in the payment's favor:
// the payment is finalized as captured exactly as a success callback would,
// and ErrAlreadyPaid tells the caller cancellation was rejected.
func (o *Orchestrator) settleCaptured(ctx context.Context, ord *Order, p *Payment) (*Order, error) {
	_, err := o.orders.FinalizePayment(ctx, FinalizeUnit{
		PaymentID:     p.ID,
		PaymentStatus: PaymentCaptured,
		OrderID:       ord.ID,
		OrderStatus:   StatusFulfilling,
		OwnerID:       ord.OwnerID,
		AccruePoints:  o.accrualFor(p.Amount),
	})
	if err != nil {
		return nil, errors.Wrap(err, "settle captured payment")
	}
	ord.Status = StatusFulfilling
	return ord, ErrAlreadyPaid
}

// UpdateStatus applies an operator-driven post-payment transition:
// fulfilling -> delivered or fulfilling -> cancelled. Anything else is
// ErrInvalidTransition.
func (o *Orchestrator) UpdateStatus(ctx context.Context, orderID string, newStatus Status, trackingRef string) (*Order, error) {
	ord, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !operatorTransitionAllowed(ord.Status, newStatus) {
		return nil, ErrInvalidTransition
	}

	if err := o.orders.SetStatus(ctx, orderID, ord.Status, newStatus, trackingRef); err != nil {
		return nil, err
	}

	ord.Status = newStatus
	if trackingRef != "" {
		ord.TrackingRef = trackingRef
	}
	return ord, nil
}

// GetForOwner returns an order after an ownership check.
func (o *Orchestrator) GetForOwner(ctx context.Context, orderID, ownerID string) (*Order, error) {
	return o.orders.GetForOwner(ctx, orderID, ownerID)
}
