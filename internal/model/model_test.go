package model

import "testing"

func TestCanTransition_LinearProgression(t *testing.T) {
	steps := []OrderStatus{
		OrderStatusPending,
		OrderStatusProcessing,
		OrderStatusConfirmed,
		OrderStatusShipped,
		OrderStatusDelivered,
	}

	for i := 0; i < len(steps)-1; i++ {
		if !CanTransition(steps[i], steps[i+1]) {
			t.Fatalf("transition %s -> %s must be allowed", steps[i], steps[i+1])
		}
	}
}

func TestCanTransition_CancelFromNonTerminal(t *testing.T) {
	for _, from := range []OrderStatus{OrderStatusPending, OrderStatusProcessing, OrderStatusConfirmed, OrderStatusShipped} {
		if !CanTransition(from, OrderStatusCancelled) {
			t.Fatalf("cancel from %s must be allowed", from)
		}
	}
}

func TestCanTransition_TerminalStates(t *testing.T) {
	if !CanTransition(OrderStatusDelivered, OrderStatusRefunded) {
		t.Fatalf("delivered -> refunded must be allowed")
	}

	for _, from := range []OrderStatus{OrderStatusCancelled, OrderStatusRefunded} {
		for _, to := range []OrderStatus{OrderStatusPending, OrderStatusProcessing, OrderStatusConfirmed, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded} {
			if CanTransition(from, to) {
				t.Fatalf("transition %s -> %s must be rejected", from, to)
			}
		}
	}

	if CanTransition(OrderStatusDelivered, OrderStatusCancelled) {
		t.Fatalf("cancel of a delivered order must be rejected")
	}
}

func TestCanTransition_RefundedOnlyFromDelivered(t *testing.T) {
	for _, from := range []OrderStatus{OrderStatusPending, OrderStatusProcessing, OrderStatusConfirmed, OrderStatusShipped} {
		if CanTransition(from, OrderStatusRefunded) {
			t.Fatalf("transition %s -> refunded must be rejected", from)
		}
	}
}

func TestCanCustomerCancel(t *testing.T) {
	if !CanCustomerCancel(OrderStatusPending) || !CanCustomerCancel(OrderStatusProcessing) {
		t.Fatalf("customer must be able to cancel pending and processing orders")
	}
	for _, s := range []OrderStatus{OrderStatusConfirmed, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded} {
		if CanCustomerCancel(s) {
			t.Fatalf("customer cancel from %s must be rejected", s)
		}
	}
}

func TestCartSubtotal(t *testing.T) {
	items := []CartItem{
		{PriceCents: 5000, Quantity: 2},
		{PriceCents: 1999, Quantity: 3},
	}

	if got := CartSubtotal(items); got != 15997 {
		t.Fatalf("CartSubtotal = %d, want 15997", got)
	}

	if got := CartSubtotal(nil); got != 0 {
		t.Fatalf("CartSubtotal of empty cart = %d, want 0", got)
	}
}

func TestPricing_ShippingThreshold(t *testing.T) {
	p := Pricing{
		ShippingFeeCents:           1000,
		FreeShippingThresholdCents: 10000,
		TaxRate:                    0.08,
	}

	if got := p.Shipping(9999); got != 1000 {
		t.Fatalf("shipping below threshold = %d, want 1000", got)
	}
	if got := p.Shipping(10000); got != 0 {
		t.Fatalf("shipping at threshold = %d, want 0", got)
	}
	if got := p.Shipping(20000); got != 0 {
		t.Fatalf("shipping above threshold = %d, want 0", got)
	}
}

func TestPricing_Tax(t *testing.T) {
	p := Pricing{TaxRate: 0.08}

	if got := p.Tax(10000); got != 800 {
		t.Fatalf("tax = %d, want 800", got)
	}
	if got := p.Tax(0); got != 0 {
		t.Fatalf("tax of zero subtotal = %d, want 0", got)
	}
}

func TestRefundAmount(t *testing.T) {
	order := &Order{
		TotalCents: 10800,
		Items: []OrderItem{
			{ID: 1, UnitPriceCents: 7500, Quantity: 1},
		},
	}

	if got := RefundAmount(order, RefundTypeOrder, nil); got != 10800 {
		t.Fatalf("order refund amount = %d, want 10800", got)
	}

	item := &order.Items[0]
	if got := RefundAmount(order, RefundTypeProduct, item); got != 7500 {
		t.Fatalf("product refund amount = %d, want 7500", got)
	}
}

func TestOrderSubtotal(t *testing.T) {
	items := []OrderItem{
		{UnitPriceCents: 5000, Quantity: 2},
		{UnitPriceCents: 2500, Quantity: 1},
	}

	if got := OrderSubtotal(items); got != 12500 {
		t.Fatalf("OrderSubtotal = %d, want 12500", got)
	}
}
