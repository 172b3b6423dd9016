package bridge

import (
	"sync"

	"playbridge/internal/types"
)

// Listener function types, one per notification kind.
type (
	// ProductsListener receives the normalized result of a fetchProducts call.
	ProductsListener func(products []types.ProductPayload)

	// PurchaseListener receives one normalized purchase per completed purchase.
	PurchaseListener func(purchase types.PurchasePayload)

	// ErrorListener receives structured errors from operations whose primary
	// result path is an event stream.
	ErrorListener func(err types.BillingErrorPayload)

	// AlternativeBillingListener receives the external transaction token when
	// the user selects the alternative billing flow.
	AlternativeBillingListener func(externalToken string)
)

// ListenerTable holds exactly one subscriber slot per notification kind.
// Registering a listener for a kind replaces (and discards) any previous
// registration; Clear releases every slot at once. There is no ambient or
// static state: the table is per-dispatcher.
type ListenerTable struct {
	mu         sync.RWMutex
	products   ProductsListener
	purchase   PurchaseListener
	err        ErrorListener
	altBilling AlternativeBillingListener
}

// NewListenerTable creates an empty table.
func NewListenerTable() *ListenerTable {
	return &ListenerTable{}
}

// SetProducts replaces the catalog-fetch completion listener.
func (t *ListenerTable) SetProducts(l ProductsListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.products = l
}

// SetPurchase replaces the purchase-update listener.
func (t *ListenerTable) SetPurchase(l PurchaseListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purchase = l
}

// SetError replaces the error channel listener.
func (t *ListenerTable) SetError(l ErrorListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = l
}

// SetAlternativeBilling replaces the alternative-billing-flow listener.
func (t *ListenerTable) SetAlternativeBilling(l AlternativeBillingListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.altBilling = l
}

// Clear releases all registered listeners at once.
func (t *ListenerTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.products = nil
	t.purchase = nil
	t.err = nil
	t.altBilling = nil
}

// Emit helpers. A nil slot drops the event; subscription is optional by
// contract.

func (t *ListenerTable) emitProducts(products []types.ProductPayload) {
	t.mu.RLock()
	l := t.products
	t.mu.RUnlock()
	if l != nil {
		l(products)
	}
}

func (t *ListenerTable) emitPurchase(purchase types.PurchasePayload) {
	t.mu.RLock()
	l := t.purchase
	t.mu.RUnlock()
	if l != nil {
		l(purchase)
	}
}

func (t *ListenerTable) emitError(err types.BillingErrorPayload) {
	t.mu.RLock()
	l := t.err
	t.mu.RUnlock()
	if l != nil {
		l(err)
	}
}

func (t *ListenerTable) emitAlternativeBilling(token string) {
	t.mu.RLock()
	l := t.altBilling
	t.mu.RUnlock()
	if l != nil {
		l(token)
	}
}
