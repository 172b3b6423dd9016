// Package bridge implements the billing command dispatcher: the set of gated
// billing operations exposed to host applications, the per-instance listener
// table they deliver results through, and the normalization of vendor records
// into the bridge's stable external payloads.
package bridge

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"playbridge/internal/catalog"
	"playbridge/internal/gate"
	"playbridge/internal/types"
)

// SurfaceProvider reports whether a foreground surface is available to host
// the vendor's purchase UI. Without one, purchase requests silently no-op.
type SurfaceProvider interface {
	HasForegroundSurface() bool
}

// Dispatcher is the single stable command surface over the vendor billing
// connection. Every operation that queries or mutates purchase state runs
// through the connection gate, so it never executes against a connection
// that is not ready.
//
// Error propagation follows two paths: configure, finalize, and flush report
// through their direct response path; fetchProducts, purchase, and vendor
// purchase-update notifications report through the persistent error channel,
// because their primary result path is an event stream. No operation is
// retried automatically.
type Dispatcher struct {
	gate      *gate.Gate
	cache     *catalog.Cache
	listeners *ListenerTable
	surface   SurfaceProvider
	logger    *slog.Logger

	mu        sync.Mutex
	finalized map[string]struct{}
}

// Option is a functional option for configuring a Dispatcher.
type Option func(*Dispatcher)

// WithSurfaceProvider installs a foreground-surface check for purchase flows.
// Without one, a surface is assumed to be available.
func WithSurfaceProvider(p SurfaceProvider) Option {
	return func(d *Dispatcher) {
		d.surface = p
	}
}

// New creates a dispatcher over the given gate and catalog cache.
func New(g *gate.Gate, cache *catalog.Cache, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		gate:      g,
		cache:     cache,
		listeners: NewListenerTable(),
		logger:    logger,
		finalized: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// Configure applies connection options and reports whether the connection is
// ready. Unchanged options against a ready connection resolve immediately
// without touching the vendor handle.
func (d *Dispatcher) Configure(ctx context.Context, opts types.ConnectionOptions) (bool, error) {
	return d.gate.Configure(ctx, opts)
}

// FetchProducts queries descriptors for the requested catalog entries and
// delivers the normalized list to the products listener. The cache is updated
// for every descriptor the vendor returned, including entries omitted from
// the normalized output.
//
// Failures are all-or-nothing per fetch call: a vendor error surfaces once on
// the error channel and no partial result is delivered.
func (d *Dispatcher) FetchProducts(ctx context.Context, queries []types.ProductQuery) {
	// Entries with missing fields or unrecognized kinds are skipped, never
	// an error.
	filtered := make([]types.ProductQuery, 0, len(queries))
	for _, q := range queries {
		if q.ID == "" || !q.Kind.Recognized() {
			continue
		}
		filtered = append(filtered, q)
	}

	conn, err := d.gate.EnsureReady(ctx)
	if err != nil {
		d.reportError(types.OpFetchProducts, err)
		return
	}

	details, err := conn.QueryProductDetails(ctx, filtered)
	if err != nil {
		d.reportError(types.OpFetchProducts, err)
		return
	}

	byID := make(map[string]types.ProductDetails, len(details))
	for _, det := range details {
		byID[det.ProductID] = det
	}

	items := make([]types.ProductPayload, 0, len(filtered))
	for _, q := range filtered {
		det, ok := byID[q.ID]
		if !ok {
			continue
		}
		if payload, ok := normalizeProduct(q, det); ok {
			items = append(items, payload)
		}
	}

	for _, det := range details {
		d.cache.Put(det)
	}

	d.listeners.emitProducts(items)
}

// Purchase launches the vendor purchase flow for one product. The result
// arrives asynchronously through the purchase-update notification, never
// through this call.
//
// Fire-and-forget by contract: an unresolved product, a cache miss, or a
// missing foreground surface makes the call a silent no-op. The skip reason
// is logged at debug level so operators can tell "nothing happened" from
// "in progress".
func (d *Dispatcher) Purchase(ctx context.Context, productID string, args *types.PurchaseArgs) {
	conn, err := d.gate.EnsureReady(ctx)
	if err != nil {
		d.reportError(types.OpPurchase, err)
		return
	}

	if d.surface != nil && !d.surface.HasForegroundSurface() {
		d.logger.Debug("purchase skipped: no foreground surface", "product_id", productID)
		return
	}

	details, ok := d.cache.Get(productID)
	if !ok {
		d.logger.Debug("purchase skipped: product not in cache", "product_id", productID)
		return
	}

	var a types.PurchaseArgs
	if args != nil {
		a = *args
	}

	params := types.BillingFlowParams{
		ProductID:             productID,
		ObfuscatedAccountID:   a.ObfuscatedAccountID,
		ObfuscatedProfileID:   a.ObfuscatedProfileID,
		OriginalPurchaseToken: a.OriginalPurchaseToken,
	}

	if len(details.Offers) > 0 {
		if offer, ok := catalog.ResolveOffer(details.Offers, types.SelectionHints{
			PlanID:  a.PlanID,
			OfferID: a.OfferID,
		}); ok {
			params.OfferToken = offer.OfferToken
		}
	}

	if err := conn.LaunchBillingFlow(ctx, params); err != nil {
		d.reportError(types.OpPurchase, err)
	}
}

// Finalize acknowledges (or consumes, for consumables) the purchase behind
// the given token. Finalization is idempotent per token: repeating it for an
// already-finalized purchase succeeds without a vendor round trip, and a
// vendor "already owned" response is treated as success rather than error.
func (d *Dispatcher) Finalize(ctx context.Context, token string, consumable bool) (types.AckPayload, error) {
	if token == "" {
		d.logger.Debug("finalize skipped: missing purchase token")
		return types.AckPayload{}, nil
	}

	d.mu.Lock()
	_, done := d.finalized[token]
	d.mu.Unlock()
	if done {
		return types.AckPayload{Message: "purchase already finalized"}, nil
	}

	conn, err := d.gate.EnsureReady(ctx)
	if err != nil {
		return types.AckPayload{}, retag(err, types.OpFinalize)
	}

	var msg string
	if consumable {
		msg, err = conn.ConsumePurchase(ctx, token)
	} else {
		msg, err = conn.AcknowledgePurchase(ctx, token)
	}
	if err != nil {
		if be, ok := err.(*types.BillingError); ok && be.Result.Code == types.CodeItemAlreadyOwned {
			d.markFinalized(token)
			return types.AckPayload{Message: "purchase already finalized"}, nil
		}
		return types.AckPayload{}, retag(err, types.OpFinalize)
	}

	d.markFinalized(token)
	return types.AckPayload{Message: msg}, nil
}

// Flush returns the normalized purchases not yet acknowledged, unioned across
// the one-time and subscription catalogs. The two sub-queries run
// concurrently; the first failure aborts the whole call. Result order is not
// significant.
func (d *Dispatcher) Flush(ctx context.Context) ([]types.PurchasePayload, error) {
	conn, err := d.gate.EnsureReady(ctx)
	if err != nil {
		return nil, retag(err, types.OpFlush)
	}

	var inApp, subs []types.Purchase
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var qerr error
		inApp, qerr = conn.QueryPurchases(egCtx, types.ProductKindInApp)
		return qerr
	})
	eg.Go(func() error {
		var qerr error
		subs, qerr = conn.QueryPurchases(egCtx, types.ProductKindSubs)
		return qerr
	})
	if err := eg.Wait(); err != nil {
		return nil, retag(err, types.OpFlush)
	}

	items := make([]types.PurchasePayload, 0, len(inApp)+len(subs))
	for _, p := range append(inApp, subs...) {
		if p.Acknowledged {
			continue
		}
		items = append(items, normalizePurchase(p))
	}
	return items, nil
}

// FetchReceipt is part of the historical command surface and has never been
// supported on this platform.
func (d *Dispatcher) FetchReceipt() error {
	return types.NewAppError(
		types.ErrCodeUnsupportedOperation,
		"fetchReceipt is not supported",
		nil,
	)
}

// ---------------------------------------------------------------------------
// Listener registration
// ---------------------------------------------------------------------------

// OnFetchProducts replaces the catalog-fetch completion listener.
func (d *Dispatcher) OnFetchProducts(l ProductsListener) { d.listeners.SetProducts(l) }

// OnPurchase replaces the purchase-update listener.
func (d *Dispatcher) OnPurchase(l PurchaseListener) { d.listeners.SetPurchase(l) }

// OnError replaces the error channel listener.
func (d *Dispatcher) OnError(l ErrorListener) { d.listeners.SetError(l) }

// OnAlternativeBillingFlow replaces the alternative-billing-flow listener.
func (d *Dispatcher) OnAlternativeBillingFlow(l AlternativeBillingListener) {
	d.listeners.SetAlternativeBilling(l)
}

// Clear releases all registered listeners at once.
func (d *Dispatcher) Clear() { d.listeners.Clear() }

// ---------------------------------------------------------------------------
// Vendor-pushed notifications (external.UpdateListener)
// ---------------------------------------------------------------------------

// OnPurchasesUpdated handles the vendor's purchase-update notification. A
// non-OK status routes to the error channel, not the success channel; an OK
// status delivers one normalized purchase event per completed purchase.
func (d *Dispatcher) OnPurchasesUpdated(result types.BillingResult, purchases []types.Purchase) {
	if !result.OK() {
		d.listeners.emitError(normalizeError(types.OpPurchase, result))
		return
	}
	for _, p := range purchases {
		d.listeners.emitPurchase(normalizePurchase(p))
	}
}

// OnAlternativeBillingSelected forwards the external transaction token to the
// alternative-billing listener.
func (d *Dispatcher) OnAlternativeBillingSelected(token string) {
	d.listeners.emitAlternativeBilling(token)
}

// OnDisconnected forwards the vendor's disconnect signal to the gate.
func (d *Dispatcher) OnDisconnected() {
	d.gate.OnDisconnected()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (d *Dispatcher) markFinalized(token string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finalized[token] = struct{}{}
}

// reportError delivers a failure on the persistent error channel, tagged with
// the command that triggered it. Setup failures surfaced by the gate carry
// the command's own tag, so subscribers can attribute them.
func (d *Dispatcher) reportError(op string, err error) {
	if be, ok := err.(*types.BillingError); ok {
		d.listeners.emitError(normalizeError(op, be.Result))
		return
	}
	d.listeners.emitError(types.BillingErrorPayload{
		Type:    op,
		Code:    int(types.CodeError),
		Message: err.Error(),
	})
}

// retag rewrites the operation tag on vendor errors traveling the direct
// response path.
func retag(err error, op string) error {
	if be, ok := err.(*types.BillingError); ok {
		return be.WithOp(op)
	}
	return err
}
