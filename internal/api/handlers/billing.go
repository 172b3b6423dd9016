// Package handlers contains the HTTP handler implementations for the bridge API.
//
// This file implements the billing command endpoints:
//   - Connection configuration
//   - Catalog fetches and purchase initiation (asynchronous, results stream
//     through the event endpoints)
//   - Purchase finalization and pending-purchase flush (synchronous)
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"playbridge/internal/bridge"
	"playbridge/internal/core"
	"playbridge/internal/types"
)

// --- Service Interfaces ---
//
// The dispatcher contract is defined locally: the handler depends on the
// operations it routes, not on the concrete dispatcher, which keeps test
// doubles small.

// BillingDispatcher is the command surface the handler routes requests to.
type BillingDispatcher interface {
	// Configure applies connection options and reports readiness.
	Configure(ctx context.Context, opts types.ConnectionOptions) (bool, error)

	// FetchProducts resolves catalog queries; results arrive via listeners.
	FetchProducts(ctx context.Context, queries []types.ProductQuery)

	// Purchase launches the vendor purchase flow; results arrive via listeners.
	Purchase(ctx context.Context, productID string, args *types.PurchaseArgs)

	// Finalize acknowledges or consumes the purchase behind the token.
	Finalize(ctx context.Context, token string, consumable bool) (types.AckPayload, error)

	// Flush returns purchases not yet acknowledged.
	Flush(ctx context.Context) ([]types.PurchasePayload, error)

	// FetchReceipt always fails; the operation is unsupported on this platform.
	FetchReceipt() error

	// Listener registration, one replaceable slot per notification kind.
	OnFetchProducts(l bridge.ProductsListener)
	OnPurchase(l bridge.PurchaseListener)
	OnError(l bridge.ErrorListener)
	OnAlternativeBillingFlow(l bridge.AlternativeBillingListener)
	Clear()
}

// --- Request/Response Models ---

// ConfigureRequest is the request body for POST /v1/billing/configure.
type ConfigureRequest struct {
	AlternativeBillingEnabled bool              `json:"alternative_billing_enabled"`
	Extra                     map[string]string `json:"extra,omitempty"`
}

// ConfigureResponse reports whether the vendor connection is ready.
type ConfigureResponse struct {
	Connected bool `json:"connected"`
}

// ProductQueryRequest is one catalog entry in a fetch request. Entries with a
// missing ID or an unrecognized type are skipped by the dispatcher, never
// rejected, so only the envelope is validated here.
type ProductQueryRequest struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	PlanID  string `json:"plan_id,omitempty"`
	OfferID string `json:"offer_id,omitempty"`
}

// FetchProductsRequest is the request body for POST /v1/billing/products/fetch.
type FetchProductsRequest struct {
	Products []ProductQueryRequest `json:"products" validate:"required"`
}

// PurchaseRequest is the request body for POST /v1/billing/purchase.
type PurchaseRequest struct {
	ProductID             string `json:"product_id" validate:"required"`
	ObfuscatedAccountID   string `json:"obfuscated_account_id,omitempty"`
	ObfuscatedProfileID   string `json:"obfuscated_profile_id,omitempty"`
	OriginalPurchaseToken string `json:"original_purchase_token,omitempty"`
	PlanID                string `json:"plan_id,omitempty"`
	OfferID               string `json:"offer_id,omitempty"`
}

// FinalizeRequest is the request body for POST /v1/billing/finalize. An empty
// purchase token makes the call a no-op, matching the dispatcher contract.
type FinalizeRequest struct {
	PurchaseToken string `json:"purchase_token"`
	Consumable    bool   `json:"consumable"`
}

// AcceptedResponse acknowledges an asynchronous command whose result will
// arrive on the event stream.
type AcceptedResponse struct {
	Status string `json:"status"`
}

// --- Billing Handler ---

// BillingHandler routes billing commands to the dispatcher.
type BillingHandler struct {
	dispatcher BillingDispatcher
	validator  *core.Validator
	logger     *slog.Logger
}

// NewBillingHandler creates a new BillingHandler with the provided dependencies.
func NewBillingHandler(d BillingDispatcher, v *core.Validator, l *slog.Logger) *BillingHandler {
	if l == nil {
		l = slog.Default()
	}
	return &BillingHandler{
		dispatcher: d,
		validator:  v,
		logger:     l,
	}
}

// RegisterRoutes mounts all billing endpoints.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/configure", h.Configure)
	r.Post("/billing/products/fetch", h.FetchProducts)
	r.Post("/billing/purchase", h.Purchase)
	r.Post("/billing/finalize", h.Finalize)
	r.Post("/billing/flush", h.Flush)
	r.Post("/billing/receipt", h.FetchReceipt)
	r.Delete("/billing/listeners", h.ClearListeners)
}

// --- Billing Handler Methods ---

// Configure handles POST /v1/billing/configure.
//
//  1. Decode the ConfigureRequest.
//  2. Apply the options through the dispatcher. Unchanged options against a
//     ready connection return immediately.
//  3. Return 200 with the readiness flag, or the setup failure on the direct
//     response path.
func (h *BillingHandler) Configure(w http.ResponseWriter, r *http.Request) {
	var req ConfigureRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	connected, err := h.dispatcher.Configure(r.Context(), types.ConnectionOptions{
		AlternativeBillingEnabled: req.AlternativeBillingEnabled,
		Extra:                     req.Extra,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: ConfigureResponse{Connected: connected}})
}

// FetchProducts handles POST /v1/billing/products/fetch.
//
//  1. Decode and validate the FetchProductsRequest.
//  2. Dispatch the fetch on its own goroutine. The request context ends with
//     this response, so the command runs detached from it; results and errors
//     travel the event stream.
//  3. Return 202.
func (h *BillingHandler) FetchProducts(w http.ResponseWriter, r *http.Request) {
	var req FetchProductsRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	queries := make([]types.ProductQuery, 0, len(req.Products))
	for _, p := range req.Products {
		queries = append(queries, types.ProductQuery{
			ID:      p.ID,
			Kind:    types.ProductKind(p.Type),
			PlanID:  p.PlanID,
			OfferID: p.OfferID,
		})
	}

	ctx := context.WithoutCancel(r.Context())
	go h.dispatcher.FetchProducts(ctx, queries)

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: AcceptedResponse{Status: "accepted"}})
}

// Purchase handles POST /v1/billing/purchase.
//
//  1. Decode and validate the PurchaseRequest.
//  2. Launch the purchase flow on its own goroutine; the outcome arrives as a
//     purchase-update event or an error event, never in this response.
//  3. Return 202.
func (h *BillingHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	args := &types.PurchaseArgs{
		ObfuscatedAccountID:   req.ObfuscatedAccountID,
		ObfuscatedProfileID:   req.ObfuscatedProfileID,
		OriginalPurchaseToken: req.OriginalPurchaseToken,
		PlanID:                req.PlanID,
		OfferID:               req.OfferID,
	}

	ctx := context.WithoutCancel(r.Context())
	go h.dispatcher.Purchase(ctx, req.ProductID, args)

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: AcceptedResponse{Status: "accepted"}})
}

// Finalize handles POST /v1/billing/finalize. Synchronous: success and
// failure both travel this response, never the event stream.
func (h *BillingHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	var req FinalizeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	ack, err := h.dispatcher.Finalize(r.Context(), req.PurchaseToken, req.Consumable)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: ack})
}

// Flush handles POST /v1/billing/flush. Returns every purchase awaiting
// acknowledgement across both catalogs; order is not significant.
func (h *BillingHandler) Flush(w http.ResponseWriter, r *http.Request) {
	purchases, err := h.dispatcher.Flush(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if purchases == nil {
		purchases = []types.PurchasePayload{}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: purchases})
}

// FetchReceipt handles POST /v1/billing/receipt. The operation is retained
// for callers of the historical command surface and always fails.
func (h *BillingHandler) FetchReceipt(w http.ResponseWriter, r *http.Request) {
	core.Error(w, r, h.dispatcher.FetchReceipt())
}

// ClearListeners handles DELETE /v1/billing/listeners, releasing every
// registered listener slot at once.
func (h *BillingHandler) ClearListeners(w http.ResponseWriter, r *http.Request) {
	h.dispatcher.Clear()
	w.WriteHeader(http.StatusNoContent)
}
