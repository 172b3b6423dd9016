// Package types defines the domain model shared across the billing bridge:
// product and purchase records, vendor result codes, connection state, and
// the normalized payload shapes delivered to subscribers.
package types

// ProductKind distinguishes the two purchasable catalog entry types.
type ProductKind string

const (
	// ProductKindInApp is a one-time purchase product.
	ProductKindInApp ProductKind = "inapp"
	// ProductKindSubs is a subscription product.
	ProductKindSubs ProductKind = "subs"
)

// Recognized reports whether the kind is one the bridge knows how to query.
// Catalog entries with unrecognized kinds are silently skipped, never an error.
func (k ProductKind) Recognized() bool {
	return k == ProductKindInApp || k == ProductKindSubs
}

// ResponseCode is the integer status returned by the vendor billing backend.
// The values mirror the vendor SDK's response code set.
type ResponseCode int

const (
	CodeOK                 ResponseCode = 0
	CodeUserCanceled       ResponseCode = 1
	CodeServiceUnavailable ResponseCode = 2
	CodeBillingUnavailable ResponseCode = 3
	CodeItemUnavailable    ResponseCode = 4
	CodeDeveloperError     ResponseCode = 5
	CodeError              ResponseCode = 6
	CodeItemAlreadyOwned   ResponseCode = 7
	CodeItemNotOwned       ResponseCode = 8
)

// BillingResult is the vendor's status for a single operation: an integer
// response code plus a human-readable debug message.
type BillingResult struct {
	Code         ResponseCode `json:"code"`
	DebugMessage string       `json:"debugMessage"`
}

// OK reports whether the result indicates success.
func (r BillingResult) OK() bool {
	return r.Code == CodeOK
}

// Operation tags used in error payloads. Setup failures triggered by a
// command carry that command's tag so subscribers can attribute them;
// OpConnection is reserved for failures that cannot be attributed to a
// command (e.g. vendor-initiated disconnects).
const (
	OpConfigure     = "configure"
	OpConnection    = "CONNECTION"
	OpFetchProducts = "FETCH_PRODUCTS"
	OpPurchase      = "PURCHASE"
	OpFinalize      = "finalize"
	OpFlush         = "flush"
	OpFetchReceipt  = "fetchReceipt"
)

// ConnectionState is the tri-state lifecycle of the vendor connection,
// owned exclusively by the connection gate.
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnecting   ConnectionState = "connecting"
	ConnReady        ConnectionState = "ready"
)

// ConnectionOptions are the caller-supplied configuration inputs for the
// vendor connection. Reconfiguration compares options by recursive structural
// equality; an unchanged configuration against a ready connection is a no-op.
type ConnectionOptions struct {
	// AlternativeBillingEnabled opts the connection into the user-choice
	// alternative billing flow.
	AlternativeBillingEnabled bool `json:"isAlternativeBillingEnable"`

	// Extra carries vendor-specific pass-through options.
	Extra map[string]string `json:"extra,omitempty"`
}

// ProductQuery identifies one catalog entry to fetch, with optional offer
// selection hints for subscription products.
type ProductQuery struct {
	ID      string      `json:"id" validate:"required"`
	Kind    ProductKind `json:"type" validate:"required"`
	PlanID  string      `json:"planId,omitempty"`
	OfferID string      `json:"offerId,omitempty"`
}

// PricingPhase is a single price point of an offer: a formatted display
// price plus its currency code.
type PricingPhase struct {
	FormattedPrice string `json:"formattedPrice"`
	CurrencyCode   string `json:"priceCurrencyCode"`
}

// SubscriptionOffer is one pricing/eligibility variant of a subscription
// product. Offers are recomputed on every catalog fetch and are not
// addressable across refreshes.
type SubscriptionOffer struct {
	BasePlanID    string         `json:"basePlanId"`
	OfferID       string         `json:"offerId,omitempty"`
	Tags          []string       `json:"offerTags,omitempty"`
	OfferToken    string         `json:"offerToken"`
	PricingPhases []PricingPhase `json:"pricingPhases"`
}

// ProductDetails is the full descriptor for one catalog entry as returned by
// the vendor. Immutable once fetched; refreshed wholesale on each query.
type ProductDetails struct {
	ProductID   string      `json:"productId"`
	Kind        ProductKind `json:"productType"`
	Title       string      `json:"title"`
	Description string      `json:"description"`

	// OneTime is the price phase for one-time purchase products. May be nil;
	// such products still report with empty price/currency fields.
	OneTime *PricingPhase `json:"oneTimePurchaseOfferDetails,omitempty"`

	// Offers is the offer list for subscription products.
	Offers []SubscriptionOffer `json:"subscriptionOfferDetails,omitempty"`
}

// SelectionHints narrow the offer list of one subscription product down to at
// most one offer. An absent hint matches anything.
type SelectionHints struct {
	PlanID  string
	OfferID string
	Tags    []string
}

// Purchase is the read-only purchase record produced by the vendor backend.
// The bridge only ever normalizes it; persistence and validation are owned by
// the caller's backend.
type Purchase struct {
	ProductIDs    []string `json:"productIds"`
	OrderID       string   `json:"orderId"`
	PurchaseTime  int64    `json:"purchaseTime"` // epoch millis
	OriginalJSON  string   `json:"originalJson"` // opaque receipt blob
	PurchaseToken string   `json:"purchaseToken"`
	Acknowledged  bool     `json:"acknowledged"`
}

// PurchaseArgs are the optional buyer/proration hints for launching a
// purchase flow.
type PurchaseArgs struct {
	ObfuscatedAccountID   string `json:"obfuscatedAccountId,omitempty"`
	ObfuscatedProfileID   string `json:"obfuscatedProfileId,omitempty"`
	OriginalPurchaseToken string `json:"originalPurchaseToken,omitempty"`
	PlanID                string `json:"planId,omitempty"`
	OfferID               string `json:"offerId,omitempty"`
}

// BillingFlowParams are the assembled inputs handed to the vendor to launch a
// purchase flow for a single product.
type BillingFlowParams struct {
	ProductID             string
	OfferToken            string
	ObfuscatedAccountID   string
	ObfuscatedProfileID   string
	OriginalPurchaseToken string
}
