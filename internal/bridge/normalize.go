package bridge

import (
	"strconv"

	"playbridge/internal/catalog"
	"playbridge/internal/types"
)

// Result normalization: vendor records in, stable minimal payloads out.
// Nothing outside this file constructs external payload values from vendor
// records.

// normalizeProduct converts one fetched descriptor into the external product
// shape, applying the caller's offer hints.
//
// Returns false when the entry must be omitted from the result list: a
// subscription with no offer satisfying the hints, or an unrecognized kind.
// A one-time product with no price-phase data is NOT omitted; it reports
// with empty price and currency fields.
func normalizeProduct(q types.ProductQuery, d types.ProductDetails) (types.ProductPayload, bool) {
	switch q.Kind {
	case types.ProductKindInApp:
		p := types.ProductPayload{
			ProductID:   d.ProductID,
			PlanID:      q.PlanID,
			OfferID:     q.OfferID,
			Title:       d.Title,
			Description: d.Description,
		}
		if d.OneTime != nil {
			p.Price = d.OneTime.FormattedPrice
			p.Currency = d.OneTime.CurrencyCode
		}
		return p, true

	case types.ProductKindSubs:
		if len(d.Offers) == 0 {
			return types.ProductPayload{}, false
		}
		offer, ok := catalog.ResolveOffer(d.Offers, types.SelectionHints{
			PlanID:  q.PlanID,
			OfferID: q.OfferID,
		})
		if !ok {
			return types.ProductPayload{}, false
		}
		p := types.ProductPayload{
			ProductID:   d.ProductID,
			PlanID:      q.PlanID,
			OfferID:     q.OfferID,
			Title:       d.Title,
			Description: d.Description,
		}
		if len(offer.PricingPhases) > 0 {
			p.Price = offer.PricingPhases[0].FormattedPrice
			p.Currency = offer.PricingPhases[0].CurrencyCode
		}
		return p, true

	default:
		return types.ProductPayload{}, false
	}
}

// normalizePurchase converts a vendor purchase record into the external
// purchase shape. The timestamp is string-encoded epoch millis.
func normalizePurchase(p types.Purchase) types.PurchasePayload {
	ids := make([]string, len(p.ProductIDs))
	copy(ids, p.ProductIDs)
	return types.PurchasePayload{
		ProductIDs:      ids,
		TransactionID:   p.OrderID,
		TransactionDate: strconv.FormatInt(p.PurchaseTime, 10),
		Receipt:         p.OriginalJSON,
		PurchaseToken:   p.PurchaseToken,
	}
}

// normalizeError converts a vendor result into the error channel shape,
// tagged with the operation that failed.
func normalizeError(op string, r types.BillingResult) types.BillingErrorPayload {
	return types.BillingErrorPayload{
		Type:    op,
		Code:    int(r.Code),
		Message: r.DebugMessage,
	}
}
