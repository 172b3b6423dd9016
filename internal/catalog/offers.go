package catalog

import "playbridge/internal/types"

// ResolveOffer picks at most one offer from a subscription product's offer
// list. An offer qualifies when its base plan matches the plan hint, its
// offer ID matches the offer hint, and its tag set is a superset of the
// required tags; an absent hint matches anything. The first qualifying offer
// in catalog-return order wins.
//
// There is deliberately no "best price" fallback: when nothing qualifies the
// purchase proceeds without an offer token, which the vendor may reject.
// First-match-wins is part of the external contract, not an optimization
// target.
func ResolveOffer(offers []types.SubscriptionOffer, hints types.SelectionHints) (types.SubscriptionOffer, bool) {
	for _, offer := range offers {
		if hints.PlanID != "" && offer.BasePlanID != hints.PlanID {
			continue
		}
		if hints.OfferID != "" && offer.OfferID != hints.OfferID {
			continue
		}
		if !hasAllTags(offer.Tags, hints.Tags) {
			continue
		}
		return offer, true
	}
	return types.SubscriptionOffer{}, false
}

// hasAllTags reports whether every required tag is present in the offer's
// tag set. An empty requirement always passes.
func hasAllTags(offerTags, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(offerTags))
	for _, t := range offerTags {
		set[t] = struct{}{}
	}
	for _, t := range required {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}
