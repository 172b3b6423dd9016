package catalog

import (
	"testing"

	"playbridge/internal/types"
)

func offerFixture() []types.SubscriptionOffer {
	return []types.SubscriptionOffer{
		{
			BasePlanID: "monthly",
			OfferID:    "intro",
			Tags:       []string{"promo", "new-user"},
			OfferToken: "tok-monthly-intro",
		},
		{
			BasePlanID: "monthly",
			OfferID:    "",
			Tags:       nil,
			OfferToken: "tok-monthly-base",
		},
		{
			BasePlanID: "annual",
			OfferID:    "winback",
			Tags:       []string{"promo"},
			OfferToken: "tok-annual-winback",
		},
	}
}

func TestResolveOffer(t *testing.T) {
	tests := []struct {
		name      string
		hints     types.SelectionHints
		wantToken string
		wantFound bool
	}{
		{
			name:      "no hints takes first offer",
			hints:     types.SelectionHints{},
			wantToken: "tok-monthly-intro",
			wantFound: true,
		},
		{
			name:      "plan hint filters",
			hints:     types.SelectionHints{PlanID: "annual"},
			wantToken: "tok-annual-winback",
			wantFound: true,
		},
		{
			name:      "offer hint filters",
			hints:     types.SelectionHints{OfferID: "winback"},
			wantToken: "tok-annual-winback",
			wantFound: true,
		},
		{
			name:      "plan and offer hints combine",
			hints:     types.SelectionHints{PlanID: "monthly", OfferID: "intro"},
			wantToken: "tok-monthly-intro",
			wantFound: true,
		},
		{
			name:      "tag subset matches superset offer",
			hints:     types.SelectionHints{Tags: []string{"promo"}},
			wantToken: "tok-monthly-intro",
			wantFound: true,
		},
		{
			name:      "all required tags must be present",
			hints:     types.SelectionHints{Tags: []string{"promo", "new-user"}},
			wantToken: "tok-monthly-intro",
			wantFound: true,
		},
		{
			name:      "missing tag disqualifies",
			hints:     types.SelectionHints{PlanID: "annual", Tags: []string{"new-user"}},
			wantFound: false,
		},
		{
			name:      "unknown plan matches nothing",
			hints:     types.SelectionHints{PlanID: "weekly"},
			wantFound: false,
		},
		{
			name:      "mismatched plan and offer combination matches nothing",
			hints:     types.SelectionHints{PlanID: "monthly", OfferID: "winback"},
			wantFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offer, found := ResolveOffer(offerFixture(), tt.hints)
			if found != tt.wantFound {
				t.Fatalf("ResolveOffer() found = %v, want %v", found, tt.wantFound)
			}
			if found && offer.OfferToken != tt.wantToken {
				t.Errorf("ResolveOffer() token = %q, want %q", offer.OfferToken, tt.wantToken)
			}
		})
	}
}

// The first qualifying offer wins even when a later offer is strictly cheaper;
// there is no price comparison in resolution.
func TestResolveOfferFirstMatchWins(t *testing.T) {
	offers := []types.SubscriptionOffer{
		{
			BasePlanID: "monthly",
			OfferToken: "tok-expensive",
			PricingPhases: []types.PricingPhase{
				{FormattedPrice: "$9.99", CurrencyCode: "USD"},
			},
		},
		{
			BasePlanID: "monthly",
			OfferToken: "tok-cheap",
			PricingPhases: []types.PricingPhase{
				{FormattedPrice: "$0.99", CurrencyCode: "USD"},
			},
		},
	}

	offer, found := ResolveOffer(offers, types.SelectionHints{PlanID: "monthly"})
	if !found {
		t.Fatal("expected a match")
	}
	if offer.OfferToken != "tok-expensive" {
		t.Errorf("got token %q, want first offer in catalog order", offer.OfferToken)
	}
}

func TestResolveOfferEmptyList(t *testing.T) {
	if _, found := ResolveOffer(nil, types.SelectionHints{}); found {
		t.Fatal("expected no match on empty offer list")
	}
}
