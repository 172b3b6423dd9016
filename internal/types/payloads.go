package types

// Normalized payload shapes delivered to subscribers. These are the stable
// external contract of the bridge; vendor record shapes never leak past the
// normalizer.

// ProductPayload is the normalized catalog entry shape.
type ProductPayload struct {
	ProductID   string `json:"productId"`
	PlanID      string `json:"planId,omitempty"`
	OfferID     string `json:"offerId,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       string `json:"price,omitempty"`
	Currency    string `json:"currency,omitempty"`
}

// PurchasePayload is the normalized purchase record shape. TransactionDate is
// string-encoded epoch millis to survive bridges that lack 64-bit integers.
type PurchasePayload struct {
	ProductIDs      []string `json:"productIds"`
	TransactionID   string   `json:"transactionId"`
	TransactionDate string   `json:"transactionDate"`
	Receipt         string   `json:"receipt"`
	PurchaseToken   string   `json:"purchaseToken"`
}

// BillingErrorPayload is the shape delivered on the persistent error channel.
// Type tags the operation that failed; Code is the vendor's integer status.
type BillingErrorPayload struct {
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// AckPayload is the direct response of a finalize call.
type AckPayload struct {
	Message string `json:"message"`
}
