package external

import (
	"context"

	"playbridge/internal/types"
)

// Connector is the bridge's view of the vendor billing SDK: an opaque
// asynchronous command set over one logical connection. Exactly one connector
// handle is live at a time; the connection gate owns its lifecycle and
// recreates it whenever configuration inputs change.
//
// All methods are safe to call from multiple goroutines. Completion of a
// vendor operation may happen on an arbitrary goroutine; callers must not
// assume it happens synchronously with the request.
type Connector interface {
	// StartConnection establishes the vendor connection. It blocks until the
	// vendor reports setup finished and returns nil on an OK result or a
	// *types.BillingError (op tag "CONNECTION") otherwise. A failed setup
	// leaves the connector disconnected; it is not retried automatically.
	StartConnection(ctx context.Context) error

	// EndConnection tears the connection down and stops update delivery.
	// Safe to call on an already-closed connector.
	EndConnection()

	// IsReady reports whether the connection is currently usable.
	IsReady() bool

	// QueryProductDetails fetches descriptors for the given catalog entries.
	// All-or-nothing: a non-OK vendor result yields an error and no partial
	// list.
	QueryProductDetails(ctx context.Context, queries []types.ProductQuery) ([]types.ProductDetails, error)

	// QueryPurchases lists purchases of one product kind that the vendor
	// still holds for this user, acknowledged or not.
	QueryPurchases(ctx context.Context, kind types.ProductKind) ([]types.Purchase, error)

	// LaunchBillingFlow starts the vendor purchase UI flow. The outcome
	// arrives later through the UpdateListener, not through this call.
	LaunchBillingFlow(ctx context.Context, params types.BillingFlowParams) error

	// AcknowledgePurchase finalizes a non-consumable purchase. Returns the
	// vendor debug message on success.
	AcknowledgePurchase(ctx context.Context, token string) (string, error)

	// ConsumePurchase finalizes a consumable purchase, allowing repurchase.
	ConsumePurchase(ctx context.Context, token string) (string, error)

	// SetUpdateListener registers the single listener for vendor-pushed
	// notifications. Must be called before StartConnection.
	SetUpdateListener(l UpdateListener)
}

// UpdateListener receives vendor-pushed notifications. The connector invokes
// these callbacks from its own goroutine; implementations must marshal onto
// their own delivery discipline and must not block for long.
type UpdateListener interface {
	// OnPurchasesUpdated is invoked when purchase state changes, including
	// completion of a flow started by LaunchBillingFlow. The same underlying
	// purchase may be redelivered; consumers must tolerate duplicates.
	OnPurchasesUpdated(result types.BillingResult, purchases []types.Purchase)

	// OnAlternativeBillingSelected is invoked when the user chooses the
	// alternative billing flow; token is the external transaction token.
	OnAlternativeBillingSelected(token string)

	// OnDisconnected is invoked when the vendor drops the connection.
	OnDisconnected()
}
