package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"playbridge/internal/types"
)

// GatewayConnectorConfig holds the configuration for creating a GatewayConnector.
type GatewayConnectorConfig struct {
	BaseURL string
	APIKey  string
	Options types.ConnectionOptions

	// PollInterval is the wait between purchase-update polls. Zero means the
	// default of 2 seconds.
	PollInterval time.Duration

	Logger *slog.Logger
}

// GatewayConnector implements Connector against the vendor billing gateway's
// REST surface. All requests are routed through BaseClient so they inherit
// the platform's resilience patterns (circuit breaker, retries, error
// mapping).
//
// Vendor-pushed notifications (purchase updates, alternative-billing
// selection, disconnects) are obtained by polling the gateway's updates
// endpoint from a background goroutine that runs while the connection is
// live. This models the vendor SDK's own-thread callback delivery: the
// UpdateListener is always invoked off the caller's goroutine.
type GatewayConnector struct {
	base    *BaseClient
	baseURL string
	apiKey  string
	options types.ConnectionOptions
	logger  *slog.Logger

	pollInterval time.Duration

	mu       sync.Mutex
	ready    bool
	closed   bool
	stopPoll context.CancelFunc
	listener UpdateListener
}

// Compile-time interface assertion.
var _ Connector = (*GatewayConnector)(nil)

// NewGatewayConnector creates a connector for one logical vendor connection.
// The connector is created disconnected; call StartConnection to establish it.
func NewGatewayConnector(httpClient *http.Client, cfg GatewayConnectorConfig) *GatewayConnector {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	base := NewBaseClient(
		httpClient,
		"billing-gateway",
		DefaultRetryPolicy(),
		"playbridge/1.0",
	)

	return &GatewayConnector{
		base:         base,
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		options:      cfg.Options,
		logger:       logger,
		pollInterval: pollInterval,
	}
}

// ---------------------------------------------------------------------------
// Gateway wire types
// ---------------------------------------------------------------------------

// gatewayEnvelope is the common response wrapper returned by every gateway
// endpoint: a BillingResult plus the operation-specific payload.
type gatewayEnvelope struct {
	Result    types.BillingResult    `json:"result"`
	Products  []types.ProductDetails `json:"products,omitempty"`
	Purchases []types.Purchase       `json:"purchases,omitempty"`

	// ExternalTransactionToken is set on update polls when the user selected
	// the alternative billing flow.
	ExternalTransactionToken string `json:"externalTransactionToken,omitempty"`

	// Disconnected is set on update polls when the gateway has dropped the
	// connection server-side.
	Disconnected bool `json:"disconnected,omitempty"`

	// Message is the debug message for acknowledge/consume responses.
	Message string `json:"message,omitempty"`
}

type connectRequest struct {
	Options types.ConnectionOptions `json:"options"`
}

type productQueryRequest struct {
	Products []types.ProductQuery `json:"products"`
}

type billingFlowRequest struct {
	ProductID             string `json:"productId"`
	OfferToken            string `json:"offerToken,omitempty"`
	ObfuscatedAccountID   string `json:"obfuscatedAccountId,omitempty"`
	ObfuscatedProfileID   string `json:"obfuscatedProfileId,omitempty"`
	OriginalPurchaseToken string `json:"originalPurchaseToken,omitempty"`
}

type finalizeRequest struct {
	PurchaseToken string `json:"purchaseToken"`
}

// ---------------------------------------------------------------------------
// Connector implementation
// ---------------------------------------------------------------------------

// StartConnection establishes the gateway session and starts the update poll
// loop on success.
//
// A connector torn down by EndConnection never becomes ready, even when the
// setup response arrives after the teardown: the gate guarantees at most one
// live handle, so a superseded setup must not resurrect its connector.
func (g *GatewayConnector) StartConnection(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return types.NewBillingError(types.OpConnection, types.BillingResult{
			Code:         types.CodeServiceUnavailable,
			DebugMessage: "connection closed before setup",
		})
	}
	g.mu.Unlock()

	env, err := g.doJSON(ctx, http.MethodPost, "/v1/connection", connectRequest{Options: g.options})
	if err != nil {
		return types.NewBillingError(types.OpConnection, types.BillingResult{
			Code:         types.CodeServiceUnavailable,
			DebugMessage: err.Error(),
		})
	}

	if !env.Result.OK() {
		return types.NewBillingError(types.OpConnection, env.Result)
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		// The gateway session was established after local teardown; close it
		// so it does not linger server-side.
		g.closeSession()
		return types.NewBillingError(types.OpConnection, types.BillingResult{
			Code:         types.CodeServiceUnavailable,
			DebugMessage: "connection closed during setup",
		})
	}
	g.ready = true
	pollCtx, cancel := context.WithCancel(context.Background())
	g.stopPoll = cancel
	listener := g.listener
	g.mu.Unlock()

	if listener != nil {
		go g.pollUpdates(pollCtx, listener)
	}

	return nil
}

// EndConnection tears down the gateway session and marks the connector
// closed; a setup still in flight will observe the flag and refuse to go
// ready. Safe to call more than once.
func (g *GatewayConnector) EndConnection() {
	g.mu.Lock()
	wasReady := g.ready
	g.ready = false
	g.closed = true
	if g.stopPoll != nil {
		g.stopPoll()
		g.stopPoll = nil
	}
	g.mu.Unlock()

	if !wasReady {
		return
	}
	g.closeSession()
}

// closeSession issues the server-side session DELETE. Best-effort; a dead
// gateway must not prevent local teardown.
func (g *GatewayConnector) closeSession() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := g.doJSON(ctx, http.MethodDelete, "/v1/connection", nil); err != nil {
		g.logger.Warn("failed to close gateway connection", "error", err)
	}
}

// IsReady reports whether the connection is currently usable.
func (g *GatewayConnector) IsReady() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}

// SetUpdateListener registers the single listener for vendor-pushed
// notifications. Must be called before StartConnection.
func (g *GatewayConnector) SetUpdateListener(l UpdateListener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listener = l
}

// QueryProductDetails fetches descriptors for the given catalog entries.
func (g *GatewayConnector) QueryProductDetails(ctx context.Context, queries []types.ProductQuery) ([]types.ProductDetails, error) {
	env, err := g.doJSON(ctx, http.MethodPost, "/v1/products/query", productQueryRequest{Products: queries})
	if err != nil {
		return nil, err
	}
	if !env.Result.OK() {
		return nil, types.NewBillingError(types.OpFetchProducts, env.Result)
	}
	return env.Products, nil
}

// QueryPurchases lists the vendor-held purchases of one product kind.
func (g *GatewayConnector) QueryPurchases(ctx context.Context, kind types.ProductKind) ([]types.Purchase, error) {
	path := "/v1/purchases?" + url.Values{"type": {string(kind)}}.Encode()
	env, err := g.doJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if !env.Result.OK() {
		return nil, types.NewBillingError(types.OpFlush, env.Result)
	}
	return env.Purchases, nil
}

// LaunchBillingFlow starts the purchase flow; the outcome arrives later via
// the update poll loop.
func (g *GatewayConnector) LaunchBillingFlow(ctx context.Context, params types.BillingFlowParams) error {
	req := billingFlowRequest{
		ProductID:             params.ProductID,
		OfferToken:            params.OfferToken,
		ObfuscatedAccountID:   params.ObfuscatedAccountID,
		ObfuscatedProfileID:   params.ObfuscatedProfileID,
		OriginalPurchaseToken: params.OriginalPurchaseToken,
	}
	env, err := g.doJSON(ctx, http.MethodPost, "/v1/billing-flow", req)
	if err != nil {
		return err
	}
	if !env.Result.OK() {
		return types.NewBillingError(types.OpPurchase, env.Result)
	}
	return nil
}

// AcknowledgePurchase finalizes a non-consumable purchase.
func (g *GatewayConnector) AcknowledgePurchase(ctx context.Context, token string) (string, error) {
	return g.finalize(ctx, "/v1/purchases/acknowledge", token)
}

// ConsumePurchase finalizes a consumable purchase.
func (g *GatewayConnector) ConsumePurchase(ctx context.Context, token string) (string, error) {
	return g.finalize(ctx, "/v1/purchases/consume", token)
}

func (g *GatewayConnector) finalize(ctx context.Context, path, token string) (string, error) {
	env, err := g.doJSON(ctx, http.MethodPost, path, finalizeRequest{PurchaseToken: token})
	if err != nil {
		return "", err
	}
	if !env.Result.OK() {
		return "", types.NewBillingError(types.OpFinalize, env.Result)
	}
	msg := env.Message
	if msg == "" {
		msg = env.Result.DebugMessage
	}
	return msg, nil
}

// ---------------------------------------------------------------------------
// Update poll loop
// ---------------------------------------------------------------------------

// pollUpdates long-polls the gateway for vendor-pushed notifications until
// ctx is canceled or the gateway reports a disconnect. It runs on its own
// goroutine, so listener callbacks never execute on a command caller's
// goroutine.
func (g *GatewayConnector) pollUpdates(ctx context.Context, listener UpdateListener) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		env, err := g.doJSON(ctx, http.MethodGet, "/v1/updates", nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			g.logger.Warn("update poll failed", "error", err)
			g.sleep(ctx, g.pollInterval)
			continue
		}

		if env.Disconnected {
			g.mu.Lock()
			g.ready = false
			if g.stopPoll != nil {
				g.stopPoll()
				g.stopPoll = nil
			}
			g.mu.Unlock()
			listener.OnDisconnected()
			return
		}

		if env.ExternalTransactionToken != "" {
			listener.OnAlternativeBillingSelected(env.ExternalTransactionToken)
		}

		// Deliver the notification whenever the vendor reported a non-OK
		// status or actually pushed purchases. An OK result with an empty
		// purchase list is the idle long-poll timeout, not a notification.
		if !env.Result.OK() || len(env.Purchases) > 0 {
			listener.OnPurchasesUpdated(env.Result, env.Purchases)
		}

		g.sleep(ctx, g.pollInterval)
	}
}

func (g *GatewayConnector) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// ---------------------------------------------------------------------------
// HTTP helpers
// ---------------------------------------------------------------------------

// doJSON performs an authenticated request against the gateway and decodes
// the response envelope. A non-2xx status maps to a types.AppError.
func (g *GatewayConnector) doJSON(ctx context.Context, method, path string, body any) (*gatewayEnvelope, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, types.NewAppError(
				types.ErrCodeInternalUnexpected,
				"failed to encode gateway request",
				err,
			)
		}
		reader = strings.NewReader(string(encoded))
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("billing gateway returned status %d", resp.StatusCode),
			nil,
		)
	}

	var env gatewayEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode gateway response",
			err,
		)
	}

	return &env, nil
}
