package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playbridge/internal/bridge"
	"playbridge/internal/core"
	"playbridge/internal/types"
)

// mockDispatcher records commands for assertions. The asynchronous commands
// are delivered over channels because the handler dispatches them on their
// own goroutines.
type mockDispatcher struct {
	configureOpts types.ConnectionOptions
	configureOK   bool
	configureErr  error

	fetchCh    chan []types.ProductQuery
	purchaseCh chan purchaseCall

	finalizeAck types.AckPayload
	finalizeErr error
	lastToken   string
	lastConsume bool

	flushResult []types.PurchasePayload
	flushErr    error

	cleared bool
}

type purchaseCall struct {
	productID string
	args      *types.PurchaseArgs
}

func newMockDispatcher() *mockDispatcher {
	return &mockDispatcher{
		configureOK: true,
		fetchCh:     make(chan []types.ProductQuery, 1),
		purchaseCh:  make(chan purchaseCall, 1),
	}
}

func (m *mockDispatcher) Configure(ctx context.Context, opts types.ConnectionOptions) (bool, error) {
	m.configureOpts = opts
	return m.configureOK, m.configureErr
}

func (m *mockDispatcher) FetchProducts(ctx context.Context, queries []types.ProductQuery) {
	m.fetchCh <- queries
}

func (m *mockDispatcher) Purchase(ctx context.Context, productID string, args *types.PurchaseArgs) {
	m.purchaseCh <- purchaseCall{productID: productID, args: args}
}

func (m *mockDispatcher) Finalize(ctx context.Context, token string, consumable bool) (types.AckPayload, error) {
	m.lastToken = token
	m.lastConsume = consumable
	return m.finalizeAck, m.finalizeErr
}

func (m *mockDispatcher) Flush(ctx context.Context) ([]types.PurchasePayload, error) {
	return m.flushResult, m.flushErr
}

func (m *mockDispatcher) FetchReceipt() error {
	return types.NewAppError(types.ErrCodeUnsupportedOperation, "fetchReceipt is not supported", nil)
}

func (m *mockDispatcher) OnFetchProducts(l bridge.ProductsListener) {}

func (m *mockDispatcher) OnPurchase(l bridge.PurchaseListener) {}

func (m *mockDispatcher) OnError(l bridge.ErrorListener) {}

func (m *mockDispatcher) OnAlternativeBillingFlow(l bridge.AlternativeBillingListener) {}

func (m *mockDispatcher) Clear() { m.cleared = true }

func newTestRouter(m *mockDispatcher) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewBillingHandler(m, core.NewValidator(logger), logger)
	r := chi.NewRouter()
	r.Route("/v1", h.RegisterRoutes)
	return r
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestConfigureEndpoint(t *testing.T) {
	m := newMockDispatcher()
	router := newTestRouter(m)

	rec := doRequest(t, router, http.MethodPost, "/v1/billing/configure",
		`{"alternative_billing_enabled":true,"extra":{"region":"eu"}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, m.configureOpts.AlternativeBillingEnabled)
	assert.Equal(t, "eu", m.configureOpts.Extra["region"])

	var resp struct {
		Data ConfigureResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Connected)
}

func TestConfigureEndpointSetupFailure(t *testing.T) {
	m := newMockDispatcher()
	m.configureOK = false
	m.configureErr = types.NewBillingError(types.OpConfigure, types.BillingResult{
		Code:         types.CodeBillingUnavailable,
		DebugMessage: "billing service unavailable",
	})
	router := newTestRouter(m)

	rec := doRequest(t, router, http.MethodPost, "/v1/billing/configure", `{}`)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	var resp core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(types.ErrCodeConnectionSetup), resp.Error.Code)
	assert.Equal(t, float64(types.CodeBillingUnavailable), resp.Error.Details["code"])
}

func TestFetchProductsEndpoint(t *testing.T) {
	m := newMockDispatcher()
	router := newTestRouter(m)

	rec := doRequest(t, router, http.MethodPost, "/v1/billing/products/fetch",
		`{"products":[{"id":"premium","type":"subs","plan_id":"monthly"},{"id":"coins100","type":"inapp"}]}`)

	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case queries := <-m.fetchCh:
		require.Len(t, queries, 2)
		assert.Equal(t, "premium", queries[0].ID)
		assert.Equal(t, types.ProductKindSubs, queries[0].Kind)
		assert.Equal(t, "monthly", queries[0].PlanID)
	case <-time.After(time.Second):
		t.Fatal("dispatcher never received the fetch command")
	}
}

func TestFetchProductsEndpointRejectsMalformedJSON(t *testing.T) {
	m := newMockDispatcher()
	router := newTestRouter(m)

	rec := doRequest(t, router, http.MethodPost, "/v1/billing/products/fetch", `{"products":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/v1/billing/products/fetch", `{"unknown":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPurchaseEndpoint(t *testing.T) {
	m := newMockDispatcher()
	router := newTestRouter(m)

	rec := doRequest(t, router, http.MethodPost, "/v1/billing/purchase",
		`{"product_id":"premium","plan_id":"annual","obfuscated_account_id":"acct-7"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case call := <-m.purchaseCh:
		assert.Equal(t, "premium", call.productID)
		require.NotNil(t, call.args)
		assert.Equal(t, "annual", call.args.PlanID)
		assert.Equal(t, "acct-7", call.args.ObfuscatedAccountID)
	case <-time.After(time.Second):
		t.Fatal("dispatcher never received the purchase command")
	}
}

func TestPurchaseEndpointRequiresProductID(t *testing.T) {
	m := newMockDispatcher()
	router := newTestRouter(m)

	rec := doRequest(t, router, http.MethodPost, "/v1/billing/purchase", `{"plan_id":"annual"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(types.ErrCodeValidationMissingField), resp.Error.Code)
}

func TestFinalizeEndpoint(t *testing.T) {
	m := newMockDispatcher()
	m.finalizeAck = types.AckPayload{Message: "acknowledged"}
	router := newTestRouter(m)

	rec := doRequest(t, router, http.MethodPost, "/v1/billing/finalize",
		`{"purchase_token":"tok-1","consumable":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok-1", m.lastToken)
	assert.True(t, m.lastConsume)

	var resp struct {
		Data types.AckPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "acknowledged", resp.Data.Message)
}

func TestFlushEndpoint(t *testing.T) {
	m := newMockDispatcher()
	m.flushResult = []types.PurchasePayload{
		{ProductIDs: []string{"coins100"}, TransactionID: "o1", PurchaseToken: "t1"},
	}
	router := newTestRouter(m)

	rec := doRequest(t, router, http.MethodPost, "/v1/billing/flush", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data []types.PurchasePayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "t1", resp.Data[0].PurchaseToken)
}

func TestFlushEndpointEmptyIsJSONArray(t *testing.T) {
	m := newMockDispatcher()
	router := newTestRouter(m)

	rec := doRequest(t, router, http.MethodPost, "/v1/billing/flush", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
}

func TestReceiptEndpointNotImplemented(t *testing.T) {
	m := newMockDispatcher()
	router := newTestRouter(m)

	rec := doRequest(t, router, http.MethodPost, "/v1/billing/receipt", "")

	require.Equal(t, http.StatusNotImplemented, rec.Code)
	var resp core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(types.ErrCodeUnsupportedOperation), resp.Error.Code)
}

func TestClearListenersEndpoint(t *testing.T) {
	m := newMockDispatcher()
	router := newTestRouter(m)

	rec := doRequest(t, router, http.MethodDelete, "/v1/billing/listeners", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, m.cleared)
}
