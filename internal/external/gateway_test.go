package external

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playbridge/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestConnector(t *testing.T, handler http.Handler) *GatewayConnector {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGatewayConnector(srv.Client(), GatewayConnectorConfig{
		BaseURL:      srv.URL,
		APIKey:       "test-key",
		PollInterval: 10 * time.Millisecond,
		Logger:       testLogger(),
	})
}

func writeEnvelope(w http.ResponseWriter, env gatewayEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(env)
}

func TestStartConnectionSuccess(t *testing.T) {
	var gotAuth string
	conn := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/v1/connection" {
			gotAuth = r.Header.Get("Authorization")
			writeEnvelope(w, gatewayEnvelope{Result: types.BillingResult{Code: types.CodeOK}})
			return
		}
		writeEnvelope(w, gatewayEnvelope{Result: types.BillingResult{Code: types.CodeOK}})
	}))

	err := conn.StartConnection(context.Background())
	require.NoError(t, err)
	assert.True(t, conn.IsReady())
	assert.Equal(t, "Bearer test-key", gotAuth)
}

func TestStartConnectionVendorRejection(t *testing.T) {
	conn := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, gatewayEnvelope{Result: types.BillingResult{
			Code:         types.CodeBillingUnavailable,
			DebugMessage: "billing service unavailable",
		}})
	}))

	err := conn.StartConnection(context.Background())
	require.Error(t, err)
	assert.False(t, conn.IsReady())

	var billErr *types.BillingError
	require.ErrorAs(t, err, &billErr)
	assert.Equal(t, types.OpConnection, billErr.Op)
	assert.Equal(t, types.CodeBillingUnavailable, billErr.Result.Code)
}

func TestQueryProductDetails(t *testing.T) {
	conn := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/products/query" {
			writeEnvelope(w, gatewayEnvelope{Result: types.BillingResult{Code: types.CodeOK}})
			return
		}
		var req productQueryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Products, 1)
		assert.Equal(t, "premium", req.Products[0].ID)

		writeEnvelope(w, gatewayEnvelope{
			Result: types.BillingResult{Code: types.CodeOK},
			Products: []types.ProductDetails{
				{
					ProductID: "premium",
					Kind:      types.ProductKindSubs,
					Title:     "Premium",
					Offers: []types.SubscriptionOffer{
						{BasePlanID: "monthly", OfferToken: "tok-1"},
					},
				},
			},
		})
	}))

	details, err := conn.QueryProductDetails(context.Background(), []types.ProductQuery{
		{ID: "premium", Kind: types.ProductKindSubs},
	})
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, "premium", details[0].ProductID)
	require.Len(t, details[0].Offers, 1)
	assert.Equal(t, "tok-1", details[0].Offers[0].OfferToken)
}

func TestQueryPurchasesPassesKind(t *testing.T) {
	var gotKind string
	conn := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/purchases" {
			gotKind = r.URL.Query().Get("type")
			writeEnvelope(w, gatewayEnvelope{
				Result:    types.BillingResult{Code: types.CodeOK},
				Purchases: []types.Purchase{{PurchaseToken: "t1"}},
			})
			return
		}
		writeEnvelope(w, gatewayEnvelope{Result: types.BillingResult{Code: types.CodeOK}})
	}))

	purchases, err := conn.QueryPurchases(context.Background(), types.ProductKindSubs)
	require.NoError(t, err)
	assert.Equal(t, "subs", gotKind)
	require.Len(t, purchases, 1)
	assert.Equal(t, "t1", purchases[0].PurchaseToken)
}

func TestLaunchBillingFlowVendorFailure(t *testing.T) {
	conn := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/billing-flow" {
			writeEnvelope(w, gatewayEnvelope{Result: types.BillingResult{
				Code:         types.CodeItemUnavailable,
				DebugMessage: "item not available",
			}})
			return
		}
		writeEnvelope(w, gatewayEnvelope{Result: types.BillingResult{Code: types.CodeOK}})
	}))

	err := conn.LaunchBillingFlow(context.Background(), types.BillingFlowParams{ProductID: "premium"})
	require.Error(t, err)

	var billErr *types.BillingError
	require.ErrorAs(t, err, &billErr)
	assert.Equal(t, types.OpPurchase, billErr.Op)
	assert.Equal(t, types.CodeItemUnavailable, billErr.Result.Code)
}

func TestAcknowledgeAndConsumeRouting(t *testing.T) {
	var paths []string
	var mu sync.Mutex
	conn := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		writeEnvelope(w, gatewayEnvelope{
			Result:  types.BillingResult{Code: types.CodeOK},
			Message: "done",
		})
	}))

	msg, err := conn.AcknowledgePurchase(context.Background(), "tok-a")
	require.NoError(t, err)
	assert.Equal(t, "done", msg)

	msg, err = conn.ConsumePurchase(context.Background(), "tok-c")
	require.NoError(t, err)
	assert.Equal(t, "done", msg)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/v1/purchases/acknowledge", "/v1/purchases/consume"}, paths)
}

// A teardown that races an in-flight setup must win: the late setup response
// may not flip the connector back to ready, may not start the poll loop, and
// the session the gateway just created must be closed server-side.
func TestEndConnectionDuringSetupPreventsLateActivation(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var deletes, polls int
	conn := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/connection":
			<-release
			writeEnvelope(w, gatewayEnvelope{Result: types.BillingResult{Code: types.CodeOK}})
		case r.Method == http.MethodDelete && r.URL.Path == "/v1/connection":
			mu.Lock()
			deletes++
			mu.Unlock()
			writeEnvelope(w, gatewayEnvelope{Result: types.BillingResult{Code: types.CodeOK}})
		case r.URL.Path == "/v1/updates":
			mu.Lock()
			polls++
			mu.Unlock()
			writeEnvelope(w, gatewayEnvelope{Result: types.BillingResult{Code: types.CodeOK}})
		default:
			writeEnvelope(w, gatewayEnvelope{Result: types.BillingResult{Code: types.CodeOK}})
		}
	}))
	conn.SetUpdateListener(newUpdateRecorder())

	errCh := make(chan error, 1)
	go func() {
		errCh <- conn.StartConnection(context.Background())
	}()

	// Tear down while the setup request is stalled, then let it complete.
	time.Sleep(50 * time.Millisecond)
	conn.EndConnection()
	close(release)

	err := <-errCh
	require.Error(t, err)
	var billErr *types.BillingError
	require.ErrorAs(t, err, &billErr)
	assert.Equal(t, types.CodeServiceUnavailable, billErr.Result.Code)
	assert.False(t, conn.IsReady(), "torn-down connector must not go ready on a late setup response")

	// The poll interval is 10ms; a leaked loop would have polled many times
	// by now.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return deletes == 1
	}, time.Second, 10*time.Millisecond, "the late-established session must be closed server-side")
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, polls, "torn-down connector must not start its update poll loop")
}

func TestStartConnectionAfterEndConnectionFails(t *testing.T) {
	conn := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, gatewayEnvelope{Result: types.BillingResult{Code: types.CodeOK}})
	}))

	conn.EndConnection()

	err := conn.StartConnection(context.Background())
	require.Error(t, err)
	var billErr *types.BillingError
	require.ErrorAs(t, err, &billErr)
	assert.Equal(t, types.CodeServiceUnavailable, billErr.Result.Code)
	assert.False(t, conn.IsReady())
}

// updateRecorder implements UpdateListener over channels so the test can wait
// for the poll loop's deliveries.
type updateRecorder struct {
	updates      chan []types.Purchase
	altTokens    chan string
	disconnected chan struct{}
}

func newUpdateRecorder() *updateRecorder {
	return &updateRecorder{
		updates:      make(chan []types.Purchase, 4),
		altTokens:    make(chan string, 4),
		disconnected: make(chan struct{}, 1),
	}
}

func (u *updateRecorder) OnPurchasesUpdated(result types.BillingResult, purchases []types.Purchase) {
	u.updates <- purchases
}

func (u *updateRecorder) OnAlternativeBillingSelected(token string) {
	u.altTokens <- token
}

func (u *updateRecorder) OnDisconnected() {
	u.disconnected <- struct{}{}
}

func TestPollLoopDeliversUpdatesAndDisconnect(t *testing.T) {
	var mu sync.Mutex
	polls := 0
	conn := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/updates" {
			writeEnvelope(w, gatewayEnvelope{Result: types.BillingResult{Code: types.CodeOK}})
			return
		}
		mu.Lock()
		polls++
		n := polls
		mu.Unlock()
		switch n {
		case 1:
			writeEnvelope(w, gatewayEnvelope{
				Result:    types.BillingResult{Code: types.CodeOK},
				Purchases: []types.Purchase{{PurchaseToken: "t1"}},
			})
		case 2:
			writeEnvelope(w, gatewayEnvelope{
				Result:                   types.BillingResult{Code: types.CodeOK},
				ExternalTransactionToken: "ext-1",
			})
		default:
			writeEnvelope(w, gatewayEnvelope{Disconnected: true})
		}
	}))

	rec := newUpdateRecorder()
	conn.SetUpdateListener(rec)
	require.NoError(t, conn.StartConnection(context.Background()))

	select {
	case purchases := <-rec.updates:
		require.Len(t, purchases, 1)
		assert.Equal(t, "t1", purchases[0].PurchaseToken)
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop never delivered the purchase update")
	}

	select {
	case token := <-rec.altTokens:
		assert.Equal(t, "ext-1", token)
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop never delivered the alternative billing token")
	}

	select {
	case <-rec.disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop never delivered the disconnect")
	}
	assert.False(t, conn.IsReady())
}
