package external

import (
	"context"
	"sync"

	"playbridge/internal/types"
)

// FakeConnector is a scriptable in-memory Connector for tests. Results are
// configured up front; call counts and captured parameters are exposed for
// assertions. All fields are guarded by the embedded mutex, so tests can
// exercise concurrent gate behavior safely.
type FakeConnector struct {
	mu sync.Mutex

	// SetupResults is consumed one entry per StartConnection call; when
	// exhausted, setup succeeds.
	SetupResults []types.BillingResult

	// StartDelay, when non-nil, is closed by the test to release an
	// in-flight StartConnection. Used to exercise concurrent waiters.
	StartDelay chan struct{}

	// Scripted query results.
	Details         []types.ProductDetails
	QueryErr        error
	PurchasesByKind map[types.ProductKind][]types.Purchase
	PurchasesErr    map[types.ProductKind]error
	FlowErr         error
	FinalizeErr     error
	FinalizeMsg     string

	// Captured calls.
	StartCalls    int
	EndCalls      int
	QueryCalls    [][]types.ProductQuery
	FlowCalls     []types.BillingFlowParams
	AckTokens     []string
	ConsumeTokens []string

	ready    bool
	listener UpdateListener
}

// Compile-time interface assertion.
var _ Connector = (*FakeConnector)(nil)

// NewFakeConnector creates a fake that succeeds at everything by default.
func NewFakeConnector() *FakeConnector {
	return &FakeConnector{
		PurchasesByKind: make(map[types.ProductKind][]types.Purchase),
		PurchasesErr:    make(map[types.ProductKind]error),
		FinalizeMsg:     "ok",
	}
}

func (f *FakeConnector) StartConnection(ctx context.Context) error {
	f.mu.Lock()
	f.StartCalls++
	var result types.BillingResult
	if len(f.SetupResults) > 0 {
		result = f.SetupResults[0]
		f.SetupResults = f.SetupResults[1:]
	}
	delay := f.StartDelay
	f.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if !result.OK() {
		return types.NewBillingError(types.OpConnection, result)
	}

	f.mu.Lock()
	f.ready = true
	f.mu.Unlock()
	return nil
}

func (f *FakeConnector) EndConnection() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.EndCalls++
	f.ready = false
}

func (f *FakeConnector) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *FakeConnector) QueryProductDetails(ctx context.Context, queries []types.ProductQuery) ([]types.ProductDetails, error) {
	f.mu.Lock()
	f.QueryCalls = append(f.QueryCalls, queries)
	details, err := f.Details, f.QueryErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return details, nil
}

func (f *FakeConnector) QueryPurchases(ctx context.Context, kind types.ProductKind) ([]types.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.PurchasesErr[kind]; err != nil {
		return nil, err
	}
	return f.PurchasesByKind[kind], nil
}

func (f *FakeConnector) LaunchBillingFlow(ctx context.Context, params types.BillingFlowParams) error {
	f.mu.Lock()
	f.FlowCalls = append(f.FlowCalls, params)
	err := f.FlowErr
	f.mu.Unlock()
	return err
}

func (f *FakeConnector) AcknowledgePurchase(ctx context.Context, token string) (string, error) {
	f.mu.Lock()
	f.AckTokens = append(f.AckTokens, token)
	msg, err := f.FinalizeMsg, f.FinalizeErr
	f.mu.Unlock()
	return msg, err
}

func (f *FakeConnector) ConsumePurchase(ctx context.Context, token string) (string, error) {
	f.mu.Lock()
	f.ConsumeTokens = append(f.ConsumeTokens, token)
	msg, err := f.FinalizeMsg, f.FinalizeErr
	f.mu.Unlock()
	return msg, err
}

func (f *FakeConnector) SetUpdateListener(l UpdateListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = l
}

// PushUpdate invokes the registered update listener as the vendor would,
// from the test goroutine.
func (f *FakeConnector) PushUpdate(result types.BillingResult, purchases []types.Purchase) {
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	if l != nil {
		l.OnPurchasesUpdated(result, purchases)
	}
}

// PushAlternativeBilling invokes the alternative-billing callback.
func (f *FakeConnector) PushAlternativeBilling(token string) {
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	if l != nil {
		l.OnAlternativeBillingSelected(token)
	}
}

// Drop simulates a vendor-initiated disconnect.
func (f *FakeConnector) Drop() {
	f.mu.Lock()
	f.ready = false
	l := f.listener
	f.mu.Unlock()
	if l != nil {
		l.OnDisconnected()
	}
}
