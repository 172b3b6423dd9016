// Package gate owns the vendor connection lifecycle. It guarantees that
// billing commands only execute against a ready connection, that exactly one
// connector handle is live at a time, and that concurrent callers waiting on
// the same in-flight setup each observe the outcome exactly once.
package gate

import (
	"context"
	"log/slog"
	"reflect"
	"sync"

	"playbridge/internal/external"
	"playbridge/internal/types"
)

// Factory builds a new connector handle for the given options. The gate calls
// it whenever configuration inputs change; the previous handle is always torn
// down first.
type Factory func(opts types.ConnectionOptions) external.Connector

// Gate is the connection-state gate. State transitions:
//
//	disconnected -> connecting -> ready
//	ready|connecting -> disconnected  (external disconnect or reconfiguration)
//
// There is no terminal state; the gate is reusable indefinitely. A failed
// setup returns to disconnected and is not retried automatically.
type Gate struct {
	factory Factory
	logger  *slog.Logger

	mu      sync.Mutex
	state   types.ConnectionState
	conn    external.Connector
	applied *types.ConnectionOptions
	waiters []chan error
}

// New creates a disconnected gate.
func New(factory Factory, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		factory: factory,
		logger:  logger,
		state:   types.ConnDisconnected,
	}
}

// SetDefaultOptions seeds the options used when a command triggers setup
// before any explicit configuration has been applied. It has no effect once
// options exist.
func (g *Gate) SetDefaultOptions(opts types.ConnectionOptions) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.applied == nil {
		g.applied = &opts
	}
}

// State returns the current connection state.
func (g *Gate) State() types.ConnectionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Connector returns the current connector handle, or nil if none has been
// created yet. Commands must read the handle through the gate on every
// invocation rather than caching it, so a reconfiguration mid-flight fails
// cleanly instead of using a stale handle.
func (g *Gate) Connector() external.Connector {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conn
}

// Configure applies new connection options. If the connection is already
// ready and the options are structurally equal to the applied configuration,
// this is a no-op that reports success immediately: the handle is never
// recreated and no teardown occurs.
//
// Otherwise any existing connection is torn down, in-flight setup waiters are
// failed, and a fresh connector is built and connected with the new options.
func (g *Gate) Configure(ctx context.Context, opts types.ConnectionOptions) (bool, error) {
	g.mu.Lock()
	if g.conn != nil && g.state == types.ConnReady &&
		g.applied != nil && reflect.DeepEqual(*g.applied, opts) {
		g.mu.Unlock()
		return true, nil
	}

	old := g.conn
	invalidated := g.waiters
	g.waiters = nil

	applied := opts
	g.applied = &applied
	conn := g.factory(opts)
	g.conn = conn
	g.state = types.ConnConnecting
	ch := g.addWaiterLocked()
	g.mu.Unlock()

	// Tear down the previous handle before the new one connects, so at most
	// one live connection exists at any point.
	if old != nil {
		old.EndConnection()
	}
	supersededErr := types.NewBillingError(types.OpConnection, types.BillingResult{
		Code:         types.CodeServiceUnavailable,
		DebugMessage: "connection superseded by reconfiguration",
	})
	for _, w := range invalidated {
		w <- supersededErr
	}

	go g.runSetup(conn)

	if err := g.wait(ctx, ch); err != nil {
		if be, ok := err.(*types.BillingError); ok {
			return false, be.WithOp(types.OpConfigure)
		}
		return false, err
	}
	return true, nil
}

// EnsureReady blocks until the connection is ready and returns the live
// connector handle. If the connection is down it initiates exactly one setup
// attempt; if that attempt fails, the error is returned and the caller's
// operation must not execute. Concurrent callers join the same in-flight
// setup.
func (g *Gate) EnsureReady(ctx context.Context) (external.Connector, error) {
	g.mu.Lock()

	switch g.state {
	case types.ConnReady:
		conn := g.conn
		g.mu.Unlock()
		return conn, nil

	case types.ConnConnecting:
		ch := g.addWaiterLocked()
		g.mu.Unlock()
		if err := g.wait(ctx, ch); err != nil {
			return nil, err
		}

	default: // disconnected
		conn := g.conn
		if conn == nil {
			opts := types.ConnectionOptions{}
			if g.applied != nil {
				opts = *g.applied
			}
			conn = g.factory(opts)
			g.conn = conn
		}
		g.state = types.ConnConnecting
		ch := g.addWaiterLocked()
		go g.runSetup(conn)
		g.mu.Unlock()
		if err := g.wait(ctx, ch); err != nil {
			return nil, err
		}
	}

	// Setup reported success; re-read the handle in case the connection was
	// lost or replaced between notification and now.
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == types.ConnReady {
		return g.conn, nil
	}
	return nil, types.NewBillingError(types.OpConnection, types.BillingResult{
		Code:         types.CodeServiceUnavailable,
		DebugMessage: "connection lost before command execution",
	})
}

// OnDisconnected handles the vendor's external disconnection signal: the gate
// returns to disconnected and any setup waiters are failed exactly once, so
// no gated operation is left silently hanging.
func (g *Gate) OnDisconnected() {
	g.mu.Lock()
	g.state = types.ConnDisconnected
	notify := g.waiters
	g.waiters = nil
	g.mu.Unlock()

	if len(notify) > 0 {
		g.logger.Warn("billing service disconnected during setup", "waiters", len(notify))
	}

	err := types.NewBillingError(types.OpConnection, types.BillingResult{
		Code:         types.CodeServiceUnavailable,
		DebugMessage: "billing service disconnected",
	})
	for _, w := range notify {
		w <- err
	}
}

// runSetup performs one connection attempt and notifies every waiter of the
// outcome. Setup resolution is strictly either-or: each waiter receives
// exactly one success or one failure, never both.
//
// A background context is used deliberately: the setup is shared by every
// caller that joined it, so no single caller's cancellation may abort it.
func (g *Gate) runSetup(conn external.Connector) {
	err := conn.StartConnection(context.Background())

	g.mu.Lock()
	if g.conn != conn || g.state != types.ConnConnecting {
		// This attempt was invalidated by a reconfiguration or disconnect
		// signal; its waiters have already been notified.
		g.mu.Unlock()
		return
	}
	if err != nil {
		g.state = types.ConnDisconnected
	} else {
		g.state = types.ConnReady
	}
	notify := g.waiters
	g.waiters = nil
	g.mu.Unlock()

	for _, w := range notify {
		w <- err
	}
}

// addWaiterLocked registers a buffered outcome channel. The buffer guarantees
// the notifying goroutine never blocks on a waiter that gave up on its
// context.
func (g *Gate) addWaiterLocked() chan error {
	ch := make(chan error, 1)
	g.waiters = append(g.waiters, ch)
	return ch
}

func (g *Gate) wait(ctx context.Context, ch chan error) error {
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
