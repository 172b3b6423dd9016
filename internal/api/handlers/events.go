package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"playbridge/internal/types"
)

// Event names emitted on the billing stream.
const (
	eventProducts           = "products"
	eventPurchase           = "purchase"
	eventError              = "error"
	eventAlternativeBilling = "alternative-billing"
)

// heartbeatInterval is how often a comment line is written to keep idle
// streams from being reaped by intermediaries.
const heartbeatInterval = 15 * time.Second

// eventBufferSize bounds the per-stream event queue. Events beyond it are
// dropped rather than blocking the vendor notification path.
const eventBufferSize = 64

type streamEvent struct {
	name string
	data any
}

// EventsHandler serves the billing event stream: catalog fetch results,
// purchase updates, the error channel, and alternative billing notifications,
// delivered as server-sent events.
//
// The dispatcher holds one listener slot per notification kind, so opening a
// new stream replaces the previous subscriber. Events fired while no stream
// is open are dropped, matching the listener contract.
type EventsHandler struct {
	dispatcher BillingDispatcher
	logger     *slog.Logger

	mu        sync.Mutex
	streamSeq uint64
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(d BillingDispatcher, l *slog.Logger) *EventsHandler {
	if l == nil {
		l = slog.Default()
	}
	return &EventsHandler{
		dispatcher: d,
		logger:     l,
	}
}

// RegisterRoutes mounts the event stream endpoint.
func (h *EventsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/billing/events", h.Stream)
}

// Stream handles GET /v1/billing/events.
//
//  1. Register this stream as the subscriber for all four notification kinds.
//  2. Forward notifications as SSE frames until the client disconnects.
//  3. Emit a heartbeat comment on an interval so proxies keep the connection.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	// The middleware chain wraps the ResponseWriter, so Flush is reached
	// through the ResponseController's Unwrap chain rather than a direct
	// type assertion.
	rc := http.NewResponseController(w)

	ctx := r.Context()
	events := make(chan streamEvent, eventBufferSize)

	// Claim the subscriber slots. When this stream ends, release them so
	// events fired with no stream open are dropped at the source instead of
	// buffered into a dead channel; the sequence check keeps an old stream's
	// exit from wiping the slots a newer stream has since claimed.
	h.mu.Lock()
	h.streamSeq++
	seq := h.streamSeq
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		current := h.streamSeq == seq
		h.mu.Unlock()
		if current {
			h.dispatcher.Clear()
		}
	}()

	// send never blocks: a stream that cannot keep up loses events instead
	// of stalling the vendor callback goroutine.
	send := func(name string, data any) {
		select {
		case events <- streamEvent{name: name, data: data}:
		case <-ctx.Done():
		default:
			h.logger.Warn("event stream backlogged, dropping event", "event", name)
		}
	}

	h.dispatcher.OnFetchProducts(func(products []types.ProductPayload) {
		send(eventProducts, products)
	})
	h.dispatcher.OnPurchase(func(purchase types.PurchasePayload) {
		send(eventPurchase, purchase)
	})
	h.dispatcher.OnError(func(errPayload types.BillingErrorPayload) {
		send(eventError, errPayload)
	})
	h.dispatcher.OnAlternativeBillingFlow(func(token string) {
		send(eventAlternativeBilling, map[string]string{"external_transaction_token": token})
	})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Initial comment confirms the stream is live before any event fires.
	fmt.Fprint(w, ": connected\n\n")
	if err := rc.Flush(); err != nil {
		h.logger.Debug("event stream does not support flushing", "error", err)
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			if err := rc.Flush(); err != nil {
				return
			}
		case ev := <-events:
			if err := writeEvent(w, ev); err != nil {
				h.logger.Debug("event stream write failed", "error", err)
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// writeEvent serializes one SSE frame.
func writeEvent(w http.ResponseWriter, ev streamEvent) error {
	body, err := json.Marshal(ev.data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.name, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, body)
	return err
}
