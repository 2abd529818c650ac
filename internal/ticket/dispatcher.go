package ticket

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"dbmflow/internal/metrics"
)

// Event is what the engine reports when a flow reaches a terminal
// status.
type Event struct {
	TicketID string
	FlowID   string
	Status   string
	ErrMsg   string
}

// Handler reacts to one ticket type's flow events. Handlers run
// synchronously inside the dispatcher.
type Handler func(ctx context.Context, ev Event) error

// Dispatcher routes engine events to per-ticket-type handlers. It never
// lets a handler error or an unknown type escape to the engine.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: map[string]Handler{}}
}

// RegisterHandler installs a handler keyed by lowercased ticket type.
// Duplicate registration is a programming error and panics.
func (d *Dispatcher) RegisterHandler(ticketType string, h Handler) {
	key := strings.ToLower(ticketType)
	if key == "" {
		panic("ticket: empty handler key")
	}
	if h == nil {
		panic("ticket: nil handler for " + key)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.handlers[key]; dup {
		panic("ticket: duplicate handler for " + key)
	}
	d.handlers[key] = h
}

// Call invokes the handler for the ticket type. Unknown types log and
// return; handler errors are caught and logged.
func (d *Dispatcher) Call(ctx context.Context, ticketType string, ev Event) {
	key := strings.ToLower(ticketType)
	d.mu.RLock()
	h, ok := d.handlers[key]
	d.mu.RUnlock()
	if !ok {
		slog.Info("no signal handler for ticket type", "ticket_type", ticketType, "ticket_id", ev.TicketID)
		metrics.SignalDispatchTotal.WithLabelValues(ticketType, "unknown").Inc()
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("signal handler panicked",
				"ticket_type", ticketType, "ticket_id", ev.TicketID, "panic", r)
			metrics.SignalDispatchTotal.WithLabelValues(ticketType, "error").Inc()
		}
	}()
	if err := h(ctx, ev); err != nil {
		slog.Error("signal handler failed",
			"ticket_type", ticketType, "ticket_id", ev.TicketID, "flow_id", ev.FlowID, "error", err)
		metrics.SignalDispatchTotal.WithLabelValues(ticketType, "error").Inc()
		return
	}
	metrics.SignalDispatchTotal.WithLabelValues(ticketType, "ok").Inc()
}
