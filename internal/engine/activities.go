package engine

import (
	"context"
	"errors"

	"dbmflow/internal/logging"
	"dbmflow/internal/metrics"
	"dbmflow/internal/pipeline"
)

// FlowStore is the slice of the database layer the worker needs.
type FlowStore interface {
	StartFlow(ctx context.Context, flowID string) error
	CompleteFlow(ctx context.Context, flowID, status, errMsg string) error
}

// StatusReporter receives terminal flow statuses so the ticket layer can
// advance or fail the owning ticket.
type StatusReporter interface {
	FlowFinished(ctx context.Context, ticketID, flowID, status string) error
}

type Activities struct {
	Store    FlowStore
	Registry *pipeline.Registry
	Reporter StatusReporter
}

// ExecuteComponent resolves the component code against the catalog and
// runs it. Outputs flow back to the workflow, which merges them into
// trans data for downstream nodes.
func (a *Activities) ExecuteComponent(ctx context.Context, input ComponentInput) (map[string]any, error) {
	if a.Registry == nil {
		return nil, errors.New("component registry required")
	}
	svc, err := a.Registry.Resolve(input.Component)
	if err != nil {
		metrics.ActivityExecutionsTotal.WithLabelValues(input.Component, "error").Inc()
		return nil, err
	}
	outputs, err := svc.Execute(ctx, pipeline.Input{
		RootID: input.FlowID,
		NodeID: input.NodeID,
		Kwargs: input.Kwargs,
		Global: input.Global,
		Trans:  input.Trans,
	})
	if err != nil {
		metrics.ActivityExecutionsTotal.WithLabelValues(input.Component, "error").Inc()
		logging.ForFlow(input.TicketID, input.FlowID).Error("component failed",
			"node_id", input.NodeID, "component", input.Component, "error", err)
		return nil, err
	}
	metrics.ActivityExecutionsTotal.WithLabelValues(input.Component, "ok").Inc()
	return outputs, nil
}

// CompensateComponent undoes one completed component during a revoke
// sweep. Components without a compensator are a no-op; the trans
// snapshot carries the external ids the component recorded when it ran.
func (a *Activities) CompensateComponent(ctx context.Context, input ComponentInput) error {
	if a.Registry == nil {
		return errors.New("component registry required")
	}
	svc, err := a.Registry.Resolve(input.Component)
	if err != nil {
		return err
	}
	comp, ok := svc.(pipeline.Compensator)
	if !ok {
		return nil
	}
	if err := comp.Compensate(ctx, pipeline.Input{
		RootID: input.FlowID,
		NodeID: input.NodeID,
		Kwargs: input.Kwargs,
		Global: input.Global,
		Trans:  input.Trans,
	}); err != nil {
		logging.ForFlow(input.TicketID, input.FlowID).Error("compensation failed",
			"node_id", input.NodeID, "component", input.Component, "error", err)
		return err
	}
	metrics.ActivityExecutionsTotal.WithLabelValues(input.Component, "compensated").Inc()
	return nil
}

func (a *Activities) StartFlow(ctx context.Context, flowID string) error {
	if a.Store == nil {
		return errors.New("store required")
	}
	return a.Store.StartFlow(ctx, flowID)
}

// CompleteFlow records the terminal flow status and notifies the ticket
// layer. Reporter errors are logged, not returned; the flow outcome is
// already durable and a retry here would not change it.
func (a *Activities) CompleteFlow(ctx context.Context, flowID, ticketID, status, errMsg string) error {
	if a.Store == nil {
		return errors.New("store required")
	}
	if err := a.Store.CompleteFlow(ctx, flowID, status, errMsg); err != nil {
		return err
	}
	if a.Reporter != nil {
		if err := a.Reporter.FlowFinished(ctx, ticketID, flowID, status); err != nil {
			logging.ForFlow(ticketID, flowID).Error("flow status report failed", "status", status, "error", err)
		}
	}
	return nil
}
