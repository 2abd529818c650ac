package engine

import (
	"errors"
	"fmt"
	"time"

	"dbmflow/internal/pipeline"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// PipelineInput seeds one flow execution. The node tree and global data
// are fixed at submission; trans data starts empty and accumulates
// activity outputs as the walk proceeds.
type PipelineInput struct {
	FlowID   string
	TicketID string
	Root     *pipeline.Node
	Global   map[string]any
}

// ComponentInput is the per-activity payload handed to the worker.
type ComponentInput struct {
	FlowID    string
	TicketID  string
	NodeID    string
	Component string
	Kwargs    map[string]any
	Global    map[string]any
	Trans     map[string]any
}

// PipelineWorkflow walks the node tree depth first, running activity
// leaves on the worker with retries. The flow row is marked RUNNING up
// front and FINISHED, FAILED or REVOKED on the way out, so the ticket
// layer can advance on flow completion regardless of how the walk
// ended. On cancellation the already-completed activities are
// compensated in reverse before the flow is reported revoked.
func PipelineWorkflow(ctx workflow.Context, input PipelineInput) error {
	if input.FlowID == "" {
		return errors.New("flow_id required")
	}
	if input.Root == nil {
		return errors.New("pipeline root required")
	}
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	if err := workflow.ExecuteActivity(ctx, "StartFlow", input.FlowID).Get(ctx, nil); err != nil {
		return err
	}
	trans := map[string]any{}
	var executed []ComponentInput
	if err := runNode(ctx, input, input.Root, trans, &executed); err != nil {
		if temporal.IsCanceledError(err) || ctx.Err() != nil {
			// Scheduling has stopped; undo completed activities on a context
			// that survives the cancellation, then mark the flow revoked.
			dctx, cancel := workflow.NewDisconnectedContext(ctx)
			defer cancel()
			compensate(dctx, executed)
			_ = workflow.ExecuteActivity(dctx, "CompleteFlow", input.FlowID, input.TicketID, "REVOKED", "revoked").Get(dctx, nil)
			return err
		}
		_ = workflow.ExecuteActivity(ctx, "CompleteFlow", input.FlowID, input.TicketID, "FAILED", err.Error()).Get(ctx, nil)
		return err
	}
	if err := workflow.ExecuteActivity(ctx, "CompleteFlow", input.FlowID, input.TicketID, "FINISHED", "").Get(ctx, nil); err != nil {
		return err
	}
	return nil
}

// compensate undoes completed activities in reverse completion order.
// Failures are logged and the sweep continues; one stuck compensator
// must not block the remaining undo steps.
func compensate(ctx workflow.Context, executed []ComponentInput) {
	logger := workflow.GetLogger(ctx)
	for i := len(executed) - 1; i >= 0; i-- {
		in := executed[i]
		if err := workflow.ExecuteActivity(ctx, "CompensateComponent", in).Get(ctx, nil); err != nil {
			logger.Error("compensation failed", "node_id", in.NodeID, "component", in.Component, "error", err)
		}
	}
}

func runNode(ctx workflow.Context, input PipelineInput, node *pipeline.Node, trans map[string]any, executed *[]ComponentInput) error {
	switch node.Kind {
	case pipeline.KindActivity:
		return runActivity(ctx, input, node, trans, executed)
	case pipeline.KindSubProcess:
		for _, child := range node.Children {
			if err := runNode(ctx, input, child, trans, executed); err != nil {
				return err
			}
		}
		return nil
	case pipeline.KindParallel:
		return runParallel(ctx, input, node, trans, executed)
	case pipeline.KindConditional:
		if !truthy(trans[node.Condition]) {
			return nil
		}
		for _, child := range node.Children {
			if err := runNode(ctx, input, child, trans, executed); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("node %s has unknown kind %q", node.NodeID, node.Kind)
	}
}

func runActivity(ctx workflow.Context, input PipelineInput, node *pipeline.Node, trans map[string]any, executed *[]ComponentInput) error {
	compInput := ComponentInput{
		FlowID:    input.FlowID,
		TicketID:  input.TicketID,
		NodeID:    node.NodeID,
		Component: node.Component,
		Kwargs:    node.Kwargs,
		Global:    input.Global,
		Trans:     snapshot(trans),
	}
	var outputs map[string]any
	if err := workflow.ExecuteActivity(ctx, "ExecuteComponent", compInput).Get(ctx, &outputs); err != nil {
		return fmt.Errorf("activity %s (%s): %w", node.NodeID, node.Component, err)
	}
	for k, v := range outputs {
		trans[k] = v
	}
	// The recorded snapshot includes the activity's own outputs, which is
	// where compensators find the external ids to undo.
	compInput.Trans = snapshot(trans)
	*executed = append(*executed, compInput)
	return nil
}

// runParallel executes the branches concurrently inside the workflow.
// Each branch walks against its own trans snapshot; branch writes merge
// back in declaration order once every branch finished, which keeps the
// merge deterministic across replays.
func runParallel(ctx workflow.Context, input PipelineInput, node *pipeline.Node, trans map[string]any, executed *[]ComponentInput) error {
	branchTrans := make([]map[string]any, len(node.Children))
	branchErrs := make([]error, len(node.Children))
	wg := workflow.NewWaitGroup(ctx)
	for i, child := range node.Children {
		i, child := i, child
		branchTrans[i] = snapshot(trans)
		wg.Add(1)
		workflow.Go(ctx, func(gctx workflow.Context) {
			defer wg.Done()
			branchErrs[i] = runNode(gctx, input, child, branchTrans[i], executed)
		})
	}
	wg.Wait(ctx)
	for _, err := range branchErrs {
		if err != nil {
			return err
		}
	}
	for i := range node.Children {
		for k, v := range branchTrans[i] {
			trans[k] = v
		}
	}
	return nil
}

func snapshot(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "false" && t != "0"
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}
