package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dbmflow/internal/pipeline"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
)

func newWorkflowEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	suite := testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(PipelineWorkflow)
	return env
}

func TestPipelineWorkflowSuccess(t *testing.T) {
	var started, completed []string
	var executed []string

	env := newWorkflowEnv(t)
	env.RegisterActivityWithOptions(func(ctx context.Context, flowID string) error {
		started = append(started, flowID)
		return nil
	}, activity.RegisterOptions{Name: "StartFlow"})
	env.RegisterActivityWithOptions(func(ctx context.Context, flowID, ticketID, status, errMsg string) error {
		completed = append(completed, status)
		return nil
	}, activity.RegisterOptions{Name: "CompleteFlow"})
	env.RegisterActivityWithOptions(func(ctx context.Context, input ComponentInput) (map[string]any, error) {
		executed = append(executed, input.Component)
		return map[string]any{"last": input.Component}, nil
	}, activity.RegisterOptions{Name: "ExecuteComponent"})

	root := pipeline.NewBuilder("flow_1", "add clb").
		AddActivity("alloc", "cloud.alloc_clb", nil).
		AddActivity("bind", "meta.create_clb_entry", nil).
		Build()
	env.ExecuteWorkflow(PipelineWorkflow, PipelineInput{FlowID: "flow_1", TicketID: "ticket_1", Root: root})
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow err: %v", err)
	}
	if len(started) != 1 || started[0] != "flow_1" {
		t.Fatalf("started: %#v", started)
	}
	if len(executed) != 2 || executed[0] != "cloud.alloc_clb" || executed[1] != "meta.create_clb_entry" {
		t.Fatalf("executed: %#v", executed)
	}
	if len(completed) != 1 || completed[0] != "FINISHED" {
		t.Fatalf("completed: %#v", completed)
	}
}

func TestPipelineWorkflowFailureMarksFlowFailed(t *testing.T) {
	var completed []string

	env := newWorkflowEnv(t)
	env.RegisterActivityWithOptions(func(ctx context.Context, flowID string) error {
		return nil
	}, activity.RegisterOptions{Name: "StartFlow"})
	env.RegisterActivityWithOptions(func(ctx context.Context, flowID, ticketID, status, errMsg string) error {
		completed = append(completed, status)
		return nil
	}, activity.RegisterOptions{Name: "CompleteFlow"})
	env.RegisterActivityWithOptions(func(ctx context.Context, input ComponentInput) (map[string]any, error) {
		return nil, errors.New("boom")
	}, activity.RegisterOptions{Name: "ExecuteComponent"})

	root := pipeline.NewBuilder("flow_1", "add clb").
		AddActivity("alloc", "cloud.alloc_clb", nil).
		Build()
	env.ExecuteWorkflow(PipelineWorkflow, PipelineInput{FlowID: "flow_1", TicketID: "ticket_1", Root: root})
	if err := env.GetWorkflowError(); err == nil {
		t.Fatalf("expected error")
	}
	if len(completed) != 1 || completed[0] != "FAILED" {
		t.Fatalf("completed: %#v", completed)
	}
}

func TestPipelineWorkflowCancelCompensatesInReverse(t *testing.T) {
	var mu sync.Mutex
	var completed []string
	var compensated []ComponentInput

	env := newWorkflowEnv(t)
	env.RegisterActivityWithOptions(func(ctx context.Context, flowID string) error {
		return nil
	}, activity.RegisterOptions{Name: "StartFlow"})
	env.RegisterActivityWithOptions(func(ctx context.Context, flowID, ticketID, status, errMsg string) error {
		mu.Lock()
		completed = append(completed, status)
		mu.Unlock()
		return nil
	}, activity.RegisterOptions{Name: "CompleteFlow"})
	env.RegisterActivityWithOptions(func(ctx context.Context, input ComponentInput) (map[string]any, error) {
		switch input.Component {
		case "cloud.alloc_clb":
			return map[string]any{"clb_id": "lb-x"}, nil
		case "monitor.shield_alarm":
			return map[string]any{"alarm_shield_id": "sh-1"}, nil
		default:
			<-ctx.Done()
			return nil, ctx.Err()
		}
	}, activity.RegisterOptions{Name: "ExecuteComponent"})
	env.RegisterActivityWithOptions(func(ctx context.Context, input ComponentInput) error {
		mu.Lock()
		compensated = append(compensated, input)
		mu.Unlock()
		return nil
	}, activity.RegisterOptions{Name: "CompensateComponent"})

	env.RegisterDelayedCallback(func() { env.CancelWorkflow() }, time.Second)

	root := pipeline.NewBuilder("flow_1", "add clb").
		AddActivity("alloc", "cloud.alloc_clb", nil).
		AddActivity("shield", "monitor.shield_alarm", nil).
		AddActivity("bind", "meta.bind_domain_clb", nil).
		Build()
	env.ExecuteWorkflow(PipelineWorkflow, PipelineInput{FlowID: "flow_1", TicketID: "ticket_1", Root: root})
	if err := env.GetWorkflowError(); err == nil {
		t.Fatalf("expected cancellation error")
	}
	if len(completed) != 1 || completed[0] != "REVOKED" {
		t.Fatalf("completed: %#v", completed)
	}
	// Undo walks back over what finished, most recent first; the
	// interrupted bind never ran and is never compensated.
	if len(compensated) != 2 {
		t.Fatalf("compensated: %#v", compensated)
	}
	if compensated[0].Component != "monitor.shield_alarm" || compensated[1].Component != "cloud.alloc_clb" {
		t.Fatalf("order: %s %s", compensated[0].Component, compensated[1].Component)
	}
	if compensated[1].Trans["clb_id"] != "lb-x" {
		t.Fatalf("trans: %#v", compensated[1].Trans)
	}
	if compensated[0].Trans["alarm_shield_id"] != "sh-1" {
		t.Fatalf("trans: %#v", compensated[0].Trans)
	}
}

func TestPipelineWorkflowParallelMergesTrans(t *testing.T) {
	var mu sync.Mutex
	var executed []string

	env := newWorkflowEnv(t)
	env.RegisterActivityWithOptions(func(ctx context.Context, flowID string) error {
		return nil
	}, activity.RegisterOptions{Name: "StartFlow"})
	env.RegisterActivityWithOptions(func(ctx context.Context, flowID, ticketID, status, errMsg string) error {
		return nil
	}, activity.RegisterOptions{Name: "CompleteFlow"})
	env.RegisterActivityWithOptions(func(ctx context.Context, input ComponentInput) (map[string]any, error) {
		mu.Lock()
		executed = append(executed, input.NodeID)
		mu.Unlock()
		if input.Component == "merge.check" {
			// Both branch outputs must be visible downstream.
			if input.Trans["a"] != "1" || input.Trans["b"] != "2" {
				return nil, errors.New("branch outputs not merged")
			}
			return nil, nil
		}
		if input.Component == "branch.a" {
			return map[string]any{"a": "1"}, nil
		}
		return map[string]any{"b": "2"}, nil
	}, activity.RegisterOptions{Name: "ExecuteComponent"})

	root := pipeline.NewBuilder("flow_1", "parallel").
		AddParallel("fanout",
			pipeline.Activity("a", "branch.a", nil),
			pipeline.Activity("b", "branch.b", nil),
		).
		AddActivity("after", "merge.check", nil).
		Build()
	env.ExecuteWorkflow(PipelineWorkflow, PipelineInput{FlowID: "flow_1", Root: root})
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow err: %v", err)
	}
	if len(executed) != 3 {
		t.Fatalf("executed: %#v", executed)
	}
}

func TestPipelineWorkflowConditionalSkips(t *testing.T) {
	var executed []string

	env := newWorkflowEnv(t)
	env.RegisterActivityWithOptions(func(ctx context.Context, flowID string) error {
		return nil
	}, activity.RegisterOptions{Name: "StartFlow"})
	env.RegisterActivityWithOptions(func(ctx context.Context, flowID, ticketID, status, errMsg string) error {
		return nil
	}, activity.RegisterOptions{Name: "CompleteFlow"})
	env.RegisterActivityWithOptions(func(ctx context.Context, input ComponentInput) (map[string]any, error) {
		executed = append(executed, input.Component)
		if input.Component == "gate.check" {
			return map[string]any{"needs_fixup": false}, nil
		}
		return nil, nil
	}, activity.RegisterOptions{Name: "ExecuteComponent"})

	root := pipeline.NewBuilder("flow_1", "conditional").
		AddActivity("check", "gate.check", nil).
		AddConditional("maybe fixup", "needs_fixup",
			pipeline.Activity("fixup", "fixup.run", nil),
		).
		Build()
	env.ExecuteWorkflow(PipelineWorkflow, PipelineInput{FlowID: "flow_1", Root: root})
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow err: %v", err)
	}
	if len(executed) != 1 || executed[0] != "gate.check" {
		t.Fatalf("executed: %#v", executed)
	}
}
