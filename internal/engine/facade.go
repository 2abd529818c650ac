package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.temporal.io/sdk/client"
)

// ControllerInfo records which registered controller function owns a
// flow. It is persisted on the flow row before the workflow starts so a
// restarted worker can re-resolve the function from the registry instead
// of deserializing code.
type ControllerInfo struct {
	TicketType string `json:"ticket_type"`
	FuncKey    string `json:"func_key"`
}

// SubmitStore is the slice of the database layer the facade needs.
type SubmitStore interface {
	SetFlowControllerInfo(ctx context.Context, flowID string, info []byte) error
	SetFlowExternalID(ctx context.Context, flowID, externalID string) error
}

// Facade submits built pipelines to the engine. The workflow id equals
// the flow id, so resubmitting an already-running flow is rejected by
// the engine rather than duplicated.
type Facade struct {
	Client    client.Client
	TaskQueue string
	Store     SubmitStore
}

func (f *Facade) Submit(ctx context.Context, input PipelineInput, info ControllerInfo) (string, error) {
	if f == nil || f.Client == nil {
		return "", errors.New("engine client required")
	}
	if input.FlowID == "" {
		return "", errors.New("flow_id required")
	}
	if input.Root == nil {
		return "", errors.New("pipeline root required")
	}
	if err := input.Root.Validate(); err != nil {
		return "", fmt.Errorf("pipeline invalid: %w", err)
	}
	if f.Store != nil {
		raw, err := json.Marshal(info)
		if err != nil {
			return "", err
		}
		if err := f.Store.SetFlowControllerInfo(ctx, input.FlowID, raw); err != nil {
			return "", fmt.Errorf("persist controller info: %w", err)
		}
	}
	opts := client.StartWorkflowOptions{
		ID:        input.FlowID,
		TaskQueue: f.TaskQueue,
	}
	run, err := f.Client.ExecuteWorkflow(ctx, opts, PipelineWorkflow, input)
	if err != nil {
		return "", fmt.Errorf("start pipeline: %w", err)
	}
	if f.Store != nil {
		if err := f.Store.SetFlowExternalID(ctx, input.FlowID, run.GetRunID()); err != nil {
			return "", fmt.Errorf("record run id: %w", err)
		}
	}
	return run.GetID(), nil
}

// Cancel requests cooperative cancellation of a running flow. Activities
// see the cancellation through their context; compensators run before
// the workflow returns.
func (f *Facade) Cancel(ctx context.Context, flowID string) error {
	if f == nil || f.Client == nil {
		return errors.New("engine client required")
	}
	if err := f.Client.CancelWorkflow(ctx, flowID, ""); err != nil {
		return fmt.Errorf("cancel flow %s: %w", flowID, err)
	}
	return nil
}

// Terminate kills a flow immediately without waiting for activities to
// observe cancellation.
func (f *Facade) Terminate(ctx context.Context, flowID, reason string) error {
	if f == nil || f.Client == nil {
		return errors.New("engine client required")
	}
	if err := f.Client.TerminateWorkflow(ctx, flowID, "", reason); err != nil {
		return fmt.Errorf("terminate flow %s: %w", flowID, err)
	}
	return nil
}
