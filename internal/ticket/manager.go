package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"dbmflow/internal/db"
	"dbmflow/internal/engine"
	"dbmflow/internal/errs"
	"dbmflow/internal/metrics"
	"dbmflow/internal/pipeline"
)

// Store is the slice of the database layer the manager needs.
type Store interface {
	CreateTicket(ctx context.Context, payload []byte) (string, error)
	GetTicketDetails(ctx context.Context, ticketID string) (string, []byte, bool, error)
	UpdateTicketStatus(ctx context.Context, ticketID, status string) error
	CreateFlows(ctx context.Context, ticketID string, seeds []db.FlowSeed) ([]string, error)
	NextPendingFlow(ctx context.Context, ticketID string) (*db.FlowRef, error)
	CurrentFlow(ctx context.Context, ticketID string) (*db.FlowRef, error)
	StartFlow(ctx context.Context, flowID string) error
	CompleteFlow(ctx context.Context, flowID, status, errMsg string) error
	UpdateClusterPhase(ctx context.Context, clusterID int64, phase string) error
}

// PipelineRunner submits built pipelines to the engine and cancels
// running ones.
type PipelineRunner interface {
	Submit(ctx context.Context, input engine.PipelineInput, info engine.ControllerInfo) (string, error)
	Cancel(ctx context.Context, flowID string) error
	Terminate(ctx context.Context, flowID, reason string) error
}

// ControllerResolver builds the inner pipeline for a registered
// controller function key.
type ControllerResolver interface {
	Build(funcKey, rootID string, details json.RawMessage) (*pipeline.Node, map[string]any, error)
}

// ResourceAllocator grants hosts for builders that declare a resource
// spec and takes freed hosts back for builders that recycle.
type ResourceAllocator interface {
	Allocate(ctx context.Context, ticketID string, details json.RawMessage) (json.RawMessage, error)
	Recycle(ctx context.Context, ticketID string, details json.RawMessage) error
}

// Manager drives tickets through their flow sequence. Stages of one
// ticket run strictly sequentially; the manager only ever acts on the
// lowest-seq pending flow.
type Manager struct {
	Store       Store
	Engine      PipelineRunner
	Controllers ControllerResolver
	Resources   ResourceAllocator
	Dispatcher  *Dispatcher
}

type CreateRequest struct {
	BkBizID     int64           `json:"bk_biz_id"`
	TicketType  string          `json:"ticket_type"`
	Details     json.RawMessage `json:"details"`
	Remark      string          `json:"remark"`
	Creator     string          `json:"creator"`
	AutoExecute bool            `json:"auto_execute"`
}

// Create validates, persists and starts a ticket. Validation failures
// leave nothing behind.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (string, error) {
	builder, ok := Lookup(req.TicketType)
	if !ok {
		return "", errs.TicketDataInvalid.WithArgs(map[string]any{
			"field":  "ticket_type",
			"reason": fmt.Sprintf("unknown ticket type %s", req.TicketType),
		})
	}
	if err := ValidateDetails(req.TicketType, req.Details); err != nil {
		return "", err
	}
	payload, err := json.Marshal(map[string]any{
		"ticket_type":  req.TicketType,
		"creator":      req.Creator,
		"bk_biz_id":    req.BkBizID,
		"details":      req.Details,
		"remark":       req.Remark,
		"auto_execute": req.AutoExecute,
		"status":       StatusPending,
	})
	if err != nil {
		return "", err
	}
	ticketID, err := m.Store.CreateTicket(ctx, payload)
	if err != nil {
		return "", err
	}
	seeds := make([]db.FlowSeed, 0, 4)
	for _, flowType := range builder.FlowSequence(req.AutoExecute) {
		seed := db.FlowSeed{FlowType: flowType}
		if flowType == FlowInner {
			seed.Details = req.Details
		}
		seeds = append(seeds, seed)
	}
	if _, err := m.Store.CreateFlows(ctx, ticketID, seeds); err != nil {
		return "", err
	}
	metrics.TicketsTotal.WithLabelValues(req.TicketType, StatusPending).Inc()
	if err := m.Advance(ctx, ticketID); err != nil {
		return ticketID, err
	}
	return ticketID, nil
}

// Advance runs the next pending flow, or finalizes the ticket when none
// remains.
func (m *Manager) Advance(ctx context.Context, ticketID string) error {
	ticketType, details, _, err := m.Store.GetTicketDetails(ctx, ticketID)
	if err != nil {
		return err
	}
	flow, err := m.Store.NextPendingFlow(ctx, ticketID)
	if err != nil {
		return err
	}
	if flow == nil {
		return m.finalize(ctx, ticketID, ticketType)
	}
	builder, ok := Lookup(ticketType)
	if !ok {
		return m.failFlow(ctx, ticketType, flow, fmt.Sprintf("no builder for %s", ticketType))
	}
	switch flow.FlowType {
	case FlowApproval:
		if err := m.Store.StartFlow(ctx, flow.FlowID); err != nil {
			return err
		}
		return m.Store.UpdateTicketStatus(ctx, ticketID, StatusApproval)
	case FlowConfirm:
		if err := m.Store.StartFlow(ctx, flow.FlowID); err != nil {
			return err
		}
		return m.Store.UpdateTicketStatus(ctx, ticketID, StatusConfirm)
	case FlowResourceApply:
		return m.runResourceApply(ctx, ticketType, flow, details)
	case FlowInner:
		return m.runInner(ctx, builder, flow, details)
	case FlowPost:
		return m.runPost(ctx, builder, flow, details)
	default:
		return m.failFlow(ctx, ticketType, flow, fmt.Sprintf("unknown flow type %s", flow.FlowType))
	}
}

func (m *Manager) runResourceApply(ctx context.Context, ticketType string, flow *db.FlowRef, details json.RawMessage) error {
	if err := m.Store.StartFlow(ctx, flow.FlowID); err != nil {
		return err
	}
	if err := m.Store.UpdateTicketStatus(ctx, flow.TicketID, StatusResourceApply); err != nil {
		return err
	}
	if m.Resources == nil {
		return m.failFlow(ctx, ticketType, flow, "no resource allocator configured")
	}
	if _, err := m.Resources.Allocate(ctx, flow.TicketID, details); err != nil {
		return m.failFlow(ctx, ticketType, flow, fmt.Sprintf("resource apply: %v", err))
	}
	if err := m.Store.CompleteFlow(ctx, flow.FlowID, FlowStatusFinished, ""); err != nil {
		return err
	}
	return m.Advance(ctx, flow.TicketID)
}

func (m *Manager) runInner(ctx context.Context, builder Builder, flow *db.FlowRef, details json.RawMessage) error {
	if err := m.Store.UpdateTicketStatus(ctx, flow.TicketID, StatusInnerFlow); err != nil {
		return err
	}
	if m.Controllers == nil || m.Engine == nil {
		return m.failFlow(ctx, builder.TicketType, flow, "no engine configured")
	}
	root, global, err := m.Controllers.Build(builder.FuncKey, flow.FlowID, details)
	if err != nil {
		return m.failFlow(ctx, builder.TicketType, flow, fmt.Sprintf("build pipeline: %v", err))
	}
	input := engine.PipelineInput{
		FlowID:   flow.FlowID,
		TicketID: flow.TicketID,
		Root:     root,
		Global:   global,
	}
	info := engine.ControllerInfo{TicketType: builder.TicketType, FuncKey: builder.FuncKey}
	if _, err := m.Engine.Submit(ctx, input, info); err != nil {
		return m.failFlow(ctx, builder.TicketType, flow, fmt.Sprintf("submit pipeline: %v", err))
	}
	return nil
}

func (m *Manager) runPost(ctx context.Context, builder Builder, flow *db.FlowRef, details json.RawMessage) error {
	if err := m.Store.StartFlow(ctx, flow.FlowID); err != nil {
		return err
	}
	if err := m.Store.UpdateTicketStatus(ctx, flow.TicketID, StatusPost); err != nil {
		return err
	}
	if builder.Policy.Phase != "" {
		if clusterID := clusterIDFromDetails(details); clusterID > 0 {
			if err := m.Store.UpdateClusterPhase(ctx, clusterID, builder.Policy.Phase); err != nil {
				return m.failFlow(ctx, builder.TicketType, flow, fmt.Sprintf("update cluster phase: %v", err))
			}
		}
	}
	if builder.Policy.IsRecycle {
		if m.Resources == nil {
			return m.failFlow(ctx, builder.TicketType, flow, "no resource allocator configured")
		}
		if err := m.Resources.Recycle(ctx, flow.TicketID, details); err != nil {
			return m.failFlow(ctx, builder.TicketType, flow, fmt.Sprintf("recycle hosts: %v", err))
		}
	}
	if err := m.Store.CompleteFlow(ctx, flow.FlowID, FlowStatusFinished, ""); err != nil {
		return err
	}
	return m.Advance(ctx, flow.TicketID)
}

func (m *Manager) finalize(ctx context.Context, ticketID, ticketType string) error {
	if err := m.Store.UpdateTicketStatus(ctx, ticketID, StatusSucceeded); err != nil {
		return err
	}
	metrics.TicketsTotal.WithLabelValues(ticketType, StatusSucceeded).Inc()
	return nil
}

func (m *Manager) failFlow(ctx context.Context, ticketType string, flow *db.FlowRef, msg string) error {
	slog.Error("flow failed", "ticket_id", flow.TicketID, "flow_id", flow.FlowID, "error", msg)
	if err := m.Store.CompleteFlow(ctx, flow.FlowID, FlowStatusFailed, msg); err != nil {
		return err
	}
	if err := m.Store.UpdateTicketStatus(ctx, flow.TicketID, StatusFailed); err != nil {
		return err
	}
	metrics.TicketsTotal.WithLabelValues(ticketType, StatusFailed).Inc()
	if m.Dispatcher != nil {
		m.Dispatcher.Call(ctx, ticketType, Event{
			TicketID: flow.TicketID,
			FlowID:   flow.FlowID,
			Status:   FlowStatusFailed,
			ErrMsg:   msg,
		})
	}
	return nil
}

// Approve completes a waiting APPROVAL flow and advances the ticket.
func (m *Manager) Approve(ctx context.Context, ticketID string) error {
	return m.completeWaitingFlow(ctx, ticketID, FlowApproval)
}

// Confirm completes a waiting CONFIRM flow and advances the ticket.
func (m *Manager) Confirm(ctx context.Context, ticketID string) error {
	return m.completeWaitingFlow(ctx, ticketID, FlowConfirm)
}

func (m *Manager) completeWaitingFlow(ctx context.Context, ticketID, wantType string) error {
	flow, err := m.currentRunningFlow(ctx, ticketID)
	if err != nil {
		return err
	}
	if flow == nil || flow.FlowType != wantType {
		return errs.TicketDataInvalid.WithArgs(map[string]any{
			"field":  "ticket_id",
			"reason": fmt.Sprintf("ticket is not waiting for %s", wantType),
		})
	}
	if err := m.Store.CompleteFlow(ctx, flow.FlowID, FlowStatusFinished, ""); err != nil {
		return err
	}
	return m.Advance(ctx, ticketID)
}

// Revoke cancels the running flow, compensating where the engine knows
// how, and moves the ticket to REVOKED.
func (m *Manager) Revoke(ctx context.Context, ticketID string) error {
	ticketType, _, _, err := m.Store.GetTicketDetails(ctx, ticketID)
	if err != nil {
		return err
	}
	flow, err := m.currentRunningFlow(ctx, ticketID)
	if err != nil {
		return err
	}
	if flow != nil {
		if flow.FlowType == FlowInner && m.Engine != nil {
			if err := m.Engine.Cancel(ctx, flow.FlowID); err != nil {
				slog.Error("engine cancel failed", "flow_id", flow.FlowID, "error", err)
			}
		}
		if err := m.Store.CompleteFlow(ctx, flow.FlowID, FlowStatusRevoked, "revoked by user"); err != nil {
			return err
		}
	}
	if err := m.Store.UpdateTicketStatus(ctx, ticketID, StatusRevoked); err != nil {
		return err
	}
	metrics.TicketsTotal.WithLabelValues(ticketType, StatusRevoked).Inc()
	return nil
}

// Terminate force-stops the ticket without compensation.
func (m *Manager) Terminate(ctx context.Context, ticketID string) error {
	ticketType, _, _, err := m.Store.GetTicketDetails(ctx, ticketID)
	if err != nil {
		return err
	}
	flow, err := m.currentRunningFlow(ctx, ticketID)
	if err != nil {
		return err
	}
	if flow != nil {
		if flow.FlowType == FlowInner && m.Engine != nil {
			if err := m.Engine.Terminate(ctx, flow.FlowID, "terminated by operator"); err != nil {
				slog.Error("engine terminate failed", "flow_id", flow.FlowID, "error", err)
			}
		}
		if err := m.Store.CompleteFlow(ctx, flow.FlowID, FlowStatusRevoked, "terminated by operator"); err != nil {
			return err
		}
	}
	if err := m.Store.UpdateTicketStatus(ctx, ticketID, StatusTerminated); err != nil {
		return err
	}
	metrics.TicketsTotal.WithLabelValues(ticketType, StatusTerminated).Inc()
	return nil
}

// FlowFinished is the engine callback for terminal inner-flow statuses.
// It advances or fails the ticket and notifies registered signal
// handlers.
func (m *Manager) FlowFinished(ctx context.Context, ticketID, flowID, status string) error {
	ticketType, _, _, err := m.Store.GetTicketDetails(ctx, ticketID)
	if err != nil {
		return err
	}
	if m.Dispatcher != nil {
		m.Dispatcher.Call(ctx, ticketType, Event{
			TicketID: ticketID,
			FlowID:   flowID,
			Status:   status,
		})
	}
	switch status {
	case FlowStatusFinished:
		return m.Advance(ctx, ticketID)
	case FlowStatusFailed:
		if err := m.Store.UpdateTicketStatus(ctx, ticketID, StatusFailed); err != nil {
			return err
		}
		metrics.TicketsTotal.WithLabelValues(ticketType, StatusFailed).Inc()
		return nil
	case FlowStatusRevoked:
		return nil
	default:
		slog.Info("ignoring flow status", "ticket_id", ticketID, "flow_id", flowID, "status", status)
		return nil
	}
}

// currentRunningFlow returns the lowest-seq flow that is not terminal.
// The flow table only ever has one RUNNING row per ticket.
func (m *Manager) currentRunningFlow(ctx context.Context, ticketID string) (*db.FlowRef, error) {
	return m.Store.CurrentFlow(ctx, ticketID)
}

func clusterIDFromDetails(details json.RawMessage) int64 {
	var d struct {
		ClusterID int64 `json:"cluster_id"`
	}
	if err := json.Unmarshal(details, &d); err != nil {
		return 0
	}
	return d.ClusterID
}
