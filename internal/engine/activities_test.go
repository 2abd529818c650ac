package engine

import (
	"context"
	"errors"
	"testing"

	"dbmflow/internal/pipeline"
)

type fakeFlowStore struct {
	started   []string
	completed [][3]string
	err       error
}

func (f *fakeFlowStore) StartFlow(ctx context.Context, flowID string) error {
	f.started = append(f.started, flowID)
	return f.err
}

func (f *fakeFlowStore) CompleteFlow(ctx context.Context, flowID, status, errMsg string) error {
	f.completed = append(f.completed, [3]string{flowID, status, errMsg})
	return f.err
}

type fakeReporter struct {
	calls [][3]string
	err   error
}

func (f *fakeReporter) FlowFinished(ctx context.Context, ticketID, flowID, status string) error {
	f.calls = append(f.calls, [3]string{ticketID, flowID, status})
	return f.err
}

type staticService struct {
	out map[string]any
	err error
}

func (s staticService) Execute(ctx context.Context, in pipeline.Input) (map[string]any, error) {
	return s.out, s.err
}

func TestExecuteComponent(t *testing.T) {
	reg := pipeline.NewRegistry()
	reg.Register("cloud.alloc_clb", staticService{out: map[string]any{"clb_id": "lb-1"}})
	a := &Activities{Registry: reg}
	out, err := a.ExecuteComponent(context.Background(), ComponentInput{
		FlowID: "flow_1", NodeID: "flow_1-n001", Component: "cloud.alloc_clb",
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if out["clb_id"] != "lb-1" {
		t.Fatalf("out: %#v", out)
	}
}

func TestExecuteComponentUnknown(t *testing.T) {
	a := &Activities{Registry: pipeline.NewRegistry()}
	if _, err := a.ExecuteComponent(context.Background(), ComponentInput{Component: "nope"}); err == nil {
		t.Fatalf("expected error")
	}
}

type undoService struct {
	staticService
	undone []pipeline.Input
}

func (s *undoService) Compensate(ctx context.Context, in pipeline.Input) error {
	s.undone = append(s.undone, in)
	return s.err
}

func TestCompensateComponentRunsCompensator(t *testing.T) {
	svc := &undoService{}
	reg := pipeline.NewRegistry()
	reg.Register("cloud.alloc_clb", svc)
	a := &Activities{Registry: reg}
	err := a.CompensateComponent(context.Background(), ComponentInput{
		FlowID: "flow_1", NodeID: "flow_1-n001", Component: "cloud.alloc_clb",
		Trans: map[string]any{"clb_id": "lb-1"},
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(svc.undone) != 1 || svc.undone[0].Trans["clb_id"] != "lb-1" {
		t.Fatalf("undone: %#v", svc.undone)
	}
}

func TestCompensateComponentSkipsPlainServices(t *testing.T) {
	reg := pipeline.NewRegistry()
	reg.Register("job.push_config", staticService{})
	a := &Activities{Registry: reg}
	if err := a.CompensateComponent(context.Background(), ComponentInput{Component: "job.push_config"}); err != nil {
		t.Fatalf("err: %v", err)
	}
}

func TestCompleteFlowReportsStatus(t *testing.T) {
	store := &fakeFlowStore{}
	rep := &fakeReporter{}
	a := &Activities{Store: store, Reporter: rep}
	if err := a.CompleteFlow(context.Background(), "flow_1", "ticket_1", "FINISHED", ""); err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(store.completed) != 1 || store.completed[0][1] != "FINISHED" {
		t.Fatalf("completed: %#v", store.completed)
	}
	if len(rep.calls) != 1 || rep.calls[0][0] != "ticket_1" {
		t.Fatalf("reports: %#v", rep.calls)
	}
}

func TestCompleteFlowSwallowsReporterError(t *testing.T) {
	store := &fakeFlowStore{}
	rep := &fakeReporter{err: errors.New("dispatch down")}
	a := &Activities{Store: store, Reporter: rep}
	if err := a.CompleteFlow(context.Background(), "flow_1", "ticket_1", "FAILED", "boom"); err != nil {
		t.Fatalf("err: %v", err)
	}
}
