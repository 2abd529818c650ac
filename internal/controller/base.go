package controller

import (
	"encoding/json"
	"fmt"

	"dbmflow/internal/pipeline"
)

// base carries what every controller is constructed with: the root
// pipeline id and the decoded ticket details.
type base struct {
	rootID string
}

func decodeDetails(details json.RawMessage, into any) error {
	if len(details) == 0 {
		return fmt.Errorf("ticket details required")
	}
	if err := json.Unmarshal(details, into); err != nil {
		return fmt.Errorf("decode ticket details: %w", err)
	}
	return nil
}

// importResourceInitStep is the shared machine-initialization sub-flow:
// OS init on the granted hosts followed by a system-info refresh.
func (b base) importResourceInitStep(ips []string) *pipeline.Node {
	return pipeline.SubProcess("import resource init",
		pipeline.MachineOSInit(ips),
		pipeline.UpdateSystemInfo(ips),
	)
}

// fakeScene builds a pipeline of no-op activities shaped like the real
// one. Test tickets exercise the full state machine with it while
// mutating nothing.
func fakeScene(rootID, name string, steps int) *pipeline.Node {
	b := pipeline.NewBuilder(rootID, name)
	for i := 0; i < steps; i++ {
		b.AddActivity(fmt.Sprintf("fake step %d", i+1), "noop", map[string]any{"name": name})
	}
	return b.Build()
}
