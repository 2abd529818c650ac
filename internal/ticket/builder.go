package ticket

import (
	"sort"
	"sync"
)

// FlowPolicy declares which stages a ticket type goes through and what
// happens on success.
type FlowPolicy struct {
	NeedITSM          bool
	NeedManualConfirm bool
	IsSensitive       bool
	IsRecycle         bool
	Editable          bool
	// Phase is the cluster phase to apply in the POST stage, empty for
	// ticket types that do not transition cluster phase.
	Phase string
	// HasResourceSpec adds a RESOURCE_APPLY stage that allocates hosts
	// before the inner flow runs.
	HasResourceSpec bool
}

// Builder binds a ticket type to its validator, flow policy and the
// controller function that assembles the inner pipeline.
type Builder struct {
	TicketType  string
	DisplayName string
	Policy      FlowPolicy
	// FuncKey names the controller registry entry for the inner flow.
	FuncKey string
}

var (
	buildersMu sync.RWMutex
	builders   = map[string]Builder{}
)

// Register installs a builder at process init. A second registration
// for the same ticket type is a programming error and panics.
func Register(b Builder) {
	if b.TicketType == "" {
		panic("ticket: builder missing ticket type")
	}
	if b.FuncKey == "" {
		panic("ticket: builder " + b.TicketType + " missing func key")
	}
	buildersMu.Lock()
	defer buildersMu.Unlock()
	if _, dup := builders[b.TicketType]; dup {
		panic("ticket: duplicate builder for " + b.TicketType)
	}
	builders[b.TicketType] = b
}

func Lookup(ticketType string) (Builder, bool) {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	b, ok := builders[ticketType]
	return b, ok
}

// RegisteredTypes returns the closed ticket-type enumeration in sorted
// order, for the web layer's type listing.
func RegisteredTypes() []string {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	types := make([]string, 0, len(builders))
	for t := range builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// FlowSequence derives the ordered stage list for one ticket. With
// auto_execute the approval and confirm stages are skipped regardless
// of policy; periodic tickets rely on this.
func (b Builder) FlowSequence(autoExecute bool) []string {
	var seq []string
	if !autoExecute && b.Policy.NeedITSM {
		seq = append(seq, FlowApproval)
	}
	if !autoExecute && b.Policy.NeedManualConfirm {
		seq = append(seq, FlowConfirm)
	}
	if b.Policy.HasResourceSpec {
		seq = append(seq, FlowResourceApply)
	}
	seq = append(seq, FlowInner)
	if b.Policy.Phase != "" || b.Policy.IsRecycle {
		seq = append(seq, FlowPost)
	}
	return seq
}
