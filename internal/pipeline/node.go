package pipeline

import (
	"errors"
	"fmt"
)

type NodeKind string

const (
	KindActivity    NodeKind = "activity"
	KindSubProcess  NodeKind = "subprocess"
	KindParallel    NodeKind = "parallel"
	KindConditional NodeKind = "conditional"
)

// Node is one vertex of the pipeline tree. Activity nodes carry a
// component code resolved against the catalog at execution time; composite
// nodes carry children. Node ids are stable within one pipeline so engine
// callbacks and retries address the same work.
type Node struct {
	NodeID    string         `json:"node_id"`
	Kind      NodeKind       `json:"kind"`
	Name      string         `json:"name"`
	Component string         `json:"component,omitempty"`
	Kwargs    map[string]any `json:"kwargs,omitempty"`
	Children  []*Node        `json:"children,omitempty"`
	// Condition names a trans-data key; a conditional node runs its
	// children only when the key holds a truthy value.
	Condition string `json:"condition,omitempty"`
}

// Validate walks the tree and rejects structurally broken pipelines
// before anything reaches the engine.
func (n *Node) Validate() error {
	if n == nil {
		return errors.New("nil node")
	}
	seen := map[string]bool{}
	return n.validate(seen)
}

func (n *Node) validate(seen map[string]bool) error {
	if n.NodeID == "" {
		return fmt.Errorf("node %q missing node_id", n.Name)
	}
	if seen[n.NodeID] {
		return fmt.Errorf("duplicate node_id %q", n.NodeID)
	}
	seen[n.NodeID] = true
	switch n.Kind {
	case KindActivity:
		if n.Component == "" {
			return fmt.Errorf("activity %q missing component", n.NodeID)
		}
		if len(n.Children) > 0 {
			return fmt.Errorf("activity %q must not have children", n.NodeID)
		}
	case KindSubProcess, KindParallel:
		if len(n.Children) == 0 {
			return fmt.Errorf("%s %q has no children", n.Kind, n.NodeID)
		}
	case KindConditional:
		if n.Condition == "" {
			return fmt.Errorf("conditional %q missing condition", n.NodeID)
		}
		if len(n.Children) == 0 {
			return fmt.Errorf("conditional %q has no children", n.NodeID)
		}
	default:
		return fmt.Errorf("node %q has unknown kind %q", n.NodeID, n.Kind)
	}
	for _, child := range n.Children {
		if err := child.validate(seen); err != nil {
			return err
		}
	}
	return nil
}

// CountActivities returns the number of activity leaves in the tree.
func (n *Node) CountActivities() int {
	if n == nil {
		return 0
	}
	if n.Kind == KindActivity {
		return 1
	}
	total := 0
	for _, child := range n.Children {
		total += child.CountActivities()
	}
	return total
}
