package pipeline

import "fmt"

// Builder composes a pipeline tree in declaration order. Node ids are
// derived from the root id and a running sequence, so two builds of the
// same ticket produce identical ids.
type Builder struct {
	rootID string
	name   string
	seq    int
	nodes  []*Node
}

func NewBuilder(rootID, name string) *Builder {
	return &Builder{rootID: rootID, name: name}
}

func (b *Builder) nextID() string {
	b.seq++
	return fmt.Sprintf("%s-n%03d", b.rootID, b.seq)
}

func (b *Builder) AddActivity(name, component string, kwargs map[string]any) *Builder {
	b.nodes = append(b.nodes, &Node{
		NodeID:    b.nextID(),
		Kind:      KindActivity,
		Name:      name,
		Component: component,
		Kwargs:    kwargs,
	})
	return b
}

// AddSubProcess grafts a prebuilt sub-tree under the pipeline, renumbering
// its node ids into this builder's sequence.
func (b *Builder) AddSubProcess(name string, sub *Node) *Builder {
	node := &Node{
		NodeID:   b.nextID(),
		Kind:     KindSubProcess,
		Name:     name,
		Children: []*Node{sub},
	}
	b.renumber(sub)
	b.nodes = append(b.nodes, node)
	return b
}

// AddParallel runs the given branches concurrently; the pipeline continues
// once every branch finished.
func (b *Builder) AddParallel(name string, branches ...*Node) *Builder {
	node := &Node{
		NodeID:   b.nextID(),
		Kind:     KindParallel,
		Name:     name,
		Children: branches,
	}
	for _, branch := range branches {
		b.renumber(branch)
	}
	b.nodes = append(b.nodes, node)
	return b
}

// AddConditional runs children only when the trans-data key holds a
// truthy value at execution time.
func (b *Builder) AddConditional(name, condition string, children ...*Node) *Builder {
	node := &Node{
		NodeID:    b.nextID(),
		Kind:      KindConditional,
		Name:      name,
		Condition: condition,
		Children:  children,
	}
	for _, child := range children {
		b.renumber(child)
	}
	b.nodes = append(b.nodes, node)
	return b
}

func (b *Builder) renumber(n *Node) {
	if n == nil {
		return
	}
	n.NodeID = b.nextID()
	for _, child := range n.Children {
		b.renumber(child)
	}
}

// Build wraps the collected nodes into a root sub-process.
func (b *Builder) Build() *Node {
	return &Node{
		NodeID:   b.rootID,
		Kind:     KindSubProcess,
		Name:     b.name,
		Children: b.nodes,
	}
}

// Activity is a convenience constructor for branch nodes handed to
// AddParallel or AddConditional; the builder assigns the final id.
func Activity(name, component string, kwargs map[string]any) *Node {
	return &Node{Kind: KindActivity, Name: name, Component: component, Kwargs: kwargs}
}

// SubProcess wraps ordered children into an unnumbered composite node.
func SubProcess(name string, children ...*Node) *Node {
	return &Node{Kind: KindSubProcess, Name: name, Children: children}
}
