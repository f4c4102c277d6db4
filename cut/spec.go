package cut

import (
	"fmt"

	"github.com/gomlx/graphcut/graph"
)

// SelectorKind tells which port of a node a Descriptor targets.
type SelectorKind int

const (
	// SelectDefault targets the only relevant port of the node.
	SelectDefault SelectorKind = iota

	// SelectIn targets an input port: the edge feeding it is severed.
	SelectIn

	// SelectOut targets an output port: it becomes the new boundary.
	SelectOut
)

// Selector of a port of a node.
type Selector struct {
	Kind SelectorKind
	Port int
}

// DefaultPort selects the only relevant port of a node.
func DefaultPort() Selector { return Selector{Kind: SelectDefault, Port: NoPort} }

// InPort selects the input port k.
func InPort(k int) Selector { return Selector{Kind: SelectIn, Port: k} }

// OutPort selects the output port k.
func OutPort(k int) Selector { return Selector{Kind: SelectOut, Port: k} }

// selectorFromPorts converts the ports returned by ExtractPort to a Selector.
func selectorFromPorts(inPort, outPort int) Selector {
	switch {
	case inPort != NoPort:
		return InPort(inPort)
	case outPort != NoPort:
		return OutPort(outPort)
	default:
		return DefaultPort()
	}
}

// String implements fmt.Stringer.
func (s Selector) String() string {
	switch s.Kind {
	case SelectIn:
		return fmt.Sprintf("in(%d)", s.Port)
	case SelectOut:
		if s.Port == NoPort {
			return "out(?)"
		}
		return fmt.Sprintf("out(%d)", s.Port)
	default:
		return "default"
	}
}

// Descriptor of one cut on a node.
type Descriptor struct {
	// Shape requested for the new input, nil if not given. Not used for outputs.
	Shape graph.Shape

	Selector Selector

	// Added is set once the descriptor was applied to the graph, and InputID holds the id of the node that became
	// the graph input. Applied descriptors are skipped by later calls, so a spec can be applied with user shapes
	// before shape inference and the rest after.
	Added   bool
	InputID string
}

// String implements fmt.Stringer.
func (d *Descriptor) String() string {
	return fmt.Sprintf("{shape: %s, port: %s}", d.Shape, d.Selector)
}

// InputSpec maps node ids to the cuts that turn them (or one of their ports) into graph inputs.
type InputSpec map[string][]*Descriptor

// OutputSpec maps node ids to the cuts that turn them (or one of their ports) into graph outputs.
type OutputSpec map[string][]*Descriptor

// FreezeSpec maps node ids of inputs to the value they are frozen to.
type FreezeSpec map[string]any

// UserInputs is what a user can give as input request: nil, ShapeOnly, NameList or NameShapes.
type UserInputs interface {
	isUserInputs()
}

// ShapeOnly is a bare shape, applied to every node currently flagged as input.
type ShapeOnly struct {
	Shape graph.Shape
}

// NameList is a list of port designators (see ExtractPort).
type NameList []string

// NameShape associates a port designator to a shape.
type NameShape struct {
	Name  string
	Shape graph.Shape
}

// NameShapes is an ordered mapping of port designators to shapes.
type NameShapes []NameShape

func (ShapeOnly) isUserInputs()  {}
func (NameList) isUserInputs()   {}
func (NameShapes) isUserInputs() {}

// FreezeValues maps node names to the value the node is frozen to.
type FreezeValues map[string]any
