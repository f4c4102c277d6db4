package cut

import (
	"github.com/gomlx/graphcut/graph"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// RepackInputs normalizes the user's input and freeze requests into the canonical InputSpec and FreezeSpec,
// keyed by node id.
//
//   - A nil request returns a nil spec.
//   - ShapeOnly applies its shape to every node currently flagged as input; it fails with
//     ErrAmbiguousInputSpecification if there is none.
//   - NameList and NameShapes resolve each port designator to a node id and a Selector.
//
// Every frozen node gets an entry in the InputSpec, with a default Descriptor if it wasn't requested as input.
// Empty results are returned as nil.
func RepackInputs(g *graph.Graph, user UserInputs, freeze FreezeValues) (InputSpec, FreezeSpec, error) {
	spec := make(InputSpec)
	switch req := user.(type) {
	case nil:
		// Nothing requested.
	case ShapeOnly:
		inputs := g.Inputs()
		if len(inputs) == 0 {
			return nil, nil, errors.Wrapf(ErrAmbiguousInputSpecification,
				"shape %s given without input names, but the graph has no inputs to apply it to", req.Shape)
		}
		for _, n := range inputs {
			spec[n.ID] = append(spec[n.ID], &Descriptor{Shape: req.Shape.Clone(), Selector: DefaultPort()})
		}
	case NameList:
		for _, token := range req {
			if err := spec.add(g, token, nil); err != nil {
				return nil, nil, err
			}
		}
	case NameShapes:
		for _, ns := range req {
			if err := spec.add(g, ns.Name, ns.Shape); err != nil {
				return nil, nil, err
			}
		}
	default:
		return nil, nil, errors.Errorf("cut.RepackInputs: unsupported input request type %T", user)
	}

	var frozen FreezeSpec
	if len(freeze) > 0 {
		frozen = make(FreezeSpec, len(freeze))
		for name, value := range freeze {
			id, err := resolveName(g, name)
			if err != nil {
				return nil, nil, errors.WithMessage(err, "while resolving frozen inputs")
			}
			frozen[id] = value
			if _, found := spec[id]; !found {
				spec[id] = []*Descriptor{{Selector: DefaultPort()}}
			}
		}
	}

	if len(spec) == 0 {
		spec = nil
	}
	klog.V(1).Infof("cut.RepackInputs: %d input nodes, %d frozen", len(spec), len(frozen))
	return spec, frozen, nil
}

// add resolves the port designator and appends its Descriptor.
func (spec InputSpec) add(g *graph.Graph, token string, shape graph.Shape) error {
	id, sel, err := resolveToken(g, token)
	if err != nil {
		return err
	}
	spec[id] = append(spec[id], &Descriptor{Shape: shape.Clone(), Selector: sel})
	return nil
}

// RepackOutputs normalizes the user's output request into the canonical OutputSpec, keyed by node id.
// A node may be named several times: its descriptors accumulate in the given order.
// A nil or empty request returns a nil spec.
func RepackOutputs(g *graph.Graph, user NameList) (OutputSpec, error) {
	if len(user) == 0 {
		return nil, nil
	}
	spec := make(OutputSpec)
	for _, token := range user {
		id, sel, err := resolveToken(g, token)
		if err != nil {
			return nil, err
		}
		spec[id] = append(spec[id], &Descriptor{Selector: sel})
	}
	return spec, nil
}

func resolveToken(g *graph.Graph, token string) (id string, sel Selector, err error) {
	name, inPort, outPort, err := ExtractPort(token)
	if err != nil {
		return "", sel, err
	}
	id, err = resolveName(g, name)
	if err != nil {
		return "", sel, err
	}
	return id, selectorFromPorts(inPort, outPort), nil
}

// resolveName returns the id of the only node whose display name is name.
func resolveName(g *graph.Graph, name string) (string, error) {
	nodes := g.NodesByName(name)
	switch len(nodes) {
	case 0:
		return "", errors.Wrapf(ErrUnknownNodeName, "no node named %q in the graph", name)
	case 1:
		return nodes[0].ID, nil
	default:
		ids := make([]string, len(nodes))
		for ii, n := range nodes {
			ids[ii] = n.ID
		}
		return "", errors.Wrapf(ErrAmbiguousInputSpecification, "name %q matches several nodes %q", name, ids)
	}
}
