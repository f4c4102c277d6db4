package cut

import (
	"maps"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/graphcut/graph"
	"github.com/gomlx/graphcut/internal/togomlx"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FreezePlaceholders replaces each frozen placeholder by a graph.OpConst node holding its value as a tensor.
// In OpData graphs the data node fed by the placeholder gets the value as well.
//
// The tensor takes the dtype and shape of the placeholder. A placeholder without a shape, or with dynamic
// dimensions, can only be frozen to a single value, taken as a scalar. Frozen nodes are no longer inputs.
//
// Call it after AddInputs, with the FreezeSpec returned by RepackInputs. On error the graph is unchanged.
func FreezePlaceholders(g *graph.Graph, freeze FreezeSpec) error {
	type frozen struct {
		node *graph.Node
		dims []int
	}
	ids := slices.Sorted(maps.Keys(freeze))
	targets := make([]frozen, 0, len(ids))
	for _, id := range ids {
		node := g.Node(id)
		if node == nil {
			return errors.Wrapf(ErrUnknownNodeName, "cut.FreezePlaceholders: frozen node %q does not exist", id)
		}
		if node.Kind != graph.KindOp || node.Op != graph.OpPlaceholder {
			return errors.Wrapf(ErrInvalidFreeze, "cut.FreezePlaceholders: node %q is not a placeholder, it can't be frozen",
				node.DisplayName())
		}
		var dims []int
		if node.Shape.IsFullyConcrete() {
			dims = node.Shape
		}
		targets = append(targets, frozen{node: node, dims: dims})
	}

	values := make(map[string]*tensors.Tensor, len(targets))
	for _, target := range targets {
		value, err := togomlx.Tensor(freeze[target.node.ID], target.node.DType, target.dims)
		if err != nil {
			return errors.Wrapf(ErrInvalidFreeze, "cut.FreezePlaceholders: freezing %q to %v: %v",
				target.node.DisplayName(), freeze[target.node.ID], err)
		}
		values[target.node.ID] = value
	}

	for _, target := range targets {
		node := target.node
		value := values[node.ID]
		node.Op = graph.OpConst
		node.Type = graph.OpConst
		node.IsInput = false
		node.Value = value
		node.DType = value.DType()
		node.Shape = append(graph.Shape{}, value.Shape().Dimensions...)
		if g.Topology == graph.OpData {
			for _, e := range g.OutEdges(node.ID) {
				data := g.Node(e.Dst)
				data.Value = value
				data.DType = node.DType
				data.Shape = node.Shape.Clone()
			}
		}
		klog.V(1).Infof("cut.FreezePlaceholders: %q frozen to %v", node.DisplayName(), freeze[node.ID])
	}
	return nil
}

// ResolveFrozen maps the node ids of freeze to the placeholders that replaced them in the graph, as recorded in the
// descriptors applied by AddInputs. Nodes whose descriptors weren't applied, or were applied to several ports, are
// kept as they are.
func ResolveFrozen(spec InputSpec, freeze FreezeSpec) FreezeSpec {
	if freeze == nil {
		return nil
	}
	resolved := make(FreezeSpec, len(freeze))
	for id, value := range freeze {
		target := id
		var inputIDs []string
		for _, d := range spec[id] {
			if d.Added && !slices.Contains(inputIDs, d.InputID) {
				inputIDs = append(inputIDs, d.InputID)
			}
		}
		if len(inputIDs) == 1 {
			target = inputIDs[0]
		}
		resolved[target] = value
	}
	return resolved
}
