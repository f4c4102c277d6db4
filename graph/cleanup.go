package graph

import (
	"k8s.io/klog/v2"
)

// Cleanup removes dead code: every node that doesn't lead to an output is removed with its edges, including
// inputs that no output depends on anymore. Surviving edges are left untouched.
//
// If the graph declares no outputs nothing is removed, since everything would be dead.
// It returns the ids of the removed nodes.
func Cleanup(g *Graph) (removed []string) {
	outputs := g.Outputs()
	if len(outputs) == 0 {
		klog.Warningf("graph.Cleanup: graph has no outputs, skipping dead code elimination")
		return nil
	}
	roots := make([]string, len(outputs))
	for ii, n := range outputs {
		roots[ii] = n.ID
	}
	alive := g.Ancestors(roots...)
	for _, n := range g.Nodes() {
		if alive.Has(n.ID) {
			continue
		}
		removed = append(removed, n.ID)
		if n.IsInput {
			klog.V(1).Infof("graph.Cleanup: removing input %q, no output depends on it", n.ID)
		} else {
			klog.V(2).Infof("graph.Cleanup: removing unreachable node %q", n.ID)
		}
	}
	g.RemoveNodes(removed...)
	if len(removed) > 0 {
		klog.V(1).Infof("graph.Cleanup: removed %d nodes", len(removed))
	}
	return removed
}
