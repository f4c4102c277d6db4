package main

import (
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/graphcut/cut"
	"github.com/gomlx/graphcut/graph"
	"github.com/gomlx/graphcut/internal/cliargs"
	"github.com/gomlx/graphcut/internal/graphio"
	"github.com/gomlx/graphcut/onnx"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// request is a cut request, from a request file and/or the command line.
type request struct {
	inputs  cut.UserInputs
	outputs cut.NameList
	freeze  cut.FreezeValues

	// beforeInfer is nil if not given: it is then taken from the graph topology.
	beforeInfer *bool
}

// loadRequest reads the request file, if given, and overrides it with the command line flags that were set.
func loadRequest(requestPath, inputs, outputs, freeze string) (*request, error) {
	req := &request{}
	if requestPath != "" {
		fileReq, err := graphio.LoadRequestFile(requestPath)
		if err != nil {
			return nil, err
		}
		req.inputs, err = fileReq.UserInputs()
		if err != nil {
			return nil, errors.WithMessagef(err, "while reading %q", requestPath)
		}
		req.outputs = fileReq.OutputNames()
		req.freeze = fileReq.FreezeValues()
		req.beforeInfer = fileReq.BeforeInfer
	}
	if inputs != "" {
		parsed, err := cliargs.ParseInputs(inputs)
		if err != nil {
			return nil, errors.WithMessage(err, "invalid --input")
		}
		req.inputs = parsed
	}
	if outputs != "" {
		req.outputs = cliargs.ParseOutputs(outputs)
	}
	if freeze != "" {
		parsed, err := cliargs.ParseFreeze(freeze)
		if err != nil {
			return nil, errors.WithMessage(err, "invalid --freeze")
		}
		req.freeze = parsed
	}
	return req, nil
}

// loadGraph reads an ONNX model (".onnx" files) or a YAML graph description.
func loadGraph(path string) (*graph.Graph, error) {
	if strings.HasSuffix(strings.ToLower(path), ".onnx") {
		m, err := onnx.ReadFile(path)
		if err != nil {
			return nil, err
		}
		klog.V(1).Infof("%s", m)
		return m.Graph()
	}
	return graphio.LoadFile(path)
}

// cutGraph applies the request to g:
//
//  1. the outputs are cut first, so that inputs no longer needed by the old outputs can be replaced;
//  2. the inputs (and the frozen nodes) become placeholders;
//  3. nodes that don't lead to the outputs are removed;
//  4. frozen placeholders become constants.
//
// On error g may be partially cut: each step is atomic, but earlier steps are not undone.
func cutGraph(g *graph.Graph, req *request) error {
	beforeInfer := g.Topology == graph.OpOnly
	if req.beforeInfer != nil {
		beforeInfer = *req.beforeInfer
	}

	if req.outputs != nil {
		outputs, err := cut.RepackOutputs(g, req.outputs)
		if err != nil {
			return err
		}
		if _, err = cut.AddOutputs(g, outputs); err != nil {
			return err
		}
	}

	userInputs := req.inputs
	if userInputs == nil && req.freeze != nil {
		// Freezing alone keeps the other inputs.
		var names cut.NameList
		for _, n := range g.Inputs() {
			names = append(names, n.DisplayName())
		}
		userInputs = names
	}
	inputs, freeze, err := cut.RepackInputs(g, userInputs, req.freeze)
	if err != nil {
		return err
	}
	if inputs != nil {
		if _, err = cut.AddInputs(g, inputs, beforeInfer); err != nil {
			return err
		}
		if pending := pendingInputs(inputs); len(pending) > 0 {
			// Deferred cuts would wait for shape inference, which graphcut doesn't run.
			return errors.Wrapf(cut.ErrUndefinedShape,
				"graphcut: inputs %q need a shape (e.g. \"%s[1,3,224,224]\"), it can't be inferred before the cut",
				pending, pending[0])
		}
	}

	removed := graph.Cleanup(g)
	klog.V(1).Infof("graphcut: %d nodes removed, %d left", len(removed), g.NumNodes())

	if freeze != nil {
		return cut.FreezePlaceholders(g, cut.ResolveFrozen(inputs, freeze))
	}
	return nil
}

// pendingInputs returns the names of the nodes with input cuts that were not applied.
func pendingInputs(spec cut.InputSpec) []string {
	var names []string
	for _, id := range slices.Sorted(maps.Keys(spec)) {
		for _, d := range spec[id] {
			if !d.Added {
				names = append(names, id)
				break
			}
		}
	}
	return names
}
