// Package cut redefines the boundary of a model graph: it turns nodes or ports chosen by the user into the graph
// inputs (AddInputs) or outputs (AddOutputs), and freezes inputs to constant values (FreezePlaceholders).
//
// User requests are given as port designators, see ExtractPort, and normalized to node ids by RepackInputs and
// RepackOutputs. A typical pipeline is:
//
//	inputs, freeze, err := cut.RepackInputs(g, cut.NameList{"conv_1", "0:relu_1"}, nil)
//	_, err = cut.AddInputs(g, inputs, true)
//	outputs, err := cut.RepackOutputs(g, cut.NameList{"relu_1"})
//	_, err = cut.AddOutputs(g, outputs)
//	graph.Cleanup(g)
//	err = cut.FreezePlaceholders(g, cut.ResolveFrozen(inputs, freeze))
//
// Every operation validates its whole request before changing the graph: on error the graph is left unchanged.
// Errors wrap one of the Err* kinds of this package, to be tested with errors.Is.
package cut
