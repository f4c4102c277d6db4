package onnx

import (
	"bytes"
	"fmt"
	"maps"
	"slices"

	"github.com/gomlx/gomlx/pkg/support/sets"
)

// String implements fmt.Stringer, and pretty prints model information.
func (m *Model) String() string {
	var buf bytes.Buffer
	// w writes formatted text to buf.
	w := func(format string, args ...any) {
		if len(args) == 0 {
			buf.WriteString(format)
		} else {
			buf.WriteString(fmt.Sprintf(format, args...))
		}
	}
	w("ONNX Model:\n")
	if m.Proto.DocString != "" {
		w("%s\n", m.Proto.DocString)
	}
	if m.Proto.ModelVersion != 0 {
		w("\tVersion:\t%d\n", m.Proto.ModelVersion)
	}
	if m.Proto.ProducerName != "" {
		w("\tProducer:\t%s / %s\n", m.Proto.ProducerName, m.Proto.ProducerVersion)
	}
	w("\tIR Version:\t%d\n", m.Proto.IrVersion)
	w("\tOperator Sets:\t[")
	for ii, opset := range m.Proto.OpsetImport {
		if ii > 0 {
			w(", ")
		}
		if opset.Domain != "" {
			w("v%d (%s)", opset.Version, opset.Domain)
		} else {
			w("v%d", opset.Version)
		}
	}
	w("]\n")

	w("\t# nodes:\t%d\n", len(m.Proto.Graph.Node))
	opTypesSet := sets.Make[string]()
	for _, n := range m.Proto.Graph.Node {
		opTypesSet.Insert(n.OpType)
	}
	w("\tOp types:\t%q\n", slices.Sorted(maps.Keys(opTypesSet)))
	w("\tInputs:\t%q\n", m.Inputs())
	w("\tOutputs:\t%q\n", m.Outputs())
	w("\t# initializers:\t%d\n", len(m.Proto.Graph.Initializer))

	if len(m.Proto.MetadataProps) > 0 {
		w("\tMetadata: [")
		for ii, prop := range m.Proto.MetadataProps {
			if ii > 0 {
				w(", ")
			}
			w("%s=%s", prop.Key, prop.Value)
		}
		w("]\n")
	}
	return buf.String()
}
