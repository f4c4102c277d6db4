// Package onnx reads ONNX models and converts them to op-only graphs that can be cut.
//
//   - Parse: decodes a serialized ONNX ModelProto to a Model.
//   - ReadFile: reads a file and calls Parse. Initializers stored in external files are resolved relative to it.
//   - Model.Graph: builds the graph.OpOnly graph of the model, with a Placeholder per model input, a Const per
//     initializer and an OpOutput per model output.
package onnx

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Model represents a parsed ONNX file.
type Model struct {
	Proto *ModelProto

	// baseDir is the directory of the model file, used to read external data.
	baseDir string
}

// Parse parses an ONNX model. Initializers with external data can only be read by models created with ReadFile.
func Parse(contents []byte) (*Model, error) {
	proto, err := decodeModel(contents)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to parse ONNX model proto")
	}
	if proto.Graph == nil {
		return nil, errors.New("ONNX model has no graph")
	}
	return &Model{Proto: proto}, nil
}

// ReadFile parses an ONNX model file.
func ReadFile(filePath string) (*Model, error) {
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read ONNX model file in %s", filePath)
	}
	m, err := Parse(contents)
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading %s", filePath)
	}
	m.baseDir = filepath.Dir(filePath)
	return m, nil
}

// Inputs returns the names of the model inputs that are not initializers.
func (m *Model) Inputs() []string {
	initializers := m.initializerNames()
	var names []string
	for _, input := range m.Proto.Graph.Input {
		if !initializers[input.Name] {
			names = append(names, input.Name)
		}
	}
	return names
}

// Outputs returns the names of the model outputs.
func (m *Model) Outputs() []string {
	names := make([]string, len(m.Proto.Graph.Output))
	for ii, output := range m.Proto.Graph.Output {
		names[ii] = output.Name
	}
	return names
}

// Variables returns the names of the initializers of the model.
func (m *Model) Variables() []string {
	names := make([]string, len(m.Proto.Graph.Initializer))
	for ii, t := range m.Proto.Graph.Initializer {
		names[ii] = t.Name
	}
	return names
}

func (m *Model) initializerNames() map[string]bool {
	names := make(map[string]bool, len(m.Proto.Graph.Initializer))
	for _, t := range m.Proto.Graph.Initializer {
		names[t.Name] = true
	}
	return names
}
