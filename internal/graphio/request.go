package graphio

import (
	"io"
	"os"

	"github.com/gomlx/graphcut/cut"
	"github.com/gomlx/graphcut/internal/cliargs"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Request is a cut request read from a YAML file:
//
//	inputs:
//	  - {name: "conv_1:0", shape: "[1 3 224 224]"}
//	  - {name: "0:relu_1"}
//	outputs: [relu_1, "pool:1"]
//	freeze: {is_training: false}
//	before_infer: true
//
// Shape, if given, applies to the current inputs of the graph and can't be combined with Inputs.
// BeforeInfer is nil if not given.
type Request struct {
	Shape       string         `yaml:"shape,omitempty"`
	Inputs      []InputRequest `yaml:"inputs,omitempty"`
	Outputs     []string       `yaml:"outputs,omitempty,flow"`
	Freeze      map[string]any `yaml:"freeze,omitempty"`
	BeforeInfer *bool          `yaml:"before_infer,omitempty"`
}

// InputRequest names one input to cut, with an optional shape.
type InputRequest struct {
	Name  string `yaml:"name"`
	Shape string `yaml:"shape,omitempty"`
}

// LoadRequest reads a YAML cut request.
func LoadRequest(r io.Reader) (*Request, error) {
	req := &Request{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(req); err != nil {
		return nil, errors.Wrap(err, "graphio.LoadRequest: failed to decode YAML cut request")
	}
	if req.Shape != "" && len(req.Inputs) > 0 {
		return nil, errors.New("graphio.LoadRequest: \"shape\" and \"inputs\" can't be used together")
	}
	return req, nil
}

// LoadRequestFile reads the YAML cut request in path.
func LoadRequestFile(path string) (*Request, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "graphio.LoadRequestFile: failed to open %q", path)
	}
	defer func() { _ = file.Close() }()
	req, err := LoadRequest(file)
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading %q", path)
	}
	return req, nil
}

// UserInputs converts the input part of the request: nil, cut.ShapeOnly, cut.NameList or cut.NameShapes.
func (req *Request) UserInputs() (cut.UserInputs, error) {
	if req.Shape != "" {
		shape, err := cliargs.ParseShape(req.Shape)
		if err != nil {
			return nil, err
		}
		return cut.ShapeOnly{Shape: shape}, nil
	}
	if len(req.Inputs) == 0 {
		return nil, nil
	}
	var (
		names    cut.NameList
		shapes   cut.NameShapes
		hasShape bool
	)
	for _, in := range req.Inputs {
		ns := cut.NameShape{Name: in.Name}
		if in.Shape != "" {
			shape, err := cliargs.ParseShape(in.Shape)
			if err != nil {
				return nil, errors.WithMessagef(err, "while parsing the shape of input %q", in.Name)
			}
			ns.Shape = shape
			hasShape = true
		}
		names = append(names, in.Name)
		shapes = append(shapes, ns)
	}
	if hasShape {
		return shapes, nil
	}
	return names, nil
}

// OutputNames returns the outputs requested, nil if none.
func (req *Request) OutputNames() cut.NameList {
	if len(req.Outputs) == 0 {
		return nil
	}
	return cut.NameList(req.Outputs)
}

// FreezeValues returns the frozen values requested, nil if none.
func (req *Request) FreezeValues() cut.FreezeValues {
	if len(req.Freeze) == 0 {
		return nil
	}
	return cut.FreezeValues(req.Freeze)
}
