// Package graphio reads and writes graphs and cut requests as YAML files.
//
// A graph file lists its topology, nodes and edges:
//
//	topology: op
//	nodes:
//	  - {id: input, op: Placeholder, is_input: true, shape: "[1 3 224 224]", dtype: float32}
//	  - {id: conv, op: Convolution, spatial_dims: [2, 3], attrs: {stride: [1, 1, 2, 2]}}
//	  - {id: out, op: OpOutput, is_output: true}
//	edges:
//	  - {src: input, dst: conv}
//	  - {src: conv, dst: out}
//
// Shapes use the command line syntax (see cliargs.ParseShape): a missing shape is unknown and "[]" is a scalar.
package graphio

import (
	"io"
	"os"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/graphcut/graph"
	"github.com/gomlx/graphcut/internal/cliargs"
	"github.com/gomlx/graphcut/internal/togomlx"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// File is the YAML representation of a graph.
type File struct {
	Topology string `yaml:"topology"`
	Nodes    []Node `yaml:"nodes"`
	Edges    []Edge `yaml:"edges,omitempty"`
}

// Node is the YAML representation of a graph.Node.
type Node struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name,omitempty"`
	Kind        string         `yaml:"kind,omitempty"`
	Op          string         `yaml:"op,omitempty"`
	Type        string         `yaml:"type,omitempty"`
	IsInput     bool           `yaml:"is_input,omitempty"`
	IsOutput    bool           `yaml:"is_output,omitempty"`
	Shape       string         `yaml:"shape,omitempty"`
	DType       string         `yaml:"dtype,omitempty"`
	Value       any            `yaml:"value,omitempty"`
	SpatialDims []int          `yaml:"spatial_dims,omitempty,flow"`
	Attrs       map[string]any `yaml:"attrs,omitempty"`
}

// Edge is the YAML representation of a graph.Edge.
type Edge struct {
	Src   string         `yaml:"src"`
	Dst   string         `yaml:"dst"`
	Out   int            `yaml:"out,omitempty"`
	In    int            `yaml:"in,omitempty"`
	Attrs map[string]any `yaml:"attrs,omitempty"`
}

// Load reads a YAML graph and builds it. The graph topology is validated.
func Load(r io.Reader) (*graph.Graph, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, errors.Wrap(err, "graphio.Load: failed to decode YAML graph")
	}
	return f.Graph()
}

// LoadFile reads the YAML graph in path.
func LoadFile(path string) (*graph.Graph, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "graphio.LoadFile: failed to open %q", path)
	}
	defer func() { _ = file.Close() }()
	g, err := Load(file)
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading %q", path)
	}
	klog.V(1).Infof("graphio.LoadFile: read %d nodes (%s topology) from %q", g.NumNodes(), g.Topology, path)
	return g, nil
}

// Graph converts the file contents to a graph.
func (f *File) Graph() (*graph.Graph, error) {
	topology, err := parseTopology(f.Topology)
	if err != nil {
		return nil, err
	}
	nodes := make([]*graph.Node, 0, len(f.Nodes))
	for _, fn := range f.Nodes {
		n, err := fn.node()
		if err != nil {
			return nil, errors.WithMessagef(err, "graphio: node %q", fn.ID)
		}
		nodes = append(nodes, n)
	}
	edges := make([]graph.EdgeDef, len(f.Edges))
	for ii, fe := range f.Edges {
		edges[ii] = graph.EdgeDef{Src: fe.Src, Dst: fe.Dst, Out: fe.Out, In: fe.In}
	}
	g, err := graph.Build(topology, nodes, edges)
	if err != nil {
		return nil, err
	}
	for ii, e := range g.Edges() {
		e.Attrs = f.Edges[ii].Attrs
	}
	return g, nil
}

func parseTopology(name string) (graph.Topology, error) {
	switch name {
	case "", graph.OpOnly.String():
		return graph.OpOnly, nil
	case graph.OpData.String():
		return graph.OpData, nil
	default:
		return graph.OpOnly, errors.Errorf("graphio: unknown topology %q, use %q or %q",
			name, graph.OpOnly, graph.OpData)
	}
}

func (fn *Node) node() (*graph.Node, error) {
	n := &graph.Node{
		ID:          fn.ID,
		Name:        fn.Name,
		Op:          fn.Op,
		Type:        fn.Type,
		IsInput:     fn.IsInput,
		IsOutput:    fn.IsOutput,
		SpatialDims: fn.SpatialDims,
		Attrs:       fn.Attrs,
	}
	switch fn.Kind {
	case "", graph.KindOp.String():
		n.Kind = graph.KindOp
		if n.Type == "" {
			n.Type = n.Op
		}
	case graph.KindData.String():
		n.Kind = graph.KindData
	default:
		return nil, errors.Errorf("unknown kind %q", fn.Kind)
	}
	if fn.Shape != "" {
		shape, err := cliargs.ParseShape(fn.Shape)
		if err != nil {
			return nil, err
		}
		n.Shape = shape
	}
	dtype, err := togomlx.ParseDType(fn.DType)
	if err != nil {
		return nil, err
	}
	n.DType = dtype
	if fn.Value != nil {
		var dims []int
		if n.Shape != nil {
			dims = n.Shape
		}
		n.Value, err = togomlx.Tensor(fn.Value, n.DType, dims)
		if err != nil {
			return nil, errors.WithMessage(err, "invalid value")
		}
		n.DType = n.Value.DType()
		if n.Shape == nil {
			n.Shape = graph.Shape{}
		}
	}
	return n, nil
}

// FromGraph converts a graph to its YAML representation.
func FromGraph(g *graph.Graph) (*File, error) {
	f := &File{Topology: g.Topology.String()}
	for _, n := range g.Nodes() {
		fn := Node{
			ID:          n.ID,
			Op:          n.Op,
			IsInput:     n.IsInput,
			IsOutput:    n.IsOutput,
			SpatialDims: n.SpatialDims,
			Attrs:       n.Attrs,
		}
		if n.Name != n.ID {
			fn.Name = n.Name
		}
		if n.Type != n.Op {
			fn.Type = n.Type
		}
		if n.Kind == graph.KindData {
			fn.Kind = graph.KindData.String()
		}
		if n.Shape != nil {
			fn.Shape = n.Shape.String()
		}
		if n.DType != dtypes.InvalidDType {
			fn.DType = n.DType.String()
		}
		if n.Value != nil {
			value, err := togomlx.Values(n.Value)
			if err != nil {
				return nil, errors.WithMessagef(err, "graphio: value of node %q", n.ID)
			}
			fn.Value = value
		}
		f.Nodes = append(f.Nodes, fn)
	}
	for _, e := range g.Edges() {
		f.Edges = append(f.Edges, Edge{Src: e.Src, Dst: e.Dst, Out: e.Out, In: e.In, Attrs: e.Attrs})
	}
	return f, nil
}

// Dump writes the graph as YAML. Reading it back with Load gives an equivalent graph.
func Dump(w io.Writer, g *graph.Graph) error {
	f, err := FromGraph(g)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return errors.Wrap(err, "graphio.Dump: failed to encode graph")
	}
	return errors.Wrap(enc.Close(), "graphio.Dump")
}

// DumpFile writes the graph as YAML to path.
func DumpFile(path string, g *graph.Graph) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "graphio.DumpFile: failed to create %q", path)
	}
	if err := Dump(file, g); err != nil {
		_ = file.Close()
		return err
	}
	return errors.Wrapf(file.Close(), "graphio.DumpFile: failed to close %q", path)
}
