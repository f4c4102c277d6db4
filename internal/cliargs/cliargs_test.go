package cliargs

import (
	"testing"

	"github.com/gomlx/graphcut/cut"
	"github.com/gomlx/graphcut/graph"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShape(t *testing.T) {
	for text, want := range map[string]graph.Shape{
		"[1,3,224,224]": {1, 3, 224, 224},
		"(1 3 224 224)": {1, 3, 224, 224},
		"1, 3":          {1, 3},
		"[?,3,-1]":      {-1, 3, -1},
		"[]":            {},
		" [ 2 , 2 ] ":   {2, 2},
	} {
		shape, err := ParseShape(text)
		require.NoError(t, err, "shape %q", text)
		assert.Equal(t, want, shape, "shape %q", text)
	}
	for _, text := range []string{"[1,a]", "[1,-2]", "[1.5]"} {
		_, err := ParseShape(text)
		assert.Error(t, err, "shape %q", text)
	}
}

func TestParseInputs(t *testing.T) {
	inputs, err := ParseInputs("")
	require.NoError(t, err)
	assert.Nil(t, inputs)

	inputs = must.M1(ParseInputs("[1,3,224,224]"))
	assert.Equal(t, cut.ShapeOnly{Shape: graph.Shape{1, 3, 224, 224}}, inputs)

	inputs = must.M1(ParseInputs("conv_1, 0:relu_1"))
	assert.Equal(t, cut.NameList{"conv_1", "0:relu_1"}, inputs)

	inputs = must.M1(ParseInputs("a:0[1,3,224,224],0:b,c(2 2)"))
	assert.Equal(t, cut.NameShapes{
		{Name: "a:0", Shape: graph.Shape{1, 3, 224, 224}},
		{Name: "0:b"},
		{Name: "c", Shape: graph.Shape{2, 2}},
	}, inputs)

	for _, text := range []string{"a[1,2", "a]", "[1,2]x,", "a,,b", "a[x]"} {
		_, err := ParseInputs(text)
		assert.Error(t, err, "inputs %q", text)
	}
}

func TestParseOutputs(t *testing.T) {
	assert.Nil(t, ParseOutputs(""))
	assert.Equal(t, cut.NameList{"a", "b:1", "0:c"}, ParseOutputs("a, b:1,0:c,"))
}

func TestParseFreeze(t *testing.T) {
	freeze, err := ParseFreeze("")
	require.NoError(t, err)
	assert.Nil(t, freeze)

	freeze = must.M1(ParseFreeze("is_training->false, keep_prob->1.0,scale->[1 1, 2],flag->True"))
	assert.Equal(t, cut.FreezeValues{
		"is_training": false,
		"keep_prob":   1.0,
		"scale":       []float64{1, 1, 2},
		"flag":        true,
	}, freeze)

	for _, text := range []string{"a", "->1", "a->yes", "a->[1,x]", "a->[1"} {
		_, err := ParseFreeze(text)
		assert.Error(t, err, "freeze %q", text)
	}
}
