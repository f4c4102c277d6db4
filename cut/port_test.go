package cut

import (
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPort(t *testing.T) {
	for _, tc := range []struct {
		token           string
		name            string
		inPort, outPort int
	}{
		{"node_name", "node_name", NoPort, NoPort},
		{"node_name:1", "node_name", NoPort, 1},
		{"1:node_name", "node_name", 1, NoPort},
		{"0:0", "0", 0, NoPort},
		{"conv/bias:0", "conv/bias", NoPort, 0},
		{"12", "12", NoPort, NoPort},
	} {
		name, inPort, outPort, err := ExtractPort(tc.token)
		require.NoError(t, err, "token %q", tc.token)
		assert.Equal(t, tc.name, name, "token %q", tc.token)
		assert.Equal(t, tc.inPort, inPort, "in port of token %q", tc.token)
		assert.Equal(t, tc.outPort, outPort, "out port of token %q", tc.token)
	}
}

func TestExtractPortErrors(t *testing.T) {
	for _, token := range []string{
		"",
		"1:node_name:0",
		"a:b:c",
		"port:node_name",
		":1",
		"1:",
		"-1:node",
	} {
		_, _, _, err := ExtractPort(token)
		require.Error(t, err, "token %q", token)
		assert.True(t, errors.Is(err, ErrMalformedPortDesignator), "token %q: %v", token, err)
	}
}

func TestComposePortRoundTrip(t *testing.T) {
	for _, name := range []string{"a", "conv_1", "scope/node"} {
		for _, ports := range [][2]int{{NoPort, NoPort}, {0, NoPort}, {3, NoPort}, {NoPort, 0}, {NoPort, 7}} {
			token := ComposePort(name, ports[0], ports[1])
			gotName, inPort, outPort, err := ExtractPort(token)
			require.NoError(t, err, "token %q", token)
			assert.Equal(t, name, gotName)
			assert.Equal(t, ports[0], inPort, "token %q", token)
			assert.Equal(t, ports[1], outPort, "token %q", token)
		}
	}
	assert.Equal(t, "2:a", ComposePort("a", 2, NoPort))
	assert.Equal(t, "a:2", ComposePort("a", NoPort, 2))

	// Numeric names: the input port reading wins.
	name, inPort, outPort := must.M3(ExtractPort(ComposePort("5", 1, NoPort)))
	assert.Equal(t, []any{"5", 1, NoPort}, []any{name, inPort, outPort})
	name, inPort, outPort = must.M3(ExtractPort(ComposePort("5", NoPort, 3)))
	assert.Equal(t, []any{"3", 5, NoPort}, []any{name, inPort, outPort})
}
