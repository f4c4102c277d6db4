package cut

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// NoPort marks a port that was not given.
const NoPort = -1

// ExtractPort parses a port designator: "name", "name:OUT" (output port OUT of name) or "IN:name" (input port
// IN of name). Ports not given are returned as NoPort.
//
// If both sides of the colon are numbers, the "IN:name" reading wins.
func ExtractPort(token string) (name string, inPort, outPort int, err error) {
	inPort, outPort = NoPort, NoPort
	parts := strings.Split(token, ":")
	switch len(parts) {
	case 1:
		if token == "" {
			err = errors.Wrap(ErrMalformedPortDesignator, "empty node name")
			return
		}
		return token, inPort, outPort, nil
	case 2:
		// Handled below.
	default:
		err = errors.Wrapf(ErrMalformedPortDesignator,
			"%q has more than one ':', use \"name\", \"name:out_port\" or \"in_port:name\"", token)
		return
	}

	if port, ok := parsePort(parts[0]); ok {
		name, inPort = parts[1], port
	} else if port, ok := parsePort(parts[1]); ok {
		name, outPort = parts[0], port
	} else {
		err = errors.Wrapf(ErrMalformedPortDesignator,
			"neither side of %q is a port number, use \"name:out_port\" or \"in_port:name\"", token)
		return
	}
	if name == "" {
		err = errors.Wrapf(ErrMalformedPortDesignator, "%q has an empty node name", token)
		return
	}
	return name, inPort, outPort, nil
}

func parsePort(s string) (int, bool) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 0 {
		return 0, false
	}
	return port, true
}

// ComposePort is the inverse of ExtractPort. At most one of inPort and outPort may be set.
//
// Names that are port numbers themselves only round trip without an output port: ComposePort("5", NoPort, 3)
// gives "5:3", which ExtractPort reads as input port 5 of "3".
func ComposePort(name string, inPort, outPort int) string {
	switch {
	case inPort != NoPort:
		return fmt.Sprintf("%d:%s", inPort, name)
	case outPort != NoPort:
		return fmt.Sprintf("%s:%d", name, outPort)
	default:
		return name
	}
}
